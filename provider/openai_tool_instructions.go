package provider

import (
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// buildOpenAIToolInstructions builds the execution directive prepended
// as a system message when tools are offered. GPT-family models follow
// brief, direct guidance.
func buildOpenAIToolInstructions(tools []mcptypes.Tool) string {
	toolNames := []string{}
	for _, tool := range tools {
		toolNames = append(toolNames, tool.Name)
	}

	return strings.Join([]string{
		"TOOLS: " + strings.Join(toolNames, ", "),
		"",
		"When answering a question about the data requires running code:",
		"1. Write the complete Python snippet",
		"2. Call the tool with it IMMEDIATELY instead of describing it",
		"3. Read the execution result before drawing conclusions",
		"",
		"DO NOT:",
		"- Paste code into the reply without calling the tool",
		"- Invent column names or values you have not inspected",
		"- Ask whether you should run the code",
		"",
		"Example:",
		"User: 'How many rows does the file have?'",
		"You: [call execute_python(\"print(len(df))\")]",
		"NOT: 'You could run len(df) to find out.'",
	}, "\n")
}
