package provider

import (
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// buildAnthropicToolInstructions builds the execution directive placed
// as the first system block when tools are offered. Claude models still
// need an explicit push to execute rather than narrate.
func buildAnthropicToolInstructions(tools []mcptypes.Tool) string {
	toolNames := []string{}
	for _, tool := range tools {
		toolNames = append(toolNames, tool.Name)
	}

	return strings.Join([]string{
		"TOOLS: " + strings.Join(toolNames, ", "),
		"",
		"When a question about the data can only be answered by running code:",
		"1. Write the complete Python snippet",
		"2. Call the tool with it instead of quoting the code in your reply",
		"3. Base your answer on the execution output, not on expectation",
		"",
		"DO NOT:",
		"- Describe what the code would print",
		"- Guess column names or statistics you have not inspected",
		"- Ask for permission to run the code",
	}, "\n")
}
