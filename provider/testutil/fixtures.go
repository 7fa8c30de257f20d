package testutil

import (
	"time"

	"tabula/model"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// TestMessages returns a sample analysis conversation for testing.
func TestMessages() []model.Message {
	return []model.Message{
		{
			Role:      "user",
			Content:   "What does the sales column look like?",
			Timestamp: time.Now(),
		},
		{
			Role:      "assistant",
			Content:   "The sales column holds monthly revenue figures.",
			Timestamp: time.Now(),
		},
		{
			Role:      "user",
			Content:   "Plot it over time.",
			Timestamp: time.Now(),
		},
	}
}

// SingleUserMessage returns a single user message for simple tests.
func SingleUserMessage(content string) []model.Message {
	return []model.Message{
		{
			Role:      "user",
			Content:   content,
			Timestamp: time.Now(),
		},
	}
}

// AttachmentMessage returns a user message carrying one dataset file,
// the shape that routes a turn into file reading.
func AttachmentMessage(filename string) model.Message {
	msg := model.NewMessage("user", "I have uploaded a file.")
	msg.Attachments = []model.Attachment{{Filename: filename}}
	return msg
}

// TestMCPTools returns sample MCP tools for testing.
func TestMCPTools() []mcptypes.Tool {
	return []mcptypes.Tool{
		{
			Name:        "execute_python",
			Description: "Execute a Python snippet in the session kernel and return its output",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "Python source to execute",
					},
				},
				Required: []string{"code"},
			},
		},
		{
			Name:        "calculate",
			Description: "Perform a mathematical calculation",
			InputSchema: mcptypes.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "The mathematical expression to evaluate",
					},
				},
				Required: []string{"expression"},
			},
		},
	}
}

// EmptyMessages returns an empty message slice for edge case testing.
func EmptyMessages() []model.Message {
	return []model.Message{}
}

// SystemMessage returns a system message for testing.
func SystemMessage(content string) model.Message {
	return model.Message{
		Role:      "system",
		Content:   content,
		Timestamp: time.Now(),
	}
}
