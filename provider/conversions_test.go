package provider

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/ollama/ollama/api"

	"tabula/model"
)

func TestConvertToOllamaMessages(t *testing.T) {
	tests := []struct {
		name     string
		input    []model.Message
		expected []api.Message
	}{
		{
			name:     "empty slice",
			input:    []model.Message{},
			expected: []api.Message{},
		},
		{
			name: "single message",
			input: []model.Message{
				{Role: "user", Content: "Hello"},
			},
			expected: []api.Message{
				{Role: "user", Content: "Hello"},
			},
		},
		{
			name: "multiple messages",
			input: []model.Message{
				{Role: "user", Content: "What does this file contain?", Timestamp: time.Now()},
				{Role: "assistant", Content: "A sales ledger", Timestamp: time.Now()},
				{Role: "user", Content: "Plot it", Timestamp: time.Now()},
			},
			expected: []api.Message{
				{Role: "user", Content: "What does this file contain?"},
				{Role: "assistant", Content: "A sales ledger"},
				{Role: "user", Content: "Plot it"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToOllamaMessages(tt.input)

			if len(result) != len(tt.expected) {
				t.Fatalf("length mismatch: got %d, want %d", len(result), len(tt.expected))
			}

			for i, msg := range result {
				if msg.Role != tt.expected[i].Role {
					t.Errorf("message %d role: got %q, want %q", i, msg.Role, tt.expected[i].Role)
				}
				if msg.Content != tt.expected[i].Content {
					t.Errorf("message %d content: got %q, want %q", i, msg.Content, tt.expected[i].Content)
				}
			}
		})
	}
}

func TestConvertToOllamaMessagesImages(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	encoded := base64.StdEncoding.EncodeToString(png)

	result := ConvertToOllamaMessages([]model.Message{
		{Role: "user", Content: "What does this chart show?", Images: []string{encoded, "not base64!!"}},
	})

	if len(result) != 1 {
		t.Fatalf("got %d messages, want 1", len(result))
	}
	if len(result[0].Images) != 1 {
		t.Fatalf("got %d images, want 1 (undecodable input should be skipped)", len(result[0].Images))
	}
	if string(result[0].Images[0]) != string(png) {
		t.Errorf("image bytes changed in conversion")
	}
}

func TestConvertFromOllamaMessages(t *testing.T) {
	input := []api.Message{
		{Role: "user", Content: "Question 1"},
		{Role: "assistant", Content: "Answer 1"},
		{Role: "user", Content: "Question 2"},
	}

	result := ConvertFromOllamaMessages(input)

	if len(result) != len(input) {
		t.Fatalf("length mismatch: got %d, want %d", len(result), len(input))
	}
	for i, msg := range result {
		if msg.Role != input[i].Role {
			t.Errorf("message %d role: got %q, want %q", i, msg.Role, input[i].Role)
		}
		if msg.Content != input[i].Content {
			t.Errorf("message %d content: got %q, want %q", i, msg.Content, input[i].Content)
		}
	}
}

func TestConvertToOpenAIMessages(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("fakepng"))

	messages := []model.Message{
		{Role: model.RoleSystem, Content: "You are a data analyst."},
		{Role: model.RoleUser, Content: "Summarize the file"},
		{Role: model.RoleAssistant, Content: "It has 100 rows."},
		{Role: model.RoleTool, Content: "stdout: 100"},
		{Role: model.RoleUser, Content: "What does this chart show?", Images: []string{encoded}},
	}

	result := ConvertToOpenAIMessages(messages)

	if len(result) != len(messages) {
		t.Fatalf("length mismatch: got %d, want %d", len(result), len(messages))
	}

	if result[0].OfSystem == nil {
		t.Errorf("message 0: expected system message")
	}
	if result[1].OfUser == nil {
		t.Errorf("message 1: expected user message")
	}
	if result[2].OfAssistant == nil {
		t.Errorf("message 2: expected assistant message")
	}
	if result[3].OfUser == nil {
		t.Errorf("message 3: tool results should be sent as user messages")
	}

	imgMsg := result[4]
	if imgMsg.OfUser == nil {
		t.Fatalf("message 4: expected user message")
	}
	parts := imgMsg.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("message 4: got %d content parts, want 2", len(parts))
	}
	if parts[0].OfText == nil || parts[0].OfText.Text != "What does this chart show?" {
		t.Errorf("message 4 part 0: expected the text part first")
	}
	if parts[1].OfImageURL == nil {
		t.Fatalf("message 4 part 1: expected an image part")
	}
	if !strings.HasPrefix(parts[1].OfImageURL.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("message 4 image URL: got %q, want a data URL", parts[1].OfImageURL.ImageURL.URL)
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantLen int
	}{
		{name: "valid", input: `{"code": "print(len(df))"}`, wantKey: "code", wantLen: 1},
		{name: "invalid json", input: `{code:`, wantLen: 0},
		{name: "empty", input: "", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ParseToolArguments(tt.input)
			if args == nil {
				t.Fatalf("got nil, want a map")
			}
			if len(args) != tt.wantLen {
				t.Errorf("got %d entries, want %d", len(args), tt.wantLen)
			}
			if tt.wantKey != "" {
				if _, ok := args[tt.wantKey]; !ok {
					t.Errorf("missing key %q", tt.wantKey)
				}
			}
		})
	}
}

func TestConvertToProviderToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		input    []api.ToolCall
		expected []model.ToolCall
	}{
		{
			name:     "nil slice",
			input:    nil,
			expected: nil,
		},
		{
			name:     "empty slice",
			input:    []api.ToolCall{},
			expected: nil,
		},
		{
			name: "single tool call",
			input: []api.ToolCall{
				{
					Function: api.ToolCallFunction{
						Name:      "execute_python",
						Arguments: map[string]any{"code": "print(len(df))"},
					},
				},
			},
			expected: []model.ToolCall{
				{
					Name:      "execute_python",
					Arguments: map[string]any{"code": "print(len(df))"},
				},
			},
		},
		{
			name: "multiple tool calls",
			input: []api.ToolCall{
				{
					Function: api.ToolCallFunction{
						Name:      "execute_python",
						Arguments: map[string]any{"code": "df.describe()"},
					},
				},
				{
					Function: api.ToolCallFunction{
						Name:      "execute_python",
						Arguments: map[string]any{"code": "df.head()"},
					},
				},
			},
			expected: []model.ToolCall{
				{
					Name:      "execute_python",
					Arguments: map[string]any{"code": "df.describe()"},
				},
				{
					Name:      "execute_python",
					Arguments: map[string]any{"code": "df.head()"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToProviderToolCalls(tt.input)

			if len(result) != len(tt.expected) {
				t.Fatalf("length mismatch: got %d, want %d", len(result), len(tt.expected))
			}

			for i, call := range result {
				if call.Name != tt.expected[i].Name {
					t.Errorf("tool call %d name: got %q, want %q", i, call.Name, tt.expected[i].Name)
				}
				if len(call.Arguments) != len(tt.expected[i].Arguments) {
					t.Errorf("tool call %d arguments length: got %d, want %d", i, len(call.Arguments), len(tt.expected[i].Arguments))
				}
			}
		})
	}
}

func TestConvertFromProviderToolCalls(t *testing.T) {
	input := []model.ToolCall{
		{Name: "execute_python", Arguments: map[string]any{"code": "df.head()"}},
	}

	result := ConvertFromProviderToolCalls(input)

	if len(result) != 1 {
		t.Fatalf("got %d calls, want 1", len(result))
	}
	if result[0].Function.Name != "execute_python" {
		t.Errorf("name: got %q, want %q", result[0].Function.Name, "execute_python")
	}
	if len(result[0].Function.Arguments) != 1 {
		t.Errorf("arguments length: got %d, want 1", len(result[0].Function.Arguments))
	}

	if ConvertFromProviderToolCalls(nil) != nil {
		t.Errorf("nil input should convert to nil")
	}
}

func TestRoundTripConversions(t *testing.T) {
	t.Run("messages round trip", func(t *testing.T) {
		original := []model.Message{
			{Role: "user", Content: "Test message"},
			{Role: "assistant", Content: "Response"},
		}

		ollamaMsgs := ConvertToOllamaMessages(original)
		result := ConvertFromOllamaMessages(ollamaMsgs)

		if len(result) != len(original) {
			t.Fatalf("length mismatch: got %d, want %d", len(result), len(original))
		}

		for i := range result {
			if result[i].Role != original[i].Role || result[i].Content != original[i].Content {
				t.Errorf("message %d changed: got {%q, %q}, want {%q, %q}",
					i, result[i].Role, result[i].Content, original[i].Role, original[i].Content)
			}
		}
	})

	t.Run("tool calls round trip", func(t *testing.T) {
		original := []model.ToolCall{
			{Name: "execute_python", Arguments: map[string]any{"code": "df.info()"}},
		}

		ollamaCalls := ConvertFromProviderToolCalls(original)
		result := ConvertToProviderToolCalls(ollamaCalls)

		if len(result) != len(original) {
			t.Fatalf("length mismatch: got %d, want %d", len(result), len(original))
		}
		if result[0].Name != original[0].Name {
			t.Errorf("tool name changed: got %q, want %q", result[0].Name, original[0].Name)
		}
	})
}
