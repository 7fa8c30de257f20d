package provider

import (
	"context"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"tabula/model"
	"tabula/ollama"
)

// OllamaProvider wraps ollama.Client to implement model.Provider.
//
// It owns the type conversions between the provider-agnostic types and
// Ollama's API types: model.Message to api.Message (including base64
// images to api.ImageData), mcptypes.Tool to api.Tool, and api.ToolCall
// back to model.ToolCall.
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider creates an Ollama-backed provider. An empty baseURL
// defaults to http://localhost:11434; an empty model falls back to the
// client default.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	client, err := ollama.NewClient(baseURL, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}

	return &OllamaProvider{
		client: client,
	}, nil
}

// Chat streams a completion without tools. Tool calls passed to the
// callback are always nil on this path.
func (p *OllamaProvider) Chat(ctx context.Context, messages []model.Message, callback model.StreamCallback) error {
	return p.ChatWithTools(ctx, messages, nil, callback)
}

// ChatWithTools streams a completion with the given tools available to
// the model. Tool calls arrive through the callback in provider-agnostic
// form alongside any text chunks.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error {
	ollamaMessages := ConvertToOllamaMessages(messages)

	var ollamaTools []api.Tool
	if len(tools) > 0 {
		ollamaTools = ConvertMCPToolsToOllama(tools)
		// Unescaped quotes in system prompts break Ollama's tool
		// calling (ollama/ollama#12751).
		for i := range ollamaMessages {
			if ollamaMessages[i].Role == model.RoleSystem {
				ollamaMessages[i].Content = escapeQuotes(ollamaMessages[i].Content)
			}
		}
	}

	ollamaCallback := func(chunk string, ollamaCalls []api.ToolCall) error {
		if callback == nil {
			return nil
		}
		return callback(chunk, ConvertToProviderToolCalls(ollamaCalls))
	}

	return p.client.ChatWithTools(ctx, ollamaMessages, ollamaTools, ollamaCallback)
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// ListModels returns the models available on the Ollama server.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return p.client.ListModels(ctx)
}

// GetModel returns the currently selected model name.
func (p *OllamaProvider) GetModel() string {
	return p.client.GetModel()
}

// GetDisplayName returns the model name; Ollama has no vendor prefix to
// strip.
func (p *OllamaProvider) GetDisplayName() string {
	return p.client.GetModel()
}

// SetModel changes the active model for subsequent calls.
func (p *OllamaProvider) SetModel(model string) {
	p.client.SetModel(model)
}

// Ping checks that the Ollama server is reachable.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
