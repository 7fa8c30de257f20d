package testutil

import (
	"context"
	"sync"

	"tabula/model"
	"tabula/ollama"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// MockProvider implements the model.Provider interface for testing.
type MockProvider struct {
	// Configurable responses
	ChatFunc          func(ctx context.Context, messages []model.Message, callback model.StreamCallback) error
	ChatWithToolsFunc func(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error
	ListModelsFunc    func(ctx context.Context) ([]ollama.ModelInfo, error)
	PingFunc          func(ctx context.Context) error

	// State
	mu           sync.Mutex
	currentModel string
	calls        [][]model.Message
	script       []string
	scriptPos    int
}

// NewMockProvider creates a mock provider with default implementations.
func NewMockProvider(modelName string) *MockProvider {
	mock := &MockProvider{
		currentModel: modelName,
	}
	mock.ChatFunc = mock.defaultChat
	mock.ChatWithToolsFunc = mock.defaultChatWithTools
	mock.ListModelsFunc = mock.defaultListModels
	mock.PingFunc = mock.defaultPing
	return mock
}

// NewScriptedProvider creates a mock whose Chat calls play back the given
// replies in order, streamed as a single chunk each. Calls past the end
// of the script repeat the last reply. Useful for exercising multi-round
// agent loops where the first reply carries code and a later one the
// final answer.
func NewScriptedProvider(modelName string, replies ...string) *MockProvider {
	mock := NewMockProvider(modelName)
	mock.script = replies
	mock.ChatFunc = mock.scriptedChat
	mock.ChatWithToolsFunc = func(ctx context.Context, messages []model.Message, _ []mcptypes.Tool, callback model.StreamCallback) error {
		return mock.scriptedChat(ctx, messages, callback)
	}
	return mock
}

// Calls returns the message history of every Chat/ChatWithTools call.
func (m *MockProvider) Calls() [][]model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]model.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) record(messages []model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]model.Message, len(messages))
	copy(snapshot, messages)
	m.calls = append(m.calls, snapshot)
}

func (m *MockProvider) scriptedChat(_ context.Context, messages []model.Message, callback model.StreamCallback) error {
	m.record(messages)

	m.mu.Lock()
	if len(m.script) == 0 {
		m.mu.Unlock()
		return callback("", nil)
	}
	reply := m.script[m.scriptPos]
	if m.scriptPos < len(m.script)-1 {
		m.scriptPos++
	}
	m.mu.Unlock()

	return callback(reply, nil)
}

func (m *MockProvider) defaultChat(_ context.Context, messages []model.Message, callback model.StreamCallback) error {
	m.record(messages)
	if len(messages) > 0 {
		return callback("Mock response", nil)
	}
	return nil
}

func (m *MockProvider) defaultChatWithTools(_ context.Context, messages []model.Message, _ []mcptypes.Tool, callback model.StreamCallback) error {
	m.record(messages)
	return callback("Mock response with tools", nil)
}

func (m *MockProvider) defaultListModels(_ context.Context) ([]ollama.ModelInfo, error) {
	return []ollama.ModelInfo{
		{Name: "mock-model-1", Size: 1000},
		{Name: "mock-model-2", Size: 2000},
	}, nil
}

func (m *MockProvider) defaultPing(_ context.Context) error {
	return nil
}

func (m *MockProvider) Chat(ctx context.Context, messages []model.Message, callback model.StreamCallback) error {
	return m.ChatFunc(ctx, messages, callback)
}

func (m *MockProvider) ChatWithTools(ctx context.Context, messages []model.Message, tools []mcptypes.Tool, callback model.StreamCallback) error {
	return m.ChatWithToolsFunc(ctx, messages, tools, callback)
}

func (m *MockProvider) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return m.ListModelsFunc(ctx)
}

func (m *MockProvider) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentModel
}

// GetDisplayName returns the same value as GetModel (no prefix stripping).
func (m *MockProvider) GetDisplayName() string {
	return m.GetModel()
}

func (m *MockProvider) SetModel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentModel = name
}

func (m *MockProvider) Ping(ctx context.Context) error {
	return m.PingFunc(ctx)
}

var _ model.Provider = (*MockProvider)(nil)
