// Package provider implements model.Provider for the chat-completion
// endpoints tabula can drive: a local Ollama server, the OpenAI API
// (or any OpenAI-compatible base URL), and the Anthropic API.
//
// Every agent role (analysis LLM, chart-reading VLM, safety guard,
// dataset normalizer) consumes the same model.Provider interface, so a
// role can be pointed at any configured endpoint. The provider layer
// owns all conversions between tabula's provider-agnostic types and
// each SDK's wire types; nothing above it imports an SDK.
//
// Construction goes through the NewProvider factory:
//
//	p, err := provider.NewProvider(provider.Config{
//	    Type:    provider.ProviderTypeOllama,
//	    BaseURL: "http://localhost:11434",
//	    Model:   "qwen2.5-coder:latest",
//	})
//
// or through NewForRole, which resolves a [llm]/[vlm]/[guard] config
// block against the provider list and credential store.
package provider

// Note: The Provider interface and StreamCallback are defined in the model package
// (model/provider.go) to avoid import cycles. This package implements model.Provider.

// ProviderType identifies the provider implementation.
type ProviderType string

const (
	ProviderTypeOllama    ProviderType = "ollama"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
)

// Config holds provider-specific configuration.
type Config struct {
	Type    ProviderType
	BaseURL string
	Model   string
	APIKey  string // For OpenAI/Anthropic (unused for Ollama)
}
