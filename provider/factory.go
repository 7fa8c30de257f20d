package provider

import (
	"fmt"

	"tabula/model"
)

// NewProvider creates a provider based on configuration.
//
// This is the centralized factory for all provider types. It
// dispatches to the matching constructor based on Config.Type and
// returns an error for unknown types or when a provider-specific
// constructor fails (missing API key, invalid URL).
func NewProvider(cfg Config) (model.Provider, error) {
	switch cfg.Type {
	case ProviderTypeOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case ProviderTypeAnthropic:
		return NewAnthropicProvider(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}

// MapProviderIDToType converts a config provider ID to a factory
// ProviderType.
//
// Mappings:
//   - "ollama" → ProviderTypeOllama
//   - "openai" → ProviderTypeOpenAI
//   - "openrouter" → ProviderTypeOpenAI (OpenRouter is OpenAI-compatible;
//     point its base_url at https://openrouter.ai/api/v1)
//   - "anthropic" → ProviderTypeAnthropic
//
// For unknown IDs, returns the ID cast as ProviderType (factory will error).
func MapProviderIDToType(id string) ProviderType {
	switch id {
	case "ollama":
		return ProviderTypeOllama
	case "openai", "openrouter":
		return ProviderTypeOpenAI
	case "anthropic":
		return ProviderTypeAnthropic
	default:
		// Fallback: pass ID as-is (factory will return error)
		return ProviderType(id)
	}
}
