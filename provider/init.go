package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"tabula/config"
	"tabula/model"
)

// InitializeProviders creates provider instances for every configured
// backend: Ollama first (always attempted), then each enabled entry
// from the providers table with its API key from the credential store.
// Failures are logged and skipped so the CLI can start with whatever
// is reachable. Used for model listing and startup checks; the agent
// itself builds per-role instances via NewForRole.
func InitializeProviders(cfg *config.Config) map[string]model.Provider {
	providers := make(map[string]model.Provider)

	if ollamaProvider := initializeOllama(cfg); ollamaProvider != nil {
		providers["ollama"] = ollamaProvider
		slog.Debug("initialized provider", "id", "ollama")
	} else {
		slog.Debug("ollama provider unavailable, continuing without it")
	}

	for _, providerCfg := range cfg.Providers {
		if !providerCfg.Enabled {
			continue
		}

		apiKey := ""
		if cfg.CredentialStore != nil {
			apiKey = cfg.CredentialStore.Get(providerCfg.ID)
		}

		providerType := MapProviderIDToType(providerCfg.ID)

		p, err := NewProvider(Config{
			Type:    providerType,
			BaseURL: providerCfg.BaseURL,
			APIKey:  apiKey,
			Model:   "",
		})
		if err != nil {
			slog.Warn("failed to initialize provider", "id", providerCfg.ID, "error", err)
			continue
		}

		providers[providerCfg.ID] = p
		slog.Debug("initialized provider", "id", providerCfg.ID, "type", providerType)
	}

	return providers
}

// NewForRole builds a fresh provider instance for one agent role
// (analysis, VLM, guard, or normalizer). Provider instances hold the
// active model as state, so roles never share one; each role resolves
// its provider and model through the configured fallback chain and
// gets its own instance.
func NewForRole(cfg *config.Config, role *config.ModelConfig) (model.Provider, error) {
	providerID, modelName := cfg.ResolveModel(role)

	if strings.EqualFold(providerID, "ollama") {
		return NewOllamaProvider(cfg.OllamaURL(), modelName)
	}

	baseURL := ""
	if pc, ok := cfg.ProviderByID(providerID); ok {
		if !pc.Enabled {
			return nil, fmt.Errorf("provider %q is disabled", providerID)
		}
		baseURL = pc.BaseURL
	}

	apiKey := ""
	if cfg.CredentialStore != nil {
		apiKey = cfg.CredentialStore.Get(providerID)
	}

	return NewProvider(Config{
		Type:    MapProviderIDToType(providerID),
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   modelName,
	})
}

// initializeOllama creates the Ollama provider, or nil when the client
// cannot be constructed.
func initializeOllama(cfg *config.Config) model.Provider {
	p, err := NewProvider(Config{
		Type:    ProviderTypeOllama,
		BaseURL: cfg.OllamaURL(),
		Model:   cfg.Model(),
	})
	if err != nil {
		slog.Debug("ollama provider creation failed", "error", err)
		return nil
	}
	return p
}
