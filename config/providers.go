package config

import (
	"fmt"
)

// UpdateProviderField updates a single provider configuration field.
// The -set CLI flag routes here.
//
// Fields:
//   - Ollama: "host", "enabled"
//   - Cloud providers: "apikey", "enabled"
func UpdateProviderField(dataDir, providerID, fieldName, value string) error {
	// Load existing config
	cfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Update field based on provider and field name
	switch providerID {
	case "ollama":
		switch fieldName {
		case "host":
			cfg.Ollama.Host = value

			// Sync to [[providers]] array for consistency
			for i := range cfg.Providers {
				if cfg.Providers[i].ID == "ollama" {
					cfg.Providers[i].BaseURL = value
					break
				}
			}
		case "enabled":
			if err := updateProviderEnabled(cfg, providerID, value == "true"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown field for ollama: %s", fieldName)
		}

	case "anthropic", "openai", CredentialGatewayToken:
		switch fieldName {
		case "apikey", "token":
			// API keys live in the credential store, not config.toml
			store, err := OpenCredentialStore(dataDir, cfg.Security)
			if err != nil {
				return fmt.Errorf("failed to open credential store: %w", err)
			}
			if err := store.Set(providerID, value); err != nil {
				return fmt.Errorf("failed to set API key: %w", err)
			}
			if err := store.Save(dataDir); err != nil {
				return fmt.Errorf("failed to persist credentials: %w", err)
			}
			// Credentials already saved; config.toml is untouched
			return nil

		case "enabled":
			if err := updateProviderEnabled(cfg, providerID, value == "true"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown field for %s: %s", providerID, fieldName)
		}

	default:
		return fmt.Errorf("unknown provider: %s", providerID)
	}

	// Save updated config
	if err := SaveUserConfig(cfg, dataDir); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// updateProviderEnabled updates the enabled status of a provider
func updateProviderEnabled(cfg *UserConfig, providerID string, enabled bool) error {
	// Find provider in list
	found := false
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == providerID {
			cfg.Providers[i].Enabled = enabled
			found = true
			break
		}
	}

	// If provider not in list, add it (for Ollama or new providers)
	if !found {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			ID:      providerID,
			Name:    getProviderDisplayName(providerID),
			Enabled: enabled,
			BaseURL: getProviderDefaultBaseURL(providerID),
		})
	}

	return nil
}

// getProviderDisplayName returns the display name for a provider
func getProviderDisplayName(providerID string) string {
	switch providerID {
	case "ollama":
		return "Ollama"
	case "anthropic":
		return "Anthropic"
	case "openai":
		return "OpenAI"
	default:
		return providerID
	}
}

// getProviderDefaultBaseURL returns the default base URL for a provider
func getProviderDefaultBaseURL(providerID string) string {
	switch providerID {
	case "anthropic":
		return "https://api.anthropic.com"
	case "openai":
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}
