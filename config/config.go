package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

type OllamaConfig struct {
	Host         string `toml:"host"`
	DefaultModel string `toml:"default_model"`
}

// ProviderConfig describes one remote chat-completion provider entry
// in config.toml. API keys never live here; they belong to the
// credential store keyed by the provider ID.
type ProviderConfig struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url,omitempty"`
}

// ModelConfig selects a provider/model pair for one agent role.
// Provider must match a configured provider ID (or "ollama").
type ModelConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// SandboxConfig controls where generated code runs. Mode "local"
// manages kernel containers over the Docker socket; mode "gateway"
// launches kernels on a remote Jupyter Enterprise Gateway.
type SandboxConfig struct {
	Mode        string  `toml:"mode"`
	GatewayURL  string  `toml:"gateway_url,omitempty"`
	Image       string  `toml:"image,omitempty"`
	WorkdirRoot string  `toml:"workdir_root,omitempty"`
	MemoryMB    int64   `toml:"memory_mb,omitempty"`
	CPUs        float64 `toml:"cpus,omitempty"`
}

// AgentConfig holds analysis-loop tuning.
type AgentConfig struct {
	Locale            string `toml:"locale,omitempty"`
	PreviewLines      int    `toml:"preview_lines,omitempty"`
	MaxIterations     int    `toml:"max_iterations,omitempty"`
	ErrorTraceCleanup bool   `toml:"error_trace_cleanup"`
	PersistSessions   bool   `toml:"persist_sessions"`
}

// SecurityConfig selects how credentials are stored on disk.
type SecurityConfig struct {
	Method     SecurityMethod `toml:"method"` // "plaintext" or "ssh_key"
	SSHKeyPath string         `toml:"ssh_key_path,omitempty"`
}

type UserConfig struct {
	Ollama              OllamaConfig     `toml:"ollama"`
	DefaultSystemPrompt string           `toml:"default_system_prompt,omitempty"`
	Providers           []ProviderConfig `toml:"providers,omitempty"`
	Security            SecurityConfig   `toml:"security"`
	Sandbox             SandboxConfig    `toml:"sandbox"`
	Agent               AgentConfig      `toml:"agent"`
	LLM                 ModelConfig      `toml:"llm"`
	VLM                 *ModelConfig     `toml:"vlm,omitempty"`
	Guard               *ModelConfig     `toml:"guard,omitempty"`
	Normalizer          *ModelConfig     `toml:"normalizer,omitempty"`
}

// Config is the merged runtime view of settings.toml, config.toml and
// the TABULA_* environment.
type Config struct {
	DataDirectory       string
	OllamaHost          string
	DefaultModel        string
	DefaultSystemPrompt string
	Providers           []ProviderConfig
	Security            SecurityConfig
	Sandbox             SandboxConfig
	Agent               AgentConfig
	LLM                 ModelConfig
	VLM                 *ModelConfig
	Guard               *ModelConfig
	Normalizer          *ModelConfig

	CredentialStore *CredentialStore
}

var Debug = false

func (c *Config) OllamaURL() string {
	return c.OllamaHost
}

func (c *Config) Model() string {
	return c.DefaultModel
}

func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// WorkdirRoot returns the configured sandbox workdir root, falling
// back to the cache directory default.
func (c *Config) WorkdirRoot() string {
	if c.Sandbox.WorkdirRoot != "" {
		return ExpandPath(c.Sandbox.WorkdirRoot)
	}
	return GetDefaultWorkdirRoot()
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("TABULA_OLLAMA_HOST"); host != "" {
		c.OllamaHost = host
	}
	if model := os.Getenv("TABULA_OLLAMA_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if dataDir := os.Getenv("TABULA_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if mode := os.Getenv("TABULA_SANDBOX_MODE"); mode != "" {
		c.Sandbox.Mode = mode
	}
	if url := os.Getenv("TABULA_GATEWAY_URL"); url != "" {
		c.Sandbox.GatewayURL = url
	}
	if image := os.Getenv("TABULA_SANDBOX_IMAGE"); image != "" {
		c.Sandbox.Image = image
	}
	if locale := os.Getenv("TABULA_LOCALE"); locale != "" {
		c.Agent.Locale = locale
	}
	if iters := os.Getenv("TABULA_MAX_ITERATIONS"); iters != "" {
		if n, err := strconv.Atoi(iters); err == nil && n > 0 {
			c.Agent.MaxIterations = n
		}
	}
}

func CheckDebug() bool {
	debug := os.Getenv("TABULA_DEBUG")
	return debug == "true" || debug == "1"
}

func HasAllEnvVars() bool {
	return os.Getenv("TABULA_OLLAMA_HOST") != "" &&
		os.Getenv("TABULA_OLLAMA_MODEL") != "" &&
		os.Getenv("TABULA_DATA_DIR") != ""
}

func HasAnyEnvVar() bool {
	return os.Getenv("TABULA_OLLAMA_HOST") != "" ||
		os.Getenv("TABULA_OLLAMA_MODEL") != "" ||
		os.Getenv("TABULA_DATA_DIR") != ""
}

func GetMissingEnvVar() string {
	if os.Getenv("TABULA_OLLAMA_HOST") == "" {
		return "TABULA_OLLAMA_HOST"
	}
	if os.Getenv("TABULA_OLLAMA_MODEL") == "" {
		return "TABULA_OLLAMA_MODEL"
	}
	if os.Getenv("TABULA_DATA_DIR") == "" {
		return "TABULA_DATA_DIR"
	}
	return ""
}

func Load() (*Config, error) {
	Debug = CheckDebug()

	cfg := defaultConfig()

	settingsPath := GetSettingsFilePath()
	settingsExist := FileExists(settingsPath)

	if settingsExist {
		if err := cfg.loadFromFiles(); err != nil {
			return nil, err
		}
	} else if HasAllEnvVars() {
		// Container/CI runs configure everything through the
		// environment; no files are created.
	} else {
		if err := cfg.loadFromFiles(); err != nil {
			return nil, err
		}
	}

	// Environment always wins, so one binary can be pointed at
	// another endpoint without editing files.
	cfg.applyEnvOverrides()

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Ensure data directory has correct permissions (fix if needed)
	if err := EnsureDataDirPermissions(dataDir); err != nil {
		return nil, fmt.Errorf("failed to set data directory permissions: %w", err)
	}

	store, err := OpenCredentialStore(dataDir, cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	if token := os.Getenv("TABULA_GATEWAY_TOKEN"); token != "" {
		store.Set(CredentialGatewayToken, token)
	}
	cfg.CredentialStore = store

	return cfg, nil
}

func defaultConfig() *Config {
	user := DefaultUserConfig()
	return &Config{
		DataDirectory:       "~/.local/share/tabula",
		OllamaHost:          user.Ollama.Host,
		DefaultModel:        user.Ollama.DefaultModel,
		DefaultSystemPrompt: user.DefaultSystemPrompt,
		Security:            user.Security,
		Sandbox:             user.Sandbox,
		Agent:               user.Agent,
		LLM:                 user.LLM,
	}
}

// loadFromFiles reads settings.toml and the user config it points at,
// creating defaults on first run.
func (c *Config) loadFromFiles() error {
	systemCfg, err := LoadSystemConfig()
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}
	c.DataDirectory = systemCfg.DataDirectory

	dataDir := c.DataDir()
	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load user config: %w", err)
	}
	c.OllamaHost = userCfg.Ollama.Host
	c.DefaultModel = userCfg.Ollama.DefaultModel
	c.DefaultSystemPrompt = userCfg.DefaultSystemPrompt
	c.Providers = userCfg.Providers
	c.Security = userCfg.Security
	c.Sandbox = userCfg.Sandbox
	c.Agent = userCfg.Agent
	c.LLM = userCfg.LLM
	c.VLM = userCfg.VLM
	c.Guard = userCfg.Guard
	c.Normalizer = userCfg.Normalizer
	return nil
}

// ResolveModel returns the provider ID and model name for one agent
// role, falling back to the primary LLM setting and then to the
// Ollama default.
func (c *Config) ResolveModel(role *ModelConfig) (providerID, modelName string) {
	if role != nil && role.Provider != "" {
		return role.Provider, role.Model
	}
	if c.LLM.Provider != "" {
		return c.LLM.Provider, c.LLM.Model
	}
	return "ollama", c.DefaultModel
}

// ProviderByID looks up a configured provider entry.
func (c *Config) ProviderByID(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
