package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/tabula",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		Ollama: OllamaConfig{
			Host:         "http://localhost:11434",
			DefaultModel: "qwen2.5-coder:latest",
		},
		Security: SecurityConfig{
			Method: SecurityPlainText,
		},
		Sandbox: SandboxConfig{
			Mode:  "local",
			Image: "quay.io/jupyter/scipy-notebook:latest",
		},
		Agent: AgentConfig{
			Locale:            "en",
			PreviewLines:      5,
			MaxIterations:     25,
			ErrorTraceCleanup: false,
			PersistSessions:   true,
		},
	}
}

func GenerateSystemConfigTemplate() string {
	return `# Tabula System Configuration
# Location: ~/.config/tabula/settings.toml
# This file uses TOML format: https://toml.io

# Directory where sessions and user config are stored
data_directory = "~/.local/share/tabula"
`
}

func GenerateUserConfigTemplate() string {
	return `# Tabula User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

[ollama]
# Ollama server URL
host = "http://localhost:11434"

# Default model when no [llm] section is configured
default_model = "qwen2.5-coder:latest"

# Extra instructions appended to the built-in analysis prompt (optional)
# Example: "Prefer seaborn over raw matplotlib."
default_system_prompt = ""

# Remote providers. API keys are stored separately in the credential
# store, never in this file. Add one [[providers]] block per endpoint:
#
# [[providers]]
# id = "openai"
# name = "OpenAI"
# enabled = true
#
# [[providers]]
# id = "anthropic"
# name = "Anthropic"
# enabled = true

[security]
# How API keys are stored: "plaintext" or "ssh_key"
# With "ssh_key", keys are encrypted with AES-256 derived from an SSH key
method = "plaintext"
# ssh_key_path = "~/.ssh/id_ed25519"

[sandbox]
# Where generated code runs: "local" (Docker) or "gateway" (Jupyter
# Enterprise Gateway)
mode = "local"

# Kernel image for local mode
image = "quay.io/jupyter/scipy-notebook:latest"

# Gateway endpoint for gateway mode; the auth token belongs to the
# credential store under id "gateway" (or TABULA_GATEWAY_TOKEN)
# gateway_url = "http://gateway.example.com:8888"

# Per-session working directory root (datasets, generated charts)
# workdir_root = "~/.cache/tabula/workdirs"

# Local container resource limits
# memory_mb = 2048
# cpus = 2.0

[agent]
# Prompt language: "en" or "zh"
locale = "en"

# Dataset rows shown to the model before analysis
preview_lines = 5

# Upper bound on LLM/sandbox round trips per question
max_iterations = 25

# Strip library internals from kernel error traces before the model
# sees them
error_trace_cleanup = false

# Save conversations to <data_directory>/sessions.db
persist_sessions = true

[llm]
# Primary analysis model. Provider is "ollama" or a [[providers]] id.
provider = "ollama"
model = "qwen2.5-coder:latest"

# Optional role models; each falls back to [llm] when absent.
#
# [vlm]        # chart summarization (needs a vision model)
# provider = "openai"
# model = "gpt-4o-mini"
#
# [guard]      # input safety classification
# provider = "ollama"
# model = "llama-guard3:latest"
#
# [normalizer] # irregular spreadsheet restructuring
# provider = "openai"
# model = "gpt-4o-mini"
`
}
