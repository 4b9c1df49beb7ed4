// Package config provides configuration types and defaults for binder.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chenadu5299/binder/internal/ai"
	"github.com/chenadu5299/binder/internal/log"
)

// Provider names accepted in the `provider` key.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

// Config holds all configuration options for binder.
type Config struct {
	WorkspaceDir string                    `mapstructure:"workspace_dir"`
	Provider     string                    `mapstructure:"provider"` // "openai" or "deepseek"
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Model        ModelConfig               `mapstructure:"model"`
	AI           AIConfig                  `mapstructure:"ai"`
	History      HistoryConfig             `mapstructure:"history"`
	UI           UIConfig                  `mapstructure:"ui"`
}

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"` // environment variable holding the key
}

// ModelConfig holds sampling settings passed through to the backend.
type ModelConfig struct {
	Name        string  `mapstructure:"name"`
	Temperature float64 `mapstructure:"temperature"` // 0.0 to 2.0
	TopP        float64 `mapstructure:"top_p"`       // 0.0 to 1.0
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AIConfig holds request dispatch settings.
type AIConfig struct {
	// RequestTimeout bounds one streaming request end to end, in seconds.
	// Valid range 10 to 300.
	RequestTimeout int `mapstructure:"request_timeout"`

	// MaxConcurrent caps in-flight backend requests. Valid range 1 to 10.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// HistoryConfig holds conversation persistence settings.
type HistoryConfig struct {
	// Path to the SQLite history database.
	// Default: ~/.config/binder/history.db
	Path string `mapstructure:"path"`
}

// UIConfig holds user interface configuration options.
type UIConfig struct {
	ShowStatusBar bool `mapstructure:"show_status_bar"`
	ShowToolCalls bool `mapstructure:"show_tool_calls"` // render tool invocations in the transcript
}

// DefaultHistoryPath returns ~/.config/binder/history.db, or a relative
// fallback if the user config dir is unavailable.
func DefaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "binder-history.db"
	}
	return filepath.Join(dir, "binder", "history.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Provider: ProviderDeepSeek,
		Providers: map[string]ProviderConfig{
			ProviderOpenAI: {
				BaseURL:   ai.OpenAIBaseURL,
				APIKeyEnv: "OPENAI_API_KEY",
			},
			ProviderDeepSeek: {
				BaseURL:   ai.DeepSeekBaseURL,
				APIKeyEnv: "DEEPSEEK_API_KEY",
			},
		},
		Model: ModelConfig{
			Name:        "deepseek-chat",
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   2000,
		},
		AI: AIConfig{
			RequestTimeout: 60,
			MaxConcurrent:  3,
		},
		History: HistoryConfig{
			Path: DefaultHistoryPath(),
		},
		UI: UIConfig{
			ShowStatusBar: true,
			ShowToolCalls: true,
		},
	}
}

// Validate checks the configuration for errors. Zero values fall back
// to defaults at use sites, so only out-of-range values fail here.
func Validate(cfg Config) error {
	if cfg.Provider != "" && cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderDeepSeek {
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderOpenAI, ProviderDeepSeek, cfg.Provider)
	}
	if cfg.Model.Temperature < 0.0 || cfg.Model.Temperature > 2.0 {
		return fmt.Errorf("model.temperature must be between 0.0 and 2.0, got %v", cfg.Model.Temperature)
	}
	if cfg.Model.TopP < 0.0 || cfg.Model.TopP > 1.0 {
		return fmt.Errorf("model.top_p must be between 0.0 and 1.0, got %v", cfg.Model.TopP)
	}
	if cfg.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens must not be negative, got %d", cfg.Model.MaxTokens)
	}
	if cfg.AI.RequestTimeout != 0 && (cfg.AI.RequestTimeout < 10 || cfg.AI.RequestTimeout > 300) {
		return fmt.Errorf("ai.request_timeout must be between 10 and 300 seconds, got %d", cfg.AI.RequestTimeout)
	}
	if cfg.AI.MaxConcurrent != 0 && (cfg.AI.MaxConcurrent < 1 || cfg.AI.MaxConcurrent > 10) {
		return fmt.Errorf("ai.max_concurrent must be between 1 and 10, got %d", cfg.AI.MaxConcurrent)
	}
	return nil
}

// ModelDefaults returns the configured sampling settings as an
// ai.ModelConfig, falling back per field to the built-in defaults.
func (c Config) ModelDefaults() ai.ModelConfig {
	out := ai.DefaultModelConfig()
	if c.Model.Name != "" {
		out.Model = c.Model.Name
	}
	if c.Model.Temperature > 0 {
		out.Temperature = c.Model.Temperature
	}
	if c.Model.TopP > 0 {
		out.TopP = c.Model.TopP
	}
	if c.Model.MaxTokens > 0 {
		out.MaxTokens = c.Model.MaxTokens
	}
	return out
}

// ProviderOptions resolves the active provider into client options.
// The API key is read from the provider's configured environment
// variable; a missing key surfaces later as an auth failure on the
// first request rather than an error here.
func (c Config) ProviderOptions() (ai.Options, error) {
	name := c.Provider
	if name == "" {
		name = ProviderDeepSeek
	}
	pc, ok := c.Providers[name]
	if !ok {
		switch name {
		case ProviderOpenAI:
			pc = ProviderConfig{BaseURL: ai.OpenAIBaseURL, APIKeyEnv: "OPENAI_API_KEY"}
		case ProviderDeepSeek:
			pc = ProviderConfig{BaseURL: ai.DeepSeekBaseURL, APIKeyEnv: "DEEPSEEK_API_KEY"}
		default:
			return ai.Options{}, fmt.Errorf("unknown provider %q", name)
		}
	}

	timeout := ai.DefaultRequestTimeout
	if c.AI.RequestTimeout > 0 {
		timeout = time.Duration(c.AI.RequestTimeout) * time.Second
	}

	return ai.Options{
		Name:    name,
		BaseURL: pc.BaseURL,
		APIKey:  os.Getenv(pc.APIKeyEnv),
		Timeout: timeout,
	}, nil
}

// MaxConcurrent returns the configured request concurrency cap.
func (c Config) MaxConcurrent() int {
	if c.AI.MaxConcurrent > 0 {
		return c.AI.MaxConcurrent
	}
	return 3
}

// HistoryPath returns the configured history database path.
func (c Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return DefaultHistoryPath()
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Binder Configuration

# Workspace root for conversations (default: current directory)
# workspace_dir: /path/to/project

# Backend provider: "openai" or "deepseek"
provider: deepseek

# Per-provider connection settings. The API key is read from the named
# environment variable, never stored in this file.
providers:
  openai:
    base_url: https://api.openai.com/v1
    api_key_env: OPENAI_API_KEY
  deepseek:
    base_url: https://api.deepseek.com/v1
    api_key_env: DEEPSEEK_API_KEY

# Sampling settings passed through to the backend
model:
  name: deepseek-chat
  temperature: 0.7   # 0.0 to 2.0
  top_p: 1.0         # 0.0 to 1.0
  max_tokens: 2000

# Request dispatch settings
ai:
  request_timeout: 60   # seconds per streaming request, 10 to 300
  max_concurrent: 3     # in-flight requests, 1 to 10

# Conversation history
# history:
#   path: ~/.config/binder/history.db

# UI settings
ui:
  show_status_bar: true   # Show status bar at bottom
  show_tool_calls: true   # Render tool invocations in the transcript
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
