// Package config holds all forest configuration: provider credentials,
// embedding engine selection, store paths, breaker tuning and logging.
// Configuration is YAML on disk with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all forest configuration.
type Config struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Selector  SelectorConfig  `yaml:"selector"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the intelligence provider client.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // gemini, openai
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, none
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// StoreConfig configures the document and vector stores.
type StoreConfig struct {
	DatabasePath  string `yaml:"database_path"`
	MirrorRetries int    `yaml:"mirror_retries"` // retry budget for vector mirroring
	MirrorWorkers int    `yaml:"mirror_workers"` // parallel upserts during mirroring
}

// BreakerConfig tunes the circuit breaker around provider calls.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Cooldown         string `yaml:"cooldown"`
	CallTimeout      string `yaml:"call_timeout"`
}

// SelectorConfig tunes next-task selection.
type SelectorConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Default returns the default configuration rooted at the given workspace.
func Default(workspace string) *Config {
	if workspace == "" {
		workspace = "."
	}
	return &Config{
		Name:      "forest",
		Workspace: workspace,
		LLM: LLMConfig{
			Provider:  "gemini",
			Model:     "gemini-2.5-flash",
			BaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			Timeout:   "60s",
			MaxTokens: 4096,
		},
		Embedding: EmbeddingConfig{
			Provider:       "none",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Store: StoreConfig{
			DatabasePath:  filepath.Join(workspace, ".forest", "forest.db"),
			MirrorRetries: 2,
			MirrorWorkers: 4,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         "60s",
			CallTimeout:      "30s",
		},
		Selector: SelectorConfig{
			SimilarityThreshold: 0.35,
			TopK:                10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, applies env overrides, and fills in
// defaults for anything left unset. A missing file yields defaults.
func Load(path, workspace string) (*Config, error) {
	cfg := Default(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.fillDefaults(workspace)
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) fillDefaults(workspace string) {
	def := Default(workspace)
	if c.Workspace == "" {
		c.Workspace = def.Workspace
	}
	if c.LLM.Provider == "" {
		c.LLM = def.LLM
	}
	if c.LLM.Timeout == "" {
		c.LLM.Timeout = def.LLM.Timeout
	}
	if c.Embedding.Provider == "" {
		c.Embedding = def.Embedding
	}
	if c.Store.DatabasePath == "" {
		c.Store.DatabasePath = def.Store.DatabasePath
	}
	if c.Store.MirrorRetries == 0 {
		c.Store.MirrorRetries = def.Store.MirrorRetries
	}
	if c.Store.MirrorWorkers == 0 {
		c.Store.MirrorWorkers = def.Store.MirrorWorkers
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if c.Breaker.Cooldown == "" {
		c.Breaker.Cooldown = def.Breaker.Cooldown
	}
	if c.Breaker.CallTimeout == "" {
		c.Breaker.CallTimeout = def.Breaker.CallTimeout
	}
	if c.Selector.SimilarityThreshold == 0 {
		c.Selector.SimilarityThreshold = def.Selector.SimilarityThreshold
	}
	if c.Selector.TopK == 0 {
		c.Selector.TopK = def.Selector.TopK
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides lets environment variables win over file values,
// so credentials stay out of checked-in config.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FOREST_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("FOREST_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FOREST_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("FOREST_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("FOREST_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("FOREST_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("FOREST_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("FOREST_DATABASE_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("FOREST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FOREST_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Breaker.FailureThreshold = n
		}
	}
}

// LLMTimeout parses the provider timeout, defaulting to 60s.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// BreakerCooldown parses the breaker cooldown, defaulting to 60s.
func (c *Config) BreakerCooldown() time.Duration {
	return parseDuration(c.Breaker.Cooldown, 60*time.Second)
}

// BreakerCallTimeout parses the per-call timeout, defaulting to 30s.
func (c *Config) BreakerCallTimeout() time.Duration {
	return parseDuration(c.Breaker.CallTimeout, 30*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
