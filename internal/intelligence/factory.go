package intelligence

import (
	"fmt"
	"time"

	"forest/internal/config"
	"forest/internal/logging"
)

// NewClientFromConfig builds a provider client from configuration.
// An empty API key returns nil with no error: the provider is simply
// absent, and callers run on the fallback chain alone.
func NewClientFromConfig(cfg config.LLMConfig, timeout time.Duration) (Client, error) {
	if cfg.APIKey == "" {
		logging.Boot("no intelligence provider API key configured; running fallback-only")
		return nil, nil
	}

	switch cfg.Provider {
	case "", "gemini":
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			gc.BaseURL = cfg.BaseURL
		}
		if timeout > 0 {
			gc.Timeout = timeout
		}
		return NewGeminiClient(gc), nil
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if timeout > 0 {
			oc.Timeout = timeout
		}
		return NewOpenAIClient(oc), nil
	default:
		return nil, fmt.Errorf("unsupported intelligence provider: %s (use 'gemini' or 'openai')", cfg.Provider)
	}
}
