// Package resolve builds provider adapters from provider-agnostic
// configuration, wrapping them with retry and rate-limit middleware.
package resolve

import (
	"fmt"
	"time"

	superagent "github.com/superagent-core/superagent"
	"github.com/superagent-core/superagent/provider/gemini"
	"github.com/superagent-core/superagent/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a Provider.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compat endpoints; auto-filled for known providers

	// Middleware (zero = disabled).
	MaxRetries     int
	RetryBase      time.Duration
	RequestsPerMin int
	TokensPerMin   int

	Thinking bool // gemini only
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates an adapter from cfg, wrapped with retry and rate-limit
// middleware when configured.
func Provider(cfg Config) (superagent.Provider, error) {
	var p superagent.Provider
	switch cfg.Provider {
	case "gemini":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Thinking {
			opts = append(opts, gemini.WithThinking(true))
		}
		p = gemini.New(cfg.APIKey, cfg.Model, opts...)
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		p = openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL,
			openaicompat.WithName(cfg.Provider))
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}

	if cfg.MaxRetries > 0 {
		retryOpts := []superagent.RetryOption{superagent.RetryMaxAttempts(cfg.MaxRetries)}
		if cfg.RetryBase > 0 {
			retryOpts = append(retryOpts, superagent.RetryBaseDelay(cfg.RetryBase))
		}
		p = superagent.WithRetry(p, retryOpts...)
	}
	if cfg.RequestsPerMin > 0 || cfg.TokensPerMin > 0 {
		var rlOpts []superagent.RateLimitOption
		if cfg.RequestsPerMin > 0 {
			rlOpts = append(rlOpts, superagent.RPM(cfg.RequestsPerMin))
		}
		if cfg.TokensPerMin > 0 {
			rlOpts = append(rlOpts, superagent.TPM(cfg.TokensPerMin))
		}
		p = superagent.WithRateLimit(p, rlOpts...)
	}
	return p, nil
}

// EmbeddingProvider creates an embedding adapter from cfg.
func EmbeddingProvider(cfg EmbeddingConfig) (superagent.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	case "openai", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions,
			openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
