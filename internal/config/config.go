// Package config loads the TOML configuration for the superagent binary:
// defaults, then the config file, then environment overrides (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	superagent "github.com/superagent-core/superagent"
)

// Vector store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendChromem  = "chromem"
)

// Sandbox runners.
const (
	RunnerSubprocess = "subprocess"
	RunnerDocker     = "docker"
	RunnerHTTP       = "http"
)

type Config struct {
	Providers map[string]ProviderBlock `toml:"providers"`
	Embedding EmbeddingBlock           `toml:"embedding"`
	Memory    MemoryBlock              `toml:"memory"`
	Executor  ExecutorBlock            `toml:"executor"`
	Security  SecurityBlock            `toml:"security"`
	UX        UXBlock                  `toml:"ux"`
	Observer  ObserverBlock            `toml:"observer"`
	Sandbox   SandboxBlock             `toml:"sandbox"`
	Workspace WorkspaceBlock           `toml:"workspace"`
}

// ProviderBlock configures one LLM provider in the router's fallback chain.
type ProviderBlock struct {
	APIKey         string   `toml:"api_key"`
	BaseURL        string   `toml:"base_url"`
	Models         []string `toml:"models"`
	Priority       int      `toml:"priority"`
	Enabled        bool     `toml:"enabled"`
	TimeoutSeconds int      `toml:"timeout"`
	MaxRetries     int      `toml:"max_retries"`
}

type EmbeddingBlock struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type MemoryBlock struct {
	ShortTermLimit       int    `toml:"short_term_limit"`
	WorkingLimit         int    `toml:"working_limit"`
	LongTermLimit        int    `toml:"long_term_limit"`
	CompressionThreshold int    `toml:"compression_threshold"`
	EpisodicCapacity     int    `toml:"episodic_capacity"`
	EmbeddingModel       string `toml:"embedding_model"`
	VectorStoreBackend   string `toml:"vector_store_backend"`
	Path                 string `toml:"path"`        // sqlite file or chromem directory
	PostgresURL          string `toml:"postgres_url"`
}

type ExecutorBlock struct {
	DefaultTimeoutS  int  `toml:"default_timeout_s"`
	EnableSnapshots  bool `toml:"enable_snapshots"`
	MaxParallelSteps int  `toml:"max_parallel_steps"`
}

type SecurityBlock struct {
	AllowedPaths   []string `toml:"allowed_paths"`
	BlockedPaths   []string `toml:"blocked_paths"`
	AllowedDomains []string `toml:"allowed_domains"`
	MaxFileSizeMB  float64  `toml:"max_file_size_mb"`
}

type UXBlock struct {
	DefaultModel     string  `toml:"default_model"`
	Temperature      float64 `toml:"temperature"`
	StreamingEnabled bool    `toml:"streaming_enabled"`
	AutoSave         bool    `toml:"auto_save"`
}

type ObserverBlock struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
	Enabled     bool   `toml:"enabled"`
}

type SandboxBlock struct {
	Enabled  bool   `toml:"enabled"`
	Runner   string `toml:"runner"`   // "subprocess", "docker", or "http"
	Endpoint string `toml:"endpoint"` // sandboxd URL for the http runner
}

type WorkspaceBlock struct {
	Root          string `toml:"root"`
	SessionDir    string `toml:"session_dir"`
	CheckpointDir string `toml:"checkpoint_dir"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	stateDir := filepath.Join(home, ".superagent")
	return Config{
		Providers: map[string]ProviderBlock{
			"gemini": {
				Models:         []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"},
				Priority:       10,
				Enabled:        true,
				TimeoutSeconds: 60,
				MaxRetries:     3,
			},
		},
		Embedding: EmbeddingBlock{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		Memory: MemoryBlock{
			ShortTermLimit:       50,
			WorkingLimit:         10,
			LongTermLimit:        1000,
			CompressionThreshold: 50,
			EpisodicCapacity:     1000,
			VectorStoreBackend:   BackendSQLite,
			Path:                 filepath.Join(stateDir, "memory.db"),
		},
		Executor: ExecutorBlock{
			DefaultTimeoutS:  30,
			EnableSnapshots:  true,
			MaxParallelSteps: 5,
		},
		Security: SecurityBlock{MaxFileSizeMB: 10},
		UX: UXBlock{
			DefaultModel:     "gemini-2.5-flash",
			Temperature:      0.7,
			StreamingEnabled: true,
			AutoSave:         true,
		},
		Observer: ObserverBlock{ServiceName: "superagent"},
		Sandbox:  SandboxBlock{Enabled: true, Runner: RunnerSubprocess},
		Workspace: WorkspaceBlock{
			Root:          filepath.Join(home, "superagent-workspace"),
			SessionDir:    filepath.Join(stateDir, "sessions"),
			CheckpointDir: filepath.Join(stateDir, "checkpoints"),
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A missing
// file is fine; a malformed one is a ConfigError.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "superagent.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, &superagent.ConfigError{Field: path, Message: err.Error()}
		}
	}

	applyEnv(&cfg)

	// Fallbacks
	if cfg.Memory.EmbeddingModel != "" {
		cfg.Embedding.Model = cfg.Memory.EmbeddingModel
	}
	if cfg.Embedding.APIKey == "" {
		if p, ok := cfg.Providers[cfg.Embedding.Provider]; ok {
			cfg.Embedding.APIKey = p.APIKey
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv layers environment overrides: SUPERAGENT_* for core settings,
// conventional raw names (OPENAI_API_KEY, GEMINI_API_KEY, ...) for keys.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SUPERAGENT_MODEL"); v != "" {
		cfg.UX.DefaultModel = v
	}
	if v := os.Getenv("SUPERAGENT_WORKSPACE"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("SUPERAGENT_SESSION_DIR"); v != "" {
		cfg.Workspace.SessionDir = v
	}
	if v := os.Getenv("SUPERAGENT_CHECKPOINT_DIR"); v != "" {
		cfg.Workspace.CheckpointDir = v
	}
	if v := os.Getenv("SUPERAGENT_VECTOR_BACKEND"); v != "" {
		cfg.Memory.VectorStoreBackend = v
	}
	if v := os.Getenv("SUPERAGENT_POSTGRES_URL"); v != "" {
		cfg.Memory.PostgresURL = v
	}
	if v := os.Getenv("SUPERAGENT_SANDBOX_RUNNER"); v != "" {
		cfg.Sandbox.Runner = v
	}
	if v := os.Getenv("SUPERAGENT_SANDBOX_ENDPOINT"); v != "" {
		cfg.Sandbox.Endpoint = v
	}
	if v := os.Getenv("SUPERAGENT_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if v := os.Getenv("SUPERAGENT_OBSERVER_ENABLED"); v != "" {
		cfg.Observer.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SUPERAGENT_MAX_FILE_SIZE_MB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Security.MaxFileSizeMB = f
		}
	}

	for name, p := range cfg.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv(apiKeyEnv(name))
			cfg.Providers[name] = p
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv(apiKeyEnv(cfg.Embedding.Provider))
	}
}

// apiKeyEnv maps a provider name to its conventional env var, e.g.
// "openai" -> "OPENAI_API_KEY".
func apiKeyEnv(provider string) string {
	if provider == "" {
		return ""
	}
	return strings.ToUpper(provider) + "_API_KEY"
}

// Validate reports the first fatal schema violation as a ConfigError.
func (c Config) Validate() error {
	if c.UX.DefaultModel == "" {
		return &superagent.ConfigError{Field: "ux.default_model", Message: "model is required"}
	}
	if c.UX.Temperature < 0 || c.UX.Temperature > 2 {
		return &superagent.ConfigError{
			Field:   "ux.temperature",
			Message: fmt.Sprintf("must be in [0, 2], got %g", c.UX.Temperature),
		}
	}
	switch c.Memory.VectorStoreBackend {
	case BackendSQLite, BackendPostgres, BackendChromem:
	default:
		return &superagent.ConfigError{
			Field:   "memory.vector_store_backend",
			Message: fmt.Sprintf("unknown backend %q", c.Memory.VectorStoreBackend),
		}
	}
	if c.Memory.VectorStoreBackend == BackendPostgres && c.Memory.PostgresURL == "" {
		return &superagent.ConfigError{
			Field:   "memory.postgres_url",
			Message: "required for the postgres backend",
		}
	}
	switch c.Sandbox.Runner {
	case RunnerSubprocess, RunnerDocker:
	case RunnerHTTP:
		if c.Sandbox.Endpoint == "" {
			return &superagent.ConfigError{
				Field:   "sandbox.endpoint",
				Message: "required for the http runner",
			}
		}
	default:
		return &superagent.ConfigError{
			Field:   "sandbox.runner",
			Message: fmt.Sprintf("unknown runner %q", c.Sandbox.Runner),
		}
	}
	if c.Security.MaxFileSizeMB < 0 {
		return &superagent.ConfigError{Field: "security.max_file_size_mb", Message: "must be >= 0"}
	}
	if c.Executor.MaxParallelSteps < 0 {
		return &superagent.ConfigError{Field: "executor.max_parallel_steps", Message: "must be >= 0"}
	}
	for name, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		if len(p.Models) == 0 {
			return &superagent.ConfigError{
				Field:   "providers." + name + ".models",
				Message: "enabled provider claims no models",
			}
		}
		if p.APIKey == "" && name != "ollama" {
			return &superagent.ConfigError{
				Field:   "providers." + name + ".api_key",
				Message: "missing key (set " + apiKeyEnv(name) + " or disable the provider)",
			}
		}
		if p.TimeoutSeconds < 0 || p.MaxRetries < 0 {
			return &superagent.ConfigError{
				Field:   "providers." + name,
				Message: "timeout and max_retries must be >= 0",
			}
		}
	}
	return nil
}
