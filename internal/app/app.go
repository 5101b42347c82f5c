// Package app assembles a Runtime from loaded configuration: providers,
// vector store, builtin tools, sandbox, ingestion, and observability.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	superagent "github.com/superagent-core/superagent"
	"github.com/superagent-core/superagent/ingest"
	"github.com/superagent-core/superagent/internal/config"
	"github.com/superagent-core/superagent/observer"
	"github.com/superagent-core/superagent/provider/resolve"
	"github.com/superagent-core/superagent/sandbox"
	"github.com/superagent-core/superagent/store/chromem"
	"github.com/superagent-core/superagent/store/postgres"
	"github.com/superagent-core/superagent/store/sqlite"
	filetool "github.com/superagent-core/superagent/tools/file"
	sandboxtool "github.com/superagent-core/superagent/tools/sandbox"
	shelltool "github.com/superagent-core/superagent/tools/shell"
	webtool "github.com/superagent-core/superagent/tools/web"
)

// App owns an assembled Runtime plus the shutdown hooks of its
// infrastructure (telemetry exporters, bus observers).
type App struct {
	runtime  *superagent.Runtime
	config   config.Config
	logger   *slog.Logger
	shutdown []func(context.Context) error
}

// Option configures assembly.
type Option func(*assembly)

type assembly struct {
	logger *slog.Logger
	sink   superagent.EventSink
}

// WithLogger sets the structured logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(a *assembly) { a.logger = l }
}

// WithSink attaches the protocol event sink for headless operation.
func WithSink(s superagent.EventSink) Option {
	return func(a *assembly) { a.sink = s }
}

// New assembles the runtime from cfg. The config must already be
// validated; assembly failures report which subsystem could not start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var asm assembly
	for _, opt := range opts {
		opt(&asm)
	}
	if asm.logger == nil {
		asm.logger = slog.New(slog.DiscardHandler)
	}

	app := &App{config: cfg, logger: asm.logger}

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	// Telemetry first so provider and tool wrappers can use it.
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		if cfg.Observer.Endpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.Endpoint)
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init observer: %w", err)
		}
		app.shutdown = append(app.shutdown, shutdown)
	}

	policy := superagent.NewPolicy(
		superagent.AllowPaths(append([]string{cfg.Workspace.Root}, cfg.Security.AllowedPaths...)...),
		superagent.BlockPaths(cfg.Security.BlockedPaths...),
		superagent.AllowDomains(cfg.Security.AllowedDomains...),
		superagent.MaxFileSizeMB(cfg.Security.MaxFileSizeMB),
		superagent.PolicyLogger(asm.logger),
	)

	runtimeOpts := []superagent.RuntimeOption{
		superagent.RuntimeModel(cfg.UX.DefaultModel),
		superagent.RuntimeRoot(cfg.Workspace.Root),
		superagent.RuntimeSessionDir(cfg.Workspace.SessionDir),
		superagent.RuntimeCheckpointDir(cfg.Workspace.CheckpointDir),
		superagent.RuntimePolicy(policy),
		superagent.RuntimeLogger(asm.logger),
		superagent.RuntimeMemoryOptions(
			superagent.WorkingCapacity(cfg.Memory.WorkingLimit),
			superagent.EpisodicCapacity(cfg.Memory.EpisodicCapacity),
			superagent.CompressionThreshold(cfg.Memory.CompressionThreshold),
		),
		superagent.RuntimeExecutorOptions(
			superagent.MaxParallelSteps(cfg.Executor.MaxParallelSteps),
		),
		superagent.RuntimeTxnOptions(
			superagent.TxnCallTimeout(time.Duration(cfg.Executor.DefaultTimeoutS)*time.Second),
			superagent.TxnSnapshots(cfg.Executor.EnableSnapshots),
		),
	}
	if asm.sink != nil {
		runtimeOpts = append(runtimeOpts, superagent.RuntimeSink(asm.sink))
	}
	if inst != nil {
		runtimeOpts = append(runtimeOpts, superagent.RuntimeTracer(observer.NewTracer()))
	}

	providerOpts, err := providerOptions(cfg, inst)
	if err != nil {
		return nil, err
	}
	runtimeOpts = append(runtimeOpts, providerOpts...)

	storeOpts, err := memoryOptions(ctx, cfg, inst, asm.logger)
	if err != nil {
		return nil, err
	}
	runtimeOpts = append(runtimeOpts, storeOpts...)

	loader := ingest.NewLoader(policy, ingest.WithLogger(asm.logger))
	runtimeOpts = append(runtimeOpts, superagent.RuntimeFileLoader(loader.Load))

	tools := []superagent.Tool{
		filetool.New(cfg.Workspace.Root, policy, filetool.WithLogger(asm.logger)),
		shelltool.New(cfg.Workspace.Root, policy, shelltool.WithLogger(asm.logger)),
		webtool.New(policy, webtool.WithLogger(asm.logger)),
	}
	for i, t := range tools {
		if inst != nil {
			tools[i] = observer.WrapTool(t, inst)
		}
	}
	runtimeOpts = append(runtimeOpts, superagent.RuntimeTools(tools...))

	rt, err := superagent.NewRuntime(runtimeOpts...)
	if err != nil {
		return nil, err
	}
	app.runtime = rt

	// The sandbox tool dispatches back into the registry, so it registers
	// after construction.
	if cfg.Sandbox.Enabled {
		runner, err := codeRunner(cfg)
		if err != nil {
			return nil, err
		}
		var exec superagent.Tool = sandboxtool.New(runner,
			sandboxtool.WithDispatch(superagent.RegistryDispatch(rt.Tools())),
			sandboxtool.WithLogger(asm.logger))
		if inst != nil {
			exec = observer.WrapTool(exec, inst)
		}
		if err := rt.Tools().Add(exec); err != nil {
			return nil, err
		}
	}

	if inst != nil {
		unsubscribe := observer.ObserveBus(rt.Bus(), inst)
		app.shutdown = append(app.shutdown, func(context.Context) error {
			unsubscribe()
			return nil
		})
	}

	return app, nil
}

// providerOptions turns every enabled provider block into a router
// registration, wrapped with telemetry when the observer is on.
func providerOptions(cfg config.Config, inst *observer.Instruments) ([]superagent.RuntimeOption, error) {
	var opts []superagent.RuntimeOption
	for name, block := range cfg.Providers {
		if !block.Enabled {
			continue
		}
		if len(block.Models) == 0 {
			return nil, &superagent.ConfigError{
				Field:   "providers." + name + ".models",
				Message: "enabled provider claims no models",
			}
		}
		adapter, err := resolve.Provider(resolve.Config{
			Provider:   name,
			APIKey:     block.APIKey,
			Model:      block.Models[0],
			BaseURL:    block.BaseURL,
			MaxRetries: block.MaxRetries,
		})
		if err != nil {
			return nil, &superagent.ConfigError{Field: "providers." + name, Message: err.Error()}
		}
		if inst != nil {
			adapter = observer.WrapProvider(adapter, inst)
		}
		opts = append(opts, superagent.RuntimeProvider(superagent.ProviderConfig{
			Name:       name,
			APIKey:     block.APIKey,
			BaseURL:    block.BaseURL,
			Models:     block.Models,
			Priority:   block.Priority,
			Enabled:    true,
			Timeout:    time.Duration(block.TimeoutSeconds) * time.Second,
			MaxRetries: block.MaxRetries,
		}, adapter))
	}
	if len(opts) == 0 {
		return nil, &superagent.ConfigError{Field: "providers", Message: "no enabled providers"}
	}
	return opts, nil
}

// memoryOptions opens the configured vector store backend and resolves the
// embedding provider. An unconfigured embedding key disables memory rather
// than failing assembly.
func memoryOptions(ctx context.Context, cfg config.Config, inst *observer.Instruments, logger *slog.Logger) ([]superagent.RuntimeOption, error) {
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider != "ollama" {
		logger.Warn("no embedding key, long-term memory disabled")
		return nil, nil
	}

	embedder, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, &superagent.ConfigError{Field: "embedding.provider", Message: err.Error()}
	}
	if inst != nil {
		embedder = observer.WrapEmbedding(embedder, inst)
	}

	var store superagent.VectorStore
	switch cfg.Memory.VectorStoreBackend {
	case config.BackendSQLite:
		s := sqlite.New(cfg.Memory.Path, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store = s
	case config.BackendPostgres:
		s, err := postgres.New(ctx, cfg.Memory.PostgresURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		store = s
	case config.BackendChromem:
		s, err := chromem.New(cfg.Memory.Path, chromem.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open chromem store: %w", err)
		}
		store = s
	default:
		return nil, &superagent.ConfigError{
			Field:   "memory.vector_store_backend",
			Message: "unknown backend " + cfg.Memory.VectorStoreBackend,
		}
	}

	return []superagent.RuntimeOption{superagent.RuntimeVectorStore(store, embedder)}, nil
}

// codeRunner builds the sandbox backend for execute_code.
func codeRunner(cfg config.Config) (superagent.CodeRunner, error) {
	switch cfg.Sandbox.Runner {
	case config.RunnerDocker:
		runner, err := sandbox.NewDockerRunner(sandbox.WithWorkspace(cfg.Workspace.Root))
		if err != nil {
			return nil, fmt.Errorf("docker runner: %w", err)
		}
		return runner, nil
	case config.RunnerHTTP:
		return sandbox.NewHTTPRunner(cfg.Sandbox.Endpoint), nil
	case config.RunnerSubprocess:
		return sandbox.NewSubprocessRunner("python3", sandbox.WithWorkspace(cfg.Workspace.Root)), nil
	default:
		return nil, &superagent.ConfigError{Field: "sandbox.runner", Message: "unknown runner " + cfg.Sandbox.Runner}
	}
}

// Runtime returns the assembled runtime.
func (a *App) Runtime() *superagent.Runtime { return a.runtime }

// Start starts the runtime's agent pool.
func (a *App) Start(ctx context.Context) error {
	return a.runtime.Start(ctx)
}

// Close stops the runtime and runs every shutdown hook in reverse order.
func (a *App) Close(ctx context.Context) error {
	errs := []error{a.runtime.Stop()}
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, a.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}
