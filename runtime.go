package superagent

import (
	"context"
	"log/slog"
)

// Runtime wires the execution core together: provider routing, the event
// bus with its agent pool, adaptive memory, transactional tool execution,
// the diff-first UX flow, sessions, and goal scheduling. Construct one per
// process with NewRuntime; there are no package-level singletons.
type Runtime struct {
	router       *Router
	bus          *EventBus
	registry     *ToolRegistry
	snapshotter  *Snapshotter
	txn          *TxnExecutor
	planner      *Planner
	executor     *PlanExecutor
	memory       *AdaptiveMemory
	fusion       *ContextFusion
	health       *HealthMonitor
	orchestrator *Orchestrator
	scheduler    *GoalScheduler
	ux           *UX
	sessions     *SessionStore
	checkpoints  *CheckpointManager
	policy       *Policy
	emitter      *Emitter
	counters     *CounterSet
	logger       *slog.Logger

	model         string
	root          string
	sessionDir    string
	checkpointDir string
	sink          EventSink
	store         VectorStore
	embedder      EmbeddingProvider
	tools         []Tool
	registrations []providerRegistration
	memoryOpts    []MemoryOption
	executorOpts  []PlanExecutorOption
	txnOpts       []TxnOption
	tracer        Tracer
	fileLoader    FileLoader
}

type providerRegistration struct {
	config  ProviderConfig
	adapter Provider
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// RuntimeModel sets the model id used for planning, step synthesis, and
// intent classification.
func RuntimeModel(model string) RuntimeOption {
	return func(r *Runtime) { r.model = model }
}

// RuntimeRoot sets the workspace root for diffs and snapshots. Default: the
// current directory.
func RuntimeRoot(dir string) RuntimeOption {
	return func(r *Runtime) { r.root = dir }
}

// RuntimeProvider registers a provider with the router.
func RuntimeProvider(cfg ProviderConfig, adapter Provider) RuntimeOption {
	return func(r *Runtime) {
		r.registrations = append(r.registrations, providerRegistration{config: cfg, adapter: adapter})
	}
}

// RuntimeVectorStore attaches the vector store and embedder backing
// adaptive memory. Without both, memory and context fusion are disabled.
func RuntimeVectorStore(store VectorStore, embedder EmbeddingProvider) RuntimeOption {
	return func(r *Runtime) {
		r.store = store
		r.embedder = embedder
	}
}

// RuntimeMemoryOptions forwards options to the adaptive memory constructor.
func RuntimeMemoryOptions(opts ...MemoryOption) RuntimeOption {
	return func(r *Runtime) { r.memoryOpts = append(r.memoryOpts, opts...) }
}

// RuntimeExecutorOptions forwards options to the plan executor constructor.
func RuntimeExecutorOptions(opts ...PlanExecutorOption) RuntimeOption {
	return func(r *Runtime) { r.executorOpts = append(r.executorOpts, opts...) }
}

// RuntimeTxnOptions forwards options to the transaction executor
// constructor.
func RuntimeTxnOptions(opts ...TxnOption) RuntimeOption {
	return func(r *Runtime) { r.txnOpts = append(r.txnOpts, opts...) }
}

// RuntimeTracer attaches a tracer spanning goal round trips.
func RuntimeTracer(t Tracer) RuntimeOption {
	return func(r *Runtime) { r.tracer = t }
}

// RuntimeFileLoader replaces the UX file loader, e.g. with a document
// extractor that handles PDF and markdown.
func RuntimeFileLoader(l FileLoader) RuntimeOption {
	return func(r *Runtime) { r.fileLoader = l }
}

// RuntimeTools registers tools before the executor and planner see the
// registry.
func RuntimeTools(tools ...Tool) RuntimeOption {
	return func(r *Runtime) { r.tools = append(r.tools, tools...) }
}

// RuntimePolicy sets the security policy gating file and domain access.
func RuntimePolicy(p *Policy) RuntimeOption {
	return func(r *Runtime) { r.policy = p }
}

// RuntimeSink attaches the protocol event sink for headless operation.
func RuntimeSink(sink EventSink) RuntimeOption {
	return func(r *Runtime) { r.sink = sink }
}

// RuntimeSessionDir sets the session persistence directory. Default:
// ~/.superagent/sessions.
func RuntimeSessionDir(dir string) RuntimeOption {
	return func(r *Runtime) { r.sessionDir = dir }
}

// RuntimeCheckpointDir sets the checkpoint directory. Default:
// ~/.superagent/checkpoints.
func RuntimeCheckpointDir(dir string) RuntimeOption {
	return func(r *Runtime) { r.checkpointDir = dir }
}

// RuntimeLogger sets the structured logger shared by every subsystem.
func RuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime assembles the execution core. Every subsystem shares the
// runtime logger and the single event bus.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{root: "."}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	if r.model == "" {
		return nil, &ConfigError{Field: "model", Message: "runtime model is required"}
	}

	r.router = NewRouter(WithRouterLogger(r.logger))
	for _, reg := range r.registrations {
		if err := r.router.Register(reg.config, reg.adapter); err != nil {
			return nil, err
		}
	}

	r.bus = NewEventBus(WithBusLogger(r.logger))
	r.counters = NewCounterSet()
	r.registry = NewToolRegistry()
	for _, t := range r.tools {
		if err := r.registry.Add(t); err != nil {
			return nil, err
		}
	}
	if r.policy == nil {
		r.policy = NewPolicy(PolicyLogger(r.logger))
	}

	provider := r.router.AsProvider()
	r.snapshotter = NewSnapshotter(r.root, SnapshotLogger(r.logger))
	txnOpts := append([]TxnOption{TxnLogger(r.logger)}, r.txnOpts...)
	r.txn = NewTxnExecutor(r.registry, r.snapshotter, txnOpts...)
	r.planner = NewPlanner(provider, r.registry, r.model, PlannerLogger(r.logger))
	// Recovery planning goes over the bus so the planner agent serves it
	// and the request shows up in the event history.
	execOpts := append([]PlanExecutorOption{
		WithReplanner(NewBusReplanner(r.bus)),
		PlanExecutorLogger(r.logger),
	}, r.executorOpts...)
	r.executor = NewPlanExecutor(provider, r.txn, r.model, execOpts...)

	if r.store != nil && r.embedder != nil {
		memOpts := append([]MemoryOption{MemoryLogger(r.logger)}, r.memoryOpts...)
		r.memory = NewAdaptiveMemory(r.store, r.embedder, memOpts...)
		r.fusion = NewContextFusion(r.memory, FusionLogger(r.logger))
	}
	r.health = NewHealthMonitor(HealthLogger(r.logger))

	orchOpts := []OrchestratorOption{OrchestratorLogger(r.logger)}
	if r.fusion != nil {
		orchOpts = append(orchOpts, WithContextFusion(r.fusion))
	}
	if r.tracer != nil {
		orchOpts = append(orchOpts, OrchestratorTracer(r.tracer))
	}
	r.orchestrator = NewOrchestrator(r.bus, orchOpts...)
	r.orchestrator.RegisterAgent(NewPlannerAgent("planner", r.bus, r.planner, r.logger))
	r.orchestrator.RegisterAgent(NewExecutorAgent("executor", r.bus, r.executor, r.logger))
	if r.memory != nil {
		r.orchestrator.RegisterAgent(NewMemoryAgent("memory", r.bus, r.memory, r.logger))
	}
	r.orchestrator.RegisterAgent(NewMonitorAgent("monitor", r.bus, r.counters, r.logger))

	r.scheduler = NewGoalScheduler(r.orchestrator,
		SchedulerBus(r.bus),
		SchedulerLogger(r.logger))

	sessions, err := NewSessionStore(r.sessionDir, SessionLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.sessions = sessions

	checkpointOpts := []CheckpointOption{CheckpointLogger(r.logger)}
	if r.checkpointDir != "" {
		checkpointOpts = append(checkpointOpts, CheckpointDir(r.checkpointDir))
	}
	checkpoints, err := NewCheckpointManager(checkpointOpts...)
	if err != nil {
		return nil, err
	}
	r.checkpoints = checkpoints

	if r.sink != nil {
		r.emitter = NewEmitter(r.sink, "")
	}

	diff := NewDiffEngine(r.root, DiffLogger(r.logger))
	intents := NewIntentRouter(provider, r.model, IntentLogger(r.logger))
	uxOpts := []UXOption{
		UXIntentRouter(intents),
		UXBus(r.bus),
		UXPolicy(r.policy),
		UXLogger(r.logger),
	}
	if r.emitter != nil {
		uxOpts = append(uxOpts, UXEmitter(r.emitter))
	}
	if r.fileLoader != nil {
		uxOpts = append(uxOpts, UXFileLoader(r.fileLoader))
	}
	r.ux = NewUX(r.planner, diff, r.checkpoints, r.executor, uxOpts...)

	return r, nil
}

// Start starts the agent pool. Call before ExecuteGoal or the scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	return r.orchestrator.Start(ctx)
}

// Stop stops the agents and drains in-flight bus deliveries.
func (r *Runtime) Stop() error {
	return r.orchestrator.Stop()
}

// ExecuteGoal runs one goal through the orchestrator.
func (r *Runtime) ExecuteGoal(ctx context.Context, goal, sessionID string, opts ...GoalOption) GoalResult {
	return r.orchestrator.ExecuteGoal(ctx, goal, sessionID, opts...)
}

// Router returns the provider router.
func (r *Runtime) Router() *Router { return r.router }

// Bus returns the shared event bus.
func (r *Runtime) Bus() *EventBus { return r.bus }

// Tools returns the tool registry.
func (r *Runtime) Tools() *ToolRegistry { return r.registry }

// Memory returns the adaptive memory, or nil when no vector store is
// configured.
func (r *Runtime) Memory() *AdaptiveMemory { return r.memory }

// Fusion returns the context fusion engine, or nil without memory.
func (r *Runtime) Fusion() *ContextFusion { return r.fusion }

// Health returns the context health monitor.
func (r *Runtime) Health() *HealthMonitor { return r.health }

// UX returns the interactive flow state machine.
func (r *Runtime) UX() *UX { return r.ux }

// Sessions returns the session store.
func (r *Runtime) Sessions() *SessionStore { return r.sessions }

// Checkpoints returns the checkpoint manager.
func (r *Runtime) Checkpoints() *CheckpointManager { return r.checkpoints }

// Scheduler returns the goal scheduler.
func (r *Runtime) Scheduler() *GoalScheduler { return r.scheduler }

// Counters returns the runtime event counters.
func (r *Runtime) Counters() *CounterSet { return r.counters }

// Policy returns the security policy.
func (r *Runtime) Policy() *Policy { return r.policy }
