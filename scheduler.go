package superagent

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ScheduleType controls how a goal recurs.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
)

// ScheduledGoal is one recurring goal submission.
type ScheduledGoal struct {
	ID       string
	Goal     string
	Type     ScheduleType
	Interval time.Duration // interval schedules only
	Jitter   time.Duration // random delay added per run, 0 disables
	MaxRuns  int           // 0 means unlimited
	NextRun  time.Time
	Enabled  bool
	Runs     int
}

// GoalRunHook is called after each scheduled run, success or failure. Use
// it to route results without coupling the scheduler to a destination.
type GoalRunHook func(goal ScheduledGoal, result GoalResult)

// GoalScheduler polls its schedule table and submits due goals through the
// orchestrator, each run under a fresh session and correlation ID. Results
// land on the hook and the bus.
type GoalScheduler struct {
	orchestrator *Orchestrator
	bus          *EventBus
	interval     time.Duration
	onRun        GoalRunHook
	logger       *slog.Logger

	mu    sync.Mutex
	goals map[string]*ScheduledGoal
}

// GoalSchedulerOption configures a GoalScheduler.
type GoalSchedulerOption func(*GoalScheduler)

// SchedulerPollInterval sets the polling interval (default: 1s).
func SchedulerPollInterval(d time.Duration) GoalSchedulerOption {
	return func(s *GoalScheduler) { s.interval = d }
}

// SchedulerOnRun registers the per-run hook.
func SchedulerOnRun(hook GoalRunHook) GoalSchedulerOption {
	return func(s *GoalScheduler) { s.onRun = hook }
}

// SchedulerBus attaches a bus that receives PLAN_REQUESTED traffic context.
func SchedulerBus(bus *EventBus) GoalSchedulerOption {
	return func(s *GoalScheduler) { s.bus = bus }
}

// SchedulerLogger sets the structured logger.
func SchedulerLogger(l *slog.Logger) GoalSchedulerOption {
	return func(s *GoalScheduler) { s.logger = l }
}

// NewGoalScheduler creates a scheduler submitting through orchestrator.
func NewGoalScheduler(orchestrator *Orchestrator, opts ...GoalSchedulerOption) *GoalScheduler {
	s := &GoalScheduler{
		orchestrator: orchestrator,
		interval:     time.Second,
		goals:        make(map[string]*ScheduledGoal),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// Every schedules goal at a fixed interval and returns its ID. maxRuns 0
// means unlimited; jitter adds a random delay up to the given duration to
// each run.
func (s *GoalScheduler) Every(interval time.Duration, goal string, jitter time.Duration, maxRuns int) string {
	g := &ScheduledGoal{
		ID:       NewID(),
		Goal:     goal,
		Type:     ScheduleInterval,
		Interval: interval,
		Jitter:   jitter,
		MaxRuns:  maxRuns,
		NextRun:  time.Now().Add(interval),
		Enabled:  true,
	}
	s.add(g)
	return g.ID
}

// Once schedules goal for a single run at t.
func (s *GoalScheduler) Once(t time.Time, goal string) string {
	g := &ScheduledGoal{
		ID:      NewID(),
		Goal:    goal,
		Type:    ScheduleOnce,
		NextRun: t,
		Enabled: true,
	}
	s.add(g)
	return g.ID
}

func (s *GoalScheduler) add(g *ScheduledGoal) {
	s.mu.Lock()
	s.goals[g.ID] = g
	s.mu.Unlock()
	s.logger.Info("schedule added", "schedule_id", g.ID, "type", g.Type, "goal", truncateStr(g.Goal, 120))
}

// Remove deletes a schedule by ID.
func (s *GoalScheduler) Remove(id string) {
	s.mu.Lock()
	delete(s.goals, id)
	s.mu.Unlock()
}

// Schedules returns a snapshot of every schedule.
func (s *GoalScheduler) Schedules() []ScheduledGoal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledGoal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, *g)
	}
	return out
}

// Start begins the polling loop. Blocks until ctx is cancelled; returns nil
// on clean shutdown.
func (s *GoalScheduler) Start(ctx context.Context) error {
	s.logger.Info("goal scheduler started", "poll_interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("goal scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs every due goal sequentially.
func (s *GoalScheduler) tick(ctx context.Context) {
	now := time.Now()
	for _, g := range s.due(now) {
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, g)
	}
}

// due advances NextRun for each due goal before returning it, so a slow run
// cannot re-fire.
func (s *GoalScheduler) due(now time.Time) []*ScheduledGoal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ScheduledGoal
	for _, g := range s.goals {
		if !g.Enabled || now.Before(g.NextRun) {
			continue
		}
		out = append(out, g)
		switch g.Type {
		case ScheduleOnce:
			g.Enabled = false
		case ScheduleInterval:
			g.NextRun = now.Add(g.Interval)
		case ScheduleDaily:
			g.NextRun = now.Add(24 * time.Hour)
		case ScheduleWeekly:
			g.NextRun = now.Add(7 * 24 * time.Hour)
		}
	}
	return out
}

func (s *GoalScheduler) run(ctx context.Context, g *ScheduledGoal) {
	if g.Jitter > 0 {
		delay := time.Duration(rand.Int63n(int64(g.Jitter)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	// Each run is a fresh session.
	sessionID := NewID()
	result := s.orchestrator.ExecuteGoal(ctx, g.Goal, sessionID)

	s.mu.Lock()
	g.Runs++
	if g.MaxRuns > 0 && g.Runs >= g.MaxRuns {
		g.Enabled = false
	}
	s.mu.Unlock()

	s.logger.Info("scheduled goal ran",
		"schedule_id", g.ID,
		"status", result.Status,
		"runs", g.Runs)
	if s.bus != nil {
		s.bus.Publish(ctx, Event{
			Type:          "SCHEDULE_COMPLETED",
			Source:        "scheduler",
			CorrelationID: result.CorrelationID,
			Payload: map[string]any{
				"schedule_id": g.ID,
				"status":      result.Status,
			},
		})
	}
	if s.onRun != nil {
		s.onRun(*g, result)
	}
}
