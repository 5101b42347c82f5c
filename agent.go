package superagent

import (
	"context"
	"log/slog"
)

// Agent is an autonomous participant on the event bus. Start attaches its
// subscriptions; Stop detaches them. Agents communicate only through
// events, never by calling each other.
type Agent interface {
	// Name returns the agent's identifier, used as its bus subscription
	// name and its event Source.
	Name() string
	// Start attaches the agent's subscriptions.
	Start(ctx context.Context) error
	// Stop detaches them. Safe to call when not started.
	Stop() error
}

// baseAgent carries the fields every bus agent shares.
type baseAgent struct {
	name   string
	bus    *EventBus
	logger *slog.Logger
}

func newBaseAgent(name string, bus *EventBus, logger *slog.Logger) baseAgent {
	if logger == nil {
		logger = nopLogger
	}
	return baseAgent{name: name, bus: bus, logger: logger}
}

func (a *baseAgent) Name() string { return a.name }

// publish emits an event from this agent.
func (a *baseAgent) publish(ctx context.Context, t EventType, correlationID string, payload map[string]any) {
	a.bus.Publish(ctx, Event{
		Type:          t,
		Source:        a.name,
		CorrelationID: correlationID,
		Payload:       payload,
	})
}

// truncateStr shortens s to max runes, appending "..." when cut.
func truncateStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
