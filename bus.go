package superagent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType names one kind of coordination event.
type EventType string

// Coordination event types published on the bus.
const (
	EventPlanRequested   EventType = "PLAN_REQUESTED"
	EventPlanReady       EventType = "PLAN_READY"
	EventPlanCompleted   EventType = "PLAN_COMPLETED"
	EventPlanFailed      EventType = "PLAN_FAILED"
	EventReplanRequested EventType = "REPLAN_REQUESTED"
	EventStepRequested   EventType = "STEP_REQUESTED"
	EventStepStarted     EventType = "STEP_STARTED"
	EventStepCompleted   EventType = "STEP_COMPLETED"
	EventStepFailed      EventType = "STEP_FAILED"
	EventContextRequest  EventType = "CONTEXT_REQUEST"
	EventContextReady    EventType = "CONTEXT_READY"
	EventUXStateChanged  EventType = "ux.state_changed"
)

// Event is one message on the coordination bus. Events are immutable after
// publication; CorrelationID ties together everything produced while
// processing one goal.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventHandler consumes one event. Returned errors are logged, never
// propagated to the publisher.
type EventHandler func(ctx context.Context, ev Event) error

type correlationKey struct{}

// WithCorrelationID tags ctx with the correlation ID of the goal being
// processed, for publishers that run outside an event handler.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFromContext returns the correlation ID carried by ctx, or "".
func CorrelationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// historyLimit caps the bus's retained event history; the oldest events are
// dropped first.
const historyLimit = 1000

// defaultHistoryQuery is the result cap when a History query gives no limit.
const defaultHistoryQuery = 100

// subscription is one named handler attached to an event type.
type subscription struct {
	name    string
	handler EventHandler
}

// EventBus is an in-process publish/subscribe bus with bounded history.
// Handlers run concurrently, but Publish returns only after every handler
// has finished, so events from one publisher are observed in publication
// order. Safe for concurrent use.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[EventType][]subscription
	wildcard []subscription
	history  []Event
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// EventBusOption configures an EventBus.
type EventBusOption func(*EventBus)

// WithBusLogger sets the structured logger for subscriber failures.
func WithBusLogger(l *slog.Logger) EventBusOption {
	return func(b *EventBus) { b.logger = l }
}

// NewEventBus creates an empty bus.
func NewEventBus(opts ...EventBusOption) *EventBus {
	b := &EventBus{subs: make(map[EventType][]subscription)}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = nopLogger
	}
	return b
}

// Subscribe attaches a named handler to one event type. Subscribing the same
// name to the same type twice replaces the handler; a subscriber never
// receives one event twice.
func (b *EventBus) Subscribe(t EventType, name string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs[t] {
		if s.name == name {
			b.subs[t][i].handler = h
			return
		}
	}
	b.subs[t] = append(b.subs[t], subscription{name: name, handler: h})
}

// SubscribeAll attaches a named handler to every event type, including types
// introduced after the call.
func (b *EventBus) SubscribeAll(name string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.wildcard {
		if s.name == name {
			b.wildcard[i].handler = h
			return
		}
	}
	b.wildcard = append(b.wildcard, subscription{name: name, handler: h})
}

// UnsubscribeAll detaches a wildcard handler.
func (b *EventBus) UnsubscribeAll(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.wildcard {
		if s.name == name {
			b.wildcard = append(b.wildcard[:i:i], b.wildcard[i+1:]...)
			return
		}
	}
}

// Unsubscribe detaches a named handler from one event type.
func (b *EventBus) Unsubscribe(t EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.name == name {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish records ev in history, fans it out to subscribers, and returns
// once every handler has completed. A zero ID or timestamp is filled in.
// Handlers run concurrently; their errors and panics are logged and
// contained.
func (b *EventBus) Publish(ctx context.Context, ev Event) Event {
	if ev.ID == "" {
		ev.ID = NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	targets := make([]subscription, 0, len(b.subs[ev.Type])+len(b.wildcard))
	targets = append(targets, b.subs[ev.Type]...)
	targets = append(targets, b.wildcard...)
	b.mu.Unlock()

	var delivered sync.WaitGroup
	for _, s := range targets {
		s := s
		b.wg.Add(1)
		delivered.Add(1)
		go func() {
			defer b.wg.Done()
			defer delivered.Done()
			defer func() {
				if rec := recover(); rec != nil {
					b.logger.Error("subscriber panicked",
						"subscriber", s.name,
						"event_type", ev.Type,
						"panic", rec)
				}
			}()
			if err := s.handler(ctx, ev); err != nil {
				b.logger.Error("subscriber failed",
					"subscriber", s.name,
					"event_type", ev.Type,
					"error", err)
			}
		}()
	}
	delivered.Wait()
	return ev
}

// Drain blocks until every in-flight delivery has finished. Meant for
// shutdown and tests; publishing while draining extends the wait.
func (b *EventBus) Drain() { b.wg.Wait() }

// HistoryQuery filters the bus history. Zero fields match everything;
// Limit 0 means 100.
type HistoryQuery struct {
	Type          EventType
	CorrelationID string
	Limit         int
}

// History returns the most recent matching events in arrival order.
func (b *EventBus) History(q HistoryQuery) []Event {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryQuery
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.history {
		if q.Type != "" && ev.Type != q.Type {
			continue
		}
		if q.CorrelationID != "" && ev.CorrelationID != q.CorrelationID {
			continue
		}
		out = append(out, ev)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// WaitFor subscribes for the first event of any of the given types carrying
// correlationID and returns it. The subscription is removed before
// returning. Returns ctx.Err() on cancellation or deadline.
func (b *EventBus) WaitFor(ctx context.Context, correlationID string, types ...EventType) (Event, error) {
	ch := make(chan Event, 1)
	name := "wait_" + NewID()
	handler := func(_ context.Context, ev Event) error {
		if ev.CorrelationID != correlationID {
			return nil
		}
		select {
		case ch <- ev:
		default:
		}
		return nil
	}
	for _, t := range types {
		b.Subscribe(t, name, handler)
	}
	defer func() {
		for _, t := range types {
			b.Unsubscribe(t, name)
		}
	}()

	// An event published before the subscription attached is only in history.
	for _, t := range types {
		if evs := b.History(HistoryQuery{Type: t, CorrelationID: correlationID, Limit: 1}); len(evs) > 0 {
			return evs[0], nil
		}
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
