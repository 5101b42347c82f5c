package superagent

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Protocol event names, one namespace per concern.
const (
	ProtoSessionStarted      = "session.started"
	ProtoSessionRestored     = "session.restored"
	ProtoSessionCheckpointed = "session.checkpointed"

	ProtoPlanCreated      = "plan.created"
	ProtoPlanStepStarted  = "plan.step_started"
	ProtoPlanStepFinished = "plan.step_finished"

	ProtoToolRequested = "tool.requested"
	ProtoToolApproved  = "tool.approved"
	ProtoToolRejected  = "tool.rejected"
	ProtoToolResult    = "tool.result"

	ProtoDiffPreview        = "diff.preview"
	ProtoDiffApplied        = "diff.applied"
	ProtoDiffPartialApplied = "diff.partial_applied"
	ProtoDiffRollback       = "diff.rollback"

	ProtoErrorUser   = "error.user"
	ProtoErrorSystem = "error.system"
	ProtoErrorTool   = "error.tool"

	ProtoMetricsTick = "metrics.tick"
	ProtoUserCancel  = "user.cancel"
)

// ProtocolEvent is one NDJSON line: the base envelope plus event-specific
// fields. Fields merge flat into the emitted object; a field named like a
// base key is dropped.
type ProtocolEvent struct {
	Event         string
	SessionID     string
	RequestID     string
	CorrelationID string
	Fields        map[string]any
}

// EventSink receives protocol events. Implementations must be safe for
// concurrent use.
type EventSink interface {
	Emit(ev ProtocolEvent) error
}

// baseEventKeys may not be overridden by per-event fields.
var baseEventKeys = map[string]bool{
	"event":          true,
	"ts":             true,
	"session_id":     true,
	"request_id":     true,
	"correlation_id": true,
}

// NDJSONSink writes one JSON object per line to a writer, redacting every
// string before it leaves the process. Safe for concurrent use.
type NDJSONSink struct {
	mu       sync.Mutex
	w        io.Writer
	redactor *Redactor
	now      func() time.Time
}

// NDJSONSinkOption configures an NDJSONSink.
type NDJSONSinkOption func(*NDJSONSink)

// SinkRedactor replaces the default redactor.
func SinkRedactor(r *Redactor) NDJSONSinkOption {
	return func(s *NDJSONSink) { s.redactor = r }
}

// SinkClock overrides the timestamp source.
func SinkClock(now func() time.Time) NDJSONSinkOption {
	return func(s *NDJSONSink) { s.now = now }
}

// NewNDJSONSink creates a sink writing to w.
func NewNDJSONSink(w io.Writer, opts ...NDJSONSinkOption) *NDJSONSink {
	s := &NDJSONSink{w: w}
	for _, opt := range opts {
		opt(s)
	}
	if s.redactor == nil {
		s.redactor = NewRedactor()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Emit writes the event as one newline-terminated JSON object. Embedded
// newlines cannot occur: encoding/json escapes them inside strings.
func (s *NDJSONSink) Emit(ev ProtocolEvent) error {
	if ev.Event == "" {
		return &ValidationError{Field: "event", Message: "event name is required"}
	}
	obj := map[string]any{
		"event":      ev.Event,
		"ts":         s.now().UTC().Format(time.RFC3339),
		"session_id": s.redactor.Redact(ev.SessionID),
		"request_id": ev.RequestID,
	}
	if obj["request_id"] == "" {
		obj["request_id"] = NewID()
	}
	if ev.CorrelationID != "" {
		obj["correlation_id"] = ev.CorrelationID
	}
	for k, v := range s.redactor.RedactMap(ev.Fields) {
		if baseEventKeys[k] {
			continue
		}
		obj[k] = v
	}

	line, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode protocol event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write protocol event: %w", err)
	}
	return nil
}

// CaptureSink records events in memory for tests.
type CaptureSink struct {
	mu     sync.Mutex
	events []ProtocolEvent
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink { return &CaptureSink{} }

func (s *CaptureSink) Emit(ev ProtocolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *CaptureSink) Events() []ProtocolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ProtocolEvent(nil), s.events...)
}

// ByType returns captured events with the given name.
func (s *CaptureSink) ByType(event string) []ProtocolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProtocolEvent
	for _, ev := range s.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

// Emitter binds a sink to one session so call sites only carry the
// event-specific fields. A nil Emitter drops everything.
type Emitter struct {
	sink      EventSink
	sessionID string
}

// NewEmitter creates an emitter for sessionID.
func NewEmitter(sink EventSink, sessionID string) *Emitter {
	return &Emitter{sink: sink, sessionID: sessionID}
}

// Emit sends one event. Errors from the sink are swallowed: the protocol
// stream must never fail the operation it narrates.
func (e *Emitter) Emit(event, correlationID string, fields map[string]any) {
	if e == nil || e.sink == nil {
		return
	}
	_ = e.sink.Emit(ProtocolEvent{
		Event:         event,
		SessionID:     e.sessionID,
		CorrelationID: correlationID,
		Fields:        fields,
	})
}

// EmitError classifies err into the protocol error namespace and emits it.
func (e *Emitter) EmitError(correlationID string, err error, recoverable bool) {
	if err == nil {
		return
	}
	kind := ErrorKind(err)
	event := ProtoErrorSystem
	switch kind {
	case KindValidation, KindPermissionDenied, KindCancelledByUser:
		event = ProtoErrorUser
	case KindToolNotFound, KindToolValidation, KindToolTimeout, KindToolExecutionFailed:
		event = ProtoErrorTool
	}
	e.Emit(event, correlationID, map[string]any{
		"error_type":    kind,
		"error_message": err.Error(),
		"recoverable":   recoverable,
	})
}

// ParseProtocolLine decodes one NDJSON line back into an event, mostly for
// tests and replay tooling.
func ParseProtocolLine(line string) (ProtocolEvent, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &obj); err != nil {
		return ProtocolEvent{}, fmt.Errorf("decode protocol line: %w", err)
	}
	ev := ProtocolEvent{Fields: make(map[string]any)}
	for k, v := range obj {
		switch k {
		case "event":
			ev.Event, _ = v.(string)
		case "session_id":
			ev.SessionID, _ = v.(string)
		case "request_id":
			ev.RequestID, _ = v.(string)
		case "correlation_id":
			ev.CorrelationID, _ = v.(string)
		case "ts":
		default:
			ev.Fields[k] = v
		}
	}
	if ev.Event == "" {
		return ProtocolEvent{}, &ValidationError{Field: "event", Message: "line has no event name"}
	}
	return ev, nil
}
