package superagent

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewCorrelationID generates the identifier tying together every event
// produced while processing one goal.
func NewCorrelationID() string {
	return NewID()
}

// NewSessionID generates a session identifier.
func NewSessionID() string {
	return "session_" + NewID()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
