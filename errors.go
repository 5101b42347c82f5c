package superagent

import (
	"context"
	"errors"
	"fmt"
)

// Stable error kinds. These are the error_type strings carried by NDJSON
// error events and surfaced to callers.
const (
	KindConfigInvalid       = "ConfigInvalid"
	KindValidation          = "ValidationError"
	KindNoProviderForModel  = "NoProviderForModel"
	KindProviderError       = "ProviderError"
	KindAllProvidersFailed  = "AllProvidersFailed"
	KindToolNotFound        = "ToolNotFound"
	KindToolValidation      = "ToolValidation"
	KindToolTimeout         = "ToolTimeout"
	KindToolExecutionFailed = "ToolExecutionFailed"
	KindPermissionDenied    = "PermissionDenied"
	KindContextOverflow     = "ContextOverflow"
	KindCancelledByUser     = "CancelledByUser"
	KindSystemError         = "SystemError"
)

// ConfigError reports a configuration parsing or schema violation. Fatal at
// startup, never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationError reports a structurally invalid value at construction time.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NoProviderError reports that no registered provider serves a model.
type NoProviderError struct {
	Model string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider registered for model %q", e.Model)
}

// ProviderError is an adapter-side failure. Retryable errors trigger the
// router's fallback chain; non-retryable errors surface immediately.
type ProviderError struct {
	Provider  string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// HTTPError is a transport-level failure from a provider's HTTP API.
// RetryAfterSec is the parsed Retry-After header, 0 when absent.
type HTTPError struct {
	Status        int
	Body          string
	RetryAfterSec int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// AllProvidersFailedError means the router exhausted the fallback chain.
// Last carries the final underlying error.
type AllProvidersFailedError struct {
	Attempted []string
	Last      error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed, last error: %v", e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

// ToolNotFoundError means a call named a tool absent from the registry.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Tool)
}

// ToolValidationError means a call's parameters violated the tool's schema.
type ToolValidationError struct {
	Tool    string
	Message string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid parameters: %s", e.Tool, e.Message)
}

// ToolTimeoutError means a call exceeded its per-call deadline.
type ToolTimeoutError struct {
	Tool    string
	Seconds float64
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %q: Timeout after %gs", e.Tool, e.Seconds)
}

// ToolExecutionError means a tool ran and failed. CallID identifies the
// failed call within its transaction.
type ToolExecutionError struct {
	CallID string
	Tool   string
	Err    error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("Tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// PermissionError is an access-control denial (path, domain, or consent
// gate). Non-retryable.
type PermissionError struct {
	Op     string
	Target string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s: %s", e.Op, e.Target, e.Reason)
}

// ContextOverflowError means fused context cannot fit the token budget even
// after health remediation. Callers may continue best-effort.
type ContextOverflowError struct {
	TokenCount int
	TokenLimit int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: %d tokens exceeds limit %d", e.TokenCount, e.TokenLimit)
}

// CancelledError is a cooperative cancellation. Open transactions roll back
// before it surfaces.
type CancelledError struct {
	Op string
}

func (e *CancelledError) Error() string {
	if e.Op == "" {
		return "cancelled by user"
	}
	return "cancelled by user: " + e.Op
}

// ErrorKind maps an error to its stable kind string. Unknown errors report
// KindSystemError; context cancellation reports KindCancelledByUser.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case isKind[*ConfigError](err):
		return KindConfigInvalid
	case isKind[*ValidationError](err):
		return KindValidation
	case isKind[*NoProviderError](err):
		return KindNoProviderForModel
	case isKind[*AllProvidersFailedError](err):
		return KindAllProvidersFailed
	case isKind[*ProviderError](err), isKind[*HTTPError](err):
		return KindProviderError
	case isKind[*ToolNotFoundError](err):
		return KindToolNotFound
	case isKind[*ToolValidationError](err):
		return KindToolValidation
	case isKind[*ToolTimeoutError](err):
		return KindToolTimeout
	case isKind[*ToolExecutionError](err):
		return KindToolExecutionFailed
	case isKind[*PermissionError](err):
		return KindPermissionDenied
	case isKind[*ContextOverflowError](err):
		return KindContextOverflow
	case isKind[*CancelledError](err), errors.Is(err, context.Canceled):
		return KindCancelledByUser
	default:
		return KindSystemError
	}
}

// Retryable reports whether an error may succeed on another attempt:
// provider errors flagged retryable, HTTP 429 and 5xx, and deadline
// expiries. Validation, permission, and cancellation never retry.
func Retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == 429 || he.Status >= 500
	}
	var tt *ToolTimeoutError
	if errors.As(err, &tt) {
		return true
	}
	var te *ToolExecutionError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func isKind[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
