// Package agenterror provides the core's error taxonomy: sentinel kinds for
// lifecycle violations (NoActiveContext, NestedContext, ContextClosed,
// InvariantViolation, StreamCancelled) plus ProducerError, a structured wrapper
// for exceptions raised by user producer functions. ProducerError preserves
// error chains and supports errors.Is/As so a producer's original error
// survives conversion into an error-Message or a terminal stream marker.
package agenterror

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is to test for these; never compare error
// strings directly.
var (
	// ErrNoActiveContext is returned by Agent.Trigger and Agent.InitiateCall
	// when their ctx carries no Runtime Context. Promise and StreamedPromise
	// construction does not check for one and never returns it.
	ErrNoActiveContext = errors.New("agentcore: no active runtime context")

	// ErrNestedContext is returned by Context.Activate when a context is
	// already active in the same task tree.
	ErrNestedContext = errors.New("agentcore: runtime context already active")

	// ErrContextClosed is returned when an operation needs an ACTIVE Runtime
	// Context and the one found is not: it has begun finalizing, or it was
	// never activated (or was deactivated).
	ErrContextClosed = errors.New("agentcore: runtime context is closed")

	// ErrInvariantViolation marks a broken core invariant: a Promise resolved
	// twice, a known-beforehand metadata mismatch, or mutation of a frozen
	// Message. Never masked by errors_as_messages.
	ErrInvariantViolation = errors.New("agentcore: invariant violation")

	// ErrStreamCancelled is the terminal marker observed by consumers of a
	// producer cancelled by Runtime Context teardown.
	ErrStreamCancelled = errors.New("agentcore: stream cancelled")
)

// ProducerError represents a structured failure raised by a user producer
// function (a Promise resolver, a StreamedPromise producer, or an Agent
// function body). Producer errors may nest via Cause to retain diagnostics
// across agent-as-tool composition.
type ProducerError struct {
	// Message is the human-readable summary of the failure.
	Message string
	// Cause is the underlying error, preserved as-is (not restringified) so
	// errors.Is/As can still reach a wrapped sentinel through Unwrap.
	Cause error
}

// NewProducerError constructs a ProducerError with the provided message. Use
// when the failure does not wrap an underlying error but still requires
// structured reporting.
func NewProducerError(message string) *ProducerError {
	if message == "" {
		message = "producer error"
	}
	return &ProducerError{Message: message}
}

// WrapProducerError constructs a ProducerError that wraps cause. cause is
// kept verbatim as Cause — never restringified into a new error — so
// errors.Is(result, cause) and errors.Is(result, some sentinel cause wraps)
// both still hold after the conversion.
func WrapProducerError(message string, cause error) *ProducerError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ProducerError{
		Message: message,
		Cause:   cause,
	}
}

// FromError converts an arbitrary error into a ProducerError. If err already
// is or wraps a ProducerError, that ProducerError is returned unchanged;
// otherwise err is wrapped verbatim as Cause so its identity survives for
// errors.Is/As.
func FromError(err error) *ProducerError {
	if err == nil {
		return nil
	}
	var pe *ProducerError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProducerError{
		Message: err.Error(),
		Cause:   err,
	}
}

// Errorf formats according to a format specifier and returns the result as a
// ProducerError with no wrapped cause. Because the result goes through
// fmt.Sprintf, a %w verb is not honored — use WrapProducerError (or Wrapf) to
// build an errors.Is/As-detectable chain around a sentinel.
func Errorf(format string, args ...any) *ProducerError {
	return NewProducerError(fmt.Sprintf(format, args...))
}

// Wrapf formats a message and wraps cause as its Cause, so the returned
// ProducerError is errors.Is/As-detectable against cause (and anything cause
// itself wraps).
func Wrapf(cause error, format string, args ...any) *ProducerError {
	return WrapProducerError(fmt.Sprintf(format, args...), cause)
}

// Error implements the error interface.
func (e *ProducerError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying producer error to support errors.Is/As.
func (e *ProducerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
