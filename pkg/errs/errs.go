// Package errs provides the error taxonomy used across the sequencer core:
// fatal, device-level, protocol, and user-observable errors, generalized
// from the FILLY virtual machine's RuntimeError/ErrorType pattern.
package errs

import (
	"fmt"
	"log/slog"
)

// Kind classifies a sequencer error for recovery purposes.
type Kind string

const (
	// Fatal errors abort the process after logging: pool exhaustion,
	// invariant violations, clock read failure.
	Fatal Kind = "FATAL"

	// Device errors mark a single device failed and continue running
	// the rest of the system: read/write error, parser desync, EOF.
	Device Kind = "DEVICE"

	// Protocol errors are soft and local to one subsystem: sensing
	// timeout, unexpected tick/start while stopped.
	Protocol Kind = "PROTOCOL"

	// UserObservable errors are logged as warnings and never abort:
	// bogus frames, unterminated frames at shutdown.
	UserObservable Kind = "USER_OBSERVABLE"
)

// SeqError is the error type returned by every core component.
type SeqError struct {
	Kind      Kind
	Component string // e.g. "transport", "device[2]", "pool(seqev)"
	Message   string
	Err       error // wrapped cause, may be nil
}

func (e *SeqError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Component, e.Message)
}

func (e *SeqError) Unwrap() error { return e.Err }

// IsFatal reports whether execution must stop.
func (e *SeqError) IsFatal() bool { return e.Kind == Fatal }

// New builds a SeqError.
func New(kind Kind, component, message string) *SeqError {
	return &SeqError{Kind: kind, Component: component, Message: message}
}

// Wrap builds a SeqError carrying an underlying cause.
func Wrap(kind Kind, component, message string, err error) *SeqError {
	return &SeqError{Kind: kind, Component: component, Message: message, Err: err}
}

// Abort is the single path for fatal errors: it logs at error level and
// panics. Callers that hold device resources should release sensing
// state (turn off outbound active-sensing, mark devices inert) before
// calling Abort; Abort itself does not reach into device state.
func Abort(logger *slog.Logger, err *SeqError) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("fatal error, aborting", "component", err.Component, "message", err.Message, "cause", err.Err)
	panic(err)
}
