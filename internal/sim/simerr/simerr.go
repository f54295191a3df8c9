// Package simerr holds the typed errors surfaced by the turn engine.
package simerr

import (
	"errors"
	"fmt"

	"bastion.ai/internal/protocol"
)

// ErrTurnInFlight is returned when a second turn is started against a state
// that already has one running.
var ErrTurnInFlight = errors.New("turn already in flight for this state")

// ErrCampaignEnded is returned when a turn is requested after the finale.
var ErrCampaignEnded = errors.New("campaign has ended")

// ValidationError reports a malformed snapshot or story definition. It always
// aborts the turn before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return protocol.ErrValidation }

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CollaboratorError wraps a failed or timed out call to an external
// content-generation collaborator.
type CollaboratorError struct {
	Collaborator string
	Timeout      bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("collaborator %s: timed out", e.Collaborator)
	}
	return fmt.Sprintf("collaborator %s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func (e *CollaboratorError) Code() string {
	if e.Timeout {
		return protocol.ErrTimeout
	}
	return protocol.ErrCollaborator
}

// ActionExecutionError is recorded against a single safe-function call.
type ActionExecutionError struct {
	Function string
	Unknown  bool
	Err      error
}

func (e *ActionExecutionError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("action %s: unknown safe function", e.Function)
	}
	return fmt.Sprintf("action %s: %v", e.Function, e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

func (e *ActionExecutionError) Code() string {
	if e.Unknown {
		return protocol.ErrUnknownAction
	}
	return protocol.ErrActionExec
}

// TraceWriteError is logged and swallowed by the orchestrator.
type TraceWriteError struct {
	Sink string
	Err  error
}

func (e *TraceWriteError) Error() string {
	return fmt.Sprintf("trace %s: %v", e.Sink, e.Err)
}

func (e *TraceWriteError) Unwrap() error { return e.Err }

func (e *TraceWriteError) Code() string { return protocol.ErrTraceWrite }

// CodeOf maps any error to a protocol error code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, ErrTurnInFlight):
		return protocol.ErrCampaignBusy
	case errors.Is(err, ErrCampaignEnded):
		return protocol.ErrCampaignEnded
	}
	return protocol.ErrInternal
}
