package domain

import "fmt"

// ExecutionNotFoundError is returned when an execution ID does not exist.
type ExecutionNotFoundError struct {
	ExecutionID string
}

func (e *ExecutionNotFoundError) Error() string {
	return fmt.Sprintf("execution not found: %s", e.ExecutionID)
}

// ActionNotFoundError is returned when an output action ID does not exist.
type ActionNotFoundError struct {
	ActionID string
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("output action not found: %s", e.ActionID)
}

// ExecutionAlreadyFailedError is returned when a transition is attempted on a failed execution.
type ExecutionAlreadyFailedError struct {
	ExecutionID string
}

func (e *ExecutionAlreadyFailedError) Error() string {
	return fmt.Sprintf("execution %s already failed", e.ExecutionID)
}

// PhaseRegressionError is returned when a phase change would move an execution backwards.
type PhaseRegressionError struct {
	ExecutionID string
	From        Phase
	To          Phase
}

func (e *PhaseRegressionError) Error() string {
	return fmt.Sprintf("execution %s cannot move from phase %s back to %s", e.ExecutionID, e.From, e.To)
}

// UnknownPhaseError is returned for a phase outside the closed set.
type UnknownPhaseError struct {
	Phase string
}

func (e *UnknownPhaseError) Error() string {
	return fmt.Sprintf("unknown execution phase %q", e.Phase)
}

// ProviderNotFoundError is returned when no provider is registered under a name.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("no output action provider registered for %q", e.Provider)
}

// InvalidActionConfigError is returned when an action's configuration cannot be used.
type InvalidActionConfigError struct {
	ActionID string
	Reason   string
}

func (e *InvalidActionConfigError) Error() string {
	return fmt.Sprintf("invalid config for output action %s: %s", e.ActionID, e.Reason)
}

// PayloadTooLargeError is returned when a broadcast exceeds the transport hard limit.
type PayloadTooLargeError struct {
	Channel string
	Size    int
	Limit   int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("broadcast on %s is %d bytes, limit is %d", e.Channel, e.Size, e.Limit)
}

// InvalidJobKindError is returned when no handler is registered for a job kind.
type InvalidJobKindError struct {
	Kind string
}

func (e *InvalidJobKindError) Error() string {
	return fmt.Sprintf("no handler registered for job kind %q", e.Kind)
}

// HandlerPanicError is returned in place of a panic raised by a job handler.
type HandlerPanicError struct {
	Kind  string
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler for job kind %q panicked: %v", e.Kind, e.Value)
}
