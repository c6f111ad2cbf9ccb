package agentloop

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by Submit after Close.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionBusy is returned by Submit while another turn is running.
	ErrSessionBusy = errors.New("session is busy with another turn")
)

// InvalidArgumentsError reports tool arguments that failed to decode or
// validate against the tool's argument struct.
type InvalidArgumentsError struct {
	Tool   string
	Reason string
	Cause  error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("%s: invalid arguments: %s", e.Tool, e.Reason)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Cause
}

// ModelStreamError reports a failed or incomplete model response. The user
// turn that triggered the request stays in the history.
type ModelStreamError struct {
	Model string
	Cause error
}

func (e *ModelStreamError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Cause)
}

func (e *ModelStreamError) Unwrap() error {
	return e.Cause
}

// IterationCapExceededError is returned by Submit when the model keeps
// requesting tools past the per-input round limit.
type IterationCapExceededError struct {
	Limit int
}

func (e *IterationCapExceededError) Error() string {
	return fmt.Sprintf("stopped after %d tool rounds without a final answer", e.Limit)
}
