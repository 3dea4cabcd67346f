package skill

import (
	"errors"
	"fmt"
)

var (
	// ErrCanceled is returned by the executor when the caller's context ends
	// before the handler finishes.
	ErrCanceled = errors.New("skill execution canceled")

	// ErrNoHandler means a descriptor names an action nothing is bound to.
	ErrNoHandler = errors.New("no handler bound for action")
)

// LoadError records a descriptor file that was skipped during a load.
type LoadError struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.File, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

func newLoadError(file string, err error) LoadError {
	return LoadError{File: file, Reason: err.Error(), Err: err}
}

// ValidationError reports parameters that do not satisfy a descriptor.
// The handler is never invoked when validation fails.
type ValidationError struct {
	Skill  string
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("skill %s: parameter %q: %s", e.Skill, e.Param, e.Reason)
}

// ExecutionError wraps a handler fault or timeout. Cause is for logs only.
type ExecutionError struct {
	Skill   string
	Timeout bool
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("skill %s timed out", e.Skill)
	}
	return fmt.Sprintf("skill %s failed: %v", e.Skill, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
