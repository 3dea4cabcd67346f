package skill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultExecutionTimeout bounds a single handler invocation.
const DefaultExecutionTimeout = 10 * time.Second

// Executor validates parameters and runs handlers under a time budget.
// It never retries.
type Executor struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor creates an executor. A non-positive timeout selects
// DefaultExecutionTimeout.
func NewExecutor(timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultExecutionTimeout
	}
	return &Executor{timeout: timeout, logger: logger}
}

// Timeout returns the per-invocation budget.
func (e *Executor) Timeout() time.Duration { return e.timeout }

type outcome struct {
	res *Result
	err error
}

// Execute runs rec's handler with params.
//
// A *ValidationError means the handler was not called. A *ExecutionError
// covers handler errors, panics and the executor's own timeout. When ctx
// ends first the error wraps ErrCanceled together with ctx.Err().
func (e *Executor) Execute(ctx context.Context, rec *Record, params Params) (*Result, error) {
	name := rec.Descriptor.Name
	if err := ValidateParams(rec.Descriptor, params); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := rec.Handler.Execute(execCtx, params)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		if out.err != nil {
			timedOut := execCtx.Err() != nil
			e.logger.Warn("skill handler failed",
				zap.String("skill", name), zap.Bool("timeout", timedOut), zap.Error(out.err))
			return nil, &ExecutionError{Skill: name, Timeout: timedOut, Cause: out.err}
		}
		if out.res == nil {
			out.res = &Result{}
		}
		return out.res, nil
	case <-execCtx.Done():
		if err := ctx.Err(); err != nil {
			e.logger.Debug("skill execution abandoned", zap.String("skill", name), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		e.logger.Warn("skill handler timed out",
			zap.String("skill", name), zap.Duration("timeout", e.timeout))
		return nil, &ExecutionError{Skill: name, Timeout: true, Cause: execCtx.Err()}
	}
}
