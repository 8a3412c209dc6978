package executor

import (
	"errors"
	"fmt"
)

var (
	ErrStopped   = errors.New("executor stopped")
	ErrStopping  = errors.New("executor stopping")
	ErrQueueFull = errors.New("executor queue full")

	// ErrValidation marks malformed or unsafe task input. Tasks failing
	// validation never reach Running.
	ErrValidation = errors.New("task validation failed")

	// ErrTimeout marks an execution that exceeded its bound. Timeouts are
	// transient: the attempt is retried while budget remains.
	ErrTimeout = errors.New("execution timed out")

	// ErrRetryExhausted marks a terminal failure after the retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")
)

// NoRetry marks an error as non-retryable.
//
// Runners can wrap validation errors or other permanent failures with
// NoRetry so the executor won't waste attempts on them.
//
// Example:
//
//	return executor.NoRetry(fmt.Errorf("bad input: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }
