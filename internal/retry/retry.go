// Package retry runs an action until it succeeds or an attempt budget runs
// out.
package retry

import (
	"context"
	"errors"
	"runtime"
)

// FailureFunc is told about every failure that will be retried, along with
// the retries still left after this one.
type FailureFunc func(err error, remaining int)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately without reporting it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls action until it succeeds. After a failure with retries left the
// budget shrinks by one, onFailure is told, and the goroutine yields once
// before the next call. With maxRetries n the action runs at most n+1 times;
// the last failure is returned as is. Do adds no delay of its own.
func Do[T any](ctx context.Context, maxRetries int, action func(context.Context) (T, error), onFailure FailureFunc) (T, error) {
	remaining := maxRetries
	for {
		result, err := action(ctx)
		if err == nil {
			return result, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return result, perm.err
		}
		if remaining <= 0 {
			return result, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}

		remaining--
		if onFailure != nil {
			onFailure(err, remaining)
		}
		runtime.Gosched()
	}
}
