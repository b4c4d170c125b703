package session

import (
	"errors"
	"fmt"
)

var (
	// ErrResumeUnavailable means the stored token cannot restore the
	// session: there is none, it is corrupt, or the service refused it.
	ErrResumeUnavailable = errors.New("session resume unavailable")

	// ErrNonRecoverableDisconnect means the connection ended for a reason
	// other than a network failure, such as being kicked or stopped.
	ErrNonRecoverableDisconnect = errors.New("disconnected for a non-network reason")
)

// ExhaustedError is returned when every reconnect attempt failed. It unwraps
// to the last attempt's error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("reconnect gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}
