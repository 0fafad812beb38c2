package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when the account already has a
	// live run. It is an expected condition, not a failure.
	ErrAlreadyRunning = errors.New("run already in progress")
	// ErrUnknownAccount is returned by Start for a name not in the store.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("supervisor closed")
)

// SessionError wraps a failure reported by the session runner.
type SessionError struct {
	Account string
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session for %s failed: %v", e.Account, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
