package broker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoResponders is returned by Request when nobody listens on the
	// subject.
	ErrNoResponders = errors.New("no responders on subject")

	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("broker connection closed")

	// ErrProxyClosed is the cause logged for items accepted after Close.
	ErrProxyClosed = errors.New("proxy closed")
)

// Error is a failed broker round trip.
type Error struct {
	// Subject the request was sent to.
	Subject string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("broker request to %q failed: %v", e.Subject, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// RemoteError is an error reported by the bridge in its acknowledgement.
// The batch reached the bridge, which has handled it as far as it could.
type RemoteError struct {
	Subject string
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge on %q reported: %s", e.Subject, e.Message)
}

// TimeoutError is a request that got no reply in time. The bridge may
// still have handled the batch.
type TimeoutError struct {
	Subject string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("broker request to %q timed out after %s", e.Subject, e.Timeout)
}
