package dlq

import "fmt"

// Error is returned by dead-letter queue file operations.
type Error struct {
	Path      string // File or directory involved
	Operation string // "init", "write", "read", "decode", "prune"
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("dlq error [operation=%s, path=%s]: %v", e.Operation, e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(op, path string, cause error) *Error {
	return &Error{Path: path, Operation: op, Cause: cause}
}
