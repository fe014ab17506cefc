package transaction

import "errors"

var (
	// ErrNotBound is returned when chain state is accessed outside a chain
	// and the registry policy is PolicyError.
	ErrNotBound = errors.New("transaction context: not bound")

	// ErrClosed is returned when End or Failed is called on a Transaction
	// that already completed.
	ErrClosed = errors.New("transaction already closed")

	// ErrAlreadyCommenced is returned when Commence is called twice.
	ErrAlreadyCommenced = errors.New("transaction already commenced")
)
