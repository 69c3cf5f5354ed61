package store

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrForbiddenSQL is returned by the read-only query surface before
	// executing a statement that is not a plain read.
	ErrForbiddenSQL = errors.New("store: forbidden SQL")

	// ErrCycle is returned when a parent link would make a session its own
	// ancestor.
	ErrCycle = errors.New("store: parent link would create a cycle")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)
