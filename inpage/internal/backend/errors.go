package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Send after Close or before Open.
	ErrClosed = errors.New("backend: not open")
	// ErrAlreadyOpen is returned by a second Open.
	ErrAlreadyOpen = errors.New("backend: already open")
)

// ErrCircuitOpen is returned when the breaker for a backend is open,
// rejecting the call without attempting it.
type ErrCircuitOpen struct {
	Backend string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("backend: circuit open: %s", e.Backend)
}

// ErrStatus is returned when a remote endpoint answers with a non-2xx code.
type ErrStatus struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("backend: %s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

// Temporary reports whether retrying may help.
func (e *ErrStatus) Temporary() bool {
	return e.Code == 429 || e.Code >= 500
}

// ErrUnknownType is returned by a Registry for an unregistered backend type.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("backend: no factory for type %q", e.Type)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("backend: handler panicked: %v", e.Value)
}
