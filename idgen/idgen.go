// Package idgen provides pluggable ID generation for the overlay services.
//
// String identifiers (commit batches, pages) come from a Generator;
// correlation keys that must sort in discovery order come from a Sequence.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable and globally unique.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
// Useful for type-scoped identifiers (e.g. "cb_", "page_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the ecosystem default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Parse validates a UUID string and returns it or an error.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid UUID: %w", err)
	}
	return u.String(), nil
}

// Sequence hands out strictly increasing integers starting at 1.
// The zero value is ready to use and safe for concurrent callers.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next value. The first call returns 1.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Last returns the most recently issued value, or 0 if none.
func (s *Sequence) Last() uint64 {
	return s.n.Load()
}
