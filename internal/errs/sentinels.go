// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across store/service layers.
var (
	// ErrValidation indicates a missing required entity or argument.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an expected node or edge is absent.
	ErrNotFound = errors.New("not found")

	// ErrInvariant indicates a detected graph invariant violation
	// (e.g. multiple realms for one scope). Fatal during bootstrap.
	ErrInvariant = errors.New("invariant violation")
)

// StoreError wraps a transport or store failure for a single graph operation.
type StoreError struct {
	Op  string // operation name, e.g. "saveEdge"
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StoreError) Unwrap() error { return e.Err }

// Store wraps err as a StoreError unless it already is one or is nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// TimelineError marks an auxiliary timeline-indexing failure. It is logged
// by callers and never fails the parent operation.
type TimelineError struct {
	Err error
}

func (e *TimelineError) Error() string { return fmt.Sprintf("timeline: %v", e.Err) }

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *TimelineError) Unwrap() error { return e.Err }
