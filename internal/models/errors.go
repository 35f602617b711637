package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a normal lookup miss; callers fall through to the next tier.
	ErrNotFound = errors.New("not found")

	// ErrGenerationUnavailable covers failed completions and an exhausted call budget.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrBudgetExhausted is returned without a network call once a session's budget is spent.
	ErrBudgetExhausted = fmt.Errorf("%w: call budget exhausted", ErrGenerationUnavailable)

	// ErrMalformedPointList marks text that decodes to zero points.
	ErrMalformedPointList = errors.New("malformed point list")

	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")

	// ErrPointNotFound is returned for a bullet index outside the decoded list.
	ErrPointNotFound = errors.New("bullet not found")

	ErrInvalidPatch    = errors.New("invalid patch")
	ErrUnknownField    = errors.New("unknown field")
	ErrInvalidTicker   = errors.New("invalid ticker")
	ErrInvalidImage    = errors.New("invalid image")
	ErrImageFetch      = errors.New("image fetch failed")
	ErrInvalidViewer   = errors.New("invalid viewer id")
	ErrSessionNotFound = errors.New("session not found")
	ErrViewNotFound    = errors.New("report view not open")
)

// PersistenceError wraps a store failure with the operation and report key.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both ErrPersistence and the underlying cause to errors.Is.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// NewPersistenceError wraps err unless it is nil or already a NotFound miss.
func NewPersistenceError(op, key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}
