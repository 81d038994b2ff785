package appcore

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is returned on version conflict (optimistic locking).
	// The caller should reload and retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict detected")

	// ErrViewNotFound is returned by a ViewRepository for an unknown view id.
	ErrViewNotFound = errors.New("view not found")

	// ErrUnknownEventType is returned when a stored event type has no registered decoder.
	ErrUnknownEventType = errors.New("unknown event type")
)

// UserError is a business-rule violation raised by an aggregate's command handler.
type UserError string

func (e UserError) Error() string {
	return string(e)
}

// NewUserError creates a UserError
func NewUserError(message string) error {
	return UserError(message)
}

// CommandError reports a command rejected by an aggregate.
type CommandError struct {
	AggregateType string
	AggregateID   string
	Err           error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s rejected command: %v", e.AggregateType, e.AggregateID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// PersistenceError represents a failure of a store or a view repository.
type PersistenceError struct {
	Op          string
	AggregateID string
	Err         error
}

func (e *PersistenceError) Error() string {
	if e.AggregateID == "" {
		return fmt.Sprintf("persistence error on %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence error on %s for %s: %v", e.Op, e.AggregateID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a PersistenceError
func NewPersistenceError(op, aggregateID string, err error) error {
	return &PersistenceError{Op: op, AggregateID: aggregateID, Err: err}
}

// NewConflictError wraps ErrConcurrencyConflict with the expected and actual sequence.
func NewConflictError(aggregateID string, expected, actual int) error {
	return &PersistenceError{
		Op:          "commit",
		AggregateID: aggregateID,
		Err: fmt.Errorf("%w: expected sequence %d, found %d",
			ErrConcurrencyConflict, expected, actual),
	}
}

// IsConcurrencyConflict reports whether err is a retryable conflict.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// QueryError is handed to a query's error handler when a view could not be
// loaded or updated. Queries never return errors to the write path.
type QueryError struct {
	Query  string
	ViewID string
	Op     string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed to %s view %s: %v", e.Query, e.Op, e.ViewID, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
