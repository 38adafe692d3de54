package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a document that breaks a board invariant.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a board or nested entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks a store failure.
	ErrPersistence = errors.New("persistence failure")
	// ErrBroadcastDelivery marks an event that could not be handed to a
	// connection. It is logged and never returned to a mutation caller.
	ErrBroadcastDelivery = errors.New("broadcast delivery failure")
)

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the kind of entity ("board", "group", "task", ...)
// and the id that was looked up.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find %s with id %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err == nil {
		return "persistence: " + e.Op
	}
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
