package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound is returned by stores when an entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransientBus marks bus failures worth retrying.
	ErrTransientBus = errors.New("transient bus error")

	// ErrDegradedSync is returned by the publisher when every attempt failed.
	// The local write stays committed; derived state catches up later.
	ErrDegradedSync = errors.New("event not published, sync delayed")

	// ErrCacheUnavailable wraps cache backend failures. Callers fall through
	// to the primary store.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrCycle is returned when a category would become its own ancestor.
	ErrCycle = errors.New("category hierarchy contains a cycle")

	// ErrForbidden is returned when the caller does not own the entity.
	ErrForbidden = errors.New("forbidden")
)

// PoisonEventError describes an event that could not be applied after every
// retry and was moved to the dead-letter queue.
type PoisonEventError struct {
	EventID  string
	Topic    string
	Type     string
	Attempts int
	Err      error
}

func (e *PoisonEventError) Error() string {
	return fmt.Sprintf("poison event %s (%s/%s) after %d attempts: %v", e.EventID, e.Topic, e.Type, e.Attempts, e.Err)
}

func (e *PoisonEventError) Unwrap() error { return e.Err }
