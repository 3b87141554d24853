// Package errors defines the tenant routing and job failure taxonomy
// shared across services, and the HTTP mapping for the API surface.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for tenant resolution and gateway discipline.
var (
	// ErrUnknownTenant is returned when no partition resolves for a routing key
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrTenantSuspended is returned when the resolved partition is not active
	ErrTenantSuspended = errors.New("tenant suspended")
	// ErrDuplicateRoutingKey is returned when a routing key is already registered
	ErrDuplicateRoutingKey = errors.New("duplicate routing key")
	// ErrContextAlreadyActive is returned on nested scope establishment.
	// This is a programming error and aborts the unit of work.
	ErrContextAlreadyActive = errors.New("tenant context already active")
	// ErrNoActiveContext is returned when data access is attempted outside
	// an established scope. There is no default partition to fall back to.
	ErrNoActiveContext = errors.New("no active tenant context")
	// ErrTenantNoLongerActive is returned at dequeue time when the target
	// partition was suspended or decommissioned after enqueue
	ErrTenantNoLongerActive = errors.New("tenant no longer active")
	// ErrPartitionDecommissioned is returned on status transitions out of
	// the terminal decommissioned state
	ErrPartitionDecommissioned = errors.New("partition is decommissioned")
)

// TransientError wraps a failure that is worth retrying with backoff
// (timeouts, lock contention, unreachable dependencies).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Is, As and New re-exports so callers don't need both error packages.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
func New(text string) error         { return errors.New(text) }
