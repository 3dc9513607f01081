package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/tenancy/internal/store"
)

// Error taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound means the tenant (or a document it needs) does not exist.
	ErrNotFound = errors.New("tenant not found")

	// ErrDenied means the principal lacks membership or the required role.
	ErrDenied = errors.New("access denied")

	// ErrTransientStore wraps network and availability failures from the store.
	ErrTransientStore = errors.New("transient store error")

	// ErrInvariantViolation signals a state that should never occur, such as a
	// duplicate tenant id. It is logged as a bug signal.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrEventualConsistencyTimeout is returned when a just-written document
	// did not become readable within the configured backoff budget.
	ErrEventualConsistencyTimeout = errors.New("timed out waiting for write to become visible")

	// ErrSessionEnded is returned when the principal signed out while the
	// operation was in flight; its result was discarded.
	ErrSessionEnded = errors.New("session ended before the operation completed")

	// ErrInvalidArgument is returned for malformed input such as an empty name.
	ErrInvalidArgument = errors.New("invalid argument")
)

// AccessError describes a failed access check on a specific tenant.
type AccessError struct {
	Kind     error // ErrNotFound or ErrDenied
	TenantID string
	Reason   string
	Err      error // underlying store error, if any
}

func (e *AccessError) Error() string {
	msg := fmt.Sprintf("tenant %s: %v", e.TenantID, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccessError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns text suitable for showing to the user. It distinguishes
// "no access" from "no longer exists".
func (e *AccessError) Message() string {
	switch {
	case errors.Is(e.Kind, ErrNotFound):
		return "This company no longer exists."
	case errors.Is(e.Kind, ErrDenied):
		return "You don't have access to this company."
	default:
		return "This company is unavailable."
	}
}

func notFound(tenantID, reason string, err error) error {
	return &AccessError{Kind: ErrNotFound, TenantID: tenantID, Reason: reason, Err: err}
}

func denied(tenantID, reason string, err error) error {
	return &AccessError{Kind: ErrDenied, TenantID: tenantID, Reason: reason, Err: err}
}

// storeError translates a store error for an explicit user action so that
// availability failures are reported as ErrTransientStore.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isAbsent reports whether a read failure means "no row visible to this principal".
func isAbsent(err error) bool {
	return store.IsNotFound(err) || store.IsPermissionDenied(err)
}
