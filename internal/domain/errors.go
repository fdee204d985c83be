package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a uniqueness constraint was hit.
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnsupported is returned for operations outside an adapter's capability set.
	ErrUnsupported = errors.New("operation not supported by provider")
	// ErrUnhandledEvent marks a verified webhook with no canonical mapping.
	ErrUnhandledEvent = errors.New("unhandled webhook event")
	// ErrIllegalTransition rejects a checkout status change outside the state machine.
	ErrIllegalTransition = errors.New("illegal checkout transition")
)

// ConfigurationError means a tenant's provider cannot be constructed.
type ConfigurationError struct {
	TenantID string
	Reason   string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error for tenant %s: %s: %v", e.TenantID, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error for tenant %s: %s", e.TenantID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ValidationError reports malformed input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderTransientError wraps network failures, timeouts and 5xx responses.
type ProviderTransientError struct {
	Op  string
	Err error
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("transient provider error during %s: %v", e.Op, e.Err)
}

func (e *ProviderTransientError) Unwrap() error { return e.Err }

// ProviderPermanentError is a backend rejection caused by invalid state,
// e.g. insufficient inventory.
type ProviderPermanentError struct {
	Op      string
	Code    string
	Message string
}

func (e *ProviderPermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider rejected %s (%s): %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("provider rejected %s: %s", e.Op, e.Message)
}

// PaymentDeclinedError is terminal for the checkout session it occurred in.
type PaymentDeclinedError struct {
	CheckoutID  string
	DeclineCode string
	Message     string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined for checkout %s: %s (%s)", e.CheckoutID, e.Message, e.DeclineCode)
}

// WebhookVerificationError rejects a webhook before any side effect.
type WebhookVerificationError struct {
	Reason string
	Err    error
}

func (e *WebhookVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook verification failed: %s: %v", e.Reason, e.Err)
	}
	return "webhook verification failed: " + e.Reason
}

func (e *WebhookVerificationError) Unwrap() error { return e.Err }

// MigrationIntegrityError halts a migration before cutover.
type MigrationIntegrityError struct {
	Entity   string
	Source   int
	Dest     int
	Mismatch []string
}

func (e *MigrationIntegrityError) Error() string {
	if len(e.Mismatch) > 0 {
		return fmt.Sprintf("migration integrity: %s: %d field mismatches (first: %s)", e.Entity, len(e.Mismatch), e.Mismatch[0])
	}
	return fmt.Sprintf("migration integrity: %s count source=%d destination=%d", e.Entity, e.Source, e.Dest)
}

// ConflictError is returned when a write is based on a stale version or
// loses a compare-and-swap.
type ConflictError struct {
	Entity   string
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	if e.Actual > 0 {
		return fmt.Sprintf("conflict on %s %s: expected version %d, found %d", e.Entity, e.ID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("conflict on %s %s", e.Entity, e.ID)
}

// IsTransient reports whether err is (or wraps) a ProviderTransientError.
func IsTransient(err error) bool {
	var te *ProviderTransientError
	return errors.As(err, &te)
}
