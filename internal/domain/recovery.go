package domain

import "errors"

// Recovery is the user-facing next step after a checkout-path failure.
type Recovery string

const (
	RecoveryRetryStep      Recovery = "retry_step"
	RecoveryNewCheckout    Recovery = "new_checkout"
	RecoveryContactSupport Recovery = "contact_support"
)

// RecoveryFor maps any checkout-path error onto exactly one recovery.
func RecoveryFor(err error) Recovery {
	var (
		declined  *PaymentDeclinedError
		transient *ProviderTransientError
		conflict  *ConflictError
		invalid   *ValidationError
		rejected  *ProviderPermanentError
	)
	switch {
	case err == nil:
		return RecoveryRetryStep
	case errors.As(err, &declined):
		return RecoveryNewCheckout
	case errors.As(err, &transient), errors.As(err, &conflict), errors.As(err, &invalid):
		return RecoveryRetryStep
	case errors.As(err, &rejected), errors.Is(err, ErrNotFound):
		return RecoveryNewCheckout
	default:
		return RecoveryContactSupport
	}
}
