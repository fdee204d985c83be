package checkout

import (
	"context"
	"time"

	"commerce-provider/internal/domain"
)

// Repository persists checkout sessions. Every write is a compare-and-swap
// on (status, version).
type Repository interface {
	// Create inserts a new session. A second non-terminal session for the
	// same cart yields a *domain.ConflictError.
	Create(ctx context.Context, s domain.CheckoutSession) (*domain.CheckoutSession, error)
	Get(ctx context.Context, tenantID, id string) (*domain.CheckoutSession, error)
	GetActiveByCart(ctx context.Context, tenantID, cartID string) (*domain.CheckoutSession, error)
	GetByPaymentReference(ctx context.Context, tenantID, ref string) (*domain.CheckoutSession, error)
	// Update writes s when the stored row still has expectedStatus and
	// s.Version. On success s.Version is incremented.
	Update(ctx context.Context, s *domain.CheckoutSession, expectedStatus domain.CheckoutStatus) error
	// ListExpirable returns non-terminal sessions whose expiry is at or before now.
	ListExpirable(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.CheckoutSession, error)
}
