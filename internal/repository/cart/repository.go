package cart

import (
	"context"

	"commerce-provider/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Cart, error)
	// Save persists lines, attributes, discount codes and totals when the
	// stored version equals expectedVersion, and bumps the version.
	Save(ctx context.Context, cart domain.Cart, expectedVersion int) (*domain.Cart, error)
	// SetStatus moves the cart from one status to another.
	SetStatus(ctx context.Context, tenantID, id string, from, to domain.CartStatus) error
}
