package discount

import (
	"context"

	"commerce-provider/internal/domain"
)

type Repository interface {
	Create(ctx context.Context, d domain.DiscountCode) (*domain.DiscountCode, error)
	GetByCode(ctx context.Context, tenantID, code string) (*domain.DiscountCode, error)
	ListByCodes(ctx context.Context, tenantID string, codes []string) ([]domain.DiscountCode, error)
	// Reserve increments usage for every code, failing if any code is at its limit.
	Reserve(ctx context.Context, tenantID string, codes []string) error
	// Release undoes a Reserve.
	Release(ctx context.Context, tenantID string, codes []string) error
}
