package product

import (
	"context"

	"commerce-provider/internal/domain"
)

// Repository stores the self-hosted catalog.
type Repository interface {
	GetByID(ctx context.Context, tenantID, id string) (*domain.Product, error)
	GetByHandle(ctx context.Context, tenantID, handle string) (*domain.Product, error)
	GetByVariantID(ctx context.Context, tenantID, variantID string) (*domain.Product, error)
	Search(ctx context.Context, tenantID, query string, limit int) ([]domain.Product, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Product], error)
	Count(ctx context.Context, tenantID string) (int, error)
	// Upsert inserts or updates a product and its variants keyed by external id
	// (or handle when the external id is empty).
	Upsert(ctx context.Context, p domain.Product) (*domain.Product, error)
	// AdjustInventory adds delta to a variant's inventory quantity.
	AdjustInventory(ctx context.Context, tenantID, variantID string, delta int) error
}
