package customer

import (
	"context"

	"commerce-provider/internal/domain"
)

// Repository persists and fetches customers.
type Repository interface {
	Create(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*domain.Customer, error)
	GetByID(ctx context.Context, tenantID, id string) (*domain.Customer, error)
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Customer, error)
	Update(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	// UpsertByExternalID inserts or updates a customer imported from another backend.
	UpsertByExternalID(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Customer], error)
	Count(ctx context.Context, tenantID string) (int, error)
}
