package order

import (
	"context"

	"commerce-provider/internal/domain"
)

type Repository interface {
	// Create inserts the order and its lines, assigning Number when empty.
	Create(ctx context.Context, o domain.Order) (*domain.Order, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Order, error)
	GetByCheckout(ctx context.Context, tenantID, checkoutID string) (*domain.Order, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Order], error)
	Count(ctx context.Context, tenantID string) (int, error)
	// UpdateStatus writes statuses, refunded amount and cancellation time when
	// the stored financial status and refunded amount still match prev.
	UpdateStatus(ctx context.Context, o domain.Order, prev domain.Order) error
	// UpsertByExternalID imports an order from another backend.
	UpsertByExternalID(ctx context.Context, o domain.Order) (*domain.Order, error)

	CreateRefund(ctx context.Context, r domain.Refund) (*domain.Refund, error)
	GetRefundByKey(ctx context.Context, orderID, idempotencyKey string) (*domain.Refund, error)
}
