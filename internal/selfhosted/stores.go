package selfhosted

import (
	"context"
	"time"

	"commerce-provider/internal/domain"
)

// The stores below are the subsets of the Postgres repositories the adapter uses.

type ProductStore interface {
	GetByID(ctx context.Context, tenantID, id string) (*domain.Product, error)
	GetByHandle(ctx context.Context, tenantID, handle string) (*domain.Product, error)
	GetByVariantID(ctx context.Context, tenantID, variantID string) (*domain.Product, error)
	Search(ctx context.Context, tenantID, query string, limit int) ([]domain.Product, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Product], error)
	Count(ctx context.Context, tenantID string) (int, error)
	AdjustInventory(ctx context.Context, tenantID, variantID string, delta int) error
}

type CartStore interface {
	Create(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart, expectedVersion int) (*domain.Cart, error)
	SetStatus(ctx context.Context, tenantID, id string, from, to domain.CartStatus) error
}

type CheckoutStore interface {
	Create(ctx context.Context, s domain.CheckoutSession) (*domain.CheckoutSession, error)
	Get(ctx context.Context, tenantID, id string) (*domain.CheckoutSession, error)
	GetActiveByCart(ctx context.Context, tenantID, cartID string) (*domain.CheckoutSession, error)
	GetByPaymentReference(ctx context.Context, tenantID, ref string) (*domain.CheckoutSession, error)
	Update(ctx context.Context, s *domain.CheckoutSession, expectedStatus domain.CheckoutStatus) error
	ListExpirable(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.CheckoutSession, error)
}

type OrderStore interface {
	Create(ctx context.Context, o domain.Order) (*domain.Order, error)
	Get(ctx context.Context, tenantID, id string) (*domain.Order, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Order], error)
	Count(ctx context.Context, tenantID string) (int, error)
	UpdateStatus(ctx context.Context, o domain.Order, prev domain.Order) error
	CreateRefund(ctx context.Context, r domain.Refund) (*domain.Refund, error)
	GetRefundByKey(ctx context.Context, orderID, idempotencyKey string) (*domain.Refund, error)
}

type CustomerStore interface {
	Create(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*domain.Customer, error)
	GetByID(ctx context.Context, tenantID, id string) (*domain.Customer, error)
	Update(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Customer], error)
	Count(ctx context.Context, tenantID string) (int, error)
}

type DiscountStore interface {
	GetByCode(ctx context.Context, tenantID, code string) (*domain.DiscountCode, error)
	ListByCodes(ctx context.Context, tenantID string, codes []string) ([]domain.DiscountCode, error)
	Reserve(ctx context.Context, tenantID string, codes []string) error
	Release(ctx context.Context, tenantID string, codes []string) error
}
