package provider

import (
	"context"

	"commerce-provider/internal/domain"
)

type retrying struct {
	Provider
	policy RetryPolicy
}

// WithReadRetry wraps the read operations of p in Read. Mutations pass
// through untouched.
func WithReadRetry(p Provider, policy RetryPolicy) Provider {
	return &retrying{Provider: p, policy: policy}
}

func (r *retrying) Unwrap() Provider { return r.Provider }

func (r *retrying) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Product, error) {
		return r.Provider.GetProduct(ctx, id)
	})
}

func (r *retrying) GetProductByHandle(ctx context.Context, handle string) (*domain.Product, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Product, error) {
		return r.Provider.GetProductByHandle(ctx, handle)
	})
}

func (r *retrying) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	return Read(ctx, r.policy, func(ctx context.Context) ([]domain.Product, error) {
		return r.Provider.SearchProducts(ctx, query, limit)
	})
}

func (r *retrying) ListProducts(ctx context.Context, opts ListOptions) (domain.Page[domain.Product], error) {
	return Read(ctx, r.policy, func(ctx context.Context) (domain.Page[domain.Product], error) {
		return r.Provider.ListProducts(ctx, opts)
	})
}

func (r *retrying) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Cart, error) {
		return r.Provider.GetCart(ctx, id)
	})
}

func (r *retrying) GetCheckoutTarget(ctx context.Context, sessionID string) (*domain.CheckoutTarget, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.CheckoutTarget, error) {
		return r.Provider.GetCheckoutTarget(ctx, sessionID)
	})
}

func (r *retrying) GetCheckoutStatus(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.CheckoutSession, error) {
		return r.Provider.GetCheckoutStatus(ctx, sessionID)
	})
}

func (r *retrying) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Order, error) {
		return r.Provider.GetOrder(ctx, id)
	})
}

func (r *retrying) ListOrders(ctx context.Context, opts ListOptions) (domain.Page[domain.Order], error) {
	return Read(ctx, r.policy, func(ctx context.Context) (domain.Page[domain.Order], error) {
		return r.Provider.ListOrders(ctx, opts)
	})
}

func (r *retrying) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Customer, error) {
		return r.Provider.GetCustomer(ctx, id)
	})
}

func (r *retrying) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.Customer, error) {
		return r.Provider.GetCustomerByEmail(ctx, email)
	})
}

func (r *retrying) ListCustomers(ctx context.Context, opts ListOptions) (domain.Page[domain.Customer], error) {
	return Read(ctx, r.policy, func(ctx context.Context) (domain.Page[domain.Customer], error) {
		return r.Provider.ListCustomers(ctx, opts)
	})
}

func (r *retrying) ValidateDiscount(ctx context.Context, cartID, code string) (*domain.DiscountResult, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (*domain.DiscountResult, error) {
		return r.Provider.ValidateDiscount(ctx, cartID, code)
	})
}

func (r *retrying) Count(ctx context.Context, entity Entity) (int, error) {
	return Read(ctx, r.policy, func(ctx context.Context) (int, error) {
		return r.Provider.Count(ctx, entity)
	})
}
