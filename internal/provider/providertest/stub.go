// Package providertest offers a configurable provider.Provider for tests.
package providertest

import (
	"context"
	"sync/atomic"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

// Stub answers every operation with domain.ErrUnsupported unless the
// matching hook is set.
type Stub struct {
	KindValue provider.Kind
	Tenant    string
	Caps      provider.CapabilitySet

	GetProductFn     func(ctx context.Context, id string) (*domain.Product, error)
	GetCustomerFn    func(ctx context.Context, id string) (*domain.Customer, error)
	GetOrderFn       func(ctx context.Context, id string) (*domain.Order, error)
	ListProductsFn   func(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Product], error)
	ListCustomersFn  func(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Customer], error)
	ListOrdersFn     func(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Order], error)
	CountFn          func(ctx context.Context, entity provider.Entity) (int, error)
	VerifyWebhookFn  func(ctx context.Context, raw domain.RawWebhook) error
	ParseWebhookFn   func(ctx context.Context, raw domain.RawWebhook) (*domain.WebhookEvent, error)
	ProcessWebhookFn func(ctx context.Context, event *domain.WebhookEvent) error

	Closed atomic.Int32
}

var _ provider.Provider = (*Stub)(nil)

func (s *Stub) Kind() provider.Kind { return s.KindValue }
func (s *Stub) TenantID() string    { return s.Tenant }

func (s *Stub) Capabilities() provider.CapabilitySet {
	if s.Caps == nil {
		return provider.NewCapabilitySet()
	}
	return s.Caps
}

func (s *Stub) Close() error {
	s.Closed.Add(1)
	return nil
}

func (s *Stub) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	if s.GetProductFn != nil {
		return s.GetProductFn(ctx, id)
	}
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetProductByHandle(context.Context, string) (*domain.Product, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) SearchProducts(context.Context, string, int) ([]domain.Product, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) ListProducts(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Product], error) {
	if s.ListProductsFn != nil {
		return s.ListProductsFn(ctx, opts)
	}
	return domain.Page[domain.Product]{}, domain.ErrUnsupported
}

func (s *Stub) CreateCart(context.Context, provider.CartInput) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetCart(context.Context, string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) AddLine(context.Context, string, int, domain.LineInput) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) UpdateLine(context.Context, string, int, string, int) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) RemoveLine(context.Context, string, int, string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) SetAttributes(context.Context, string, int, map[string]string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) SetDiscountCodes(context.Context, string, int, []string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) CreateCheckout(context.Context, string) (*domain.CheckoutSession, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetCheckoutTarget(context.Context, string) (*domain.CheckoutTarget, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) AdvanceCheckout(context.Context, string, domain.CheckoutStep) (*domain.CheckoutSession, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) CompleteCheckout(context.Context, string, string, domain.PaymentDetails) (*domain.CheckoutSession, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetCheckoutStatus(context.Context, string) (*domain.CheckoutSession, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if s.GetOrderFn != nil {
		return s.GetOrderFn(ctx, id)
	}
	return nil, domain.ErrUnsupported
}

func (s *Stub) ListOrders(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Order], error) {
	if s.ListOrdersFn != nil {
		return s.ListOrdersFn(ctx, opts)
	}
	return domain.Page[domain.Order]{}, domain.ErrUnsupported
}

func (s *Stub) CancelOrder(context.Context, string, string) (*domain.Order, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) RefundOrder(context.Context, string, domain.RefundRequest) (*domain.Refund, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if s.GetCustomerFn != nil {
		return s.GetCustomerFn(ctx, id)
	}
	return nil, domain.ErrUnsupported
}

func (s *Stub) GetCustomerByEmail(context.Context, string) (*domain.Customer, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) CreateCustomer(context.Context, domain.CustomerInput) (*domain.Customer, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) UpdateCustomer(context.Context, string, domain.CustomerInput) (*domain.Customer, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) ListCustomers(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Customer], error) {
	if s.ListCustomersFn != nil {
		return s.ListCustomersFn(ctx, opts)
	}
	return domain.Page[domain.Customer]{}, domain.ErrUnsupported
}

func (s *Stub) ValidateDiscount(context.Context, string, string) (*domain.DiscountResult, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) ApplyDiscount(context.Context, string, int, string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) RemoveDiscount(context.Context, string, int, string) (*domain.Cart, error) {
	return nil, domain.ErrUnsupported
}

func (s *Stub) VerifyWebhook(ctx context.Context, raw domain.RawWebhook) error {
	if s.VerifyWebhookFn != nil {
		return s.VerifyWebhookFn(ctx, raw)
	}
	return nil
}

func (s *Stub) ParseWebhook(ctx context.Context, raw domain.RawWebhook) (*domain.WebhookEvent, error) {
	if s.ParseWebhookFn != nil {
		return s.ParseWebhookFn(ctx, raw)
	}
	return nil, domain.ErrUnsupported
}

func (s *Stub) ProcessWebhook(ctx context.Context, event *domain.WebhookEvent) error {
	if s.ProcessWebhookFn != nil {
		return s.ProcessWebhookFn(ctx, event)
	}
	return nil
}

func (s *Stub) Count(ctx context.Context, entity provider.Entity) (int, error) {
	if s.CountFn != nil {
		return s.CountFn(ctx, entity)
	}
	return 0, domain.ErrUnsupported
}
