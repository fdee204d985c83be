// Package provider defines the normalized commerce backend contract that
// every tenant adapter implements.
package provider

import (
	"context"

	"commerce-provider/internal/domain"
)

// Kind names a concrete backend.
type Kind string

const (
	KindManaged    Kind = "managed"
	KindSelfHosted Kind = "self_hosted"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindManaged, KindSelfHosted:
		return Kind(s), true
	}
	return "", false
}

type ListOptions = domain.ListOptions

// CartInput creates a cart.
type CartInput struct {
	Currency   string             `json:"currency"`
	CustomerID *string            `json:"customerId,omitempty"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Lines      []domain.LineInput `json:"lines,omitempty"`
}

type Catalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByHandle(ctx context.Context, handle string) (*domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	ListProducts(ctx context.Context, opts ListOptions) (domain.Page[domain.Product], error)
}

// Carts mutations take the version the caller last observed. A stale
// version fails with *domain.ConflictError.
type Carts interface {
	CreateCart(ctx context.Context, in CartInput) (*domain.Cart, error)
	GetCart(ctx context.Context, id string) (*domain.Cart, error)
	AddLine(ctx context.Context, cartID string, version int, line domain.LineInput) (*domain.Cart, error)
	UpdateLine(ctx context.Context, cartID string, version int, lineID string, quantity int) (*domain.Cart, error)
	RemoveLine(ctx context.Context, cartID string, version int, lineID string) (*domain.Cart, error)
	SetAttributes(ctx context.Context, cartID string, version int, attrs map[string]string) (*domain.Cart, error)
	SetDiscountCodes(ctx context.Context, cartID string, version int, codes []string) (*domain.Cart, error)
}

type Checkouts interface {
	CreateCheckout(ctx context.Context, cartID string) (*domain.CheckoutSession, error)
	GetCheckoutTarget(ctx context.Context, sessionID string) (*domain.CheckoutTarget, error)
	AdvanceCheckout(ctx context.Context, sessionID string, step domain.CheckoutStep) (*domain.CheckoutSession, error)
	// CompleteCheckout requires a caller idempotency key and is never retried automatically.
	CompleteCheckout(ctx context.Context, sessionID, idempotencyKey string, payment domain.PaymentDetails) (*domain.CheckoutSession, error)
	GetCheckoutStatus(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
}

type Orders interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, opts ListOptions) (domain.Page[domain.Order], error)
	CancelOrder(ctx context.Context, id, idempotencyKey string) (*domain.Order, error)
	RefundOrder(ctx context.Context, id string, req domain.RefundRequest) (*domain.Refund, error)
}

type Customers interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	CreateCustomer(ctx context.Context, in domain.CustomerInput) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in domain.CustomerInput) (*domain.Customer, error)
	ListCustomers(ctx context.Context, opts ListOptions) (domain.Page[domain.Customer], error)
}

type Discounts interface {
	ValidateDiscount(ctx context.Context, cartID, code string) (*domain.DiscountResult, error)
	ApplyDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error)
	RemoveDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error)
}

// Webhooks turns backend callbacks into canonical events. ParseWebhook has
// no side effects; ProcessWebhook applies them and must be safe to call
// again for the same event.
type Webhooks interface {
	VerifyWebhook(ctx context.Context, raw domain.RawWebhook) error
	ParseWebhook(ctx context.Context, raw domain.RawWebhook) (*domain.WebhookEvent, error)
	ProcessWebhook(ctx context.Context, event *domain.WebhookEvent) error
}

type Subscriptions interface {
	CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, in domain.SubscriptionInput) (*domain.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	PauseSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ResumeSubscription(ctx context.Context, id string) (*domain.Subscription, error)
}

// Entity names a record family for counting.
type Entity string

const (
	EntityProducts  Entity = "products"
	EntityCustomers Entity = "customers"
	EntityOrders    Entity = "orders"
)

// Counter reports record counts used by migration verification.
type Counter interface {
	Count(ctx context.Context, entity Entity) (int, error)
}

// Provider is one tenant's commerce backend.
type Provider interface {
	Kind() Kind
	TenantID() string
	Capabilities() CapabilitySet
	Catalog
	Carts
	Checkouts
	Orders
	Customers
	Discounts
	Webhooks
	Counter
	// Close releases the adapter's clients and pools.
	Close() error
}

// Sweeper expires abandoned checkouts. Only backends that own checkout
// state implement it.
type Sweeper interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Wrapper is implemented by decorators so optional interfaces of the
// wrapped adapter stay discoverable.
type Wrapper interface {
	Unwrap() Provider
}

func unwrapAll(p Provider) Provider {
	for {
		w, ok := p.(Wrapper)
		if !ok {
			return p
		}
		p = w.Unwrap()
	}
}

// SubscriptionsOf returns p's subscription operations when it advertises them.
func SubscriptionsOf(p Provider) (Subscriptions, bool) {
	if !p.Capabilities().Has(CapSubscriptions) {
		return nil, false
	}
	s, ok := unwrapAll(p).(Subscriptions)
	return s, ok
}

// SweeperOf returns p's checkout sweeper if it has one.
func SweeperOf(p Provider) (Sweeper, bool) {
	s, ok := unwrapAll(p).(Sweeper)
	return s, ok
}
