// Package selfhosted implements provider.Provider on the service's own
// Postgres schema with a card processor for payments.
package selfhosted

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/payment"
	"commerce-provider/internal/provider"
	cartrepo "commerce-provider/internal/repository/cart"
	checkoutrepo "commerce-provider/internal/repository/checkout"
	customerrepo "commerce-provider/internal/repository/customer"
	discountrepo "commerce-provider/internal/repository/discount"
	orderrepo "commerce-provider/internal/repository/order"
	productrepo "commerce-provider/internal/repository/product"
)

const (
	defaultCheckoutTTL     = 30 * time.Minute
	defaultProcessingGrace = 10 * time.Minute
	defaultSweepBatch      = 100
)

// Config is the per-tenant configuration of the self-hosted backend.
type Config struct {
	TenantID        string
	DefaultCurrency string
	CheckoutTTL     time.Duration
	// ProcessingGrace is how long a session stuck in payment_processing is
	// polled past its TTL before it is declared expired.
	ProcessingGrace time.Duration
	// TaxRates maps ISO country codes to basis points.
	TaxRates      map[string]int64
	ShippingRates []domain.ShippingRate
	SweepBatch    int
}

// Deps are the stores and clients the adapter runs on.
type Deps struct {
	Products  ProductStore
	Carts     CartStore
	Checkouts CheckoutStore
	Orders    OrderStore
	Customers CustomerStore
	Discounts DiscountStore
	Tx        db.Transactor
	Payments  payment.Processor
	Now       func() time.Time
	// Closer releases resources owned by the adapter, typically the pool.
	Closer func() error
}

type Adapter struct {
	cfg       Config
	products  ProductStore
	carts     CartStore
	checkouts CheckoutStore
	orders    OrderStore
	customers CustomerStore
	discounts DiscountStore
	tx        db.Transactor
	payments  payment.Processor
	now       func() time.Time
	closer    func() error
	logger    zerolog.Logger
}

var (
	_ provider.Provider = (*Adapter)(nil)
	_ provider.Sweeper  = (*Adapter)(nil)
)

func New(cfg Config, deps Deps, logger zerolog.Logger) (*Adapter, error) {
	if cfg.TenantID == "" {
		return nil, &domain.ConfigurationError{Reason: "tenant id is required"}
	}
	if deps.Products == nil || deps.Carts == nil || deps.Checkouts == nil || deps.Orders == nil ||
		deps.Customers == nil || deps.Discounts == nil || deps.Tx == nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Reason: "self-hosted stores are not configured"}
	}
	if deps.Payments == nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Reason: "payment processor is not configured"}
	}
	if cfg.CheckoutTTL <= 0 {
		cfg.CheckoutTTL = defaultCheckoutTTL
	}
	if cfg.ProcessingGrace <= 0 {
		cfg.ProcessingGrace = defaultProcessingGrace
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		cfg:       cfg,
		products:  deps.Products,
		carts:     deps.Carts,
		checkouts: deps.Checkouts,
		orders:    deps.Orders,
		customers: deps.Customers,
		discounts: deps.Discounts,
		tx:        deps.Tx,
		payments:  deps.Payments,
		now:       now,
		closer:    deps.Closer,
		logger:    logger.With().Str("component", "selfhosted").Str("tenant", cfg.TenantID).Logger(),
	}, nil
}

// NewPostgres builds an adapter on the repositories backed by pool. The
// adapter owns pool and closes it on Close.
func NewPostgres(cfg Config, pool *pgxpool.Pool, payments payment.Processor, logger zerolog.Logger) (*Adapter, error) {
	return New(cfg, Deps{
		Products:  productrepo.NewPostgres(pool, logger),
		Carts:     cartrepo.NewPostgres(pool, logger),
		Checkouts: checkoutrepo.NewPostgres(pool, logger),
		Orders:    orderrepo.NewPostgres(pool, logger),
		Customers: customerrepo.NewPostgres(pool, logger),
		Discounts: discountrepo.NewPostgres(pool, logger),
		Tx:        db.NewTransactor(pool),
		Payments:  payments,
		Closer: func() error {
			pool.Close()
			return nil
		},
	}, logger)
}

func (a *Adapter) Kind() provider.Kind { return provider.KindSelfHosted }

func (a *Adapter) TenantID() string { return a.cfg.TenantID }

func (a *Adapter) Capabilities() provider.CapabilitySet {
	return provider.NewCapabilitySet(
		provider.CapCheckoutSteps,
		provider.CapEmbeddedCheckout,
		provider.CapPartialRefunds,
		provider.CapProductSearch,
		provider.CapShippingABFilter,
		provider.CapCustomerPasswords,
	)
}

func (a *Adapter) Count(ctx context.Context, entity provider.Entity) (int, error) {
	switch entity {
	case provider.EntityProducts:
		return a.products.Count(ctx, a.cfg.TenantID)
	case provider.EntityCustomers:
		return a.customers.Count(ctx, a.cfg.TenantID)
	case provider.EntityOrders:
		return a.orders.Count(ctx, a.cfg.TenantID)
	}
	return 0, fmt.Errorf("count %s: %w", entity, domain.ErrUnsupported)
}

func (a *Adapter) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func isConflict(err error) bool {
	var conflict *domain.ConflictError
	return errors.As(err, &conflict)
}
