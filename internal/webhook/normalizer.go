// Package webhook verifies, deduplicates and normalizes inbound backend
// webhooks into canonical events.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/events"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/tenant"
)

const (
	HeaderTenant     = "X-Commerce-Tenant"
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	QueryToken       = "token"
)

// ErrInFlight means another worker holds the event; the sender should retry.
var ErrInFlight = errors.New("webhook event is being processed")

type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Outcome Outcome
	Event   *domain.WebhookEvent
}

type Tenants interface {
	Get(tenantID string) (tenant.Config, error)
	ByShopDomain(shopDomain string) (string, bool)
	ByWebhookToken(token string) (string, bool)
}

// Providers runs fn against the tenant's active adapter.
type Providers interface {
	Do(ctx context.Context, tenantID string, fn func(provider.Provider) error) error
}

// ProductInvalidator drops cached catalog entries.
type ProductInvalidator interface {
	InvalidateProduct(ctx context.Context, tenantID, productID string) error
}

type Normalizer struct {
	tenants   Tenants
	providers Providers
	ledger    Ledger
	emitter   events.Emitter
	catalog   ProductInvalidator
	logger    zerolog.Logger
}

func New(tenants Tenants, providers Providers, ledger Ledger, emitter events.Emitter, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		tenants:   tenants,
		providers: providers,
		ledger:    ledger,
		emitter:   emitter,
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

// WithCatalogCache invalidates cached products on product events.
func (n *Normalizer) WithCatalogCache(c ProductInvalidator) *Normalizer {
	n.catalog = c
	return n
}

// ResolveTenant picks the tenant from the explicit header, then the shop
// domain header, then the per-tenant token in the query string.
func (n *Normalizer) ResolveTenant(raw domain.RawWebhook, query url.Values) (string, error) {
	if id := raw.Header(HeaderTenant); id != "" {
		if _, err := n.tenants.Get(id); err != nil {
			return "", &domain.WebhookVerificationError{Reason: "unknown tenant " + id}
		}
		return id, nil
	}
	if shop := raw.Header(HeaderShopDomain); shop != "" {
		if id, ok := n.tenants.ByShopDomain(shop); ok {
			return id, nil
		}
	}
	if token := query.Get(QueryToken); token != "" {
		if id, ok := n.tenants.ByWebhookToken(token); ok {
			return id, nil
		}
	}
	return "", &domain.WebhookVerificationError{Reason: "tenant could not be resolved"}
}

// Handle runs one webhook through verification, dedupe, processing and
// emission. raw.TenantID must be set.
func (n *Normalizer) Handle(ctx context.Context, raw domain.RawWebhook) (Result, error) {
	var res Result
	err := n.providers.Do(ctx, raw.TenantID, func(p provider.Provider) error {
		var err error
		res, err = n.handle(ctx, p, raw)
		return err
	})
	return res, err
}

func (n *Normalizer) handle(ctx context.Context, p provider.Provider, raw domain.RawWebhook) (Result, error) {
	log := n.logger.With().Str("tenant", raw.TenantID).Str("provider", string(p.Kind())).Logger()

	if err := p.VerifyWebhook(ctx, raw); err != nil {
		log.Warn().Err(err).Msg("webhook rejected")
		var verr *domain.WebhookVerificationError
		if errors.As(err, &verr) {
			return Result{}, err
		}
		return Result{}, &domain.WebhookVerificationError{Reason: "verify", Err: err}
	}

	ev, err := p.ParseWebhook(ctx, raw)
	if errors.Is(err, domain.ErrUnhandledEvent) {
		log.Debug().Msg("webhook has no canonical mapping")
		return Result{Outcome: OutcomeIgnored}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("parse webhook: %w", err)
	}
	log = log.With().Str("event_id", ev.ID).Str("type", string(ev.Type)).Logger()

	claim, err := n.ledger.Claim(ctx, ev.TenantID, ev.ID)
	if err != nil {
		return Result{}, err
	}
	switch claim {
	case AlreadyDone:
		log.Info().Msg("duplicate webhook")
		return Result{Outcome: OutcomeDuplicate, Event: ev}, nil
	case InFlight:
		return Result{}, ErrInFlight
	}

	if err := n.apply(ctx, p, ev); err != nil {
		if rerr := n.ledger.Release(context.WithoutCancel(ctx), ev.TenantID, ev.ID); rerr != nil {
			log.Error().Err(rerr).Msg("release webhook claim")
		}
		return Result{}, err
	}

	if err := n.ledger.Complete(context.WithoutCancel(ctx), ev.TenantID, ev.ID); err != nil {
		// the claim expires on its own; a redelivery reprocesses idempotently
		log.Error().Err(err).Msg("mark webhook done")
	}
	log.Info().Str("object_id", ev.ObjectID).Msg("webhook processed")
	return Result{Outcome: OutcomeProcessed, Event: ev}, nil
}

func (n *Normalizer) apply(ctx context.Context, p provider.Provider, ev *domain.WebhookEvent) error {
	if err := p.ProcessWebhook(ctx, ev); err != nil {
		return fmt.Errorf("process webhook %s: %w", ev.ID, err)
	}
	if err := n.emitter.Emit(ctx, *ev); err != nil {
		return fmt.Errorf("emit %s: %w", ev.ID, err)
	}
	if n.catalog != nil && isProductEvent(ev.Type) {
		if err := n.catalog.InvalidateProduct(ctx, ev.TenantID, ev.ObjectID); err != nil {
			n.logger.Warn().Err(err).Str("product_id", ev.ObjectID).Msg("invalidate cached product")
		}
	}
	return nil
}

func isProductEvent(t domain.EventType) bool {
	switch t {
	case domain.EventProductCreated, domain.EventProductUpdated, domain.EventProductDeleted:
		return true
	}
	return false
}
