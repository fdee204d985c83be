// Package managed implements provider.Provider on a hosted commerce
// platform through its Admin REST API and Storefront GraphQL API.
package managed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const (
	defaultAPIVersion = "2024-10"
	defaultTimeout    = 10 * time.Second
)

// Config is one tenant's managed platform credentials.
type Config struct {
	TenantID        string
	ShopDomain      string
	AdminToken      string
	StorefrontToken string
	APIVersion      string
	// Currency is the shop currency used for catalog prices.
	Currency string
	// WebhookSecrets holds the current secret first, then any previous one
	// still accepted during rotation.
	WebhookSecrets []string
	Timeout        time.Duration
	// BaseURL replaces https://<ShopDomain>.
	BaseURL       string
	Subscriptions bool
}

type Adapter struct {
	cfg        Config
	admin      *resty.Client
	storefront *resty.Client
	now        func() time.Time
	logger     zerolog.Logger
}

var (
	_ provider.Provider      = (*Adapter)(nil)
	_ provider.Subscriptions = (*Adapter)(nil)
)

func New(cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if cfg.TenantID == "" {
		return nil, &domain.ConfigurationError{Reason: "tenant id is required"}
	}
	if cfg.ShopDomain == "" && cfg.BaseURL == "" {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Reason: "shop domain is required"}
	}
	if cfg.AdminToken == "" {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Reason: "admin token is required"}
	}
	if len(cfg.WebhookSecrets) == 0 {
		return nil, &domain.ConfigurationError{TenantID: cfg.TenantID, Reason: "webhook secret is required"}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://" + cfg.ShopDomain
	}

	admin := resty.New().
		SetBaseURL(base+"/admin/api/"+cfg.APIVersion).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("X-Shopify-Access-Token", cfg.AdminToken).
		SetHeader("Accept", "application/json")
	storefront := resty.New().
		SetBaseURL(base+"/api/"+cfg.APIVersion).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("X-Shopify-Storefront-Access-Token", cfg.StorefrontToken).
		SetHeader("Accept", "application/json")

	return &Adapter{
		cfg:        cfg,
		admin:      admin,
		storefront: storefront,
		now:        time.Now,
		logger:     logger.With().Str("component", "managed").Str("tenant", cfg.TenantID).Logger(),
	}, nil
}

func (a *Adapter) Kind() provider.Kind { return provider.KindManaged }

func (a *Adapter) TenantID() string { return a.cfg.TenantID }

func (a *Adapter) Capabilities() provider.CapabilitySet {
	caps := []provider.Capability{
		provider.CapRedirectCheckout,
		provider.CapPartialRefunds,
		provider.CapProductSearch,
		provider.CapCustomerPasswords,
	}
	if a.cfg.Subscriptions {
		caps = append(caps, provider.CapSubscriptions)
	}
	return provider.NewCapabilitySet(caps...)
}

type countResponse struct {
	Count int `json:"count"`
}

func (a *Adapter) Count(ctx context.Context, entity provider.Entity) (int, error) {
	var path string
	params := map[string]string{}
	switch entity {
	case provider.EntityProducts:
		path = "/products/count.json"
	case provider.EntityCustomers:
		path = "/customers/count.json"
	case provider.EntityOrders:
		path = "/orders/count.json"
		params["status"] = "any"
	default:
		return 0, fmt.Errorf("count %s: %w", entity, domain.ErrUnsupported)
	}
	var out countResponse
	if _, err := a.rest(ctx, resty.MethodGet, "count "+string(entity), path, nil, &out, func(r *resty.Request) {
		r.SetQueryParams(params)
	}); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Close releases idle connections held by the HTTP clients.
func (a *Adapter) Close() error {
	a.admin.GetClient().CloseIdleConnections()
	a.storefront.GetClient().CloseIdleConnections()
	return nil
}
