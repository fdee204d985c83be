package registry

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/managed"
	"commerce-provider/internal/payment"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/selfhosted"
	"commerce-provider/internal/tenant"
)

// NewFactory returns the Factory that builds the two concrete adapters.
// Each self-hosted adapter gets its own pool and processor client.
func NewFactory(logger zerolog.Logger) Factory {
	return func(ctx context.Context, cfg tenant.Config, kind provider.Kind) (provider.Provider, error) {
		switch kind {
		case provider.KindManaged:
			return buildManaged(cfg, logger)
		case provider.KindSelfHosted:
			return buildSelfHosted(ctx, cfg, logger)
		}
		return nil, &domain.ConfigurationError{TenantID: cfg.ID, Reason: "unknown provider kind " + string(kind)}
	}
}

func buildManaged(cfg tenant.Config, logger zerolog.Logger) (provider.Provider, error) {
	m := cfg.Managed
	return managed.New(managed.Config{
		TenantID:        cfg.ID,
		ShopDomain:      m.ShopDomain,
		AdminToken:      m.AdminToken,
		StorefrontToken: m.StorefrontToken,
		APIVersion:      m.APIVersion,
		Currency:        m.Currency,
		WebhookSecrets:  m.WebhookSecrets,
		Timeout:         m.Timeout(),
		BaseURL:         m.BaseURL,
		Subscriptions:   m.Subscriptions,
	}, logger)
}

func buildSelfHosted(ctx context.Context, cfg tenant.Config, logger zerolog.Logger) (provider.Provider, error) {
	s := cfg.SelfHosted
	if s.DatabaseDSN == "" {
		return nil, &domain.ConfigurationError{TenantID: cfg.ID, Reason: "self-hosted database dsn is required"}
	}
	rates, err := s.Rates()
	if err != nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.ID, Reason: "invalid shipping rates", Err: err}
	}
	payments, err := payment.NewStripe(payment.StripeConfig{
		SecretKey:      s.StripeSecretKey,
		WebhookSecrets: s.StripeWebhookSecrets,
		BaseURL:        s.StripeBaseURL,
	}, logger.With().Str("tenant", cfg.ID).Logger())
	if err != nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.ID, Reason: "payment processor", Err: err}
	}
	pool, err := db.ConnectWithOptions(ctx, s.DatabaseDSN, db.PoolOptions{MaxConns: s.MaxConns}, logger)
	if err != nil {
		return nil, &domain.ConfigurationError{TenantID: cfg.ID, Reason: "connect self-hosted database", Err: err}
	}
	taxRates := make(map[string]int64, len(s.TaxRates))
	for country, bps := range s.TaxRates {
		taxRates[strings.ToUpper(country)] = bps
	}
	a, err := selfhosted.NewPostgres(selfhosted.Config{
		TenantID:        cfg.ID,
		DefaultCurrency: s.DefaultCurrency,
		CheckoutTTL:     s.CheckoutTTL(),
		ProcessingGrace: s.ProcessingGrace(),
		TaxRates:        taxRates,
		ShippingRates:   rates,
	}, pool, payments, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}
