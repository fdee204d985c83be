package importer

import (
	"context"

	"github.com/rs/zerolog"

	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/tenant"
)

// SourceFactory builds the managed adapter for a tenant.
type SourceFactory func(ctx context.Context, cfg tenant.Config, kind provider.Kind) (provider.Provider, error)

type TenantLookup interface {
	Get(tenantID string) (tenant.Config, error)
}

type tenantEndpoints struct {
	tenants TenantLookup
	build   SourceFactory
	retry   provider.RetryPolicy
	logger  zerolog.Logger
}

// NewTenantEndpoints reads from a dedicated managed adapter and writes to
// the tenant's self-hosted database, whatever backend currently serves it.
func NewTenantEndpoints(tenants TenantLookup, build SourceFactory, logger zerolog.Logger) Endpoints {
	return &tenantEndpoints{tenants: tenants, build: build, retry: provider.DefaultRetryPolicy, logger: logger}
}

func (e *tenantEndpoints) Open(ctx context.Context, tenantID string) (provider.Provider, Destination, func(), error) {
	cfg, err := e.tenants.Get(tenantID)
	if err != nil {
		return nil, nil, nil, &domain.ConfigurationError{TenantID: tenantID, Reason: "unknown tenant", Err: err}
	}
	if cfg.SelfHosted.DatabaseDSN == "" {
		return nil, nil, nil, &domain.ConfigurationError{TenantID: tenantID, Reason: "self-hosted database dsn is required"}
	}
	src, err := e.build(ctx, cfg, provider.KindManaged)
	if err != nil {
		return nil, nil, nil, err
	}
	pool, err := db.ConnectWithOptions(ctx, cfg.SelfHosted.DatabaseDSN, db.PoolOptions{MaxConns: cfg.SelfHosted.MaxConns}, e.logger)
	if err != nil {
		src.Close()
		return nil, nil, nil, &domain.ConfigurationError{TenantID: tenantID, Reason: "connect self-hosted database", Err: err}
	}
	release := func() {
		pool.Close()
		if err := src.Close(); err != nil {
			e.logger.Warn().Err(err).Str("tenant", tenantID).Msg("close migration source")
		}
	}
	return provider.WithReadRetry(src, e.retry), NewPostgresDestination(tenantID, pool, e.logger), release, nil
}
