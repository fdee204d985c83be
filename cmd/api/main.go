package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"commerce-provider/internal/catalogcache"
	"commerce-provider/internal/config"
	"commerce-provider/internal/db"
	"commerce-provider/internal/events"
	"commerce-provider/internal/flags"
	"commerce-provider/internal/httpserver"
	"commerce-provider/internal/importer"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/registry"
	"commerce-provider/internal/repository/migrationrun"
	"commerce-provider/internal/repository/override"
	"commerce-provider/internal/tenant"
	"commerce-provider/internal/webhook"
)

const overrideRefreshInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat).With().Str("app", "api").Logger()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	dbpool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to db")
	}
	defer dbpool.Close()

	tenants, err := tenant.LoadFile(cfg.TenantsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.TenantsFile).Msg("load tenants")
	}
	dir := tenant.NewDirectory(tenants, override.NewPostgres(dbpool), logger)
	if err := dir.RefreshOverrides(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load provider overrides")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	cache := catalogcache.New(rdb, 0, logger)

	factory := registry.NewFactory(logger)
	reg := registry.New(registry.Config{
		Capacity:    cfg.RegistryCapacity,
		IdleTTL:     cfg.RegistryIdleTTL,
		DefaultKind: provider.KindManaged,
		Decorators: []func(provider.Provider) provider.Provider{
			func(p provider.Provider) provider.Provider { return provider.WithReadRetry(p, provider.DefaultRetryPolicy) },
			cache.Wrap,
		},
	}, dir, flags.NewStatic(rolloutRules(cfg)), factory, logger)

	emitter, closeEmitter := newEmitter(ctx, cfg, logger)
	defer closeEmitter()

	normalizer := webhook.New(dir, reg, webhook.NewRedisLedger(rdb, 0, cfg.WebhookDedupeRetention), emitter, logger).
		WithCatalogCache(cache)

	runs := migrationrun.NewPostgres(dbpool)
	opts := importer.Options{PageSize: cfg.MigrationPageSize, SampleSize: cfg.MigrationSampleSize}
	if cfg.S3ArchiveBucket != "" {
		archive, err := importer.DialS3(ctx, cfg.S3ArchiveBucket, cfg.S3ArchiveRegion, cfg.S3ArchivePrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("init export archive")
		}
		opts.Archive = archive
	}
	endpoints := importer.NewTenantEndpoints(dir, importer.SourceFactory(factory), logger)
	migrations := importer.NewController(importer.NewRunner(runs, endpoints, dir, opts, logger), runs, logger)
	if err := migrations.Recover(ctx, dir.Tenants()); err != nil {
		logger.Error().Err(err).Msg("recover migrations")
	}

	srv, err := httpserver.New(cfg.HTTPAddr, logger, httpserver.Deps{
		Webhooks:     normalizer,
		Migrations:   migrations,
		AdminKeyHash: cfg.AdminKeyHash,
		CORSOrigins:  cfg.CORSOrigins,
		Ready: map[string]httpserver.ReadyCheck{
			"postgres": dbpool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init server")
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go reg.Run(bgCtx, time.Minute)
	go sweepCheckouts(bgCtx, reg, cfg.CheckoutSweepInterval, logger)
	go refreshOverrides(bgCtx, dir, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

wait:
	for {
		select {
		case sig := <-stopCh:
			if sig == syscall.SIGHUP {
				reloadTenants(cfg.TenantsFile, dir, logger)
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			break wait
		case err := <-serverErr:
			logger.Error().Err(err).Msg("server error")
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	stopBackground()
	if err := migrations.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("stop migrations")
	}
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("close adapters")
	}
	logger.Info().Msg("server stopped")
}

// rolloutRules routes listed tenants, then a stable percentage of the rest,
// to the self-hosted backend.
func rolloutRules(cfg config.Config) map[string][]flags.Rule {
	if len(cfg.SelfHostedTenants) == 0 && cfg.SelfHostedRolloutPercent == 0 {
		return nil
	}
	return map[string][]flags.Rule{
		flags.ProviderFlag: {{
			Tenants: cfg.SelfHostedTenants,
			Variant: string(provider.KindSelfHosted),
			Percent: cfg.SelfHostedRolloutPercent,
		}},
	}
}

func newEmitter(ctx context.Context, cfg config.Config, logger zerolog.Logger) (events.Emitter, func()) {
	if cfg.AMQPURL == "" {
		logger.Warn().Msg("AMQP_URL not set, events are only logged")
		return events.NewLog(logger), func() {}
	}
	pub, err := events.DialAMQP(ctx, cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect event broker")
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event broker")
		}
	}
}

func sweepCheckouts(ctx context.Context, reg *registry.Registry, interval time.Duration, logger zerolog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			reg.Each(func(p provider.Provider) {
				s, ok := provider.SweeperOf(p)
				if !ok {
					return
				}
				n, err := s.ExpireStale(ctx)
				if err != nil {
					logger.Error().Err(err).Str("tenant", p.TenantID()).Msg("expire stale checkouts")
					return
				}
				if n > 0 {
					logger.Info().Int("expired", n).Str("tenant", p.TenantID()).Msg("expired stale checkouts")
				}
			})
		}
	}
}

func refreshOverrides(ctx context.Context, dir *tenant.Directory, logger zerolog.Logger) {
	t := time.NewTicker(overrideRefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := dir.RefreshOverrides(ctx); err != nil {
				logger.Warn().Err(err).Msg("refresh provider overrides")
			}
		}
	}
}

func reloadTenants(path string, dir *tenant.Directory, logger zerolog.Logger) {
	cfgs, err := tenant.LoadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("file", path).Msg("reload tenants, keeping previous directory")
		return
	}
	dir.Replace(cfgs)
	logger.Info().Int("tenants", len(cfgs)).Msg("tenants reloaded")
}
