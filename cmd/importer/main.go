package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"commerce-provider/internal/config"
	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/importer"
	"commerce-provider/internal/registry"
	"commerce-provider/internal/repository/migrationrun"
	"commerce-provider/internal/repository/override"
	"commerce-provider/internal/tenant"
)

const pollInterval = 2 * time.Second

func main() {
	var (
		tenantID string
		resumeID string
		statusID string
	)
	flag.StringVar(&tenantID, "tenant", "", "Tenant to migrate from the managed platform to the self-hosted stack")
	flag.StringVar(&resumeID, "resume", "", "Resume a paused or failed run by id")
	flag.StringVar(&statusID, "status", "", "Print the status of a run and exit")
	flag.Parse()

	if tenantID == "" && resumeID == "" && statusID == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat).With().Str("app", "importer").Logger()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	runs := migrationrun.NewPostgres(pool)
	if statusID != "" {
		run, err := runs.Get(ctx, statusID)
		if err != nil {
			logger.Fatal().Err(err).Str("run", statusID).Msg("load run")
		}
		printRun(run)
		return
	}

	tenants, err := tenant.LoadFile(cfg.TenantsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.TenantsFile).Msg("load tenants")
	}
	dir := tenant.NewDirectory(tenants, override.NewPostgres(pool), logger)
	if err := dir.RefreshOverrides(ctx); err != nil {
		logger.Fatal().Err(err).Msg("load provider overrides")
	}

	opts := importer.Options{PageSize: cfg.MigrationPageSize, SampleSize: cfg.MigrationSampleSize}
	if cfg.S3ArchiveBucket != "" {
		archive, err := importer.DialS3(ctx, cfg.S3ArchiveBucket, cfg.S3ArchiveRegion, cfg.S3ArchivePrefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("init export archive")
		}
		opts.Archive = archive
	}
	endpoints := importer.NewTenantEndpoints(dir, importer.SourceFactory(registry.NewFactory(logger)), logger)
	ctrl := importer.NewController(importer.NewRunner(runs, endpoints, dir, opts, logger), runs, logger)

	var run *domain.MigrationRun
	if resumeID != "" {
		run, err = ctrl.Resume(ctx, resumeID)
	} else {
		run, err = ctrl.Start(ctx, tenantID)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("start migration")
	}
	logger.Info().Str("run", run.ID).Str("tenant", run.TenantID).Msg("migration running, interrupt to pause")

	start := time.Now()
	final, err := wait(ctx, ctrl, run.ID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("migration")
	}
	printRun(final)
	if final.State != domain.MigrationCompleted && final.State != domain.MigrationPaused {
		os.Exit(1)
	}
	fmt.Printf("Finished in %s\n", time.Since(start).Truncate(time.Millisecond))
}

// wait polls until the run leaves the running state. An interrupt pauses
// the run so it can be resumed later from its checkpoints.
func wait(ctx context.Context, ctrl *importer.Controller, runID string, logger zerolog.Logger) (*domain.MigrationRun, error) {
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stopCh)

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case sig := <-stopCh:
			logger.Info().Str("signal", sig.String()).Msg("pausing migration")
			return ctrl.Pause(ctx, runID)
		case <-t.C:
			run, err := ctrl.Status(ctx, runID)
			if err != nil {
				return nil, err
			}
			if run.State != domain.MigrationRunning {
				return run, nil
			}
			logger.Info().Str("phase", string(run.Phase)).Int("percent", run.Percent()).Msg("progress")
		}
	}
}

func printRun(run *domain.MigrationRun) {
	fmt.Printf("run %s tenant=%s state=%s phase=%s progress=%d%%\n", run.ID, run.TenantID, run.State, run.Phase, run.Percent())
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
	if run.Report == nil {
		return
	}
	for entity, c := range run.Report.Counts {
		fmt.Printf("  %-10s source=%d destination=%d\n", entity, c.Source, c.Destination)
	}
	fmt.Printf("  sampled=%d caught_up=%d\n", run.Report.Sampled, run.Report.CaughtUp)
	for _, m := range run.Report.Mismatches {
		fmt.Printf("  mismatch: %s\n", m)
	}
}

