package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"commerce-provider/internal/config"
	"commerce-provider/internal/db"
	"commerce-provider/internal/seed"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	var (
		dsn      string
		tenantID string
		currency string
	)
	flag.StringVar(&dsn, "dsn", cfg.DBConnString, "Self-hosted tenant database")
	flag.StringVar(&tenantID, "tenant", "", "Tenant to seed")
	flag.StringVar(&currency, "currency", "USD", "Catalog currency")
	flag.Parse()

	if tenantID == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat).With().Str("app", "seed").Logger()

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	if err := seed.Apply(ctx, pool, tenantID, currency, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed apply")
	}

	logger.Info().Str("tenant", tenantID).Msg("seed applied")
}
