package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"

	"commerce-provider/internal/config"
	"commerce-provider/internal/db"
	"commerce-provider/internal/migrate"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	var (
		dsn         string
		down        int
		showVersion bool
	)
	flag.StringVar(&dsn, "dsn", cfg.DBConnString, "Database to migrate (control DB or a self-hosted tenant DB)")
	flag.IntVar(&down, "down", 0, "Roll back this many migrations instead of applying")
	flag.BoolVar(&showVersion, "version", false, "Print the applied schema version and exit")
	flag.Parse()

	logger := config.NewLogger(cfg.LogLevel, cfg.LogFormat).With().Str("app", "migrate").Logger()

	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect db")
	}
	defer pool.Close()

	switch {
	case showVersion:
		v, dirty, err := migrate.Version(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("read schema version")
		}
		logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	case down > 0:
		if err := migrate.Down(ctx, pool, down); err != nil {
			logger.Fatal().Err(err).Msg("roll back migrations")
		}
		logger.Info().Int("steps", down).Msg("migrations rolled back")
	default:
		if err := migrate.Apply(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}
}
