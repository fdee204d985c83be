package httpserver

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/webhook"
)

// Webhooks normalizes inbound backend webhooks.
type Webhooks interface {
	ResolveTenant(raw domain.RawWebhook, query url.Values) (string, error)
	Handle(ctx context.Context, raw domain.RawWebhook) (webhook.Result, error)
}

// Migrations controls tenant migration runs.
type Migrations interface {
	Start(ctx context.Context, tenantID string) (*domain.MigrationRun, error)
	Status(ctx context.Context, runID string) (*domain.MigrationRun, error)
	Pause(ctx context.Context, runID string) (*domain.MigrationRun, error)
	Resume(ctx context.Context, runID string) (*domain.MigrationRun, error)
	Abort(ctx context.Context, runID string) (*domain.MigrationRun, error)
}

type Deps struct {
	Webhooks   Webhooks
	Migrations Migrations
	// AdminKeyHash is the bcrypt hash of the admin API key. Admin routes
	// are not mounted when it is empty.
	AdminKeyHash string
	CORSOrigins  []string
	Ready        map[string]ReadyCheck
}

// buildRouter wires routes for the API.
func buildRouter(logger zerolog.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Webhooks == nil {
		return nil, errors.New("webhook handler is required")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: deps.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Authorization", "Content-Type", adminKeyHeader},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ready))
	router.POST("/webhooks", webhookHandler(deps.Webhooks, logger))

	if deps.AdminKeyHash != "" && deps.Migrations != nil {
		admin := router.Group("/admin", adminAuth(deps.AdminKeyHash))
		registerMigrationRoutes(admin, deps.Migrations)
	}

	return router, nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		evt := log.Info()
		if c.Writer.Status() >= 500 {
			evt = log.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
