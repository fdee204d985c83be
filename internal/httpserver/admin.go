package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"commerce-provider/internal/domain"
)

const adminKeyHeader = "X-Admin-Key"

// adminAuth accepts the key in X-Admin-Key or as a bearer token.
func adminAuth(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(adminKeyHeader)
		if key == "" {
			key = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if key == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{Code: "unauthorized", Message: "invalid admin key"}})
			return
		}
		c.Next()
	}
}

// migrationView is a run with its computed progress.
type migrationView struct {
	ID          string                                `json:"id"`
	TenantID    string                                `json:"tenantId"`
	Phase       domain.MigrationPhase                 `json:"phase"`
	State       domain.MigrationState                 `json:"state"`
	Percent     int                                   `json:"percent"`
	StartedAt   time.Time                             `json:"startedAt"`
	FinishedAt  *time.Time                            `json:"finishedAt,omitempty"`
	Checkpoints map[string]domain.MigrationCheckpoint `json:"checkpoints"`
	Report      *domain.MigrationReport               `json:"report,omitempty"`
	Error       string                                `json:"error,omitempty"`
}

func toMigrationView(run *domain.MigrationRun) migrationView {
	return migrationView{
		ID:          run.ID,
		TenantID:    run.TenantID,
		Phase:       run.Phase,
		State:       run.State,
		Percent:     run.Percent(),
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Checkpoints: run.Checkpoints,
		Report:      run.Report,
		Error:       run.Error,
	}
}

func registerMigrationRoutes(g *gin.RouterGroup, m Migrations) {
	g.POST("/tenants/:tenantID/migrations", func(c *gin.Context) {
		run, err := m.Start(c.Request.Context(), c.Param("tenantID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, toMigrationView(run))
	})
	g.GET("/migrations/:runID", func(c *gin.Context) {
		run, err := m.Status(c.Request.Context(), c.Param("runID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toMigrationView(run))
	})
	g.POST("/migrations/:runID/pause", migrationAction(m.Pause))
	g.POST("/migrations/:runID/resume", migrationAction(m.Resume))
	g.POST("/migrations/:runID/abort", migrationAction(m.Abort))
}

func migrationAction(action func(ctx context.Context, runID string) (*domain.MigrationRun, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := action(c.Request.Context(), c.Param("runID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toMigrationView(run))
	}
}
