package migrationrun

import (
	"context"

	"commerce-provider/internal/domain"
)

// Repository stores migration runs and their per-entity checkpoints.
type Repository interface {
	Create(ctx context.Context, run domain.MigrationRun) error
	Get(ctx context.Context, id string) (*domain.MigrationRun, error)
	Save(ctx context.Context, run domain.MigrationRun) error
	// Active returns the tenant's unfinished run, if any.
	Active(ctx context.Context, tenantID string) (*domain.MigrationRun, error)
}
