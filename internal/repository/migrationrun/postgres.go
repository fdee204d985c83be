package migrationrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"commerce-provider/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func encode(run domain.MigrationRun) (checkpoints, report []byte, err error) {
	if run.Checkpoints == nil {
		run.Checkpoints = map[string]domain.MigrationCheckpoint{}
	}
	if checkpoints, err = json.Marshal(run.Checkpoints); err != nil {
		return nil, nil, fmt.Errorf("encode checkpoints: %w", err)
	}
	if run.Report != nil {
		if report, err = json.Marshal(run.Report); err != nil {
			return nil, nil, fmt.Errorf("encode report: %w", err)
		}
	}
	return checkpoints, report, nil
}

func (r *postgresRepo) Create(ctx context.Context, run domain.MigrationRun) error {
	checkpoints, report, err := encode(run)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO migration_runs (id, tenant_id, phase, state, started_at, finished_at, checkpoints, report, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err = r.pool.Exec(ctx, q, run.ID, run.TenantID, run.Phase, run.State, run.StartedAt, run.FinishedAt, checkpoints, report, run.Error)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

const selectRun = `
SELECT id::text, tenant_id, phase, state, started_at, finished_at, checkpoints, report, error, updated_at
FROM migration_runs
`

func scanRun(row pgx.Row) (*domain.MigrationRun, error) {
	var (
		out         domain.MigrationRun
		checkpoints []byte
		report      []byte
	)
	if err := row.Scan(
		&out.ID,
		&out.TenantID,
		&out.Phase,
		&out.State,
		&out.StartedAt,
		&out.FinishedAt,
		&checkpoints,
		&report,
		&out.Error,
		&out.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(checkpoints, &out.Checkpoints); err != nil {
		return nil, fmt.Errorf("decode checkpoints: %w", err)
	}
	if len(report) > 0 {
		out.Report = &domain.MigrationReport{}
		if err := json.Unmarshal(report, out.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
	}
	return &out, nil
}

func (r *postgresRepo) Get(ctx context.Context, id string) (*domain.MigrationRun, error) {
	return scanRun(r.pool.QueryRow(ctx, selectRun+`WHERE id::text = $1`, id))
}

func (r *postgresRepo) Active(ctx context.Context, tenantID string) (*domain.MigrationRun, error) {
	const where = `WHERE tenant_id = $1 AND state IN ('running', 'paused') ORDER BY started_at DESC LIMIT 1`
	return scanRun(r.pool.QueryRow(ctx, selectRun+where, tenantID))
}

func (r *postgresRepo) Save(ctx context.Context, run domain.MigrationRun) error {
	checkpoints, report, err := encode(run)
	if err != nil {
		return err
	}
	const q = `
UPDATE migration_runs
SET phase = $2, state = $3, finished_at = $4, checkpoints = $5, report = $6, error = $7, updated_at = now()
WHERE id::text = $1
`
	cmd, err := r.pool.Exec(ctx, q, run.ID, run.Phase, run.State, run.FinishedAt, checkpoints, report, run.Error)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
