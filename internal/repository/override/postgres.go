package override

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"commerce-provider/internal/domain"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Get(ctx context.Context, tenantID string) (string, error) {
	const q = `
SELECT provider
FROM tenant_provider_overrides
WHERE tenant_id = $1
`
	var kind string
	if err := r.pool.QueryRow(ctx, q, tenantID).Scan(&kind); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return kind, nil
}

func (r *postgresRepo) Set(ctx context.Context, tenantID, kind string) error {
	const q = `
INSERT INTO tenant_provider_overrides (tenant_id, provider)
VALUES ($1, $2)
ON CONFLICT (tenant_id) DO UPDATE SET provider = EXCLUDED.provider, updated_at = now()
`
	_, err := r.pool.Exec(ctx, q, tenantID, kind)
	return err
}

func (r *postgresRepo) Delete(ctx context.Context, tenantID string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tenant_provider_overrides WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, provider FROM tenant_provider_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var tenantID, kind string
		if err := rows.Scan(&tenantID, &kind); err != nil {
			return nil, err
		}
		out[tenantID] = kind
	}
	return out, rows.Err()
}
