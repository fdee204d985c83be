package customer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"commerce-provider/internal/db"
	"commerce-provider/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "customer").Logger()}
}

const customerColumns = `id::text, tenant_id, COALESCE(external_id, ''), email, password_hash, first_name, last_name, phone,
       accepts_marketing, addresses, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	addrJSON, err := marshalAddresses(c.Addresses)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO customers (tenant_id, external_id, email, password_hash, first_name, last_name, phone, accepts_marketing, addresses)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + customerColumns
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q,
		c.TenantID, c.ExternalID, strings.ToLower(c.Email), c.PasswordHash, c.FirstName, c.LastName, c.Phone, c.AcceptsMarketing, addrJSON))
}

func (r *postgresRepo) GetByEmail(ctx context.Context, tenantID, email string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND lower(email) = lower($2) LIMIT 1`
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q, tenantID, email))
}

func (r *postgresRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND id::text = $2 LIMIT 1`
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q, tenantID, id))
}

func (r *postgresRepo) GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE tenant_id = $1 AND external_id = $2 LIMIT 1`
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q, tenantID, externalID))
}

func (r *postgresRepo) Update(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	addrJSON, err := marshalAddresses(c.Addresses)
	if err != nil {
		return nil, err
	}
	q := `
UPDATE customers
SET email = $3, password_hash = $4, first_name = $5, last_name = $6, phone = $7, accepts_marketing = $8,
    addresses = $9, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2
RETURNING ` + customerColumns
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q,
		c.TenantID, c.ID, strings.ToLower(c.Email), c.PasswordHash, c.FirstName, c.LastName, c.Phone, c.AcceptsMarketing, addrJSON))
}

func (r *postgresRepo) UpsertByExternalID(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	addrJSON, err := marshalAddresses(c.Addresses)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO customers (tenant_id, external_id, email, first_name, last_name, phone, accepts_marketing, addresses, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
ON CONFLICT (tenant_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
    email = EXCLUDED.email,
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    phone = EXCLUDED.phone,
    accepts_marketing = EXCLUDED.accepts_marketing,
    addresses = EXCLUDED.addresses,
    updated_at = now()
RETURNING ` + customerColumns
	var createdAt any
	if !c.CreatedAt.IsZero() {
		createdAt = c.CreatedAt
	}
	return r.scanCustomer(db.Conn(ctx, r.pool).QueryRow(ctx, q,
		c.TenantID, c.ExternalID, strings.ToLower(c.Email), c.FirstName, c.LastName, c.Phone, c.AcceptsMarketing, addrJSON, createdAt))
}

func (r *postgresRepo) List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Customer], error) {
	limit := opts.PageLimit(50, 250)
	q := `
SELECT ` + customerColumns + `
FROM customers
WHERE tenant_id = $1 AND ($2::text = '' OR id > NULLIF($2::text, '')::uuid) AND ($3::timestamptz IS NULL OR updated_at >= $3)
ORDER BY id
LIMIT $4
`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, tenantID, opts.Cursor, opts.UpdatedSince, limit+1)
	if err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	defer rows.Close()

	var page domain.Page[domain.Customer]
	for rows.Next() {
		c, err := r.scanCustomer(rows)
		if err != nil {
			return domain.Page[domain.Customer]{}, err
		}
		page.Items = append(page.Items, *c)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

func (r *postgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM customers WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *postgresRepo) scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	var addrJSON []byte
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.ExternalID,
		&c.Email,
		&c.PasswordHash,
		&c.FirstName,
		&c.LastName,
		&c.Phone,
		&c.AcceptsMarketing,
		&addrJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if db.IsUniqueViolation(err, "") {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error().Err(err).Msg("scan customer")
		return nil, err
	}
	if len(addrJSON) > 0 {
		if err := json.Unmarshal(addrJSON, &c.Addresses); err != nil {
			r.logger.Error().Err(err).Str("id", c.ID).Msg("decode addresses")
			return nil, err
		}
	}
	return &c, nil
}

func marshalAddresses(addrs []domain.Address) ([]byte, error) {
	if addrs == nil {
		addrs = []domain.Address{}
	}
	return json.Marshal(addrs)
}
