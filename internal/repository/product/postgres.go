package product

import (
	"context"
	"errors"
	"fmt"

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

func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "product").Logger()}
}

const productColumns = `id::text, tenant_id, COALESCE(external_id, ''), handle, title, description, vendor, status, tags, created_at, updated_at`

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	var status string
	if err := row.Scan(&p.ID, &p.TenantID, &p.ExternalID, &p.Handle, &p.Title, &p.Description, &p.Vendor, &status, &p.Tags, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = domain.ProductStatus(status)
	return &p, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, tenantID, id string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = $1 AND id::text = $2`
	return r.getOne(ctx, q, tenantID, id)
}

func (r *postgresRepo) GetByHandle(ctx context.Context, tenantID, handle string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE tenant_id = $1 AND handle = $2`
	return r.getOne(ctx, q, tenantID, handle)
}

func (r *postgresRepo) GetByVariantID(ctx context.Context, tenantID, variantID string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products
WHERE tenant_id = $1 AND id = (SELECT product_id FROM variants WHERE tenant_id = $1 AND id::text = $2)`
	return r.getOne(ctx, q, tenantID, variantID)
}

func (r *postgresRepo) getOne(ctx context.Context, q string, args ...any) (*domain.Product, error) {
	conn := db.Conn(ctx, r.pool)
	p, err := scanProduct(conn.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error().Err(err).Msg("get product")
		return nil, err
	}
	if err := r.loadVariants(ctx, conn, []*domain.Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) Search(ctx context.Context, tenantID, query string, limit int) ([]domain.Product, error) {
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE tenant_id = $1 AND status = 'active'
  AND (to_tsvector('simple', title || ' ' || description) @@ plainto_tsquery('simple', $2)
       OR title ILIKE '%' || $2 || '%' OR handle ILIKE '%' || $2 || '%')
ORDER BY title
LIMIT $3
`
	return r.list(ctx, q, tenantID, query, limit)
}

func (r *postgresRepo) List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Product], error) {
	limit := opts.PageLimit(50, 250)
	const q = `
SELECT ` + productColumns + `
FROM products
WHERE tenant_id = $1 AND ($2::text = '' OR id > NULLIF($2::text, '')::uuid) AND ($3::timestamptz IS NULL OR updated_at >= $3)
ORDER BY id
LIMIT $4
`
	items, err := r.list(ctx, q, tenantID, opts.Cursor, opts.UpdatedSince, limit+1)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	page := domain.Page[domain.Product]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

func (r *postgresRepo) list(ctx context.Context, q string, args ...any) ([]domain.Product, error) {
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, q, args...)
	if err != nil {
		r.logger.Error().Err(err).Msg("list products")
		return nil, err
	}
	var ptrs []*domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadVariants(ctx, conn, ptrs); err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, *p)
	}
	return out, nil
}

func (r *postgresRepo) loadVariants(ctx context.Context, conn db.Querier, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, 0, len(products))
	byID := make(map[string]*domain.Product, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
		byID[p.ID] = p
		p.Variants = nil
	}
	const q = `
SELECT id::text, product_id::text, COALESCE(external_id, ''), sku, title, price_amount, compare_at_amount, currency, inventory_quantity, position
FROM variants
WHERE product_id::text = ANY($1)
ORDER BY product_id, position, id
`
	rows, err := conn.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v domain.Variant
		var compareAt *int64
		if err := rows.Scan(&v.ID, &v.ProductID, &v.ExternalID, &v.SKU, &v.Title, &v.Price.Amount, &compareAt, &v.Price.Currency, &v.InventoryQuantity, &v.Position); err != nil {
			return err
		}
		if compareAt != nil {
			m := domain.NewMoney(*compareAt, v.Price.Currency)
			v.CompareAtPrice = &m
		}
		if p, ok := byID[v.ProductID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return rows.Err()
}

func (r *postgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM products WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *postgresRepo) Upsert(ctx context.Context, p domain.Product) (*domain.Product, error) {
	var out *domain.Product
	err := db.NewTransactor(r.pool).InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		conflict := `ON CONFLICT (tenant_id, handle) DO UPDATE SET`
		if p.ExternalID != "" {
			conflict = `ON CONFLICT (tenant_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
    handle = EXCLUDED.handle,`
		}
		q := `
INSERT INTO products (tenant_id, external_id, handle, title, description, vendor, status, tags)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, COALESCE($8, '{}'::text[]))
` + conflict + `
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    vendor = EXCLUDED.vendor,
    status = EXCLUDED.status,
    tags = EXCLUDED.tags,
    updated_at = now()
RETURNING ` + productColumns
		saved, err := scanProduct(conn.QueryRow(ctx, q, p.TenantID, p.ExternalID, p.Handle, p.Title, p.Description, p.Vendor, string(p.Status), p.Tags))
		if err != nil {
			return fmt.Errorf("upsert product %s: %w", p.Handle, err)
		}
		keep := make([]string, 0, len(p.Variants))
		for i, v := range p.Variants {
			id, err := upsertVariant(ctx, conn, p.TenantID, saved.ID, i, v)
			if err != nil {
				return fmt.Errorf("upsert variant %s: %w", v.SKU, err)
			}
			keep = append(keep, id)
		}
		if _, err := conn.Exec(ctx, `DELETE FROM variants WHERE product_id::text = $1 AND NOT (id::text = ANY($2))`, saved.ID, keep); err != nil {
			return err
		}
		if err := r.loadVariants(ctx, conn, []*domain.Product{saved}); err != nil {
			return err
		}
		out = saved
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("tenant", p.TenantID).Str("handle", p.Handle).Msg("upsert product")
		return nil, err
	}
	r.logger.Debug().Str("tenant", p.TenantID).Str("id", out.ID).Int("variants", len(out.Variants)).Msg("upserted product")
	return out, nil
}

func upsertVariant(ctx context.Context, conn db.Querier, tenantID, productID string, position int, v domain.Variant) (string, error) {
	var compareAt *int64
	if v.CompareAtPrice != nil {
		compareAt = &v.CompareAtPrice.Amount
	}
	args := []any{tenantID, productID, v.ExternalID, v.SKU, v.Title, v.Price.Amount, compareAt, v.Price.Currency, v.InventoryQuantity, position}
	var id string
	if v.ExternalID != "" {
		const q = `
INSERT INTO variants (tenant_id, product_id, external_id, sku, title, price_amount, compare_at_amount, currency, inventory_quantity, position)
VALUES ($1, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (tenant_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
    product_id = EXCLUDED.product_id,
    sku = EXCLUDED.sku,
    title = EXCLUDED.title,
    price_amount = EXCLUDED.price_amount,
    compare_at_amount = EXCLUDED.compare_at_amount,
    currency = EXCLUDED.currency,
    inventory_quantity = EXCLUDED.inventory_quantity,
    position = EXCLUDED.position
RETURNING id::text
`
		err := conn.QueryRow(ctx, q, args...).Scan(&id)
		return id, err
	}
	if v.ID != "" {
		const q = `
UPDATE variants SET sku = $4, title = $5, price_amount = $6, compare_at_amount = $7, currency = $8, inventory_quantity = $9, position = $10
WHERE tenant_id = $1 AND product_id::text = $2 AND id::text = $11
RETURNING id::text
`
		err := conn.QueryRow(ctx, q, append(args, v.ID)...).Scan(&id)
		if err == nil || !errors.Is(err, pgx.ErrNoRows) {
			return id, err
		}
	}
	const q = `
INSERT INTO variants (tenant_id, product_id, external_id, sku, title, price_amount, compare_at_amount, currency, inventory_quantity, position)
VALUES ($1, $2::uuid, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
RETURNING id::text
`
	err := conn.QueryRow(ctx, q, args...).Scan(&id)
	return id, err
}

func (r *postgresRepo) AdjustInventory(ctx context.Context, tenantID, variantID string, delta int) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE variants SET inventory_quantity = inventory_quantity + $3
WHERE tenant_id = $1 AND id::text = $2
`, tenantID, variantID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
