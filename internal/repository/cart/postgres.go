package cart

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
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "cart").Logger()}
}

const cartColumns = `id::text, tenant_id, customer_id::text, currency, status, version, attributes, discount_codes,
       subtotal_amount, discount_amount, total_amount, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, c domain.Cart) (*domain.Cart, error) {
	if c.Attributes == nil {
		c.Attributes = map[string]string{}
	}
	q := `
INSERT INTO carts (tenant_id, customer_id, currency, status, attributes, discount_codes)
VALUES ($1, $2::uuid, $3, 'active', $4, COALESCE($5, '{}'::text[]))
RETURNING ` + cartColumns
	conn := db.Conn(ctx, r.pool)
	created, err := scanCart(conn.QueryRow(ctx, q, c.TenantID, c.CustomerID, c.Currency, c.Attributes, c.DiscountCodes))
	if err != nil {
		r.logger.Error().Err(err).Str("tenant", c.TenantID).Msg("create cart")
		return nil, err
	}
	return created, nil
}

func (r *postgresRepo) Get(ctx context.Context, tenantID, id string) (*domain.Cart, error) {
	q := `SELECT ` + cartColumns + ` FROM carts WHERE tenant_id = $1 AND id::text = $2`
	conn := db.Conn(ctx, r.pool)
	c, err := scanCart(conn.QueryRow(ctx, q, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := loadLines(ctx, conn, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *postgresRepo) Save(ctx context.Context, c domain.Cart, expectedVersion int) (*domain.Cart, error) {
	var saved *domain.Cart
	err := db.NewTransactor(r.pool).InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		tag, err := conn.Exec(ctx, `
UPDATE carts
SET attributes = $4, discount_codes = COALESCE($5, '{}'::text[]), discount_amount = $6,
    customer_id = $7::uuid, version = version + 1, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2 AND version = $3 AND status = 'active'
`, c.TenantID, c.ID, expectedVersion, c.Attributes, c.DiscountCodes, c.Discount.Amount, c.CustomerID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.saveConflict(ctx, conn, c, expectedVersion)
		}
		if _, err := conn.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id::text = $1`, c.ID); err != nil {
			return err
		}
		for _, l := range c.Lines {
			if _, err := conn.Exec(ctx, `
INSERT INTO cart_lines (id, cart_id, product_id, variant_id, sku, title, quantity, unit_price_amount, line_total_amount, selling_plan_id)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4::uuid, $5, $6, $7, $8, $9, $10)
`, l.ID, c.ID, l.ProductID, l.VariantID, l.SKU, l.Title, l.Quantity, l.UnitPrice.Amount, l.UnitPrice.Amount*int64(l.Quantity), l.SellingPlanID); err != nil {
				return fmt.Errorf("insert cart line %s: %w", l.ID, err)
			}
		}
		if err := updateCartTotals(ctx, conn, c.ID); err != nil {
			return err
		}
		got, err := r.Get(ctx, c.TenantID, c.ID)
		if err != nil {
			return err
		}
		saved = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *postgresRepo) saveConflict(ctx context.Context, conn db.Querier, c domain.Cart, expected int) error {
	var version int
	var status string
	err := conn.QueryRow(ctx, `SELECT version, status FROM carts WHERE tenant_id = $1 AND id::text = $2`, c.TenantID, c.ID).Scan(&version, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != string(domain.CartActive) {
		return domain.Invalid("cart", "cart is "+status+" and cannot be modified")
	}
	return &domain.ConflictError{Entity: "cart", ID: c.ID, Expected: expected, Actual: version}
}

func (r *postgresRepo) SetStatus(ctx context.Context, tenantID, id string, from, to domain.CartStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE carts SET status = $4, version = version + 1, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2 AND status = $3
`, tenantID, id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{Entity: "cart", ID: id}
	}
	return nil
}

func scanCart(row pgx.Row) (*domain.Cart, error) {
	var c domain.Cart
	var status string
	if err := row.Scan(&c.ID, &c.TenantID, &c.CustomerID, &c.Currency, &status, &c.Version, &c.Attributes, &c.DiscountCodes,
		&c.Subtotal.Amount, &c.Discount.Amount, &c.Total.Amount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = domain.CartStatus(status)
	c.Subtotal.Currency = c.Currency
	c.Discount.Currency = c.Currency
	c.Total.Currency = c.Currency
	return &c, nil
}

func loadLines(ctx context.Context, conn db.Querier, c *domain.Cart) error {
	const q = `
SELECT id::text, cart_id::text, product_id::text, variant_id::text, sku, title, quantity, unit_price_amount, line_total_amount, selling_plan_id
FROM cart_lines
WHERE cart_id::text = $1
ORDER BY position
`
	rows, err := conn.Query(ctx, q, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	c.Lines = nil
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ID, &l.CartID, &l.ProductID, &l.VariantID, &l.SKU, &l.Title, &l.Quantity,
			&l.UnitPrice.Amount, &l.LineTotal.Amount, &l.SellingPlanID); err != nil {
			return err
		}
		l.UnitPrice.Currency = c.Currency
		l.LineTotal.Currency = c.Currency
		c.Lines = append(c.Lines, l)
	}
	return rows.Err()
}

func updateCartTotals(ctx context.Context, conn db.Querier, cartID string) error {
	_, err := conn.Exec(ctx, `
UPDATE carts
SET subtotal_amount = s.subtotal,
    total_amount = GREATEST(s.subtotal - discount_amount, 0)
FROM (
	SELECT COALESCE(SUM(line_total_amount), 0) AS subtotal
	FROM cart_lines
	WHERE cart_id::text = $1
) s
WHERE id::text = $1
`, cartID)
	return err
}
