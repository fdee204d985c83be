package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

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
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "order").Logger()}
}

const orderColumns = `id::text, tenant_id, COALESCE(external_id, ''), number, customer_id::text, checkout_id::text, email, currency,
       shipping_address, subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount, refunded_amount,
       financial_status, fulfillment_status, payment_reference, cancelled_at, created_at, updated_at`

func (r *postgresRepo) Create(ctx context.Context, o domain.Order) (*domain.Order, error) {
	var out *domain.Order
	err := db.NewTransactor(r.pool).InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		if o.Number == "" {
			var seq int64
			if err := conn.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
				return err
			}
			o.Number = "#" + strconv.FormatInt(seq, 10)
		}
		created, err := r.insert(ctx, conn, o)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("tenant", o.TenantID).Msg("create order")
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) insert(ctx context.Context, conn db.Querier, o domain.Order) (*domain.Order, error) {
	addr, err := marshalAddress(o.ShippingAddress)
	if err != nil {
		return nil, err
	}
	t := o.Totals
	var createdAt any
	if !o.CreatedAt.IsZero() {
		createdAt = o.CreatedAt
	}
	q := `
INSERT INTO orders (
    id, tenant_id, external_id, number, customer_id, checkout_id, email, currency, shipping_address,
    subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount, refunded_amount,
    financial_status, fulfillment_status, payment_reference, cancelled_at, created_at
) VALUES (COALESCE(NULLIF($20, '')::uuid, gen_random_uuid()), $1, NULLIF($2, ''), $3, $4::uuid, $5::uuid, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, COALESCE($19, now()))
RETURNING ` + orderColumns
	created, err := scanOrder(conn.QueryRow(ctx, q,
		o.TenantID, o.ExternalID, o.Number, o.CustomerID, o.CheckoutID, o.Email, o.Currency, addr,
		t.Subtotal.Amount, t.Discount.Amount, t.Shipping.Amount, t.Tax.Amount, t.Total.Amount, o.Refunded.Amount,
		string(o.FinancialStatus), string(o.FulfillmentStatus), o.PaymentReference, o.CancelledAt, createdAt, o.ID))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	if err := insertLines(ctx, conn, created.ID, o.Lines); err != nil {
		return nil, err
	}
	created.Lines = o.Lines
	return created, nil
}

func insertLines(ctx context.Context, conn db.Querier, orderID string, lines []domain.OrderLine) error {
	for i, l := range lines {
		if _, err := conn.Exec(ctx, `
INSERT INTO order_lines (order_id, product_id, variant_id, sku, title, quantity, unit_price_amount, discount_amount, total_amount, position)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`, orderID, l.ProductID, l.VariantID, l.SKU, l.Title, l.Quantity, l.UnitPrice.Amount, l.Discount.Amount, l.Total.Amount, i); err != nil {
			return fmt.Errorf("insert order line %d: %w", i, err)
		}
	}
	return nil
}

func (r *postgresRepo) Get(ctx context.Context, tenantID, id string) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id::text = $2`
	return r.one(ctx, q, tenantID, id)
}

func (r *postgresRepo) GetByCheckout(ctx context.Context, tenantID, checkoutID string) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND checkout_id::text = $2`
	return r.one(ctx, q, tenantID, checkoutID)
}

func (r *postgresRepo) one(ctx context.Context, q string, args ...any) (*domain.Order, error) {
	conn := db.Conn(ctx, r.pool)
	o, err := scanOrder(conn.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := loadLines(ctx, conn, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepo) List(ctx context.Context, tenantID string, opts domain.ListOptions) (domain.Page[domain.Order], error) {
	limit := opts.PageLimit(50, 250)
	q := `
SELECT ` + orderColumns + `
FROM orders
WHERE tenant_id = $1 AND ($2::text = '' OR id > NULLIF($2::text, '')::uuid) AND ($3::timestamptz IS NULL OR updated_at >= $3)
ORDER BY id
LIMIT $4
`
	conn := db.Conn(ctx, r.pool)
	rows, err := conn.Query(ctx, q, tenantID, opts.Cursor, opts.UpdatedSince, limit+1)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}
	var ptrs []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[domain.Order]{}, err
		}
		ptrs = append(ptrs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	var page domain.Page[domain.Order]
	if len(ptrs) > limit {
		ptrs = ptrs[:limit]
		page.NextCursor = ptrs[limit-1].ID
	}
	if err := loadLines(ctx, conn, ptrs); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	for _, o := range ptrs {
		page.Items = append(page.Items, *o)
	}
	return page, nil
}

func (r *postgresRepo) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT count(*) FROM orders WHERE tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *postgresRepo) UpdateStatus(ctx context.Context, o domain.Order, prev domain.Order) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE orders
SET financial_status = $5, fulfillment_status = $6, refunded_amount = $7, cancelled_at = $8, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2 AND financial_status = $3 AND refunded_amount = $4
`, o.TenantID, o.ID, string(prev.FinancialStatus), prev.Refunded.Amount,
		string(o.FinancialStatus), string(o.FulfillmentStatus), o.Refunded.Amount, o.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{Entity: "order", ID: o.ID}
	}
	return nil
}

func (r *postgresRepo) UpsertByExternalID(ctx context.Context, o domain.Order) (*domain.Order, error) {
	var out *domain.Order
	err := db.NewTransactor(r.pool).InTx(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		var id string
		err := conn.QueryRow(ctx, `SELECT id::text FROM orders WHERE tenant_id = $1 AND external_id = $2`, o.TenantID, o.ExternalID).Scan(&id)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			created, err := r.insert(ctx, conn, o)
			if err != nil {
				return err
			}
			out = created
			return nil
		case err != nil:
			return err
		}
		t := o.Totals
		if _, err := conn.Exec(ctx, `
UPDATE orders
SET number = $3, email = $4, subtotal_amount = $5, discount_amount = $6, shipping_amount = $7, tax_amount = $8,
    total_amount = $9, refunded_amount = $10, financial_status = $11, fulfillment_status = $12, cancelled_at = $13,
    customer_id = $14::uuid, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2
`, o.TenantID, id, o.Number, o.Email, t.Subtotal.Amount, t.Discount.Amount, t.Shipping.Amount, t.Tax.Amount,
			t.Total.Amount, o.Refunded.Amount, string(o.FinancialStatus), string(o.FulfillmentStatus), o.CancelledAt, o.CustomerID); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, `DELETE FROM order_lines WHERE order_id::text = $1`, id); err != nil {
			return err
		}
		if err := insertLines(ctx, conn, id, o.Lines); err != nil {
			return err
		}
		got, err := r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id::text = $1`, id)
		if err != nil {
			return err
		}
		out = got
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("tenant", o.TenantID).Str("external_id", o.ExternalID).Msg("upsert order")
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) CreateRefund(ctx context.Context, rf domain.Refund) (*domain.Refund, error) {
	const q = `
INSERT INTO refunds (order_id, amount, currency, reason, idempotency_key, processor_ref)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
RETURNING id::text, created_at
`
	out := rf
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, q, rf.OrderID, rf.Amount.Amount, rf.Amount.Currency, rf.Reason, rf.IdempotencyKey, rf.ProcessorRef).
		Scan(&out.ID, &out.CreatedAt); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	return &out, nil
}

func (r *postgresRepo) GetRefundByKey(ctx context.Context, orderID, idempotencyKey string) (*domain.Refund, error) {
	const q = `
SELECT id::text, order_id::text, amount, currency, reason, idempotency_key, processor_ref, created_at
FROM refunds
WHERE order_id::text = $1 AND idempotency_key = $2
`
	var rf domain.Refund
	err := db.Conn(ctx, r.pool).QueryRow(ctx, q, orderID, idempotencyKey).
		Scan(&rf.ID, &rf.OrderID, &rf.Amount.Amount, &rf.Amount.Currency, &rf.Reason, &rf.IdempotencyKey, &rf.ProcessorRef, &rf.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rf, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                     domain.Order
		financial, fulfilment string
		addr                  []byte
		t                     = &o.Totals
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.ExternalID, &o.Number, &o.CustomerID, &o.CheckoutID, &o.Email, &o.Currency,
		&addr, &t.Subtotal.Amount, &t.Discount.Amount, &t.Shipping.Amount, &t.Tax.Amount, &t.Total.Amount, &o.Refunded.Amount,
		&financial, &fulfilment, &o.PaymentReference, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.FinancialStatus = domain.FinancialStatus(financial)
	o.FulfillmentStatus = domain.FulfillmentStatus(fulfilment)
	c := o.Currency
	t.Subtotal.Currency, t.Discount.Currency, t.Shipping.Currency, t.Tax.Currency, t.Total.Currency = c, c, c, c, c
	o.Refunded.Currency = c
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func loadLines(ctx context.Context, conn db.Querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Lines = nil
	}
	rows, err := conn.Query(ctx, `
SELECT id::text, order_id::text, product_id, variant_id, sku, title, quantity, unit_price_amount, discount_amount, total_amount
FROM order_lines
WHERE order_id::text = ANY($1)
ORDER BY order_id, position
`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l domain.OrderLine
		var orderID string
		if err := rows.Scan(&l.ID, &orderID, &l.ProductID, &l.VariantID, &l.SKU, &l.Title, &l.Quantity,
			&l.UnitPrice.Amount, &l.Discount.Amount, &l.Total.Amount); err != nil {
			return err
		}
		o := byID[orderID]
		if o == nil {
			continue
		}
		l.UnitPrice.Currency, l.Discount.Currency, l.Total.Currency = o.Currency, o.Currency, o.Currency
		o.Lines = append(o.Lines, l)
	}
	return rows.Err()
}

func marshalAddress(a *domain.Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}
