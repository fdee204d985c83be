package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "checkout").Logger()}
}

const sessionColumns = `id::text, tenant_id, cart_id::text, status, email, shipping_address, shipping_rates, shipping_rate,
       discount_codes, currency, subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount,
       payment_reference, client_secret, idempotency_key, discounts_reserved, order_id::text, failure_reason,
       version, expires_at, processing_since, created_at, updated_at`

const activeCartIndex = "checkout_sessions_active_cart_idx"

func (r *postgresRepo) Create(ctx context.Context, s domain.CheckoutSession) (*domain.CheckoutSession, error) {
	addr, rates, rate, err := encodeShipping(&s)
	if err != nil {
		return nil, err
	}
	q := `
INSERT INTO checkout_sessions (
    id, tenant_id, cart_id, status, email, shipping_address, shipping_rates, shipping_rate, discount_codes, currency,
    subtotal_amount, discount_amount, shipping_amount, tax_amount, total_amount, expires_at, version
) VALUES ($1::uuid, $2, $3::uuid, $4, $5, $6, $7, $8, COALESCE($9, '{}'::text[]), $10, $11, $12, $13, $14, $15, $16, 1)
RETURNING ` + sessionColumns
	t := s.Totals
	out, err := scanSession(db.Conn(ctx, r.pool).QueryRow(ctx, q,
		s.ID, s.TenantID, s.CartID, string(s.Status), s.Email, addr, rates, rate, s.DiscountCodes, t.Subtotal.Currency,
		t.Subtotal.Amount, t.Discount.Amount, t.Shipping.Amount, t.Tax.Amount, t.Total.Amount, s.ExpiresAt))
	if err != nil {
		if db.IsUniqueViolation(err, activeCartIndex) {
			return nil, &domain.ConflictError{Entity: "checkout", ID: s.CartID}
		}
		r.logger.Error().Err(err).Str("cart", s.CartID).Msg("create checkout session")
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) Get(ctx context.Context, tenantID, id string) (*domain.CheckoutSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE tenant_id = $1 AND id::text = $2`
	return r.one(ctx, q, tenantID, id)
}

func (r *postgresRepo) GetActiveByCart(ctx context.Context, tenantID, cartID string) (*domain.CheckoutSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM checkout_sessions
WHERE tenant_id = $1 AND cart_id::text = $2 AND status NOT IN ('completed', 'failed', 'expired')`
	return r.one(ctx, q, tenantID, cartID)
}

func (r *postgresRepo) GetByPaymentReference(ctx context.Context, tenantID, ref string) (*domain.CheckoutSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE tenant_id = $1 AND payment_reference = $2
ORDER BY created_at DESC LIMIT 1`
	return r.one(ctx, q, tenantID, ref)
}

func (r *postgresRepo) one(ctx context.Context, q string, args ...any) (*domain.CheckoutSession, error) {
	s, err := scanSession(db.Conn(ctx, r.pool).QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *postgresRepo) Update(ctx context.Context, s *domain.CheckoutSession, expectedStatus domain.CheckoutStatus) error {
	addr, rates, rate, err := encodeShipping(s)
	if err != nil {
		return err
	}
	t := s.Totals
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE checkout_sessions
SET status = $5, email = $6, shipping_address = $7, shipping_rates = $8, shipping_rate = $9,
    discount_codes = COALESCE($10, '{}'::text[]), subtotal_amount = $11, discount_amount = $12, shipping_amount = $13,
    tax_amount = $14, total_amount = $15, payment_reference = $16, client_secret = $17, idempotency_key = $18,
    discounts_reserved = $19, order_id = $20::uuid, failure_reason = $21, expires_at = $22, processing_since = $23,
    version = version + 1, updated_at = now()
WHERE tenant_id = $1 AND id::text = $2 AND status = $3 AND version = $4
`, s.TenantID, s.ID, string(expectedStatus), s.Version,
		string(s.Status), s.Email, addr, rates, rate,
		s.DiscountCodes, t.Subtotal.Amount, t.Discount.Amount, t.Shipping.Amount,
		t.Tax.Amount, t.Total.Amount, s.PaymentReference, s.ClientSecret, s.IdempotencyKey,
		s.DiscountsReserved, s.OrderID, s.FailureReason, s.ExpiresAt, s.ProcessingSince)
	if err != nil {
		if db.IsUniqueViolation(err, activeCartIndex) {
			return &domain.ConflictError{Entity: "checkout", ID: s.ID}
		}
		return fmt.Errorf("update checkout session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.ConflictError{Entity: "checkout", ID: s.ID, Expected: s.Version}
	}
	s.Version++
	return nil
}

func (r *postgresRepo) ListExpirable(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.CheckoutSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM checkout_sessions
WHERE tenant_id = $1 AND status NOT IN ('completed', 'failed', 'expired') AND expires_at <= $2
ORDER BY expires_at
LIMIT $3`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, tenantID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func encodeShipping(s *domain.CheckoutSession) (addr, rates, rate []byte, err error) {
	if s.ShippingAddress != nil {
		if addr, err = json.Marshal(s.ShippingAddress); err != nil {
			return nil, nil, nil, err
		}
	}
	list := s.ShippingRates
	if list == nil {
		list = []domain.ShippingRate{}
	}
	if rates, err = json.Marshal(list); err != nil {
		return nil, nil, nil, err
	}
	if s.ShippingRate != nil {
		if rate, err = json.Marshal(s.ShippingRate); err != nil {
			return nil, nil, nil, err
		}
	}
	return addr, rates, rate, nil
}

func scanSession(row pgx.Row) (*domain.CheckoutSession, error) {
	var (
		s                 domain.CheckoutSession
		status, currency  string
		addr, rates, rate []byte
		t                 = &s.Totals
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.CartID, &status, &s.Email, &addr, &rates, &rate,
		&s.DiscountCodes, &currency, &t.Subtotal.Amount, &t.Discount.Amount, &t.Shipping.Amount, &t.Tax.Amount, &t.Total.Amount,
		&s.PaymentReference, &s.ClientSecret, &s.IdempotencyKey, &s.DiscountsReserved, &s.OrderID, &s.FailureReason,
		&s.Version, &s.ExpiresAt, &s.ProcessingSince, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = domain.CheckoutStatus(status)
	t.Subtotal.Currency, t.Discount.Currency, t.Shipping.Currency, t.Tax.Currency, t.Total.Currency = currency, currency, currency, currency, currency
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &s.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if len(rates) > 0 {
		if err := json.Unmarshal(rates, &s.ShippingRates); err != nil {
			return nil, err
		}
	}
	if len(rate) > 0 {
		if err := json.Unmarshal(rate, &s.ShippingRate); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
