package discount

import (
	"context"
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

func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) Repository {
	return &postgresRepo{pool: pool, logger: logger.With().Str("repo", "discount").Logger()}
}

const discountColumns = `id::text, tenant_id, COALESCE(external_id, ''), code, type, value, COALESCE(currency, ''), min_subtotal,
       usage_limit, usage_count, starts_at, ends_at, active`

func (r *postgresRepo) Create(ctx context.Context, d domain.DiscountCode) (*domain.DiscountCode, error) {
	q := `
INSERT INTO discount_codes (tenant_id, external_id, code, type, value, currency, min_subtotal, usage_limit, starts_at, ends_at, active)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
RETURNING ` + discountColumns
	out, err := scanDiscount(db.Conn(ctx, r.pool).QueryRow(ctx, q,
		d.TenantID, d.ExternalID, domain.NormalizeCode(d.Code), string(d.Type), d.Value, strings.ToUpper(d.Currency),
		d.MinSubtotal, d.UsageLimit, d.StartsAt, d.EndsAt, d.Active))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) GetByCode(ctx context.Context, tenantID, code string) (*domain.DiscountCode, error) {
	q := `SELECT ` + discountColumns + ` FROM discount_codes WHERE tenant_id = $1 AND upper(code) = $2`
	d, err := scanDiscount(db.Conn(ctx, r.pool).QueryRow(ctx, q, tenantID, domain.NormalizeCode(code)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func (r *postgresRepo) ListByCodes(ctx context.Context, tenantID string, codes []string) ([]domain.DiscountCode, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	q := `SELECT ` + discountColumns + ` FROM discount_codes WHERE tenant_id = $1 AND upper(code) = ANY($2) ORDER BY code`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, tenantID, normalize(codes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DiscountCode
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Reserve(ctx context.Context, tenantID string, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	norm := normalize(codes)
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE discount_codes
SET usage_count = usage_count + 1
WHERE tenant_id = $1 AND upper(code) = ANY($2) AND (usage_limit IS NULL OR usage_count < usage_limit)
`, tenantID, norm)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(norm) {
		r.logger.Warn().Str("tenant", tenantID).Strs("codes", norm).Msg("discount reservation short")
		return domain.Invalid("discountCodes", "usage limit reached")
	}
	return nil
}

func (r *postgresRepo) Release(ctx context.Context, tenantID string, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
UPDATE discount_codes
SET usage_count = GREATEST(usage_count - 1, 0)
WHERE tenant_id = $1 AND upper(code) = ANY($2)
`, tenantID, normalize(codes))
	return err
}

func normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = domain.NormalizeCode(c)
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func scanDiscount(row pgx.Row) (*domain.DiscountCode, error) {
	var d domain.DiscountCode
	var typ string
	if err := row.Scan(&d.ID, &d.TenantID, &d.ExternalID, &d.Code, &typ, &d.Value, &d.Currency, &d.MinSubtotal,
		&d.UsageLimit, &d.UsageCount, &d.StartsAt, &d.EndsAt, &d.Active); err != nil {
		return nil, err
	}
	d.Type = domain.DiscountType(typ)
	return &d, nil
}
