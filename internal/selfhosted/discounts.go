package selfhosted

import (
	"context"
	"errors"
	"slices"

	"commerce-provider/internal/domain"
)

// ValidateDiscount reports whether code would apply to the cart as it is now.
func (a *Adapter) ValidateDiscount(ctx context.Context, cartID, code string) (*domain.DiscountResult, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.Invalid("code", "required")
	}
	c, err := a.carts.Get(ctx, a.cfg.TenantID, cartID)
	if err != nil {
		return nil, err
	}
	c.Reprice()
	res := &domain.DiscountResult{Code: code, Amount: domain.Zero(c.Currency)}
	d, err := a.discounts.GetByCode(ctx, a.cfg.TenantID, code)
	if errors.Is(err, domain.ErrNotFound) {
		res.Reason = "code not found"
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	if err := d.Eligible(c.Subtotal, a.now()); err != nil {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		res.Reason = ve.Reason
		return res, nil
	}
	res.Valid = true
	res.Amount = d.AmountFor(c.Subtotal)
	return res, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.Invalid("code", "required")
	}
	return a.mutateCartStrict(ctx, cartID, version, func(c *domain.Cart) error {
		c.DiscountCodes = dedupeCodes(append(c.DiscountCodes, code))
		return nil
	})
}

func (a *Adapter) RemoveDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error) {
	code = domain.NormalizeCode(code)
	return a.mutateCart(ctx, cartID, version, func(c *domain.Cart) error {
		if !slices.Contains(c.DiscountCodes, code) {
			return domain.ErrNotFound
		}
		c.DiscountCodes = slices.DeleteFunc(c.DiscountCodes, func(s string) bool { return s == code })
		return nil
	})
}
