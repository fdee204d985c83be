package selfhosted

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

func (a *Adapter) CreateCart(ctx context.Context, in provider.CartInput) (*domain.Cart, error) {
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = a.cfg.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, domain.Invalid("currency", "must be an ISO 4217 code")
	}
	attrs := map[string]string{}
	for k, v := range in.Attributes {
		if v != "" {
			attrs[k] = v
		}
	}
	created, err := a.carts.Create(ctx, domain.Cart{
		TenantID:   a.cfg.TenantID,
		CustomerID: in.CustomerID,
		Currency:   currency,
		Attributes: attrs,
	})
	if err != nil {
		return nil, err
	}
	if len(in.Lines) == 0 {
		return created, nil
	}
	return a.mutateCart(ctx, created.ID, created.Version, func(c *domain.Cart) error {
		for _, l := range in.Lines {
			if err := a.addLine(ctx, c, l); err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Adapter) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	return a.carts.Get(ctx, a.cfg.TenantID, id)
}

func (a *Adapter) AddLine(ctx context.Context, cartID string, version int, line domain.LineInput) (*domain.Cart, error) {
	return a.mutateCart(ctx, cartID, version, func(c *domain.Cart) error {
		return a.addLine(ctx, c, line)
	})
}

func (a *Adapter) UpdateLine(ctx context.Context, cartID string, version int, lineID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, domain.Invalid("quantity", "must not be negative")
	}
	if quantity > 0 {
		if err := domain.ValidLineQuantity("quantity", quantity); err != nil {
			return nil, err
		}
	}
	return a.mutateCart(ctx, cartID, version, func(c *domain.Cart) error {
		for i := range c.Lines {
			if c.Lines[i].ID == lineID {
				c.Lines[i].Quantity = quantity
				return nil
			}
		}
		return domain.ErrNotFound
	})
}

func (a *Adapter) RemoveLine(ctx context.Context, cartID string, version int, lineID string) (*domain.Cart, error) {
	return a.UpdateLine(ctx, cartID, version, lineID, 0)
}

// SetAttributes merges attrs into the cart. An empty value deletes the key.
func (a *Adapter) SetAttributes(ctx context.Context, cartID string, version int, attrs map[string]string) (*domain.Cart, error) {
	return a.mutateCart(ctx, cartID, version, func(c *domain.Cart) error {
		if c.Attributes == nil {
			c.Attributes = map[string]string{}
		}
		for k, v := range attrs {
			if strings.TrimSpace(k) == "" {
				return domain.Invalid("attributes", "keys must not be empty")
			}
			if v == "" {
				delete(c.Attributes, k)
				continue
			}
			c.Attributes[k] = v
		}
		return nil
	})
}

func (a *Adapter) SetDiscountCodes(ctx context.Context, cartID string, version int, codes []string) (*domain.Cart, error) {
	return a.mutateCartStrict(ctx, cartID, version, func(c *domain.Cart) error {
		c.DiscountCodes = dedupeCodes(codes)
		return nil
	})
}

func (a *Adapter) addLine(ctx context.Context, c *domain.Cart, in domain.LineInput) error {
	if err := domain.ValidLineQuantity("quantity", in.Quantity); err != nil {
		return err
	}
	if in.VariantID == "" {
		return domain.Invalid("variantId", "required")
	}
	p, err := a.products.GetByVariantID(ctx, a.cfg.TenantID, in.VariantID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Invalid("variantId", "unknown variant "+in.VariantID)
	}
	if err != nil {
		return err
	}
	if p.Status != domain.ProductActive {
		return domain.Invalid("variantId", "product "+p.Handle+" is not available")
	}
	v, ok := p.FindVariant(in.VariantID)
	if !ok {
		return domain.Invalid("variantId", "unknown variant "+in.VariantID)
	}
	if v.Price.Currency != c.Currency {
		return domain.Invalid("variantId", "variant is not priced in "+c.Currency)
	}
	for i := range c.Lines {
		if c.Lines[i].VariantID == v.ID && samePlan(c.Lines[i].SellingPlanID, in.SellingPlanID) {
			if err := domain.ValidLineQuantity("quantity", c.Lines[i].Quantity+in.Quantity); err != nil {
				return err
			}
			c.Lines[i].Quantity += in.Quantity
			return nil
		}
	}
	title := p.Title
	if v.Title != "" && v.Title != "Default Title" {
		title += " - " + v.Title
	}
	c.Lines = append(c.Lines, domain.CartLine{
		ID:            uuid.NewString(),
		CartID:        c.ID,
		ProductID:     p.ID,
		VariantID:     v.ID,
		SKU:           v.SKU,
		Title:         title,
		Quantity:      in.Quantity,
		UnitPrice:     v.Price,
		SellingPlanID: in.SellingPlanID,
	})
	return nil
}

func samePlan(a, b *string) bool {
	switch {
	case a == nil || *a == "":
		return b == nil || *b == ""
	case b == nil:
		return false
	}
	return *a == *b
}

// mutateCart applies fn to the current cart, reprices it and saves it
// against version. Discount codes that stopped qualifying are dropped.
func (a *Adapter) mutateCart(ctx context.Context, cartID string, version int, fn func(*domain.Cart) error) (*domain.Cart, error) {
	return a.mutate(ctx, cartID, version, false, fn)
}

// mutateCartStrict is mutateCart but rejects ineligible discount codes.
func (a *Adapter) mutateCartStrict(ctx context.Context, cartID string, version int, fn func(*domain.Cart) error) (*domain.Cart, error) {
	return a.mutate(ctx, cartID, version, true, fn)
}

func (a *Adapter) mutate(ctx context.Context, cartID string, version int, strict bool, fn func(*domain.Cart) error) (*domain.Cart, error) {
	c, err := a.carts.Get(ctx, a.cfg.TenantID, cartID)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, domain.Invalid("cart", "cart is "+string(c.Status)+" and cannot be modified")
	}
	if c.Version != version {
		return nil, &domain.ConflictError{Entity: "cart", ID: c.ID, Expected: version, Actual: c.Version}
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := a.reprice(ctx, c, strict); err != nil {
		return nil, err
	}
	return a.carts.Save(ctx, *c, version)
}

// reprice recomputes totals and the combined discount of the cart's codes.
func (a *Adapter) reprice(ctx context.Context, c *domain.Cart, strict bool) error {
	c.Discount = domain.Zero(c.Currency)
	c.Reprice()
	if len(c.DiscountCodes) == 0 {
		return nil
	}
	found, err := a.discounts.ListByCodes(ctx, a.cfg.TenantID, c.DiscountCodes)
	if err != nil {
		return err
	}
	byCode := make(map[string]domain.DiscountCode, len(found))
	for _, d := range found {
		byCode[domain.NormalizeCode(d.Code)] = d
	}
	now := a.now()
	kept := make([]string, 0, len(c.DiscountCodes))
	eligible := make([]domain.DiscountCode, 0, len(c.DiscountCodes))
	for _, code := range c.DiscountCodes {
		d, ok := byCode[code]
		if !ok {
			if strict {
				return domain.Invalid("discountCodes", "unknown code "+code)
			}
			continue
		}
		if err := d.Eligible(c.Subtotal, now); err != nil {
			if strict {
				return err
			}
			a.logger.Debug().Str("cart", c.ID).Str("code", code).Err(err).Msg("dropping ineligible discount code")
			continue
		}
		kept = append(kept, code)
		eligible = append(eligible, d)
	}
	c.DiscountCodes = kept
	return c.ApplyDiscounts(eligible, now)
}

func dedupeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = domain.NormalizeCode(code)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
