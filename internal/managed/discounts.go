package managed

import (
	"context"
	"slices"

	"commerce-provider/internal/domain"
)

type discountNode struct {
	CodeDiscount *struct {
		Status   string `json:"status"`
		Title    string `json:"title"`
		Typename string `json:"__typename"`
	} `json:"codeDiscount"`
}

// ValidateDiscount checks the code exists and is active on the platform,
// then dry-runs it against the cart to learn the amount.
func (a *Adapter) ValidateDiscount(ctx context.Context, cartID, code string) (*domain.DiscountResult, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.Invalid("code", "required")
	}
	c, err := a.fetchCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	cart := a.toCart(c)
	res := &domain.DiscountResult{Code: code, Amount: domain.Zero(cart.Currency)}

	const q = `query($code: String!) {
  codeDiscountNodeByCode(code: $code) {
    codeDiscount {
      __typename
      ... on DiscountCodeBasic { status title }
      ... on DiscountCodeFreeShipping { status title }
      ... on DiscountCodeBxgy { status title }
    }
  }
}`
	data, err := graphql[struct {
		Node *discountNode `json:"codeDiscountNodeByCode"`
	}](ctx, a, a.admin, "validate discount", q, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	switch {
	case data.Node == nil || data.Node.CodeDiscount == nil:
		res.Reason = "code not found"
		return res, nil
	case data.Node.CodeDiscount.Status != "ACTIVE":
		res.Reason = "code is not active"
		return res, nil
	}
	// The amount is only known once the platform prices the cart.
	res.Valid = true
	if slices.Contains(cart.DiscountCodes, code) {
		res.Amount = cart.Discount
	}
	return res, nil
}

func (a *Adapter) ApplyDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, domain.Invalid("code", "required")
	}
	c, err := a.checkVersion(ctx, cartID, version)
	if err != nil {
		return nil, err
	}
	codes := a.toCart(c).DiscountCodes
	if slices.Contains(codes, code) {
		return a.toCart(c), nil
	}
	return a.SetDiscountCodes(ctx, cartID, version, append(codes, code))
}

func (a *Adapter) RemoveDiscount(ctx context.Context, cartID string, version int, code string) (*domain.Cart, error) {
	code = domain.NormalizeCode(code)
	c, err := a.checkVersion(ctx, cartID, version)
	if err != nil {
		return nil, err
	}
	codes := a.toCart(c).DiscountCodes
	i := slices.Index(codes, code)
	if i < 0 {
		return nil, domain.ErrNotFound
	}
	gc, err := a.updateDiscountCodes(ctx, cartID, slices.Delete(codes, i, i+1))
	if err != nil {
		return nil, err
	}
	return a.toCart(gc), nil
}
