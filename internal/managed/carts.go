package managed

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const cartFields = `
fragment CartFields on Cart {
  id
  checkoutUrl
  createdAt
  updatedAt
  buyerIdentity { customer { id } }
  attributes { key value }
  discountCodes { code applicable }
  cost { totalAmount { amount currencyCode } }
  lines(first: 250) {
    nodes {
      id
      quantity
      sellingPlanAllocation { sellingPlan { id } }
      merchandise {
        ... on ProductVariant {
          id
          sku
          title
          price { amount currencyCode }
          product { id title }
        }
      }
    }
  }
}`

type gqlMoney struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type gqlCart struct {
	ID          string    `json:"id"`
	CheckoutURL string    `json:"checkoutUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Buyer       struct {
		Customer *struct {
			ID string `json:"id"`
		} `json:"customer"`
	} `json:"buyerIdentity"`
	Attributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"attributes"`
	DiscountCodes []struct {
		Code       string `json:"code"`
		Applicable bool   `json:"applicable"`
	} `json:"discountCodes"`
	Cost struct {
		TotalAmount gqlMoney `json:"totalAmount"`
	} `json:"cost"`
	Lines struct {
		Nodes []gqlCartLine `json:"nodes"`
	} `json:"lines"`
}

type gqlCartLine struct {
	ID                    string `json:"id"`
	Quantity              int    `json:"quantity"`
	SellingPlanAllocation *struct {
		SellingPlan struct {
			ID string `json:"id"`
		} `json:"sellingPlan"`
	} `json:"sellingPlanAllocation"`
	Merchandise struct {
		ID      string   `json:"id"`
		SKU     string   `json:"sku"`
		Title   string   `json:"title"`
		Price   gqlMoney `json:"price"`
		Product struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"product"`
	} `json:"merchandise"`
}

type cartPayload struct {
	Cart       *gqlCart    `json:"cart"`
	UserErrors []userError `json:"userErrors"`
}

// cartVersion derives the optimistic version from the platform's
// updatedAt, which changes on every cart mutation.
func cartVersion(c *gqlCart) int {
	return int(c.UpdatedAt.UnixMilli())
}

func (a *Adapter) toCart(c *gqlCart) *domain.Cart {
	cur := strings.ToUpper(c.Cost.TotalAmount.CurrencyCode)
	if cur == "" {
		cur = a.cfg.Currency
	}
	out := &domain.Cart{
		ID:         c.ID,
		TenantID:   a.cfg.TenantID,
		ExternalID: c.ID,
		Currency:   cur,
		Status:     domain.CartActive,
		Version:    cartVersion(c),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.Buyer.Customer != nil {
		id := fromGID(c.Buyer.Customer.ID)
		out.CustomerID = &id
	}
	if len(c.Attributes) > 0 {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for _, kv := range c.Attributes {
			out.Attributes[kv.Key] = kv.Value
		}
	}
	for _, d := range c.DiscountCodes {
		if d.Applicable {
			out.DiscountCodes = append(out.DiscountCodes, domain.NormalizeCode(d.Code))
		}
	}
	subtotal := domain.Zero(cur)
	for _, l := range c.Lines.Nodes {
		unit := money(l.Merchandise.Price.Amount, cur)
		line := domain.CartLine{
			ID:        l.ID,
			CartID:    c.ID,
			ProductID: fromGID(l.Merchandise.Product.ID),
			VariantID: fromGID(l.Merchandise.ID),
			SKU:       l.Merchandise.SKU,
			Title:     l.Merchandise.Product.Title,
			Quantity:  l.Quantity,
			UnitPrice: unit,
			LineTotal: unit.Mul(l.Quantity),
		}
		if t := l.Merchandise.Title; t != "" && t != "Default Title" {
			line.Title += " - " + t
		}
		if l.SellingPlanAllocation != nil {
			id := fromGID(l.SellingPlanAllocation.SellingPlan.ID)
			line.SellingPlanID = &id
		}
		subtotal.Amount += line.LineTotal.Amount
		out.Lines = append(out.Lines, line)
	}
	out.Subtotal = subtotal
	out.Total = money(c.Cost.TotalAmount.Amount, cur)
	discount := subtotal.Amount - out.Total.Amount
	if discount < 0 {
		discount = 0
	}
	out.Discount = domain.NewMoney(discount, cur)
	return out
}

func (a *Adapter) CreateCart(ctx context.Context, in provider.CartInput) (*domain.Cart, error) {
	input := map[string]any{}
	var lines []map[string]any
	for _, l := range in.Lines {
		if err := domain.ValidLineQuantity("lines.quantity", l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, lineInput(l))
	}
	if len(lines) > 0 {
		input["lines"] = lines
	}
	if attrs := attributeList(in.Attributes); len(attrs) > 0 {
		input["attributes"] = attrs
	}
	const q = `mutation($input: CartInput!) {
  cartCreate(input: $input) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		CartCreate cartPayload `json:"cartCreate"`
	}](ctx, a, a.storefront, "create cart", q, map[string]any{"input": input})
	if err != nil {
		return nil, err
	}
	return a.cartResult(data.CartCreate)
}

func (a *Adapter) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	c, err := a.fetchCart(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.toCart(c), nil
}

func (a *Adapter) fetchCart(ctx context.Context, id string) (*gqlCart, error) {
	const q = `query($id: ID!) { cart(id: $id) { ...CartFields } }` + cartFields
	data, err := graphql[struct {
		Cart *gqlCart `json:"cart"`
	}](ctx, a, a.storefront, "get cart", q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if data.Cart == nil {
		return nil, fmt.Errorf("cart %s: %w", id, domain.ErrNotFound)
	}
	return data.Cart, nil
}

// checkVersion fetches the cart and rejects a stale caller version. The
// platform has no conditional mutations, so a concurrent write between
// this read and the mutation still wins.
func (a *Adapter) checkVersion(ctx context.Context, cartID string, version int) (*gqlCart, error) {
	c, err := a.fetchCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if actual := cartVersion(c); actual != version {
		return nil, &domain.ConflictError{Entity: "cart", ID: cartID, Expected: version, Actual: actual}
	}
	return c, nil
}

func (a *Adapter) AddLine(ctx context.Context, cartID string, version int, line domain.LineInput) (*domain.Cart, error) {
	if line.VariantID == "" {
		return nil, domain.Invalid("variantId", "required")
	}
	if err := domain.ValidLineQuantity("quantity", line.Quantity); err != nil {
		return nil, err
	}
	if _, err := a.checkVersion(ctx, cartID, version); err != nil {
		return nil, err
	}
	const q = `mutation($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		Payload cartPayload `json:"cartLinesAdd"`
	}](ctx, a, a.storefront, "add cart line", q, map[string]any{
		"cartId": cartID,
		"lines":  []map[string]any{lineInput(line)},
	})
	if err != nil {
		return nil, err
	}
	return a.cartResult(data.Payload)
}

func (a *Adapter) UpdateLine(ctx context.Context, cartID string, version int, lineID string, quantity int) (*domain.Cart, error) {
	if quantity < 0 {
		return nil, domain.Invalid("quantity", "must not be negative")
	}
	if quantity > domain.MaxLineQuantity {
		return nil, domain.ValidLineQuantity("quantity", quantity)
	}
	if quantity == 0 {
		return a.RemoveLine(ctx, cartID, version, lineID)
	}
	if _, err := a.checkVersion(ctx, cartID, version); err != nil {
		return nil, err
	}
	const q = `mutation($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		Payload cartPayload `json:"cartLinesUpdate"`
	}](ctx, a, a.storefront, "update cart line", q, map[string]any{
		"cartId": cartID,
		"lines":  []map[string]any{{"id": lineID, "quantity": quantity}},
	})
	if err != nil {
		return nil, err
	}
	return a.cartResult(data.Payload)
}

func (a *Adapter) RemoveLine(ctx context.Context, cartID string, version int, lineID string) (*domain.Cart, error) {
	c, err := a.checkVersion(ctx, cartID, version)
	if err != nil {
		return nil, err
	}
	found := false
	for _, l := range c.Lines.Nodes {
		if l.ID == lineID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("cart line %s: %w", lineID, domain.ErrNotFound)
	}
	const q = `mutation($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		Payload cartPayload `json:"cartLinesRemove"`
	}](ctx, a, a.storefront, "remove cart line", q, map[string]any{
		"cartId":  cartID,
		"lineIds": []string{lineID},
	})
	if err != nil {
		return nil, err
	}
	return a.cartResult(data.Payload)
}

// SetAttributes merges attrs into the cart's attributes. The platform
// replaces the whole set, so the merge happens here. An empty value
// deletes the key.
func (a *Adapter) SetAttributes(ctx context.Context, cartID string, version int, attrs map[string]string) (*domain.Cart, error) {
	c, err := a.checkVersion(ctx, cartID, version)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(c.Attributes)+len(attrs))
	for _, kv := range c.Attributes {
		merged[kv.Key] = kv.Value
	}
	for k, v := range attrs {
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	const q = `mutation($cartId: ID!, $attributes: [AttributeInput!]!) {
  cartAttributesUpdate(cartId: $cartId, attributes: $attributes) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		Payload cartPayload `json:"cartAttributesUpdate"`
	}](ctx, a, a.storefront, "set cart attributes", q, map[string]any{
		"cartId":     cartID,
		"attributes": attributeList(merged),
	})
	if err != nil {
		return nil, err
	}
	return a.cartResult(data.Payload)
}

// SetDiscountCodes replaces the cart's codes. A code the platform reports
// as not applicable fails the call.
func (a *Adapter) SetDiscountCodes(ctx context.Context, cartID string, version int, codes []string) (*domain.Cart, error) {
	if _, err := a.checkVersion(ctx, cartID, version); err != nil {
		return nil, err
	}
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = domain.NormalizeCode(c); c != "" {
			normalized = append(normalized, c)
		}
	}
	gc, err := a.updateDiscountCodes(ctx, cartID, normalized)
	if err != nil {
		return nil, err
	}
	for _, d := range gc.DiscountCodes {
		if !d.Applicable {
			return nil, domain.Invalid("discountCodes."+domain.NormalizeCode(d.Code), "code is not applicable to this cart")
		}
	}
	return a.toCart(gc), nil
}

func (a *Adapter) updateDiscountCodes(ctx context.Context, cartID string, codes []string) (*gqlCart, error) {
	const q = `mutation($cartId: ID!, $codes: [String!]) {
  cartDiscountCodesUpdate(cartId: $cartId, discountCodes: $codes) { cart { ...CartFields } userErrors { field message code } }
}` + cartFields
	data, err := graphql[struct {
		Payload cartPayload `json:"cartDiscountCodesUpdate"`
	}](ctx, a, a.storefront, "set discount codes", q, map[string]any{
		"cartId": cartID,
		"codes":  codes,
	})
	if err != nil {
		return nil, err
	}
	if err := userErrorsToErr(data.Payload.UserErrors); err != nil {
		return nil, err
	}
	if data.Payload.Cart == nil {
		return nil, fmt.Errorf("cart %s: %w", cartID, domain.ErrNotFound)
	}
	return data.Payload.Cart, nil
}

func (a *Adapter) cartResult(p cartPayload) (*domain.Cart, error) {
	if err := userErrorsToErr(p.UserErrors); err != nil {
		return nil, err
	}
	if p.Cart == nil {
		return nil, &domain.ProviderPermanentError{Op: "cart", Code: "empty_response", Message: "no cart returned"}
	}
	return a.toCart(p.Cart), nil
}

func lineInput(l domain.LineInput) map[string]any {
	in := map[string]any{
		"merchandiseId": toGID("ProductVariant", l.VariantID),
		"quantity":      l.Quantity,
	}
	if l.SellingPlanID != nil && *l.SellingPlanID != "" {
		in["sellingPlanId"] = toGID("SellingPlan", *l.SellingPlanID)
	}
	return in
}

func attributeList(attrs map[string]string) []map[string]string {
	out := make([]map[string]string, 0, len(attrs))
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		if v := attrs[k]; v != "" {
			out = append(out, map[string]string{"key": k, "value": v})
		}
	}
	return out
}
