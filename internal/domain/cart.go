package domain

import (
	"strconv"
	"time"
)

type CartStatus string

const (
	CartActive CartStatus = "active"
	// CartCheckingOut means a non-terminal checkout session owns the cart.
	CartCheckingOut CartStatus = "checking_out"
	CartConverted   CartStatus = "converted"
)

// ShippingVariantAttribute is the cart attribute that selects the shipping A/B bucket.
const ShippingVariantAttribute = "_shipping_variant"

type Cart struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"-"`
	ExternalID    string            `json:"externalId,omitempty"`
	CustomerID    *string           `json:"customerId,omitempty"`
	Currency      string            `json:"currency"`
	Status        CartStatus        `json:"status"`
	Version       int               `json:"version"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	DiscountCodes []string          `json:"discountCodes,omitempty"`
	Lines         []CartLine        `json:"lines"`
	Subtotal      Money             `json:"subtotal"`
	Discount      Money             `json:"discount"`
	Total         Money             `json:"total"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

type CartLine struct {
	ID            string  `json:"id"`
	CartID        string  `json:"cartId"`
	ProductID     string  `json:"productId"`
	VariantID     string  `json:"variantId"`
	SKU           string  `json:"sku,omitempty"`
	Title         string  `json:"title"`
	Quantity      int     `json:"quantity"`
	UnitPrice     Money   `json:"unitPrice"`
	LineTotal     Money   `json:"lineTotal"`
	SellingPlanID *string `json:"sellingPlanId,omitempty"`
}

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 10000

// ValidLineQuantity rejects quantities outside 1..MaxLineQuantity.
func ValidLineQuantity(field string, q int) error {
	switch {
	case q <= 0:
		return Invalid(field, "must be positive")
	case q > MaxLineQuantity:
		return Invalid(field, "must not exceed "+strconv.Itoa(MaxLineQuantity))
	}
	return nil
}

// LineInput adds a variant to a cart.
type LineInput struct {
	VariantID     string  `json:"variantId"`
	Quantity      int     `json:"quantity"`
	SellingPlanID *string `json:"sellingPlanId,omitempty"`
}

// Editable reports whether line, attribute or discount mutations are allowed.
func (c *Cart) Editable() bool {
	return c.Status == CartActive
}

// HasSubscriptionLines reports whether any line is bought on a selling plan.
func (c *Cart) HasSubscriptionLines() bool {
	for _, l := range c.Lines {
		if l.SellingPlanID != nil && *l.SellingPlanID != "" {
			return true
		}
	}
	return false
}

// Reprice recomputes line totals and the subtotal. Lines with a
// non-positive quantity are dropped.
func (c *Cart) Reprice() {
	kept := c.Lines[:0]
	subtotal := Zero(c.Currency)
	for _, l := range c.Lines {
		if l.Quantity <= 0 {
			continue
		}
		l.LineTotal = l.UnitPrice.Mul(l.Quantity)
		subtotal.Amount += l.LineTotal.Amount
		kept = append(kept, l)
	}
	c.Lines = kept
	c.Subtotal = subtotal
	if c.Discount.Currency == "" {
		c.Discount = Zero(c.Currency)
	}
	c.Total = Money{Amount: c.Subtotal.Amount - c.Discount.Amount, Currency: c.Currency}
}

// ApplyDiscounts reprices the cart and sets the combined discount of codes.
// Each code is evaluated against the undiscounted subtotal and the sum is
// capped at the subtotal.
func (c *Cart) ApplyDiscounts(codes []DiscountCode, now time.Time) error {
	c.Discount = Zero(c.Currency)
	c.Reprice()
	var total int64
	for _, d := range codes {
		if err := d.Eligible(c.Subtotal, now); err != nil {
			return err
		}
		total += d.AmountFor(c.Subtotal).Amount
	}
	if total > c.Subtotal.Amount {
		total = c.Subtotal.Amount
	}
	c.Discount = NewMoney(total, c.Currency)
	c.Total = NewMoney(c.Subtotal.Amount-total, c.Currency)
	return nil
}
