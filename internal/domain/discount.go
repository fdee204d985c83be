package domain

import (
	"strings"
	"time"
)

type DiscountType string

const (
	// DiscountPercentage values are basis points (1000 = 10%).
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount values are minor units of Currency.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

type DiscountCode struct {
	ID          string       `json:"id"`
	TenantID    string       `json:"-"`
	ExternalID  string       `json:"externalId,omitempty"`
	Code        string       `json:"code"`
	Type        DiscountType `json:"type"`
	Value       int64        `json:"value"`
	Currency    string       `json:"currency,omitempty"`
	MinSubtotal int64        `json:"minSubtotal,omitempty"`
	UsageLimit  *int         `json:"usageLimit,omitempty"`
	UsageCount  int          `json:"usageCount"`
	StartsAt    *time.Time   `json:"startsAt,omitempty"`
	EndsAt      *time.Time   `json:"endsAt,omitempty"`
	Active      bool         `json:"active"`
}

// DiscountResult is returned by discount validation.
type DiscountResult struct {
	Code   string `json:"code"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Amount Money  `json:"amount"`
}

// NormalizeCode folds a code for case-insensitive lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Eligible returns a ValidationError naming why the code cannot apply to subtotal.
func (d DiscountCode) Eligible(subtotal Money, now time.Time) error {
	field := "discountCodes." + d.Code
	switch {
	case !d.Active:
		return Invalid(field, "code is not active")
	case d.StartsAt != nil && now.Before(*d.StartsAt):
		return Invalid(field, "code is not active yet")
	case d.EndsAt != nil && !now.Before(*d.EndsAt):
		return Invalid(field, "code has expired")
	case d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit:
		return Invalid(field, "usage limit reached")
	case d.Type == DiscountFixedAmount && !strings.EqualFold(d.Currency, subtotal.Currency):
		return Invalid(field, "code is not valid for currency "+subtotal.Currency)
	case subtotal.Amount < d.MinSubtotal:
		return Invalid(field, "cart subtotal below minimum")
	case d.Type != DiscountPercentage && d.Type != DiscountFixedAmount:
		return Invalid(field, "unknown discount type "+string(d.Type))
	}
	return nil
}

// AmountFor returns the discount for subtotal, never more than subtotal.
func (d DiscountCode) AmountFor(subtotal Money) Money {
	var amount Money
	switch d.Type {
	case DiscountPercentage:
		amount = subtotal.BasisPoints(d.Value)
	case DiscountFixedAmount:
		amount = NewMoney(d.Value, subtotal.Currency)
	default:
		return Zero(subtotal.Currency)
	}
	if amount.Amount > subtotal.Amount {
		amount.Amount = subtotal.Amount
	}
	return amount
}
