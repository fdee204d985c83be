package domain

import "strings"

type ShippingRate struct {
	Handle string `json:"handle"`
	Title  string `json:"title"`
	Price  Money  `json:"price"`
}

// RateVariant extracts the A/B suffix from titles like "Standard (A)".
// The suffix is " (X)" with a single alphanumeric X; anything else,
// including a bare "(A)", carries no variant.
func RateVariant(title string) string {
	n := len(title)
	if n < 4 || title[n-4:n-2] != " (" || title[n-1] != ')' {
		return ""
	}
	c := title[n-2]
	if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') {
		return string(c)
	}
	return ""
}

// FilterShippingRates hides tagged rates that do not match the cart's
// shipping variant. Untagged rates are always kept; carts with
// subscription lines or without a variant see every rate.
func FilterShippingRates(cart *Cart, rates []ShippingRate) []ShippingRate {
	variant := strings.TrimSpace(cart.Attributes[ShippingVariantAttribute])
	if variant == "" || cart.HasSubscriptionLines() {
		return rates
	}
	out := make([]ShippingRate, 0, len(rates))
	for _, r := range rates {
		tag := RateVariant(r.Title)
		if tag == "" || tag == variant {
			out = append(out, r)
		}
	}
	return out
}
