package provider

import "slices"

type Capability string

const (
	CapSubscriptions     Capability = "subscriptions"
	CapCheckoutSteps     Capability = "checkout_steps"
	CapRedirectCheckout  Capability = "redirect_checkout"
	CapEmbeddedCheckout  Capability = "embedded_checkout"
	CapPartialRefunds    Capability = "partial_refunds"
	CapProductSearch     Capability = "product_search"
	CapShippingABFilter  Capability = "shipping_ab_filter"
	CapCustomerPasswords Capability = "customer_passwords"
)

// CapabilitySet is the set of optional features an adapter supports.
type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
