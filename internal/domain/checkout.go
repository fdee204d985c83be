package domain

import "time"

type CheckoutStatus string

const (
	CheckoutDraft              CheckoutStatus = "draft"
	CheckoutCollectingShipping CheckoutStatus = "collecting_shipping"
	CheckoutCalculatingTax     CheckoutStatus = "calculating_tax"
	CheckoutAwaitingPayment    CheckoutStatus = "awaiting_payment"
	CheckoutPaymentProcessing  CheckoutStatus = "payment_processing"
	CheckoutCompleted          CheckoutStatus = "completed"
	CheckoutFailed             CheckoutStatus = "failed"
	CheckoutExpired            CheckoutStatus = "expired"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutDraft:              {CheckoutCollectingShipping, CheckoutFailed, CheckoutExpired},
	CheckoutCollectingShipping: {CheckoutCalculatingTax, CheckoutFailed, CheckoutExpired},
	CheckoutCalculatingTax:     {CheckoutAwaitingPayment, CheckoutFailed, CheckoutExpired},
	CheckoutAwaitingPayment:    {CheckoutPaymentProcessing, CheckoutFailed, CheckoutExpired},
	CheckoutPaymentProcessing:  {CheckoutCompleted, CheckoutFailed, CheckoutExpired},
}

// Terminal reports whether the status is absorbing.
func (s CheckoutStatus) Terminal() bool {
	return s == CheckoutCompleted || s == CheckoutFailed || s == CheckoutExpired
}

// PrePayment reports whether no payment confirmation has been attempted yet.
func (s CheckoutStatus) PrePayment() bool {
	switch s {
	case CheckoutDraft, CheckoutCollectingShipping, CheckoutCalculatingTax, CheckoutAwaitingPayment:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to CheckoutStatus) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Totals is the price breakdown frozen into a checkout or order.
type Totals struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Shipping Money `json:"shipping"`
	Tax      Money `json:"tax"`
	Total    Money `json:"total"`
}

// Sum recomputes Total from its components.
func (t *Totals) Sum() {
	t.Total = NewMoney(t.Subtotal.Amount-t.Discount.Amount+t.Shipping.Amount+t.Tax.Amount, t.Subtotal.Currency)
}

type CheckoutSession struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"-"`
	CartID           string         `json:"cartId"`
	Status           CheckoutStatus `json:"status"`
	Email            string         `json:"email,omitempty"`
	ShippingAddress  *Address       `json:"shippingAddress,omitempty"`
	ShippingRates    []ShippingRate `json:"shippingRates,omitempty"`
	ShippingRate     *ShippingRate  `json:"shippingRate,omitempty"`
	DiscountCodes    []string       `json:"discountCodes,omitempty"`
	Totals           Totals         `json:"totals"`
	PaymentReference string         `json:"paymentReference,omitempty"`
	ClientSecret     string         `json:"-"`
	IdempotencyKey   string         `json:"-"`
	// DiscountsReserved is set while the session holds discount usage.
	DiscountsReserved bool       `json:"-"`
	ProcessingSince   *time.Time `json:"-"`
	OrderID           *string    `json:"orderId,omitempty"`
	FailureReason     string     `json:"failureReason,omitempty"`
	Version           int        `json:"version"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Expired reports whether the session TTL has elapsed at now.
func (s *CheckoutSession) Expired(now time.Time) bool {
	return !s.Status.Terminal() && !now.Before(s.ExpiresAt)
}

// CheckoutStep is the input for advancing a self-hosted checkout one step.
type CheckoutStep struct {
	Email              string   `json:"email,omitempty"`
	ShippingAddress    *Address `json:"shippingAddress,omitempty"`
	ShippingRateHandle string   `json:"shippingRateHandle,omitempty"`
}

// PaymentDetails carries the tokenized payment method for completion.
type PaymentDetails struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

type TargetKind string

const (
	TargetRedirect TargetKind = "redirect"
	TargetEmbedded TargetKind = "embedded"
)

// CheckoutTarget tells the storefront where payment happens.
type CheckoutTarget struct {
	Kind         TargetKind `json:"kind"`
	URL          string     `json:"url,omitempty"`
	ClientSecret string     `json:"clientSecret,omitempty"`
	SessionID    string     `json:"sessionId"`
}
