package domain

import "time"

type FinancialStatus string

const (
	FinancialPending           FinancialStatus = "pending"
	FinancialAuthorized        FinancialStatus = "authorized"
	FinancialPaid              FinancialStatus = "paid"
	FinancialPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialRefunded          FinancialStatus = "refunded"
	FinancialVoided            FinancialStatus = "voided"
)

var financialRank = map[FinancialStatus]int{
	FinancialPending:           0,
	FinancialAuthorized:        1,
	FinancialPaid:              2,
	FinancialPartiallyRefunded: 3,
	FinancialRefunded:          4,
}

// CanAdvanceTo reports whether a financial status may move to next.
// Statuses only move forward; voided is reachable from pending or authorized.
func (s FinancialStatus) CanAdvanceTo(next FinancialStatus) bool {
	if next == FinancialVoided {
		return s == FinancialPending || s == FinancialAuthorized
	}
	if s == FinancialVoided {
		return false
	}
	from, ok := financialRank[s]
	to, ok2 := financialRank[next]
	if !ok || !ok2 {
		return false
	}
	if s == FinancialPartiallyRefunded && next == FinancialPartiallyRefunded {
		return true
	}
	return to > from
}

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled        FulfillmentStatus = "unfulfilled"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentFulfilled          FulfillmentStatus = "fulfilled"
	FulfillmentCancelled          FulfillmentStatus = "cancelled"
)

type Order struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"-"`
	ExternalID        string            `json:"externalId,omitempty"`
	Number            string            `json:"number"`
	CustomerID        *string           `json:"customerId,omitempty"`
	CheckoutID        *string           `json:"checkoutId,omitempty"`
	Email             string            `json:"email,omitempty"`
	Currency          string            `json:"currency"`
	Lines             []OrderLine       `json:"lines"`
	ShippingAddress   *Address          `json:"shippingAddress,omitempty"`
	Totals            Totals            `json:"totals"`
	Refunded          Money             `json:"refunded"`
	FinancialStatus   FinancialStatus   `json:"financialStatus"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	PaymentReference  string            `json:"paymentReference,omitempty"`
	CancelledAt       *time.Time        `json:"cancelledAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type OrderLine struct {
	ID        string `json:"id"`
	ProductID string `json:"productId,omitempty"`
	VariantID string `json:"variantId,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
	Discount  Money  `json:"discount"`
	Total     Money  `json:"total"`
}

// Refundable returns how much of the order total can still be refunded.
func (o *Order) Refundable() Money {
	return NewMoney(o.Totals.Total.Amount-o.Refunded.Amount, o.Currency)
}

// ApplyRefund records amount against the order and advances its financial status.
func (o *Order) ApplyRefund(amount Money) error {
	if amount.Amount <= 0 {
		return Invalid("amount", "must be positive")
	}
	if amount.Currency != o.Currency {
		return Invalid("amount.currency", "must match order currency "+o.Currency)
	}
	if amount.Amount > o.Refundable().Amount {
		return Invalid("amount", "exceeds refundable balance")
	}
	next := FinancialPartiallyRefunded
	if o.Refunded.Amount+amount.Amount == o.Totals.Total.Amount {
		next = FinancialRefunded
	}
	if !o.FinancialStatus.CanAdvanceTo(next) {
		return Invalid("financialStatus", "cannot refund an order that is "+string(o.FinancialStatus))
	}
	o.Refunded = NewMoney(o.Refunded.Amount+amount.Amount, o.Currency)
	o.FinancialStatus = next
	return nil
}

// RefundRequest refunds Amount, or the remaining balance when Amount is nil.
type RefundRequest struct {
	Amount         *Money `json:"amount,omitempty"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type Refund struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"orderId"`
	Amount         Money     `json:"amount"`
	Reason         string    `json:"reason,omitempty"`
	IdempotencyKey string    `json:"-"`
	ProcessorRef   string    `json:"processorRef,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
