package domain

import "time"

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type BillingInterval struct {
	Unit  string `json:"unit"`
	Count int    `json:"count"`
}

type Subscription struct {
	ID            string             `json:"id"`
	CustomerID    string             `json:"customerId"`
	Status        SubscriptionStatus `json:"status"`
	Lines         []SubscriptionLine `json:"lines"`
	Interval      BillingInterval    `json:"interval"`
	NextBillingAt *time.Time         `json:"nextBillingAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

type SubscriptionLine struct {
	VariantID     string `json:"variantId"`
	SellingPlanID string `json:"sellingPlanId,omitempty"`
	Quantity      int    `json:"quantity"`
	Price         Money  `json:"price"`
}

type SubscriptionInput struct {
	CustomerID    string             `json:"customerId,omitempty"`
	Lines         []SubscriptionLine `json:"lines,omitempty"`
	Interval      *BillingInterval   `json:"interval,omitempty"`
	NextBillingAt *time.Time         `json:"nextBillingAt,omitempty"`
}
