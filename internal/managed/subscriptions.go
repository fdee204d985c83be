package managed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"commerce-provider/internal/domain"
)

const contractFields = `
fragment ContractFields on SubscriptionContract {
  id
  status
  createdAt
  updatedAt
  nextBillingDate
  customer { id }
  billingPolicy { interval intervalCount }
  lines(first: 50) {
    nodes {
      variantId
      sellingPlanId
      quantity
      currentPrice { amount currencyCode }
    }
  }
}`

type gqlContract struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	NextBillingDate *time.Time `json:"nextBillingDate"`
	Customer        *struct {
		ID string `json:"id"`
	} `json:"customer"`
	BillingPolicy struct {
		Interval      string `json:"interval"`
		IntervalCount int    `json:"intervalCount"`
	} `json:"billingPolicy"`
	Lines struct {
		Nodes []struct {
			VariantID     string   `json:"variantId"`
			SellingPlanID string   `json:"sellingPlanId"`
			Quantity      int      `json:"quantity"`
			CurrentPrice  gqlMoney `json:"currentPrice"`
		} `json:"nodes"`
	} `json:"lines"`
}

type contractPayload struct {
	Contract   *gqlContract `json:"contract"`
	UserErrors []userError  `json:"userErrors"`
}

var contractStatuses = map[string]domain.SubscriptionStatus{
	"ACTIVE":    domain.SubscriptionActive,
	"PAUSED":    domain.SubscriptionPaused,
	"CANCELLED": domain.SubscriptionCancelled,
	"EXPIRED":   domain.SubscriptionCancelled,
	"FAILED":    domain.SubscriptionPaused,
}

func toSubscription(c *gqlContract) *domain.Subscription {
	out := &domain.Subscription{
		ID:            fromGID(c.ID),
		Status:        contractStatuses[c.Status],
		NextBillingAt: c.NextBillingDate,
		Interval: domain.BillingInterval{
			Unit:  strings.ToLower(c.BillingPolicy.Interval),
			Count: c.BillingPolicy.IntervalCount,
		},
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.Customer != nil {
		out.CustomerID = fromGID(c.Customer.ID)
	}
	for _, l := range c.Lines.Nodes {
		out.Lines = append(out.Lines, domain.SubscriptionLine{
			VariantID:     fromGID(l.VariantID),
			SellingPlanID: fromGID(l.SellingPlanID),
			Quantity:      l.Quantity,
			Price:         money(l.CurrentPrice.Amount, l.CurrentPrice.CurrencyCode),
		})
	}
	return out
}

func (a *Adapter) requireSubscriptions() error {
	if !a.cfg.Subscriptions {
		return fmt.Errorf("subscriptions: %w", domain.ErrUnsupported)
	}
	return nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, in domain.SubscriptionInput) (*domain.Subscription, error) {
	if err := a.requireSubscriptions(); err != nil {
		return nil, err
	}
	switch {
	case in.CustomerID == "":
		return nil, domain.Invalid("customerId", "required")
	case len(in.Lines) == 0:
		return nil, domain.Invalid("lines", "at least one line is required")
	case in.Interval == nil || in.Interval.Count <= 0:
		return nil, domain.Invalid("interval", "required")
	}
	next := a.now().UTC()
	if in.NextBillingAt != nil {
		next = in.NextBillingAt.UTC()
	}
	policy := map[string]any{
		"interval":      strings.ToUpper(in.Interval.Unit),
		"intervalCount": in.Interval.Count,
	}
	lines := make([]map[string]any, 0, len(in.Lines))
	currency := a.cfg.Currency
	for i, l := range in.Lines {
		if l.VariantID == "" || l.Quantity <= 0 {
			return nil, domain.Invalid(fmt.Sprintf("lines[%d]", i), "variant and positive quantity required")
		}
		line := map[string]any{
			"productVariantId": toGID("ProductVariant", l.VariantID),
			"quantity":         l.Quantity,
			"currentPrice":     l.Price.Decimal(),
		}
		if l.SellingPlanID != "" {
			line["sellingPlanId"] = toGID("SellingPlan", l.SellingPlanID)
		}
		if l.Price.Currency != "" {
			currency = l.Price.Currency
		}
		lines = append(lines, map[string]any{"line": line})
	}
	input := map[string]any{
		"customerId":      toGID("Customer", in.CustomerID),
		"nextBillingDate": next.Format(time.RFC3339),
		"currencyCode":    currency,
		"contract": map[string]any{
			"status":         "ACTIVE",
			"billingPolicy":  policy,
			"deliveryPolicy": policy,
		},
		"lines": lines,
	}
	const q = `mutation($input: SubscriptionContractAtomicCreateInput!) {
  subscriptionContractAtomicCreate(input: $input) { contract { ...ContractFields } userErrors { field message code } }
}` + contractFields
	data, err := graphql[struct {
		Payload contractPayload `json:"subscriptionContractAtomicCreate"`
	}](ctx, a, a.admin, "create subscription", q, map[string]any{"input": input})
	if err != nil {
		return nil, err
	}
	return contractResult(data.Payload)
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if err := a.requireSubscriptions(); err != nil {
		return nil, err
	}
	const q = `query($id: ID!) { subscriptionContract(id: $id) { ...ContractFields } }` + contractFields
	data, err := graphql[struct {
		Contract *gqlContract `json:"subscriptionContract"`
	}](ctx, a, a.admin, "get subscription", q, map[string]any{"id": toGID("SubscriptionContract", id)})
	if err != nil {
		return nil, err
	}
	if data.Contract == nil {
		return nil, fmt.Errorf("subscription %s: %w", id, domain.ErrNotFound)
	}
	return toSubscription(data.Contract), nil
}

// UpdateSubscription only reschedules the next billing date. Line and
// interval changes go through the platform's draft flow, which is not
// exposed.
func (a *Adapter) UpdateSubscription(ctx context.Context, id string, in domain.SubscriptionInput) (*domain.Subscription, error) {
	if err := a.requireSubscriptions(); err != nil {
		return nil, err
	}
	switch {
	case in.CustomerID != "":
		return nil, domain.Invalid("customerId", "cannot be changed")
	case len(in.Lines) > 0:
		return nil, domain.Invalid("lines", "cannot be changed on this backend")
	case in.Interval != nil:
		return nil, domain.Invalid("interval", "cannot be changed on this backend")
	case in.NextBillingAt == nil:
		return a.GetSubscription(ctx, id)
	}
	const q = `mutation($id: ID!, $date: DateTime!) {
  subscriptionContractSetNextBillingDate(contractId: $id, date: $date) { contract { ...ContractFields } userErrors { field message code } }
}` + contractFields
	data, err := graphql[struct {
		Payload contractPayload `json:"subscriptionContractSetNextBillingDate"`
	}](ctx, a, a.admin, "update subscription", q, map[string]any{
		"id":   toGID("SubscriptionContract", id),
		"date": in.NextBillingAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return contractResult(data.Payload)
}

func (a *Adapter) CancelSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return a.contractStatus(ctx, "cancel subscription", "subscriptionContractCancel", id, domain.SubscriptionCancelled)
}

func (a *Adapter) PauseSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return a.contractStatus(ctx, "pause subscription", "subscriptionContractPause", id, domain.SubscriptionPaused)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	return a.contractStatus(ctx, "resume subscription", "subscriptionContractActivate", id, domain.SubscriptionActive)
}

// contractStatus runs one of the status mutations. A contract already in
// the target status is returned without a call; a cancelled contract
// cannot be paused or resumed.
func (a *Adapter) contractStatus(ctx context.Context, op, mutation, id string, target domain.SubscriptionStatus) (*domain.Subscription, error) {
	cur, err := a.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == target {
		return cur, nil
	}
	if cur.Status == domain.SubscriptionCancelled {
		return nil, &domain.ProviderPermanentError{Op: op, Code: "subscription_cancelled", Message: "subscription " + id + " is cancelled"}
	}
	q := `mutation($id: ID!) {
  ` + mutation + `(subscriptionContractId: $id) { contract { ...ContractFields } userErrors { field message code } }
}` + contractFields
	data, err := graphql[map[string]contractPayload](ctx, a, a.admin, op, q, map[string]any{"id": toGID("SubscriptionContract", id)})
	if err != nil {
		return nil, err
	}
	return contractResult(data[mutation])
}

func contractResult(p contractPayload) (*domain.Subscription, error) {
	if err := userErrorsToErr(p.UserErrors); err != nil {
		return nil, err
	}
	if p.Contract == nil {
		return nil, &domain.ProviderPermanentError{Op: "subscription", Code: "empty_response", Message: "no contract returned"}
	}
	return toSubscription(p.Contract), nil
}
