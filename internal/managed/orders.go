package managed

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"commerce-provider/internal/domain"
)

type orderEnvelope struct {
	Order restOrder `json:"order"`
}

type ordersEnvelope struct {
	Orders []restOrder `json:"orders"`
}

type refundsEnvelope struct {
	Refunds []restRefund `json:"refunds"`
}

type refundEnvelope struct {
	Refund restRefund `json:"refund"`
}

type transactionsEnvelope struct {
	Transactions []restTransaction `json:"transactions"`
}

func (a *Adapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var out orderEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "get order", "/orders/"+fromGID(id)+".json", nil, &out); err != nil {
		return nil, err
	}
	o := toOrder(out.Order)
	o.TenantID = a.cfg.TenantID
	return &o, nil
}

func (a *Adapter) ListOrders(ctx context.Context, opts domain.ListOptions) (domain.Page[domain.Order], error) {
	limit := opts.PageLimit(defaultPageSize, maxPageSize)
	params := pageParams(opts, limit)
	params["status"] = "any"
	var out ordersEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "list orders", "/orders.json", nil, &out, func(r *resty.Request) {
		r.SetQueryParams(params)
	}); err != nil {
		return domain.Page[domain.Order]{}, err
	}
	page := domain.Page[domain.Order]{Items: make([]domain.Order, 0, len(out.Orders))}
	for _, ro := range out.Orders {
		o := toOrder(ro)
		o.TenantID = a.cfg.TenantID
		page.Items = append(page.Items, o)
	}
	if len(page.Items) == limit {
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

// CancelOrder cancels on the platform, which also refunds or voids the
// payment. A cancelled order is returned unchanged.
func (a *Adapter) CancelOrder(ctx context.Context, id, idempotencyKey string) (*domain.Order, error) {
	if idempotencyKey == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	o, err := a.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.CancelledAt != nil {
		return o, nil
	}
	if o.FulfillmentStatus == domain.FulfillmentFulfilled {
		return nil, &domain.ProviderPermanentError{Op: "cancel order", Code: "already_fulfilled", Message: "order " + id + " is fulfilled"}
	}
	body := map[string]any{"reason": "customer"}
	if o.FinancialStatus == domain.FinancialPaid || o.FinancialStatus == domain.FinancialPartiallyRefunded {
		body["refund"] = true
	}
	var out orderEnvelope
	if _, err := a.rest(ctx, resty.MethodPost, "cancel order", "/orders/"+fromGID(id)+"/cancel.json", body, &out); err != nil {
		return nil, err
	}
	a.logger.Info().Str("order_id", o.ID).Str("idempotency_key", idempotencyKey).Msg("order cancelled")
	cancelled := toOrder(out.Order)
	cancelled.TenantID = a.cfg.TenantID
	return &cancelled, nil
}

// RefundOrder records the idempotency key in the refund note and looks it
// up before creating another refund.
func (a *Adapter) RefundOrder(ctx context.Context, id string, req domain.RefundRequest) (*domain.Refund, error) {
	if req.IdempotencyKey == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	orderID := fromGID(id)
	o, err := a.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing, err := a.refundByKey(ctx, orderID, o.Currency, req.IdempotencyKey); err != nil || existing != nil {
		return existing, err
	}
	amount := o.Refundable()
	if req.Amount != nil {
		amount = *req.Amount
	}
	check := *o
	if err := check.ApplyRefund(amount); err != nil {
		return nil, err
	}
	parent, err := a.captureTransaction(ctx, orderID)
	if err != nil {
		return nil, err
	}
	note := refundKeyPrefix + req.IdempotencyKey
	if req.Reason != "" {
		note += " " + req.Reason
	}
	body := map[string]any{"refund": map[string]any{
		"note":   note,
		"notify": false,
		"transactions": []map[string]any{{
			"parent_id": parent.ID,
			"amount":    amount.Decimal(),
			"kind":      "refund",
			"gateway":   parent.Gateway,
		}},
	}}
	var out refundEnvelope
	if _, err := a.rest(ctx, resty.MethodPost, "refund order", "/orders/"+orderID+"/refunds.json", body, &out); err != nil {
		return nil, err
	}
	r := toRefund(out.Refund, o.Currency)
	a.logger.Info().Str("order_id", orderID).Str("refund_id", r.ID).Int64("amount", r.Amount.Amount).Msg("order refunded")
	return &r, nil
}

func (a *Adapter) refundByKey(ctx context.Context, orderID, currency, key string) (*domain.Refund, error) {
	var out refundsEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "list refunds", "/orders/"+orderID+"/refunds.json", nil, &out); err != nil {
		return nil, err
	}
	for _, rr := range out.Refunds {
		r := toRefund(rr, currency)
		if r.IdempotencyKey == key {
			return &r, nil
		}
	}
	return nil, nil
}

// captureTransaction returns the successful sale or capture to refund against.
func (a *Adapter) captureTransaction(ctx context.Context, orderID string) (*restTransaction, error) {
	var out transactionsEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "list transactions", "/orders/"+orderID+"/transactions.json", nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Transactions {
		t := &out.Transactions[i]
		if (t.Kind == "sale" || t.Kind == "capture") && t.Status == "success" {
			return t, nil
		}
	}
	return nil, &domain.ProviderPermanentError{Op: "refund order", Code: "no_payment", Message: fmt.Sprintf("order %s has no captured payment", orderID)}
}
