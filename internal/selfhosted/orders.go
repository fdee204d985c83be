package selfhosted

import (
	"context"
	"errors"
	"strings"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

func (a *Adapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return a.orders.Get(ctx, a.cfg.TenantID, id)
}

func (a *Adapter) ListOrders(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Order], error) {
	opts.Limit = opts.PageLimit(defaultPageSize, maxPageSize)
	return a.orders.List(ctx, a.cfg.TenantID, opts)
}

// RefundOrder refunds req.Amount, or the remaining balance. A repeated
// idempotency key returns the refund recorded for it.
func (a *Adapter) RefundOrder(ctx context.Context, id string, req domain.RefundRequest) (*domain.Refund, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	o, err := a.orders.Get(ctx, a.cfg.TenantID, id)
	if err != nil {
		return nil, err
	}
	if existing, err := a.orders.GetRefundByKey(ctx, o.ID, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if o.PaymentReference == "" {
		return nil, &domain.ProviderPermanentError{Op: "refund order", Code: "no_payment", Message: "order has no captured payment"}
	}

	amount := o.Refundable()
	if req.Amount != nil {
		amount = domain.NewMoney(req.Amount.Amount, req.Amount.Currency)
	}
	prev := *o
	if err := o.ApplyRefund(amount); err != nil {
		return nil, err
	}
	res, err := a.payments.Refund(ctx, o.PaymentReference, amount, "refund:"+o.ID+":"+key)
	if err != nil {
		return nil, err
	}

	var out *domain.Refund
	err = a.tx.InTx(ctx, func(ctx context.Context) error {
		rf, err := a.orders.CreateRefund(ctx, domain.Refund{
			OrderID:        o.ID,
			Amount:         amount,
			Reason:         req.Reason,
			IdempotencyKey: key,
			ProcessorRef:   res.ID,
		})
		if err != nil {
			return err
		}
		if err := a.orders.UpdateStatus(ctx, *o, prev); err != nil {
			return err
		}
		out = rf
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return a.orders.GetRefundByKey(ctx, o.ID, key)
	}
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("order", o.ID).Int64("amount", amount.Amount).Str("financial_status", string(o.FinancialStatus)).Msg("order refunded")
	return out, nil
}

// CancelOrder cancels fulfillment and returns the money: an uncaptured
// authorization is voided, a captured payment is refunded in full.
func (a *Adapter) CancelOrder(ctx context.Context, id, idempotencyKey string) (*domain.Order, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	o, err := a.orders.Get(ctx, a.cfg.TenantID, id)
	if err != nil {
		return nil, err
	}
	if o.CancelledAt != nil {
		return o, nil
	}
	if o.FulfillmentStatus == domain.FulfillmentFulfilled || o.FulfillmentStatus == domain.FulfillmentPartiallyFulfilled {
		return nil, &domain.ProviderPermanentError{Op: "cancel order", Code: "already_fulfilled", Message: "fulfilled orders cannot be cancelled"}
	}

	switch o.FinancialStatus {
	case domain.FinancialPending, domain.FinancialAuthorized:
		if o.PaymentReference != "" {
			if _, err := a.payments.Cancel(ctx, o.PaymentReference, "cancel:"+o.ID+":"+key); err != nil {
				return nil, err
			}
		}
		prev := *o
		o.FinancialStatus = domain.FinancialVoided
		if err := a.markCancelled(ctx, o, prev); err != nil {
			return nil, err
		}
		return o, nil
	case domain.FinancialPaid, domain.FinancialPartiallyRefunded:
		if _, err := a.RefundOrder(ctx, o.ID, domain.RefundRequest{Reason: "order cancelled", IdempotencyKey: "cancel:" + key}); err != nil {
			return nil, err
		}
		o, err = a.orders.Get(ctx, a.cfg.TenantID, id)
		if err != nil {
			return nil, err
		}
	}
	prev := *o
	if err := a.markCancelled(ctx, o, prev); err != nil {
		return nil, err
	}
	return o, nil
}

func (a *Adapter) markCancelled(ctx context.Context, o *domain.Order, prev domain.Order) error {
	now := a.now()
	o.FulfillmentStatus = domain.FulfillmentCancelled
	o.CancelledAt = &now
	if err := a.orders.UpdateStatus(ctx, *o, prev); err != nil {
		return err
	}
	a.logger.Info().Str("order", o.ID).Str("financial_status", string(o.FinancialStatus)).Msg("order cancelled")
	return nil
}
