package selfhosted

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/payment"
)

const signatureHeader = "Stripe-Signature"

func (a *Adapter) VerifyWebhook(_ context.Context, raw domain.RawWebhook) error {
	_, err := a.payments.VerifyEvent(raw.Body, raw.Header(signatureHeader))
	return err
}

// ParseWebhook verifies a processor event and maps it onto the checkout or
// order it concerns. It does not modify any state.
func (a *Adapter) ParseWebhook(ctx context.Context, raw domain.RawWebhook) (*domain.WebhookEvent, error) {
	ev, err := a.payments.VerifyEvent(raw.Body, raw.Header(signatureHeader))
	if err != nil {
		return nil, err
	}
	var typ domain.EventType
	switch ev.Type {
	case payment.EventPaymentSucceeded:
		typ = domain.EventCheckoutCompleted
	case payment.EventPaymentCapturable:
		typ = domain.EventPaymentAuthorized
	case payment.EventPaymentFailed, payment.EventPaymentCanceled:
		typ = domain.EventCheckoutFailed
	case payment.EventChargeRefunded:
		typ = domain.EventOrderRefunded
	default:
		return nil, fmt.Errorf("stripe event %s: %w", ev.Type, domain.ErrUnhandledEvent)
	}
	if ev.IntentID == "" {
		return nil, fmt.Errorf("stripe event %s has no payment intent: %w", ev.ID, domain.ErrUnhandledEvent)
	}

	s, err := a.checkouts.GetByPaymentReference(ctx, a.cfg.TenantID, ev.IntentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("payment intent %s has no checkout: %w", ev.IntentID, domain.ErrUnhandledEvent)
	}
	if err != nil {
		return nil, err
	}

	out := &domain.WebhookEvent{
		ID:              uuid.NewSHA1(uuid.NameSpaceURL, []byte("stripe:"+a.cfg.TenantID+":"+ev.ID)).String(),
		ProviderEventID: ev.ID,
		TenantID:        a.cfg.TenantID,
		Type:            typ,
		ObjectType:      "checkout",
		ObjectID:        s.ID,
		Payload:         ev.Raw,
		OccurredAt:      ev.Created,
	}
	if typ == domain.EventOrderRefunded {
		if s.OrderID == nil {
			return nil, fmt.Errorf("refund for checkout %s without an order: %w", s.ID, domain.ErrUnhandledEvent)
		}
		out.ObjectType = "order"
		out.ObjectID = *s.OrderID
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = a.now().UTC()
	}
	return out, nil
}

// ProcessWebhook applies a parsed event. The processor is asked for the
// current intent state, so replays and out-of-order deliveries converge on
// the same result.
func (a *Adapter) ProcessWebhook(ctx context.Context, ev *domain.WebhookEvent) error {
	switch ev.Type {
	case domain.EventCheckoutCompleted, domain.EventPaymentAuthorized, domain.EventCheckoutFailed:
		s, err := a.checkouts.Get(ctx, a.cfg.TenantID, ev.ObjectID)
		if err != nil {
			return err
		}
		_, err = a.settleFromProcessor(ctx, s, ev.ProviderEventID)
		return err
	case domain.EventOrderRefunded:
		return a.syncRefund(ctx, ev)
	}
	return fmt.Errorf("process %s: %w", ev.Type, domain.ErrUnhandledEvent)
}

func (a *Adapter) settleFromProcessor(ctx context.Context, s *domain.CheckoutSession, eventID string) (*domain.CheckoutSession, error) {
	switch s.Status {
	case domain.CheckoutAwaitingPayment:
		intent, err := a.payments.Get(ctx, s.PaymentReference)
		if err != nil {
			return nil, err
		}
		switch intent.Status {
		case payment.IntentRequiresCapture, payment.IntentSucceeded, payment.IntentCanceled:
		default:
			return s, nil
		}
		// The buyer confirmed on the embedded form without calling
		// CompleteCheckout.
		next, won, err := a.takeOver(ctx, s, "webhook:"+eventID)
		if err != nil || !won {
			return next, err
		}
		return a.resolve(ctx, next)
	case domain.CheckoutPaymentProcessing:
		return a.resolve(ctx, s)
	}
	return s, nil
}

type chargePayload struct {
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
}

// syncRefund records refunds issued directly on the processor.
func (a *Adapter) syncRefund(ctx context.Context, ev *domain.WebhookEvent) error {
	var charge chargePayload
	if err := json.Unmarshal(ev.Payload, &charge); err != nil {
		return domain.Invalid("payload", "malformed charge: "+err.Error())
	}
	o, err := a.orders.Get(ctx, a.cfg.TenantID, ev.ObjectID)
	if err != nil {
		return err
	}
	missing := charge.AmountRefunded - o.Refunded.Amount
	if missing <= 0 {
		return nil
	}
	prev := *o
	amount := domain.NewMoney(missing, o.Currency)
	if err := o.ApplyRefund(amount); err != nil {
		return err
	}
	key := "processor:" + ev.ProviderEventID
	err = a.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := a.orders.CreateRefund(ctx, domain.Refund{
			OrderID:        o.ID,
			Amount:         amount,
			Reason:         "refunded on processor",
			IdempotencyKey: key,
			ProcessorRef:   ev.ProviderEventID,
		}); err != nil {
			return err
		}
		return a.orders.UpdateStatus(ctx, *o, prev)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil
	}
	if isConflict(err) {
		// A concurrent refund moved the order; the next delivery re-checks.
		return fmt.Errorf("sync refund for order %s: %w", o.ID, err)
	}
	return err
}
