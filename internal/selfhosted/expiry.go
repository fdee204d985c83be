package selfhosted

import (
	"context"
	"errors"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/payment"
)

// session loads a checkout session, expiring it first when its TTL has passed.
func (a *Adapter) session(ctx context.Context, id string) (*domain.CheckoutSession, error) {
	s, err := a.checkouts.Get(ctx, a.cfg.TenantID, id)
	if err != nil {
		return nil, err
	}
	return a.refresh(ctx, s)
}

func (a *Adapter) refresh(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	if !s.Expired(a.now()) {
		return s, nil
	}
	out, err := a.expire(ctx, s)
	if err != nil {
		// A processor outage must not make the session unreadable.
		a.logger.Warn().Err(err).Str("checkout", s.ID).Msg("lazy expiry")
		return s, nil
	}
	return out, nil
}

// expire resolves a session whose TTL elapsed. Sessions that never
// reached confirmation are expired outright. An awaiting_payment session
// whose buyer already confirmed on the embedded form is taken over first.
// A session in payment_processing follows the processor's result and is
// only declared expired once the grace window has passed with no result.
func (a *Adapter) expire(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	if s.Status == domain.CheckoutAwaitingPayment && s.PaymentReference != "" {
		intent, err := a.payments.Get(ctx, s.PaymentReference)
		if err != nil {
			return nil, err
		}
		if confirmedByBuyer(intent.Status) {
			next, won, err := a.takeOver(ctx, s, "expiry:"+s.ID)
			if err != nil || !won {
				return next, err
			}
			s = next
		}
	}
	if s.Status.PrePayment() {
		if err := a.settle(ctx, s, domain.CheckoutExpired, "checkout expired"); err != nil {
			return a.reloadOnConflict(ctx, s.ID, err)
		}
		return s, nil
	}
	if s.Status != domain.CheckoutPaymentProcessing {
		return s, nil
	}

	resolved, err := a.resolve(ctx, s)
	if err != nil || resolved.Status.Terminal() {
		return resolved, err
	}
	if a.now().Before(s.ExpiresAt.Add(a.cfg.ProcessingGrace)) {
		return s, nil
	}
	if err := a.settle(ctx, s, domain.CheckoutExpired, "payment did not settle in time"); err != nil {
		return a.reloadOnConflict(ctx, s.ID, err)
	}
	return s, nil
}

// confirmedByBuyer reports whether the intent left the unconfirmed states,
// so the authorization may already hold funds.
func confirmedByBuyer(st payment.IntentStatus) bool {
	switch st {
	case payment.IntentRequiresAction, payment.IntentProcessing, payment.IntentRequiresCapture, payment.IntentSucceeded:
		return true
	}
	return false
}

// takeOver moves an awaiting_payment session to payment_processing for a
// confirmation that happened outside CompleteCheckout. won is false when
// another writer moved the session first; the reloaded session is returned.
func (a *Adapter) takeOver(ctx context.Context, s *domain.CheckoutSession, key string) (*domain.CheckoutSession, bool, error) {
	next := *s
	now := a.now()
	next.Status = domain.CheckoutPaymentProcessing
	next.IdempotencyKey = key
	next.ProcessingSince = &now
	if err := a.transition(ctx, &next, domain.CheckoutAwaitingPayment); err != nil {
		out, err := a.reloadOnConflict(ctx, s.ID, err)
		return out, false, err
	}
	return &next, true, nil
}

// resolve applies the processor's view of a session in payment_processing
// without confirming anything new.
func (a *Adapter) resolve(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	intent, err := a.payments.Get(ctx, s.PaymentReference)
	if err != nil {
		return nil, err
	}
	switch intent.Status {
	case payment.IntentRequiresCapture:
		if _, err := a.payments.Capture(ctx, s.PaymentReference, s.ID+":capture"); err != nil {
			return nil, err
		}
		return a.finalize(ctx, s)
	case payment.IntentSucceeded:
		return a.finalize(ctx, s)
	case payment.IntentCanceled:
		return a.fail(ctx, s, "payment_canceled")
	case payment.IntentRequiresPaymentMethod:
		// Without an error the confirmation has not happened yet.
		if intent.DeclineCode != "" || intent.LastError != "" {
			return a.fail(ctx, s, "payment_declined")
		}
	}
	return s, nil
}

func (a *Adapter) fail(ctx context.Context, s *domain.CheckoutSession, reason string) (*domain.CheckoutSession, error) {
	if err := a.settle(ctx, s, domain.CheckoutFailed, reason); err != nil {
		return a.reloadOnConflict(ctx, s.ID, err)
	}
	return s, nil
}

// ExpireStale resolves every session past its TTL and reports how many
// reached a terminal state.
func (a *Adapter) ExpireStale(ctx context.Context) (int, error) {
	stale, err := a.checkouts.ListExpirable(ctx, a.cfg.TenantID, a.now(), a.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	var (
		closed int
		errs   []error
	)
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		out, err := a.expire(ctx, &stale[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.Status.Terminal() {
			closed++
		}
	}
	if closed > 0 {
		a.logger.Info().Int("closed", closed).Int("scanned", len(stale)).Msg("expired stale checkouts")
	}
	return closed, errors.Join(errs...)
}
