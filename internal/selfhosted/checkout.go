package selfhosted

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/payment"
)

// CreateCheckout opens a session for the cart and locks the cart. An
// existing non-terminal session for the cart is returned instead.
func (a *Adapter) CreateCheckout(ctx context.Context, cartID string) (*domain.CheckoutSession, error) {
	existing, err := a.checkouts.GetActiveByCart(ctx, a.cfg.TenantID, cartID)
	switch {
	case err == nil:
		s, err := a.refresh(ctx, existing)
		if err != nil {
			return nil, err
		}
		if !s.Status.Terminal() {
			return s, nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	c, err := a.carts.Get(ctx, a.cfg.TenantID, cartID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CartActive {
		return nil, domain.Invalid("cart", "cart is "+string(c.Status))
	}
	if len(c.Lines) == 0 {
		return nil, domain.Invalid("cart", "cart is empty")
	}
	if err := a.reprice(ctx, c, false); err != nil {
		return nil, err
	}

	s := domain.CheckoutSession{
		ID:            uuid.NewString(),
		TenantID:      a.cfg.TenantID,
		CartID:        c.ID,
		Status:        domain.CheckoutDraft,
		DiscountCodes: c.DiscountCodes,
		Totals: domain.Totals{
			Subtotal: c.Subtotal,
			Discount: c.Discount,
			Shipping: domain.Zero(c.Currency),
			Tax:      domain.Zero(c.Currency),
		},
		ExpiresAt: a.now().Add(a.cfg.CheckoutTTL),
	}
	s.Totals.Sum()

	var created *domain.CheckoutSession
	err = a.tx.InTx(ctx, func(ctx context.Context) error {
		out, err := a.checkouts.Create(ctx, s)
		if err != nil {
			return err
		}
		if err := a.carts.SetStatus(ctx, a.cfg.TenantID, c.ID, domain.CartActive, domain.CartCheckingOut); err != nil {
			return err
		}
		created = out
		return nil
	})
	if isConflict(err) {
		// Lost the race to another request for the same cart.
		if winner, gerr := a.checkouts.GetActiveByCart(ctx, a.cfg.TenantID, cartID); gerr == nil {
			return winner, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("checkout", created.ID).Str("cart", c.ID).Msg("checkout created")
	return created, nil
}

func (a *Adapter) GetCheckoutStatus(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	return a.session(ctx, sessionID)
}

// GetCheckoutTarget returns the embedded payment target once the session
// holds an authorization.
func (a *Adapter) GetCheckoutTarget(ctx context.Context, sessionID string) (*domain.CheckoutTarget, error) {
	s, err := a.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.CheckoutAwaitingPayment, domain.CheckoutPaymentProcessing:
		return &domain.CheckoutTarget{Kind: domain.TargetEmbedded, ClientSecret: s.ClientSecret, SessionID: s.ID}, nil
	case domain.CheckoutCompleted, domain.CheckoutFailed, domain.CheckoutExpired:
		return nil, closedError("checkout target", s)
	}
	return nil, domain.Invalid("checkout", "checkout is "+string(s.Status)+"; advance it to awaiting_payment first")
}

// AdvanceCheckout moves the session one step towards awaiting_payment.
func (a *Adapter) AdvanceCheckout(ctx context.Context, sessionID string, step domain.CheckoutStep) (*domain.CheckoutSession, error) {
	s, err := a.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.CheckoutDraft:
		return a.collectShipping(ctx, s, step)
	case domain.CheckoutCollectingShipping:
		return a.selectShipping(ctx, s, step)
	case domain.CheckoutCalculatingTax:
		return a.authorize(ctx, s)
	case domain.CheckoutAwaitingPayment, domain.CheckoutPaymentProcessing:
		return s, nil
	}
	return nil, closedError("advance checkout", s)
}

func (a *Adapter) collectShipping(ctx context.Context, s *domain.CheckoutSession, step domain.CheckoutStep) (*domain.CheckoutSession, error) {
	email := strings.TrimSpace(step.Email)
	if email == "" {
		email = s.Email
	}
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if step.ShippingAddress == nil {
		return nil, domain.Invalid("shippingAddress", "required")
	}
	if err := step.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	c, err := a.carts.Get(ctx, a.cfg.TenantID, s.CartID)
	if err != nil {
		return nil, err
	}
	rates := a.ratesFor(c)
	if len(rates) == 0 {
		return nil, &domain.ProviderPermanentError{Op: "advance checkout", Code: "no_shipping_rates", Message: "no shipping rates for " + step.ShippingAddress.CountryCode}
	}

	next := *s
	next.Status = domain.CheckoutCollectingShipping
	next.Email = email
	addr := *step.ShippingAddress
	addr.CountryCode = strings.ToUpper(addr.CountryCode)
	next.ShippingAddress = &addr
	next.ShippingRates = rates
	if err := a.transition(ctx, &next, s.Status); err != nil {
		return a.reloadOnConflict(ctx, s.ID, err)
	}
	return &next, nil
}

func (a *Adapter) ratesFor(c *domain.Cart) []domain.ShippingRate {
	priced := make([]domain.ShippingRate, 0, len(a.cfg.ShippingRates))
	for _, r := range a.cfg.ShippingRates {
		if r.Price.Currency == c.Currency {
			priced = append(priced, r)
		}
	}
	return domain.FilterShippingRates(c, priced)
}

func (a *Adapter) selectShipping(ctx context.Context, s *domain.CheckoutSession, step domain.CheckoutStep) (*domain.CheckoutSession, error) {
	if step.ShippingRateHandle == "" {
		return nil, domain.Invalid("shippingRateHandle", "required")
	}
	var rate *domain.ShippingRate
	for i := range s.ShippingRates {
		if s.ShippingRates[i].Handle == step.ShippingRateHandle {
			rate = &s.ShippingRates[i]
			break
		}
	}
	if rate == nil {
		return nil, domain.Invalid("shippingRateHandle", "unknown shipping rate "+step.ShippingRateHandle)
	}
	next := *s
	selected := *rate
	next.ShippingRate = &selected
	next.Totals.Shipping = selected.Price
	next.Totals.Sum()
	next.Status = domain.CheckoutCalculatingTax
	if err := a.transition(ctx, &next, s.Status); err != nil {
		return a.reloadOnConflict(ctx, s.ID, err)
	}
	return a.authorize(ctx, &next)
}

// authorize computes tax, checks stock, creates the manual-capture
// authorization and reserves discount usage.
func (a *Adapter) authorize(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	c, err := a.carts.Get(ctx, a.cfg.TenantID, s.CartID)
	if err != nil {
		return nil, err
	}
	if err := a.checkInventory(ctx, c); err != nil {
		var perm *domain.ProviderPermanentError
		if errors.As(err, &perm) {
			if ferr := a.settle(ctx, s, domain.CheckoutFailed, perm.Code); ferr != nil && !isConflict(ferr) {
				return nil, ferr
			}
		}
		return nil, err
	}

	next := *s
	next.Totals.Tax = a.tax(&next)
	next.Totals.Sum()
	intent, err := a.payments.Authorize(ctx, payment.AuthorizeRequest{
		SessionID:      s.ID,
		Amount:         next.Totals.Total,
		Email:          s.Email,
		IdempotencyKey: s.ID,
		Metadata: map[string]string{
			"tenant_id":   a.cfg.TenantID,
			"checkout_id": s.ID,
			"cart_id":     s.CartID,
		},
	})
	if err != nil {
		return nil, err
	}
	next.Status = domain.CheckoutAwaitingPayment
	next.PaymentReference = intent.ID
	next.ClientSecret = intent.ClientSecret
	next.DiscountsReserved = len(next.DiscountCodes) > 0

	err = a.tx.InTx(ctx, func(ctx context.Context) error {
		if next.DiscountsReserved {
			if err := a.discounts.Reserve(ctx, a.cfg.TenantID, next.DiscountCodes); err != nil {
				return err
			}
		}
		return a.transition(ctx, &next, domain.CheckoutCalculatingTax)
	})
	var invalid *domain.ValidationError
	switch {
	case err == nil:
		a.logger.Info().Str("checkout", s.ID).Str("payment_ref", intent.ID).Int64("total", next.Totals.Total.Amount).Msg("payment authorized")
		return &next, nil
	case isConflict(err):
		return a.checkouts.Get(ctx, a.cfg.TenantID, s.ID)
	case errors.As(err, &invalid):
		failed := *s
		failed.PaymentReference = intent.ID
		if ferr := a.settle(ctx, &failed, domain.CheckoutFailed, "discount_unavailable"); ferr != nil && !isConflict(ferr) {
			return nil, ferr
		}
		return nil, &domain.ProviderPermanentError{Op: "advance checkout", Code: "discount_unavailable", Message: invalid.Reason}
	}
	return nil, err
}

func (a *Adapter) tax(s *domain.CheckoutSession) domain.Money {
	currency := s.Totals.Subtotal.Currency
	if s.ShippingAddress == nil {
		return domain.Zero(currency)
	}
	bps, ok := a.cfg.TaxRates[s.ShippingAddress.CountryCode]
	if !ok {
		return domain.Zero(currency)
	}
	taxable := s.Totals.Subtotal.Amount - s.Totals.Discount.Amount + s.Totals.Shipping.Amount
	return domain.NewMoney(taxable, currency).BasisPoints(bps)
}

func (a *Adapter) checkInventory(ctx context.Context, c *domain.Cart) error {
	wanted := map[string]int{}
	for _, l := range c.Lines {
		wanted[l.VariantID] += l.Quantity
	}
	for variantID, qty := range wanted {
		p, err := a.products.GetByVariantID(ctx, a.cfg.TenantID, variantID)
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ProviderPermanentError{Op: "advance checkout", Code: "insufficient_inventory", Message: "variant " + variantID + " no longer exists"}
		}
		if err != nil {
			return err
		}
		v, ok := p.FindVariant(variantID)
		if !ok || v.InventoryQuantity < qty {
			return &domain.ProviderPermanentError{Op: "advance checkout", Code: "insufficient_inventory", Message: "not enough stock for " + p.Title}
		}
	}
	return nil
}

// CompleteCheckout confirms and captures the session's authorization and
// creates the order. Calls repeated with the same key resume the same
// attempt; a different key while one is in flight is a conflict.
func (a *Adapter) CompleteCheckout(ctx context.Context, sessionID, idempotencyKey string, pd domain.PaymentDetails) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, domain.Invalid("idempotencyKey", "required")
	}
	s, err := a.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.Status {
	case domain.CheckoutCompleted:
		return s, nil
	case domain.CheckoutFailed, domain.CheckoutExpired:
		return nil, closedError("complete checkout", s)
	case domain.CheckoutPaymentProcessing:
		if s.IdempotencyKey != idempotencyKey {
			return nil, &domain.ConflictError{Entity: "checkout", ID: s.ID}
		}
		return a.drive(ctx, s, pd)
	case domain.CheckoutAwaitingPayment:
	default:
		return nil, domain.Invalid("checkout", "checkout is "+string(s.Status)+"; advance it to awaiting_payment first")
	}

	next := *s
	now := a.now()
	next.Status = domain.CheckoutPaymentProcessing
	next.IdempotencyKey = idempotencyKey
	next.ProcessingSince = &now
	if err := a.transition(ctx, &next, domain.CheckoutAwaitingPayment); err != nil {
		if !isConflict(err) {
			return nil, err
		}
		cur, gerr := a.checkouts.Get(ctx, a.cfg.TenantID, s.ID)
		if gerr != nil {
			return nil, gerr
		}
		switch {
		case cur.Status == domain.CheckoutCompleted:
			return cur, nil
		case cur.Status == domain.CheckoutPaymentProcessing && cur.IdempotencyKey == idempotencyKey:
			return a.drive(ctx, cur, pd)
		}
		return nil, err
	}
	return a.drive(ctx, &next, pd)
}

const maxDriveSteps = 4

// drive pushes the processor-side intent forward until it settles or
// needs the buyer. Keys derive from the session id so concurrent drivers
// collapse onto one confirmation and one capture.
func (a *Adapter) drive(ctx context.Context, s *domain.CheckoutSession, pd domain.PaymentDetails) (*domain.CheckoutSession, error) {
	intent, err := a.payments.Get(ctx, s.PaymentReference)
	if err != nil {
		return nil, err
	}
	for range maxDriveSteps {
		switch intent.Status {
		case payment.IntentRequiresPaymentMethod, payment.IntentRequiresConfirmation:
			if pd.PaymentMethodID == "" {
				return nil, domain.Invalid("paymentMethodId", "required")
			}
			intent, err = a.payments.Confirm(ctx, s.PaymentReference, pd.PaymentMethodID, s.ID+":confirm")
			if err != nil {
				return nil, a.confirmFailed(ctx, s, err)
			}
		case payment.IntentRequiresCapture:
			intent, err = a.payments.Capture(ctx, s.PaymentReference, s.ID+":capture")
			if err != nil {
				return nil, err
			}
		case payment.IntentSucceeded:
			return a.finalize(ctx, s)
		case payment.IntentProcessing, payment.IntentRequiresAction:
			return s, nil
		case payment.IntentCanceled:
			if err := a.settle(ctx, s, domain.CheckoutFailed, "payment_canceled"); err != nil && !isConflict(err) {
				return nil, err
			}
			return nil, &domain.ProviderPermanentError{Op: "complete checkout", Code: "payment_canceled", Message: "payment authorization was canceled"}
		default:
			return nil, &domain.ProviderPermanentError{Op: "complete checkout", Code: "unknown_payment_state", Message: string(intent.Status)}
		}
	}
	return s, nil
}

func (a *Adapter) confirmFailed(ctx context.Context, s *domain.CheckoutSession, err error) error {
	var declined *domain.PaymentDeclinedError
	if !errors.As(err, &declined) {
		return err
	}
	if ferr := a.settle(ctx, s, domain.CheckoutFailed, "payment_declined"); ferr != nil && !isConflict(ferr) {
		return ferr
	}
	a.logger.Info().Str("checkout", s.ID).Str("decline_code", declined.DeclineCode).Msg("payment declined")
	return &domain.PaymentDeclinedError{CheckoutID: s.ID, DeclineCode: declined.DeclineCode, Message: declined.Message}
}

// finalize moves a captured session to completed, creating the order and
// converting the cart in one transaction. The first writer wins; a loser
// returns the stored session.
func (a *Adapter) finalize(ctx context.Context, s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	c, err := a.carts.Get(ctx, a.cfg.TenantID, s.CartID)
	if err != nil {
		return nil, err
	}
	orderID := uuid.NewString()
	next := *s
	next.Status = domain.CheckoutCompleted
	next.OrderID = &orderID
	next.DiscountsReserved = false
	order := buildOrder(&next, c)

	err = a.tx.InTx(ctx, func(ctx context.Context) error {
		if err := a.transition(ctx, &next, domain.CheckoutPaymentProcessing); err != nil {
			return err
		}
		if _, err := a.orders.Create(ctx, order); err != nil {
			return err
		}
		if err := a.carts.SetStatus(ctx, a.cfg.TenantID, c.ID, domain.CartCheckingOut, domain.CartConverted); err != nil {
			return err
		}
		for _, l := range order.Lines {
			if err := a.products.AdjustInventory(ctx, a.cfg.TenantID, l.VariantID, -l.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if isConflict(err) || errors.Is(err, domain.ErrAlreadyExists) {
		return a.checkouts.Get(ctx, a.cfg.TenantID, s.ID)
	}
	if err != nil {
		return nil, err
	}
	a.logger.Info().Str("checkout", s.ID).Str("order", orderID).Msg("checkout completed")
	return &next, nil
}

func buildOrder(s *domain.CheckoutSession, c *domain.Cart) domain.Order {
	weights := make([]int64, len(c.Lines))
	for i, l := range c.Lines {
		weights[i] = l.LineTotal.Amount
	}
	shares := domain.Allocate(s.Totals.Discount, weights)
	lines := make([]domain.OrderLine, len(c.Lines))
	for i, l := range c.Lines {
		lines[i] = domain.OrderLine{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			SKU:       l.SKU,
			Title:     l.Title,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Discount:  shares[i],
			Total:     domain.NewMoney(l.LineTotal.Amount-shares[i].Amount, c.Currency),
		}
	}
	checkoutID := s.ID
	return domain.Order{
		ID:                *s.OrderID,
		TenantID:          s.TenantID,
		CustomerID:        c.CustomerID,
		CheckoutID:        &checkoutID,
		Email:             s.Email,
		Currency:          c.Currency,
		Lines:             lines,
		ShippingAddress:   s.ShippingAddress,
		Totals:            s.Totals,
		Refunded:          domain.Zero(c.Currency),
		FinancialStatus:   domain.FinancialPaid,
		FulfillmentStatus: domain.FulfillmentUnfulfilled,
		PaymentReference:  s.PaymentReference,
	}
}

// settle moves s to a failed or expired state, gives back reserved
// discount usage and reopens the cart. The authorization is cancelled
// afterwards on a best-effort basis.
func (a *Adapter) settle(ctx context.Context, s *domain.CheckoutSession, to domain.CheckoutStatus, reason string) error {
	next := *s
	next.Status = to
	next.FailureReason = reason
	next.DiscountsReserved = false
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		if err := a.transition(ctx, &next, s.Status); err != nil {
			return err
		}
		if s.DiscountsReserved {
			if err := a.discounts.Release(ctx, a.cfg.TenantID, s.DiscountCodes); err != nil {
				return err
			}
		}
		err := a.carts.SetStatus(ctx, a.cfg.TenantID, s.CartID, domain.CartCheckingOut, domain.CartActive)
		if isConflict(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	*s = next
	a.logger.Info().Str("checkout", s.ID).Str("status", string(to)).Str("reason", reason).Msg("checkout closed")
	if s.PaymentReference != "" {
		if _, err := a.payments.Cancel(ctx, s.PaymentReference, s.ID+":cancel"); err != nil {
			a.logger.Warn().Err(err).Str("checkout", s.ID).Str("payment_ref", s.PaymentReference).Msg("cancel authorization")
		}
	}
	return nil
}

// transition stores next if the move from the stored status is an edge of
// the checkout state machine.
func (a *Adapter) transition(ctx context.Context, next *domain.CheckoutSession, from domain.CheckoutStatus) error {
	if !domain.CanTransition(from, next.Status) {
		return fmt.Errorf("checkout %s: %s -> %s: %w", next.ID, from, next.Status, domain.ErrIllegalTransition)
	}
	return a.checkouts.Update(ctx, next, from)
}

func (a *Adapter) reloadOnConflict(ctx context.Context, id string, err error) (*domain.CheckoutSession, error) {
	if !isConflict(err) {
		return nil, err
	}
	return a.checkouts.Get(ctx, a.cfg.TenantID, id)
}

func closedError(op string, s *domain.CheckoutSession) error {
	return &domain.ProviderPermanentError{Op: op, Code: "checkout_closed", Message: "checkout is " + string(s.Status)}
}
