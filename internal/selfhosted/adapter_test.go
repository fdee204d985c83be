package selfhosted

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

func usd(v int64) domain.Money { return domain.NewMoney(v, "USD") }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	adapter   *Adapter
	products  *memProducts
	carts     *memCarts
	checkouts *memCheckouts
	orders    *memOrders
	customers *memCustomers
	discounts *memDiscounts
	pay       *fakeProcessor
	clock     *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		products:  &memProducts{},
		carts:     &memCarts{},
		checkouts: &memCheckouts{},
		orders:    &memOrders{},
		customers: &memCustomers{},
		discounts: &memDiscounts{},
		pay:       newFakeProcessor(),
		clock:     &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.products.put(domain.Product{
		ID: "prod-small", Handle: "small-pot", Title: "Small Pot", Status: domain.ProductActive,
		Variants: []domain.Variant{{ID: "var-small", ProductID: "prod-small", SKU: "POT-S", Price: usd(1000), InventoryQuantity: 10}},
	})
	f.products.put(domain.Product{
		ID: "prod-large", Handle: "large-pot", Title: "Large Pot", Status: domain.ProductActive,
		Variants: []domain.Variant{{ID: "var-large", ProductID: "prod-large", SKU: "POT-L", Price: usd(1500), InventoryQuantity: 5}},
	})
	one := 1
	f.discounts.put(domain.DiscountCode{Code: "TENOFF", Type: domain.DiscountPercentage, Value: 1000, Active: true})
	f.discounts.put(domain.DiscountCode{Code: "ONCE", Type: domain.DiscountFixedAmount, Value: 500, Currency: "USD", UsageLimit: &one, Active: true})

	a, err := New(Config{
		TenantID:        "acme",
		DefaultCurrency: "USD",
		TaxRates:        map[string]int64{"US": 825},
		ShippingRates: []domain.ShippingRate{
			{Handle: "standard-a", Title: "Standard (A)", Price: usd(500)},
			{Handle: "standard-b", Title: "Standard (B)", Price: usd(700)},
			{Handle: "express", Title: "Express", Price: usd(1500)},
		},
	}, Deps{
		Products:  f.products,
		Carts:     f.carts,
		Checkouts: f.checkouts,
		Orders:    f.orders,
		Customers: f.customers,
		Discounts: f.discounts,
		Tx:        &serialTx{},
		Payments:  f.pay,
		Now:       f.clock.Now,
	}, zerolog.Nop())
	require.NoError(t, err)
	f.adapter = a
	return f
}

// cart returns a cart holding $10 x1 and $15 x2 with codes applied.
func (f *fixture) cart(t *testing.T, codes ...string) *domain.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := f.adapter.CreateCart(ctx, provider.CartInput{
		Currency: "usd",
		Lines: []domain.LineInput{
			{VariantID: "var-small", Quantity: 1},
			{VariantID: "var-large", Quantity: 2},
		},
	})
	require.NoError(t, err)
	if len(codes) > 0 {
		c, err = f.adapter.SetDiscountCodes(ctx, c.ID, c.Version, codes)
		require.NoError(t, err)
	}
	return c
}

func shippingTo() *domain.Address {
	return &domain.Address{FirstName: "Ada", Address1: "1 Main St", City: "Springfield", PostalCode: "12345", CountryCode: "us"}
}

// awaitingPayment drives a fresh checkout to awaiting_payment.
func (f *fixture) awaitingPayment(t *testing.T, codes ...string) *domain.CheckoutSession {
	t.Helper()
	ctx := context.Background()
	c := f.cart(t, codes...)
	s, err := f.adapter.CreateCheckout(ctx, c.ID)
	require.NoError(t, err)
	s, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{Email: "ada@example.com", ShippingAddress: shippingTo()})
	require.NoError(t, err)
	s, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{ShippingRateHandle: "standard-a"})
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutAwaitingPayment, s.Status)
	return s
}

func TestCart_TenPercentScenario(t *testing.T) {
	f := newFixture(t)
	c := f.cart(t, "tenoff")

	assert.Equal(t, int64(4000), c.Subtotal.Amount)
	assert.Equal(t, int64(400), c.Discount.Amount)
	assert.Equal(t, int64(3600), c.Total.Amount)
	assert.Equal(t, []string{"TENOFF"}, c.DiscountCodes)

	var sum int64
	for _, l := range c.Lines {
		sum += l.UnitPrice.Amount * int64(l.Quantity)
	}
	assert.Equal(t, c.Subtotal.Amount, sum)
}

func TestCart_MergesLinesAndRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)

	updated, err := f.adapter.AddLine(ctx, c.ID, c.Version, domain.LineInput{VariantID: "var-small", Quantity: 2})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.Equal(t, 3, updated.Lines[0].Quantity)
	assert.Equal(t, int64(6000), updated.Subtotal.Amount)

	_, err = f.adapter.AddLine(ctx, c.ID, c.Version, domain.LineInput{VariantID: "var-small", Quantity: 1})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, updated.Version, conflict.Actual)

	removed, err := f.adapter.RemoveLine(ctx, c.ID, updated.Version, updated.Lines[1].ID)
	require.NoError(t, err)
	assert.Len(t, removed.Lines, 1)
	assert.Equal(t, int64(3000), removed.Total.Amount)
}

func TestCart_LineQuantityIsCapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)

	var invalid *domain.ValidationError
	_, err := f.adapter.AddLine(ctx, c.ID, c.Version, domain.LineInput{VariantID: "var-small", Quantity: math.MaxInt})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "quantity", invalid.Field)

	// merging into the existing line must not push it past the cap
	_, err = f.adapter.AddLine(ctx, c.ID, c.Version, domain.LineInput{VariantID: "var-small", Quantity: domain.MaxLineQuantity})
	require.ErrorAs(t, err, &invalid)

	_, err = f.adapter.UpdateLine(ctx, c.ID, c.Version, c.Lines[0].ID, domain.MaxLineQuantity+1)
	require.ErrorAs(t, err, &invalid)

	got, err := f.adapter.GetCart(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Version, got.Version)
	assert.Equal(t, int64(4000), got.Subtotal.Amount)
}

func TestCart_DiscountCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)

	_, err := f.adapter.ApplyDiscount(ctx, c.ID, c.Version, "NOPE")
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	res, err := f.adapter.ValidateDiscount(ctx, c.ID, "once")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, int64(500), res.Amount.Amount)

	withCodes, err := f.adapter.ApplyDiscount(ctx, c.ID, c.Version, "once")
	require.NoError(t, err)
	withCodes, err = f.adapter.ApplyDiscount(ctx, c.ID, withCodes.Version, "tenoff")
	require.NoError(t, err)
	assert.Equal(t, int64(900), withCodes.Discount.Amount)

	cleared, err := f.adapter.RemoveDiscount(ctx, c.ID, withCodes.Version, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, int64(400), cleared.Discount.Amount)
}

func TestCart_AttributesMergeAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)

	c, err := f.adapter.SetAttributes(ctx, c.ID, c.Version, map[string]string{"gift": "yes", domain.ShippingVariantAttribute: "B"})
	require.NoError(t, err)
	c, err = f.adapter.SetAttributes(ctx, c.ID, c.Version, map[string]string{"gift": ""})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{domain.ShippingVariantAttribute: "B"}, c.Attributes)
}

func TestCheckout_HappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t, "TENOFF")

	assert.Equal(t, int64(500), s.Totals.Shipping.Amount)
	// (4000 - 400 + 500) * 8.25% = 338.25
	assert.Equal(t, int64(338), s.Totals.Tax.Amount)
	assert.Equal(t, int64(4438), s.Totals.Total.Amount)
	assert.Equal(t, 1, f.discounts.usage("TENOFF"))

	target, err := f.adapter.GetCheckoutTarget(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TargetEmbedded, target.Kind)
	assert.NotEmpty(t, target.ClientSecret)

	done, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	require.Equal(t, domain.CheckoutCompleted, done.Status)
	require.NotNil(t, done.OrderID)

	o, err := f.adapter.GetOrder(ctx, *done.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialPaid, o.FinancialStatus)
	assert.Equal(t, int64(4438), o.Totals.Total.Amount)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, int64(100), o.Lines[0].Discount.Amount)
	assert.Equal(t, int64(300), o.Lines[1].Discount.Amount)

	c, err := f.adapter.GetCart(ctx, s.CartID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartConverted, c.Status)
	assert.Equal(t, 9, f.products.inventory("var-small"))
	assert.Equal(t, 3, f.products.inventory("var-large"))
	assert.Equal(t, 1, f.pay.captureCount())
}

func TestCheckout_CartLockedWhileActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)

	s, err := f.adapter.CreateCheckout(ctx, c.ID)
	require.NoError(t, err)
	again, err := f.adapter.CreateCheckout(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)

	locked, err := f.adapter.GetCart(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.adapter.AddLine(ctx, c.ID, locked.Version, domain.LineInput{VariantID: "var-small", Quantity: 1})
	var invalid *domain.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestCheckout_ShippingRatesFilteredByVariant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)
	c, err := f.adapter.SetAttributes(ctx, c.ID, c.Version, map[string]string{domain.ShippingVariantAttribute: "B"})
	require.NoError(t, err)

	s, err := f.adapter.CreateCheckout(ctx, c.ID)
	require.NoError(t, err)
	s, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{Email: "ada@example.com", ShippingAddress: shippingTo()})
	require.NoError(t, err)

	var handles []string
	for _, r := range s.ShippingRates {
		handles = append(handles, r.Handle)
	}
	assert.Equal(t, []string{"standard-b", "express"}, handles)

	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{ShippingRateHandle: "standard-a"})
	var invalid *domain.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestCheckout_AdvanceValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.adapter.CreateCheckout(ctx, f.cart(t).ID)
	require.NoError(t, err)

	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{Email: "not-an-email", ShippingAddress: shippingTo()})
	assert.Equal(t, domain.RecoveryRetryStep, domain.RecoveryFor(err))
	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{Email: "ada@example.com"})
	assert.Equal(t, domain.RecoveryRetryStep, domain.RecoveryFor(err))

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutDraft, got.Status)
}

func TestCheckout_InsufficientInventoryFailsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.cart(t)
	s, err := f.adapter.CreateCheckout(ctx, c.ID)
	require.NoError(t, err)
	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{Email: "ada@example.com", ShippingAddress: shippingTo()})
	require.NoError(t, err)
	require.NoError(t, f.products.AdjustInventory(ctx, "acme", "var-large", -4))

	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{ShippingRateHandle: "express"})
	var perm *domain.ProviderPermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "insufficient_inventory", perm.Code)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutFailed, got.Status)
	reopened, err := f.adapter.GetCart(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartActive, reopened.Status)
}

func TestCheckout_DiscountUsageLimitAtAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.cart(t, "ONCE")
	second := f.cart(t, "ONCE")

	s1, err := f.adapter.CreateCheckout(ctx, first.ID)
	require.NoError(t, err)
	s2, err := f.adapter.CreateCheckout(ctx, second.ID)
	require.NoError(t, err)
	for _, id := range []string{s1.ID, s2.ID} {
		_, err = f.adapter.AdvanceCheckout(ctx, id, domain.CheckoutStep{Email: "ada@example.com", ShippingAddress: shippingTo()})
		require.NoError(t, err)
	}
	_, err = f.adapter.AdvanceCheckout(ctx, s1.ID, domain.CheckoutStep{ShippingRateHandle: "express"})
	require.NoError(t, err)

	_, err = f.adapter.AdvanceCheckout(ctx, s2.ID, domain.CheckoutStep{ShippingRateHandle: "express"})
	var perm *domain.ProviderPermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "discount_unavailable", perm.Code)
	assert.Equal(t, 1, f.discounts.usage("ONCE"))

	got, err := f.adapter.GetCheckoutStatus(ctx, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutFailed, got.Status)
}

func TestCompleteCheckout_ConcurrentConfirmCapturesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*domain.CheckoutSession, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.adapter.CompleteCheckout(ctx, s.ID, "same-key", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
		}(i)
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, domain.CheckoutCompleted, results[i].Status)
		assert.Equal(t, *results[0].OrderID, *results[i].OrderID)
	}
	assert.Equal(t, 1, f.pay.captureCount())
	n, err := f.adapter.Count(ctx, provider.EntityOrders)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCompleteCheckout_IdempotencyKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)

	_, err := f.adapter.CompleteCheckout(ctx, s.ID, "", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	pending, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: pmProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutPaymentProcessing, pending.Status)

	_, err = f.adapter.CompleteCheckout(ctx, s.ID, "key-2", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)

	again, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: pmProcessing})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutPaymentProcessing, again.Status)
	assert.Equal(t, 0, f.pay.captureCount())
}

func TestCompleteCheckout_DeclineFailsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t, "TENOFF")

	_, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: pmDeclined})
	var declined *domain.PaymentDeclinedError
	require.ErrorAs(t, err, &declined)
	assert.Equal(t, s.ID, declined.CheckoutID)
	assert.Equal(t, "card_declined", declined.DeclineCode)
	assert.Equal(t, domain.RecoveryNewCheckout, domain.RecoveryFor(err))

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutFailed, got.Status)
	assert.Equal(t, 0, f.discounts.usage("TENOFF"))

	_, err = f.adapter.AdvanceCheckout(ctx, s.ID, domain.CheckoutStep{})
	var perm *domain.ProviderPermanentError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "checkout_closed", perm.Code)

	retry, err := f.adapter.CreateCheckout(ctx, s.CartID)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, retry.ID)
	assert.Equal(t, domain.CheckoutDraft, retry.Status)
}

func TestCompletedSessionIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)
	done, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)

	again, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, done.OrderID, again.OrderID)

	f.clock.Advance(2 * time.Hour)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, got.Status)
	assert.Equal(t, 1, f.pay.captureCount())
}

func TestTransition_RejectsEdgesOutsideStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)

	skip := *s
	skip.Status = domain.CheckoutCompleted
	err := f.adapter.transition(ctx, &skip, domain.CheckoutAwaitingPayment)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutAwaitingPayment, got.Status)
	assert.Nil(t, got.OrderID)
}

func TestExpireStale_ReopensCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t, "TENOFF")

	f.clock.Advance(29 * time.Minute)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Minute)
	n, err = f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.Status)
	assert.Equal(t, "canceled", string(f.pay.status(s.PaymentReference)))
	assert.Equal(t, 0, f.discounts.usage("TENOFF"))

	c, err := f.adapter.GetCart(ctx, s.CartID)
	require.NoError(t, err)
	assert.Equal(t, domain.CartActive, c.Status)
	_, err = f.adapter.AddLine(ctx, c.ID, c.Version, domain.LineInput{VariantID: "var-small", Quantity: 1})
	assert.NoError(t, err)
}

func TestExpiry_LazyOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.adapter.CreateCheckout(ctx, f.cart(t).ID)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.Status)
}

func TestExpiry_ProcessingFollowsProcessor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)
	_, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: pmProcessing})
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "an in-flight payment is not expired inside the grace window")

	f.pay.setStatus(s.PaymentReference, "requires_capture")
	n, err = f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, got.Status)
	assert.Equal(t, 1, f.pay.captureCount())
}

func TestExpiry_AuthorizedOnEmbeddedFormIsCaptured(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t, "TENOFF")

	// the buyer confirmed with the client secret; the webhook never arrived
	f.pay.setStatus(s.PaymentReference, "requires_capture")
	f.clock.Advance(31 * time.Minute)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, got.Status)
	require.NotNil(t, got.OrderID)
	assert.Equal(t, "succeeded", string(f.pay.status(s.PaymentReference)))
	assert.Equal(t, 1, f.pay.captureCount())
	assert.Equal(t, 1, f.discounts.usage("TENOFF"))
}

func TestExpiry_EmbeddedConfirmationInFlightWaitsForGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)

	f.pay.setStatus(s.PaymentReference, "processing")
	f.clock.Advance(31 * time.Minute)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutPaymentProcessing, got.Status)
	assert.Equal(t, "processing", string(f.pay.status(s.PaymentReference)))

	f.pay.setStatus(s.PaymentReference, "requires_capture")
	n, err = f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err = f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutCompleted, got.Status)
}

func TestExpiry_ProcessingExpiresAfterGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)
	_, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: pmProcessing})
	require.NoError(t, err)

	f.clock.Advance(45 * time.Minute)
	n, err := f.adapter.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.adapter.GetCheckoutStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutExpired, got.Status)
	assert.Nil(t, got.OrderID)
}

func TestRefundOrder_PartialThenFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)
	done, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	orderID := *done.OrderID

	part := usd(1000)
	r1, err := f.adapter.RefundOrder(ctx, orderID, domain.RefundRequest{Amount: &part, IdempotencyKey: "r1"})
	require.NoError(t, err)
	again, err := f.adapter.RefundOrder(ctx, orderID, domain.RefundRequest{Amount: &part, IdempotencyKey: "r1"})
	require.NoError(t, err)
	assert.Equal(t, r1.ID, again.ID)

	o, err := f.adapter.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialPartiallyRefunded, o.FinancialStatus)

	_, err = f.adapter.RefundOrder(ctx, orderID, domain.RefundRequest{IdempotencyKey: "r2"})
	require.NoError(t, err)
	o, err = f.adapter.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialRefunded, o.FinancialStatus)
	assert.Equal(t, o.Totals.Total, o.Refunded)
	assert.Len(t, f.pay.refunds, 2)

	_, err = f.adapter.RefundOrder(ctx, orderID, domain.RefundRequest{Amount: &part, IdempotencyKey: "r3"})
	var invalid *domain.ValidationError
	assert.ErrorAs(t, err, &invalid)
}

func TestCancelOrder_RefundsPaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.awaitingPayment(t)
	done, err := f.adapter.CompleteCheckout(ctx, s.ID, "key-1", domain.PaymentDetails{PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)

	o, err := f.adapter.CancelOrder(ctx, *done.OrderID, "cancel-1")
	require.NoError(t, err)
	assert.Equal(t, domain.FinancialRefunded, o.FinancialStatus)
	assert.Equal(t, domain.FulfillmentCancelled, o.FulfillmentStatus)
	require.NotNil(t, o.CancelledAt)

	again, err := f.adapter.CancelOrder(ctx, *done.OrderID, "cancel-1")
	require.NoError(t, err)
	assert.Equal(t, o.CancelledAt, again.CancelledAt)
	assert.Len(t, f.pay.refunds, 1)
}

func TestCustomers_PasswordHashedAndEmailUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	email, password, first := "Ada@Example.com", "Sup3rsecret", "Ada"

	c, err := f.adapter.CreateCustomer(ctx, domain.CustomerInput{Email: &email, Password: &password, FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", c.Email)
	assert.NotEqual(t, password, c.PasswordHash)
	assert.NotEmpty(t, c.PasswordHash)

	_, err = f.adapter.CreateCustomer(ctx, domain.CustomerInput{Email: &email})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	weak := "short"
	_, err = f.adapter.UpdateCustomer(ctx, c.ID, domain.CustomerInput{Password: &weak})
	var invalid *domain.ValidationError
	assert.ErrorAs(t, err, &invalid)

	last := "Lovelace"
	updated, err := f.adapter.UpdateCustomer(ctx, c.ID, domain.CustomerInput{LastName: &last})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "Lovelace", updated.LastName)

	byEmail, err := f.adapter.GetCustomerByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byEmail.ID)
}

func TestCapabilities(t *testing.T) {
	f := newFixture(t)
	caps := f.adapter.Capabilities()
	assert.True(t, caps.Has(provider.CapCheckoutSteps))
	assert.True(t, caps.Has(provider.CapShippingABFilter))
	assert.False(t, caps.Has(provider.CapSubscriptions))
	_, ok := provider.SubscriptionsOf(f.adapter)
	assert.False(t, ok)
	_, ok = provider.SweeperOf(f.adapter)
	assert.True(t, ok)
}
