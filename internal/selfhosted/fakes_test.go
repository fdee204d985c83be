package selfhosted

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/payment"
)

// In-memory stores with the same compare-and-swap semantics as the
// Postgres repositories.

type memProducts struct {
	mu       sync.Mutex
	products map[string]*domain.Product
}

func (m *memProducts) put(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.products == nil {
		m.products = map[string]*domain.Product{}
	}
	p.Variants = slices.Clone(p.Variants)
	m.products[p.ID] = &p
}

func (m *memProducts) copyOf(p *domain.Product) *domain.Product {
	out := *p
	out.Variants = slices.Clone(p.Variants)
	return &out
}

func (m *memProducts) GetByID(_ context.Context, _, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.copyOf(p), nil
}

func (m *memProducts) GetByHandle(_ context.Context, _, handle string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Handle == handle {
			return m.copyOf(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memProducts) GetByVariantID(_ context.Context, _, variantID string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if _, ok := p.FindVariant(variantID); ok {
			return m.copyOf(p), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memProducts) Search(_ context.Context, _, query string, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if strings.Contains(strings.ToLower(p.Title), strings.ToLower(query)) && len(out) < limit {
			out = append(out, *m.copyOf(p))
		}
	}
	return out, nil
}

func (m *memProducts) List(_ context.Context, _ string, opts domain.ListOptions) (domain.Page[domain.Product], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.products))
	var page domain.Page[domain.Product]
	for _, id := range ids {
		if id <= opts.Cursor {
			continue
		}
		if len(page.Items) == opts.Limit {
			page.NextCursor = page.Items[len(page.Items)-1].ID
			break
		}
		page.Items = append(page.Items, *m.copyOf(m.products[id]))
	}
	return page, nil
}

func (m *memProducts) Count(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products), nil
}

func (m *memProducts) AdjustInventory(_ context.Context, _, variantID string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if v, ok := p.FindVariant(variantID); ok {
			v.InventoryQuantity += delta
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memProducts) inventory(variantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if v, ok := p.FindVariant(variantID); ok {
			return v.InventoryQuantity
		}
	}
	return -1
}

type memCarts struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func copyCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Lines = slices.Clone(c.Lines)
	out.DiscountCodes = slices.Clone(c.DiscountCodes)
	out.Attributes = maps.Clone(c.Attributes)
	return &out
}

func (m *memCarts) Create(_ context.Context, c domain.Cart) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.carts == nil {
		m.carts = map[string]*domain.Cart{}
	}
	c.ID = uuid.NewString()
	c.Status = domain.CartActive
	c.Version = 1
	c.Subtotal = domain.Zero(c.Currency)
	c.Discount = domain.Zero(c.Currency)
	c.Total = domain.Zero(c.Currency)
	m.carts[c.ID] = copyCart(&c)
	return copyCart(&c), nil
}

func (m *memCarts) Get(_ context.Context, _, id string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyCart(c), nil
}

func (m *memCarts) Save(_ context.Context, c domain.Cart, expectedVersion int) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.carts[c.ID]
	switch {
	case !ok:
		return nil, domain.ErrNotFound
	case cur.Status != domain.CartActive:
		return nil, domain.Invalid("cart", "cart is "+string(cur.Status)+" and cannot be modified")
	case cur.Version != expectedVersion:
		return nil, &domain.ConflictError{Entity: "cart", ID: c.ID, Expected: expectedVersion, Actual: cur.Version}
	}
	c.Version = cur.Version + 1
	c.Status = cur.Status
	var subtotal int64
	for _, l := range c.Lines {
		subtotal += l.UnitPrice.Amount * int64(l.Quantity)
	}
	c.Subtotal = domain.NewMoney(subtotal, c.Currency)
	c.Total = domain.NewMoney(subtotal-c.Discount.Amount, c.Currency)
	m.carts[c.ID] = copyCart(&c)
	return copyCart(&c), nil
}

func (m *memCarts) SetStatus(_ context.Context, _, id string, from, to domain.CartStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok || c.Status != from {
		return &domain.ConflictError{Entity: "cart", ID: id}
	}
	c.Status = to
	c.Version++
	return nil
}

type memCheckouts struct {
	mu       sync.Mutex
	sessions map[string]*domain.CheckoutSession
}

func (m *memCheckouts) Create(_ context.Context, s domain.CheckoutSession) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = map[string]*domain.CheckoutSession{}
	}
	for _, cur := range m.sessions {
		if cur.CartID == s.CartID && !cur.Status.Terminal() {
			return nil, &domain.ConflictError{Entity: "checkout", ID: s.CartID}
		}
	}
	s.Version = 1
	m.sessions[s.ID] = &s
	out := s
	return &out, nil
}

func (m *memCheckouts) Get(_ context.Context, _, id string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (m *memCheckouts) GetActiveByCart(_ context.Context, _, cartID string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CartID == cartID && !s.Status.Terminal() {
			out := *s
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCheckouts) GetByPaymentReference(_ context.Context, _, ref string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PaymentReference == ref {
			out := *s
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCheckouts) Update(_ context.Context, s *domain.CheckoutSession, expectedStatus domain.CheckoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok || cur.Status != expectedStatus || cur.Version != s.Version {
		return &domain.ConflictError{Entity: "checkout", ID: s.ID, Expected: s.Version}
	}
	s.Version++
	stored := *s
	m.sessions[s.ID] = &stored
	return nil
}

func (m *memCheckouts) ListExpirable(_ context.Context, _ string, now time.Time, limit int) ([]domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CheckoutSession
	for _, s := range m.sessions {
		if !s.Status.Terminal() && !s.ExpiresAt.After(now) && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]*domain.Order
	refunds map[string]*domain.Refund
	seq     int
}

func (m *memOrders) Create(_ context.Context, o domain.Order) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders == nil {
		m.orders = map[string]*domain.Order{}
	}
	for _, cur := range m.orders {
		if o.CheckoutID != nil && cur.CheckoutID != nil && *cur.CheckoutID == *o.CheckoutID {
			return nil, domain.ErrAlreadyExists
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	m.seq++
	o.Number = fmt.Sprintf("#%d", 1000+m.seq)
	o.Lines = slices.Clone(o.Lines)
	m.orders[o.ID] = &o
	out := o
	return &out, nil
}

func (m *memOrders) Get(_ context.Context, _, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *o
	return &out, nil
}

func (m *memOrders) List(_ context.Context, _ string, opts domain.ListOptions) (domain.Page[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page domain.Page[domain.Order]
	for _, o := range m.orders {
		page.Items = append(page.Items, *o)
	}
	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].ID < page.Items[j].ID })
	return page, nil
}

func (m *memOrders) Count(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders), nil
}

func (m *memOrders) UpdateStatus(_ context.Context, o domain.Order, prev domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok || cur.FinancialStatus != prev.FinancialStatus || cur.Refunded.Amount != prev.Refunded.Amount {
		return &domain.ConflictError{Entity: "order", ID: o.ID}
	}
	cur.FinancialStatus = o.FinancialStatus
	cur.FulfillmentStatus = o.FulfillmentStatus
	cur.Refunded = o.Refunded
	cur.CancelledAt = o.CancelledAt
	return nil
}

func (m *memOrders) CreateRefund(_ context.Context, r domain.Refund) (*domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refunds == nil {
		m.refunds = map[string]*domain.Refund{}
	}
	k := r.OrderID + "/" + r.IdempotencyKey
	if _, ok := m.refunds[k]; ok {
		return nil, domain.ErrAlreadyExists
	}
	r.ID = uuid.NewString()
	m.refunds[k] = &r
	out := r
	return &out, nil
}

func (m *memOrders) GetRefundByKey(_ context.Context, orderID, key string) (*domain.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[orderID+"/"+key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *r
	return &out, nil
}

type memCustomers struct {
	mu        sync.Mutex
	customers map[string]*domain.Customer
}

func (m *memCustomers) Create(_ context.Context, c domain.Customer) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.customers == nil {
		m.customers = map[string]*domain.Customer{}
	}
	for _, cur := range m.customers {
		if strings.EqualFold(cur.Email, c.Email) {
			return nil, domain.ErrAlreadyExists
		}
	}
	c.ID = uuid.NewString()
	m.customers[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memCustomers) GetByEmail(_ context.Context, _, email string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if strings.EqualFold(c.Email, email) {
			out := *c
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCustomers) GetByID(_ context.Context, _, id string) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (m *memCustomers) Update(_ context.Context, c domain.Customer) (*domain.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; !ok {
		return nil, domain.ErrNotFound
	}
	m.customers[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memCustomers) List(context.Context, string, domain.ListOptions) (domain.Page[domain.Customer], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var page domain.Page[domain.Customer]
	for _, c := range m.customers {
		page.Items = append(page.Items, *c)
	}
	return page, nil
}

func (m *memCustomers) Count(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.customers), nil
}

type memDiscounts struct {
	mu    sync.Mutex
	codes map[string]*domain.DiscountCode
}

func (m *memDiscounts) put(d domain.DiscountCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]*domain.DiscountCode{}
	}
	m.codes[domain.NormalizeCode(d.Code)] = &d
}

func (m *memDiscounts) usage(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code].UsageCount
}

func (m *memDiscounts) GetByCode(_ context.Context, _, code string) (*domain.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.codes[domain.NormalizeCode(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (m *memDiscounts) ListByCodes(_ context.Context, _ string, codes []string) ([]domain.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DiscountCode
	for _, code := range codes {
		if d, ok := m.codes[domain.NormalizeCode(code)]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDiscounts) Reserve(_ context.Context, _ string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		d, ok := m.codes[code]
		if !ok || (d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit) {
			return domain.Invalid("discountCodes", "usage limit reached")
		}
	}
	for _, code := range codes {
		m.codes[code].UsageCount++
	}
	return nil
}

func (m *memDiscounts) Release(_ context.Context, _ string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		if d, ok := m.codes[code]; ok && d.UsageCount > 0 {
			d.UsageCount--
		}
	}
	return nil
}

// serialTx runs transactions one at a time. It does not roll back.
type serialTx struct {
	mu sync.Mutex
}

type inTxKey struct{}

func (t *serialTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, inTxKey{}, true))
}

// fakeProcessor mimics processor idempotency: a repeated key returns the
// first response without acting again.
type fakeProcessor struct {
	mu       sync.Mutex
	intents  map[string]*payment.Intent
	byKey    map[string]fakeResponse
	captures int
	cancels  int
	refunds  []domain.Money
	event    *payment.Event
}

type fakeResponse struct {
	intent *payment.Intent
	refund *payment.RefundResult
	err    error
}

const (
	pmDeclined   = "pm_card_declined"
	pmProcessing = "pm_card_processing"
)

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{intents: map[string]*payment.Intent{}, byKey: map[string]fakeResponse{}}
}

func (f *fakeProcessor) once(key string, fn func() fakeResponse) fakeResponse {
	if r, ok := f.byKey[key]; ok {
		return r
	}
	r := fn()
	f.byKey[key] = r
	return r
}

func snapshot(in *payment.Intent) *payment.Intent {
	out := *in
	return &out
}

func (f *fakeProcessor) Authorize(_ context.Context, req payment.AuthorizeRequest) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.once(req.IdempotencyKey, func() fakeResponse {
		id := "pi_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
		in := &payment.Intent{ID: id, ClientSecret: id + "_secret", Status: payment.IntentRequiresPaymentMethod, Amount: req.Amount}
		f.intents[id] = in
		return fakeResponse{intent: snapshot(in)}
	})
	return r.intent, r.err
}

func (f *fakeProcessor) Confirm(_ context.Context, intentID, pm, key string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.once(key, func() fakeResponse {
		in, ok := f.intents[intentID]
		if !ok {
			return fakeResponse{err: &domain.ProviderPermanentError{Op: "confirm", Code: "resource_missing"}}
		}
		switch pm {
		case pmDeclined:
			in.Status = payment.IntentRequiresPaymentMethod
			in.DeclineCode = "card_declined"
			in.LastError = "Your card was declined."
			return fakeResponse{err: &domain.PaymentDeclinedError{DeclineCode: "card_declined", Message: in.LastError}}
		case pmProcessing:
			in.Status = payment.IntentProcessing
		default:
			in.Status = payment.IntentRequiresCapture
		}
		return fakeResponse{intent: snapshot(in)}
	})
	return r.intent, r.err
}

func (f *fakeProcessor) Capture(_ context.Context, intentID, key string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.once(key, func() fakeResponse {
		in := f.intents[intentID]
		if in == nil || in.Status != payment.IntentRequiresCapture {
			return fakeResponse{err: &domain.ProviderPermanentError{Op: "capture", Code: "payment_intent_unexpected_state"}}
		}
		in.Status = payment.IntentSucceeded
		f.captures++
		return fakeResponse{intent: snapshot(in)}
	})
	return r.intent, r.err
}

func (f *fakeProcessor) Cancel(_ context.Context, intentID, key string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.once(key, func() fakeResponse {
		in := f.intents[intentID]
		if in == nil || in.Status == payment.IntentSucceeded || in.Status == payment.IntentCanceled {
			return fakeResponse{err: &domain.ProviderPermanentError{Op: "cancel", Code: "payment_intent_unexpected_state"}}
		}
		in.Status = payment.IntentCanceled
		f.cancels++
		return fakeResponse{intent: snapshot(in)}
	})
	return r.intent, r.err
}

func (f *fakeProcessor) Get(_ context.Context, intentID string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[intentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snapshot(in), nil
}

func (f *fakeProcessor) Refund(_ context.Context, _ string, amount domain.Money, key string) (*payment.RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.once(key, func() fakeResponse {
		f.refunds = append(f.refunds, amount)
		return fakeResponse{refund: &payment.RefundResult{ID: fmt.Sprintf("re_%d", len(f.refunds)), Status: "succeeded"}}
	})
	return r.refund, r.err
}

func (f *fakeProcessor) VerifyEvent(_ []byte, sig string) (*payment.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sig != "valid" || f.event == nil {
		return nil, &domain.WebhookVerificationError{Reason: "no valid signature found"}
	}
	ev := *f.event
	return &ev, nil
}

// setStatus moves an intent as if the buyer acted on the embedded form.
func (f *fakeProcessor) setStatus(intentID string, status payment.IntentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[intentID].Status = status
}

func (f *fakeProcessor) status(intentID string) payment.IntentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[intentID].Status
}

func (f *fakeProcessor) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}
