package managed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-provider/internal/domain"
)

// Hosted checkouts live as long as the platform keeps the cart.
const hostedCheckoutTTL = 10 * 24 * time.Hour

var errHostedCheckout = domain.Invalid("checkout", "checkout is completed on the hosted page")

// CreateCheckout hands the cart over to the hosted checkout. The session
// id is the cart id.
func (a *Adapter) CreateCheckout(ctx context.Context, cartID string) (*domain.CheckoutSession, error) {
	c, err := a.fetchCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(c.Lines.Nodes) == 0 {
		return nil, domain.Invalid("cart", "cart has no lines")
	}
	return a.sessionFromCart(c), nil
}

func (a *Adapter) sessionFromCart(c *gqlCart) *domain.CheckoutSession {
	cart := a.toCart(c)
	s := &domain.CheckoutSession{
		ID:            c.ID,
		TenantID:      a.cfg.TenantID,
		CartID:        c.ID,
		Status:        domain.CheckoutAwaitingPayment,
		DiscountCodes: cart.DiscountCodes,
		Totals: domain.Totals{
			Subtotal: cart.Subtotal,
			Discount: cart.Discount,
			Shipping: domain.Zero(cart.Currency),
			Tax:      domain.Zero(cart.Currency),
			Total:    cart.Total,
		},
		Version:   cart.Version,
		ExpiresAt: c.UpdatedAt.Add(hostedCheckoutTTL),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	return s
}

func (a *Adapter) GetCheckoutTarget(ctx context.Context, sessionID string) (*domain.CheckoutTarget, error) {
	c, err := a.fetchCart(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ProviderPermanentError{Op: "get checkout target", Code: "checkout_closed", Message: "checkout " + sessionID + " is no longer open"}
		}
		return nil, err
	}
	if c.CheckoutURL == "" {
		return nil, &domain.ProviderPermanentError{Op: "get checkout target", Code: "no_checkout_url", Message: "platform returned no checkout url"}
	}
	return &domain.CheckoutTarget{Kind: domain.TargetRedirect, URL: c.CheckoutURL, SessionID: sessionID}, nil
}

func (a *Adapter) AdvanceCheckout(context.Context, string, domain.CheckoutStep) (*domain.CheckoutSession, error) {
	return nil, errHostedCheckout
}

func (a *Adapter) CompleteCheckout(context.Context, string, string, domain.PaymentDetails) (*domain.CheckoutSession, error) {
	return nil, errHostedCheckout
}

// GetCheckoutStatus reports awaiting_payment while the cart exists. Once
// the platform drops the cart the session is completed if an order was
// placed from it and expired otherwise.
func (a *Adapter) GetCheckoutStatus(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	c, err := a.fetchCart(ctx, sessionID)
	if err == nil {
		return a.sessionFromCart(c), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	order, err := a.orderForCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s := &domain.CheckoutSession{
		ID:       sessionID,
		TenantID: a.cfg.TenantID,
		CartID:   sessionID,
		Status:   domain.CheckoutExpired,
	}
	if order != nil {
		s.Status = domain.CheckoutCompleted
		s.OrderID = &order.ID
		s.Email = order.Email
		s.Totals = order.Totals
		s.ShippingAddress = order.ShippingAddress
		s.CreatedAt = order.CreatedAt
		s.UpdatedAt = order.UpdatedAt
	}
	return s, nil
}

// orderForCart finds the order placed from a cart, or nil.
func (a *Adapter) orderForCart(ctx context.Context, cartID string) (*domain.Order, error) {
	const q = `query($q: String!) { orders(first: 1, query: $q) { nodes { id } } }`
	data, err := graphql[struct {
		Orders struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"orders"`
	}](ctx, a, a.admin, "find order for cart", q, map[string]any{"q": fmt.Sprintf("cart_token:%s", fromGID(cartID))})
	if err != nil {
		return nil, err
	}
	if len(data.Orders.Nodes) == 0 {
		return nil, nil
	}
	return a.GetOrder(ctx, fromGID(data.Orders.Nodes[0].ID))
}
