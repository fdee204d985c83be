package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"commerce-provider/internal/domain"
)

// StripeConfig configures one tenant's Stripe account.
type StripeConfig struct {
	SecretKey string
	// WebhookSecrets holds the current signing secret first and, during
	// rotation, the previous one.
	WebhookSecrets   []string
	Timeout          time.Duration
	WebhookTolerance time.Duration
	// BaseURL overrides the API endpoint.
	BaseURL string
}

type stripeProcessor struct {
	api       *client.API
	secrets   []string
	tolerance time.Duration
	logger    zerolog.Logger
}

// NewStripe builds a Processor with its own HTTP client. Stripe's built-in
// network retries are disabled; callers own retry decisions.
func NewStripe(cfg StripeConfig, logger zerolog.Logger) (Processor, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if len(cfg.WebhookSecrets) == 0 {
		return nil, errors.New("at least one stripe webhook secret is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = webhook.DefaultTolerance
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}
	return &stripeProcessor{
		api:       client.New(cfg.SecretKey, backends),
		secrets:   cfg.WebhookSecrets,
		tolerance: cfg.WebhookTolerance,
		logger:    logger.With().Str("component", "stripe").Logger(),
	}, nil
}

func (p *stripeProcessor) Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("checkout_session_id", req.SessionID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, p.classify("authorize", req.SessionID, err)
	}
	return toIntent(pi), nil
}

func (p *stripeProcessor) Confirm(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(paymentMethodID)}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := p.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, p.classify("confirm", intentID, err)
	}
	intent := toIntent(pi)
	if intent.Status == IntentRequiresPaymentMethod && intent.LastError != "" {
		return intent, &domain.PaymentDeclinedError{DeclineCode: intent.DeclineCode, Message: intent.LastError}
	}
	return intent, nil
}

func (p *stripeProcessor) Capture(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := p.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, p.classify("capture", intentID, err)
	}
	return toIntent(pi), nil
}

func (p *stripeProcessor) Cancel(ctx context.Context, intentID, idempotencyKey string) (*Intent, error) {
	params := &stripe.PaymentIntentCancelParams{CancellationReason: stripe.String("abandoned")}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := p.api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, p.classify("cancel", intentID, err)
	}
	return toIntent(pi), nil
}

func (p *stripeProcessor) Get(ctx context.Context, intentID string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, p.classify("get", intentID, err)
	}
	return toIntent(pi), nil
}

func (p *stripeProcessor) Refund(ctx context.Context, intentID string, amount domain.Money, idempotencyKey string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amount.Amount),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	rf, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, p.classify("refund", intentID, err)
	}
	return &RefundResult{ID: rf.ID, Status: string(rf.Status)}, nil
}

// VerifyEvent accepts a signature made with any configured secret so
// secrets can be rotated without rejecting in-flight deliveries.
func (p *stripeProcessor) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, &domain.WebhookVerificationError{Reason: "missing Stripe-Signature header"}
	}
	var lastErr error
	for _, secret := range p.secrets {
		evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
			Tolerance:                p.tolerance,
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			lastErr = err
			continue
		}
		return toEvent(evt)
	}
	reason := "signature mismatch"
	if errors.Is(lastErr, webhook.ErrTooOld) {
		reason = "timestamp outside tolerance"
	}
	return nil, &domain.WebhookVerificationError{Reason: reason, Err: lastErr}
}

func toEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:      evt.ID,
		Type:    EventType(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data != nil {
		out.Raw = evt.Data.Raw
		var obj struct {
			ID            string `json:"id"`
			Object        string `json:"object"`
			PaymentIntent string `json:"payment_intent"`
		}
		if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("decode event object: %w", err)
		}
		switch obj.Object {
		case "payment_intent":
			out.IntentID = obj.ID
		default:
			out.IntentID = obj.PaymentIntent
		}
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	in := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		Amount:       domain.NewMoney(pi.Amount, string(pi.Currency)),
	}
	if pi.LastPaymentError != nil {
		in.DeclineCode = string(pi.LastPaymentError.DeclineCode)
		in.LastError = pi.LastPaymentError.Msg
	}
	return in
}

// classify maps Stripe and transport errors onto domain error kinds.
func (p *stripeProcessor) classify(op, ref string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		p.logger.Warn().
			Str("op", op).
			Str("ref", ref).
			Str("type", string(se.Type)).
			Str("code", string(se.Code)).
			Int("status", se.HTTPStatusCode).
			Msg("stripe error")
		switch {
		case se.Type == stripe.ErrorTypeCard:
			return &domain.PaymentDeclinedError{CheckoutID: ref, DeclineCode: declineCode(se), Message: se.Msg}
		case se.HTTPStatusCode == http.StatusTooManyRequests, se.HTTPStatusCode >= 500, se.Type == stripe.ErrorTypeAPI:
			return &domain.ProviderTransientError{Op: "stripe " + op, Err: err}
		case se.Type == stripe.ErrorTypeIdempotency:
			return &domain.ConflictError{Entity: "payment", ID: ref}
		default:
			return &domain.ProviderPermanentError{Op: "stripe " + op, Code: string(se.Code), Message: se.Msg}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.ProviderTransientError{Op: "stripe " + op, Err: err}
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

func declineCode(se *stripe.Error) string {
	if se.DeclineCode != "" {
		return string(se.DeclineCode)
	}
	return string(se.Code)
}
