// Package payment wraps the card processor used by the self-hosted backend.
package payment

import (
	"context"
	"encoding/json"
	"time"

	"commerce-provider/internal/domain"
)

type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentRequiresCapture       IntentStatus = "requires_capture"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// Intent is a processor-side payment authorization.
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       domain.Money
	DeclineCode  string
	LastError    string
}

// AuthorizeRequest creates a manual-capture authorization.
type AuthorizeRequest struct {
	SessionID      string
	Amount         domain.Money
	Email          string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundResult struct {
	ID     string
	Status string
}

type EventType string

const (
	EventPaymentSucceeded  EventType = "payment_intent.succeeded"
	EventPaymentFailed     EventType = "payment_intent.payment_failed"
	EventPaymentCanceled   EventType = "payment_intent.canceled"
	EventPaymentCapturable EventType = "payment_intent.amount_capturable_updated"
	EventChargeRefunded    EventType = "charge.refunded"
)

// Event is a verified processor webhook.
type Event struct {
	ID       string
	Type     EventType
	IntentID string
	Created  time.Time
	Raw      json.RawMessage
}

// Processor is the card processor contract. Every mutating call carries an
// idempotency key so a retried request can never move money twice.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Intent, error)
	Confirm(ctx context.Context, intentID, paymentMethodID, idempotencyKey string) (*Intent, error)
	Capture(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)
	Cancel(ctx context.Context, intentID, idempotencyKey string) (*Intent, error)
	Get(ctx context.Context, intentID string) (*Intent, error)
	Refund(ctx context.Context, intentID string, amount domain.Money, idempotencyKey string) (*RefundResult, error)
	// VerifyEvent checks the signature header and decodes the event.
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}
