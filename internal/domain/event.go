package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type EventType string

const (
	EventOrderCreated          EventType = "order.created"
	EventOrderPaid             EventType = "order.paid"
	EventOrderCancelled        EventType = "order.cancelled"
	EventOrderRefunded         EventType = "order.refunded"
	EventCheckoutCompleted     EventType = "checkout.completed"
	EventCheckoutFailed        EventType = "checkout.failed"
	EventPaymentAuthorized     EventType = "payment.authorized"
	EventProductCreated        EventType = "product.created"
	EventProductUpdated        EventType = "product.updated"
	EventProductDeleted        EventType = "product.deleted"
	EventCustomerCreated       EventType = "customer.created"
	EventCustomerUpdated       EventType = "customer.updated"
	EventSubscriptionCreated   EventType = "subscription.created"
	EventSubscriptionUpdated   EventType = "subscription.updated"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventInventoryUpdated      EventType = "inventory.updated"
)

// WebhookEvent is the canonical event produced from a verified backend webhook.
type WebhookEvent struct {
	ID              string          `json:"id"`
	ProviderEventID string          `json:"providerEventId"`
	TenantID        string          `json:"tenantId"`
	Type            EventType       `json:"type"`
	ObjectType      string          `json:"objectType"`
	ObjectID        string          `json:"objectId"`
	Payload         json.RawMessage `json:"payload"`
	OccurredAt      time.Time       `json:"occurredAt"`
}

// RawWebhook is an unverified inbound webhook request.
type RawWebhook struct {
	TenantID string
	Headers  map[string]string
	Body     []byte
}

// Header looks up a header case-insensitively.
func (r RawWebhook) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
