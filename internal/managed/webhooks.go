package managed

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"commerce-provider/internal/domain"
)

const (
	hmacHeader    = "X-Shopify-Hmac-Sha256"
	topicHeader   = "X-Shopify-Topic"
	webhookHeader = "X-Shopify-Webhook-Id"
	eventAtHeader = "X-Shopify-Triggered-At"
)

type topicMapping struct {
	typ        domain.EventType
	objectType string
}

var topics = map[string]topicMapping{
	"orders/create":                 {domain.EventOrderCreated, "order"},
	"orders/paid":                   {domain.EventOrderPaid, "order"},
	"orders/cancelled":              {domain.EventOrderCancelled, "order"},
	"refunds/create":                {domain.EventOrderRefunded, "order"},
	"products/create":               {domain.EventProductCreated, "product"},
	"products/update":               {domain.EventProductUpdated, "product"},
	"products/delete":               {domain.EventProductDeleted, "product"},
	"customers/create":              {domain.EventCustomerCreated, "customer"},
	"customers/update":              {domain.EventCustomerUpdated, "customer"},
	"subscription_contracts/create": {domain.EventSubscriptionCreated, "subscription"},
	"subscription_contracts/update": {domain.EventSubscriptionUpdated, "subscription"},
	"subscription_contracts/cancel": {domain.EventSubscriptionCancelled, "subscription"},
	"inventory_levels/update":       {domain.EventInventoryUpdated, "inventory_item"},
}

// VerifyWebhook checks the base64 HMAC-SHA256 of the raw body against every
// configured secret.
func (a *Adapter) VerifyWebhook(_ context.Context, raw domain.RawWebhook) error {
	sig := raw.Header(hmacHeader)
	if sig == "" {
		return &domain.WebhookVerificationError{Reason: "missing " + hmacHeader}
	}
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return &domain.WebhookVerificationError{Reason: "malformed signature", Err: err}
	}
	for _, secret := range a.cfg.WebhookSecrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(raw.Body)
		if hmac.Equal(got, mac.Sum(nil)) {
			return nil
		}
	}
	return &domain.WebhookVerificationError{Reason: "signature mismatch"}
}

type webhookBody struct {
	ID              json.Number `json:"id"`
	OrderID         json.Number `json:"order_id"`
	InventoryItemID json.Number `json:"inventory_item_id"`
	AdminGraphqlID  string      `json:"admin_graphql_api_id"`
	UpdatedAt       *time.Time  `json:"updated_at"`
}

func (a *Adapter) ParseWebhook(ctx context.Context, raw domain.RawWebhook) (*domain.WebhookEvent, error) {
	if err := a.VerifyWebhook(ctx, raw); err != nil {
		return nil, err
	}
	topic := strings.ToLower(raw.Header(topicHeader))
	m, ok := topics[topic]
	if !ok {
		return nil, fmt.Errorf("topic %q: %w", topic, domain.ErrUnhandledEvent)
	}
	webhookID := raw.Header(webhookHeader)
	if webhookID == "" {
		return nil, &domain.WebhookVerificationError{Reason: "missing " + webhookHeader}
	}
	var body webhookBody
	if err := json.Unmarshal(raw.Body, &body); err != nil {
		return nil, &domain.WebhookVerificationError{Reason: "malformed body", Err: err}
	}

	objectID := body.ID.String()
	switch {
	case m.typ == domain.EventOrderRefunded:
		objectID = body.OrderID.String()
	case m.typ == domain.EventInventoryUpdated:
		objectID = body.InventoryItemID.String()
	case objectID == "" && body.AdminGraphqlID != "":
		objectID = fromGID(body.AdminGraphqlID)
	}
	if objectID == "" {
		return nil, fmt.Errorf("topic %s has no object id: %w", topic, domain.ErrUnhandledEvent)
	}

	occurred := a.now().UTC()
	if t, err := time.Parse(time.RFC3339, raw.Header(eventAtHeader)); err == nil {
		occurred = t.UTC()
	} else if body.UpdatedAt != nil {
		occurred = body.UpdatedAt.UTC()
	}
	return &domain.WebhookEvent{
		ID:              uuid.NewSHA1(uuid.NameSpaceURL, []byte("managed:"+a.cfg.TenantID+":"+webhookID)).String(),
		ProviderEventID: webhookID,
		TenantID:        a.cfg.TenantID,
		Type:            m.typ,
		ObjectType:      m.objectType,
		ObjectID:        objectID,
		Payload:         json.RawMessage(raw.Body),
		OccurredAt:      occurred,
	}, nil
}

// ProcessWebhook has nothing to apply: the platform already owns the state
// the event describes.
func (a *Adapter) ProcessWebhook(_ context.Context, ev *domain.WebhookEvent) error {
	a.logger.Debug().Str("event_id", ev.ID).Str("type", string(ev.Type)).Str("object_id", ev.ObjectID).Msg("platform event observed")
	return nil
}
