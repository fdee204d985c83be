package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
)

const exchangeType = "topic"

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type AMQPPublisher struct {
	ch       Channel
	exchange string
	conn     *amqp.Connection
	logger   zerolog.Logger
}

// NewAMQPPublisher publishes on an existing channel.
func NewAMQPPublisher(ch Channel, exchange string, logger zerolog.Logger) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, logger: logger.With().Str("component", "events").Logger()}
}

// DialAMQP connects with retries and declares the durable topic exchange.
func DialAMQP(ctx context.Context, url, exchange string, logger zerolog.Logger) (*AMQPPublisher, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 4), ctx)
	conn, err := backoff.RetryNotifyWithData(func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	}, policy, func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("connect to broker")
	})
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeType, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := NewAMQPPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

// RoutingKey is commerce.<tenant>.<event type>, e.g. commerce.acme.order.paid.
func RoutingKey(ev domain.WebhookEvent) string {
	return "commerce." + strings.ReplaceAll(ev.TenantID, ".", "_") + "." + string(ev.Type)
}

func (p *AMQPPublisher) Emit(ctx context.Context, ev domain.WebhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	p.logger.Debug().Str("event_id", ev.ID).Str("routing_key", RoutingKey(ev)).Msg("event published")
	return nil
}

// Close closes the connection opened by DialAMQP.
func (p *AMQPPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
