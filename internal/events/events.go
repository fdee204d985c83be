// Package events emits canonical commerce events to downstream consumers.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
)

// Emitter delivers one canonical event. Delivery is at least once: an
// event may be emitted again if its webhook is redelivered after a failure.
type Emitter interface {
	Emit(ctx context.Context, ev domain.WebhookEvent) error
}

// Multi emits to every emitter and joins their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev domain.WebhookEvent) error {
	var errs []error
	for _, e := range m {
		errs = append(errs, e.Emit(ctx, ev))
	}
	return errors.Join(errs...)
}

type logEmitter struct {
	logger zerolog.Logger
}

// NewLog writes events to logger, for local runs without a broker.
func NewLog(logger zerolog.Logger) Emitter {
	return &logEmitter{logger: logger.With().Str("component", "events").Logger()}
}

func (l *logEmitter) Emit(_ context.Context, ev domain.WebhookEvent) error {
	l.logger.Info().
		Str("event_id", ev.ID).
		Str("tenant", ev.TenantID).
		Str("type", string(ev.Type)).
		Str("object_type", ev.ObjectType).
		Str("object_id", ev.ObjectID).
		Time("occurred_at", ev.OccurredAt).
		Msg("commerce event")
	return nil
}

// Memory records emitted events.
type Memory struct {
	mu     sync.Mutex
	events []domain.WebhookEvent
	Err    error
}

func (m *Memory) Emit(_ context.Context, ev domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Events() []domain.WebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WebhookEvent(nil), m.events...)
}
