package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateProcessing = "processing"
	stateDone       = "done"

	defaultProcessingTTL = 2 * time.Minute
	defaultRetention     = 72 * time.Hour
)

// Claim is the outcome of trying to take an event for processing.
type Claim int

const (
	Claimed Claim = iota
	AlreadyDone
	InFlight
)

// Ledger records which events were processed.
type Ledger interface {
	Claim(ctx context.Context, tenantID, eventID string) (Claim, error)
	Complete(ctx context.Context, tenantID, eventID string) error
	Release(ctx context.Context, tenantID, eventID string) error
}

type RedisLedger struct {
	rdb           redis.Cmdable
	processingTTL time.Duration
	retention     time.Duration
}

// NewRedisLedger keeps done markers for retention; an abandoned claim
// expires after processingTTL so a crashed worker does not block redelivery.
func NewRedisLedger(rdb redis.Cmdable, processingTTL, retention time.Duration) *RedisLedger {
	if processingTTL <= 0 {
		processingTTL = defaultProcessingTTL
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &RedisLedger{rdb: rdb, processingTTL: processingTTL, retention: retention}
}

func ledgerKey(tenantID, eventID string) string {
	return "webhook:" + tenantID + ":" + eventID
}

func (l *RedisLedger) Claim(ctx context.Context, tenantID, eventID string) (Claim, error) {
	key := ledgerKey(tenantID, eventID)
	ok, err := l.rdb.SetNX(ctx, key, stateProcessing, l.processingTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}
	state, err := l.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// released or expired between the two calls; let the sender retry
		return InFlight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	if state == stateDone {
		return AlreadyDone, nil
	}
	return InFlight, nil
}

func (l *RedisLedger) Complete(ctx context.Context, tenantID, eventID string) error {
	key := ledgerKey(tenantID, eventID)
	if err := l.rdb.Set(ctx, key, stateDone, l.retention).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, tenantID, eventID string) error {
	key := ledgerKey(tenantID, eventID)
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
