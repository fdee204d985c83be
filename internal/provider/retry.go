package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"commerce-provider/internal/domain"
)

// RetryPolicy bounds retries of read operations.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)
}

// Read runs op with exponential backoff. Only *domain.ProviderTransientError
// is retried; any other error is returned immediately.
func Read[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy.backOff(ctx))
}
