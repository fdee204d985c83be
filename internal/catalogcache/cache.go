// Package catalogcache keeps the last successful product reads in Redis and
// serves them, flagged stale, when the backend is unreachable.
package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const defaultRetention = 24 * time.Hour

type Cache struct {
	rdb       redis.Cmdable
	retention time.Duration
	logger    zerolog.Logger
}

func New(rdb redis.Cmdable, retention time.Duration, logger zerolog.Logger) *Cache {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Cache{
		rdb:       rdb,
		retention: retention,
		logger:    logger.With().Str("component", "catalog_cache").Logger(),
	}
}

func productKey(tenantID, id string) string {
	return "catalog:" + tenantID + ":product:" + id
}

func handleKey(tenantID, handle string) string {
	return "catalog:" + tenantID + ":handle:" + handle
}

// Wrap returns p with product reads backed by the cache.
func (c *Cache) Wrap(p provider.Provider) provider.Provider {
	return &cached{Provider: p, cache: c}
}

// InvalidateProduct drops a product and its handle entry.
func (c *Cache) InvalidateProduct(ctx context.Context, tenantID, productID string) error {
	key := productKey(tenantID, productID)
	keys := []string{key}
	if p, ok, err := c.load(ctx, key); err == nil && ok && p.Handle != "" {
		keys = append(keys, handleKey(tenantID, p.Handle))
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Cache) store(ctx context.Context, tenantID string, p *domain.Product) {
	payload, err := json.Marshal(p)
	if err != nil {
		c.logger.Warn().Err(err).Str("product_id", p.ID).Msg("encode product")
		return
	}
	if err := c.rdb.Set(ctx, productKey(tenantID, p.ID), payload, c.retention).Err(); err != nil {
		c.logger.Warn().Err(err).Str("product_id", p.ID).Msg("cache product")
		return
	}
	if p.Handle != "" {
		if err := c.rdb.Set(ctx, handleKey(tenantID, p.Handle), payload, c.retention).Err(); err != nil {
			c.logger.Warn().Err(err).Str("handle", p.Handle).Msg("cache product handle")
		}
	}
}

func (c *Cache) load(ctx context.Context, key string) (*domain.Product, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// fallback answers a transient failure from the cache, or returns readErr.
func (c *Cache) fallback(ctx context.Context, key string, readErr error) (*domain.Product, error) {
	p, ok, err := c.load(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("read cached product")
		return nil, readErr
	}
	if !ok {
		return nil, readErr
	}
	c.logger.Info().Err(readErr).Str("key", key).Msg("serving stale product")
	p.Stale = true
	return p, nil
}

type cached struct {
	provider.Provider
	cache *Cache
}

func (c *cached) Unwrap() provider.Provider { return c.Provider }

func (c *cached) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := c.Provider.GetProduct(ctx, id)
	if err == nil {
		c.cache.store(ctx, c.TenantID(), p)
		return p, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	return c.cache.fallback(ctx, productKey(c.TenantID(), id), err)
}

func (c *cached) GetProductByHandle(ctx context.Context, handle string) (*domain.Product, error) {
	p, err := c.Provider.GetProductByHandle(ctx, handle)
	if err == nil {
		c.cache.store(ctx, c.TenantID(), p)
		return p, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	return c.cache.fallback(ctx, handleKey(c.TenantID(), handle), err)
}
