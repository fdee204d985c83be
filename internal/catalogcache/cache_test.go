package catalogcache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider/providertest"
)

func pot() *domain.Product {
	return &domain.Product{
		ID:     "prod-1",
		Handle: "small-pot",
		Title:  "Small Pot",
		Status: domain.ProductActive,
		Variants: []domain.Variant{
			{ID: "var-1", ProductID: "prod-1", SKU: "POT-S", Price: domain.NewMoney(1000, "USD")},
		},
	}
}

func TestGetProduct_StoresOnSuccess(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, time.Hour, zerolog.Nop())
	p := pot()
	payload, err := json.Marshal(p)
	require.NoError(t, err)
	mock.ExpectSet("catalog:acme:product:prod-1", payload, time.Hour).SetVal("OK")
	mock.ExpectSet("catalog:acme:handle:small-pot", payload, time.Hour).SetVal("OK")

	wrapped := c.Wrap(&providertest.Stub{Tenant: "acme", GetProductFn: func(context.Context, string) (*domain.Product, error) {
		return pot(), nil
	}})
	got, err := wrapped.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.False(t, got.Stale)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_ServesStaleOnTransientError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, time.Hour, zerolog.Nop())
	payload, err := json.Marshal(pot())
	require.NoError(t, err)
	mock.ExpectGet("catalog:acme:product:prod-1").SetVal(string(payload))

	wrapped := c.Wrap(&providertest.Stub{Tenant: "acme", GetProductFn: func(context.Context, string) (*domain.Product, error) {
		return nil, &domain.ProviderTransientError{Op: "get product", Err: errors.New("timeout")}
	}})
	got, err := wrapped.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, "POT-S", got.Variants[0].SKU)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_MissReturnsOriginalError(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, time.Hour, zerolog.Nop())
	mock.ExpectGet("catalog:acme:product:prod-1").RedisNil()

	readErr := &domain.ProviderTransientError{Op: "get product", Err: errors.New("timeout")}
	wrapped := c.Wrap(&providertest.Stub{Tenant: "acme", GetProductFn: func(context.Context, string) (*domain.Product, error) {
		return nil, readErr
	}})
	_, err := wrapped.GetProduct(context.Background(), "prod-1")
	assert.ErrorIs(t, err, readErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProduct_NotFoundBypassesCache(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, time.Hour, zerolog.Nop())

	wrapped := c.Wrap(&providertest.Stub{Tenant: "acme", GetProductFn: func(context.Context, string) (*domain.Product, error) {
		return nil, domain.ErrNotFound
	}})
	_, err := wrapped.GetProduct(context.Background(), "prod-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateProduct_DropsHandleToo(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	c := New(rdb, time.Hour, zerolog.Nop())
	payload, err := json.Marshal(pot())
	require.NoError(t, err)
	mock.ExpectGet("catalog:acme:product:prod-1").SetVal(string(payload))
	mock.ExpectDel("catalog:acme:product:prod-1", "catalog:acme:handle:small-pot").SetVal(2)

	require.NoError(t, c.InvalidateProduct(context.Background(), "acme", "prod-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
