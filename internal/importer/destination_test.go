package importer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"commerce-provider/internal/db/dbtest"
	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

func TestPostgresDestination_ReplayedPageDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	dst := NewPostgresDestination("acme", dbtest.NewPool(t), zerolog.Nop())

	src := product("gid://shop/Product/1", "POT-S", 1000)
	for range 2 {
		_, err := dst.UpsertProduct(ctx, importedProduct(src))
		require.NoError(t, err)
	}

	n, err := dst.Count(ctx, provider.EntityProducts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sample, err := dst.SampleProducts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	assert.Equal(t, src.ID, sample[0].ExternalID)
	require.Len(t, sample[0].Variants, 1)
	assert.Equal(t, "POT-S", sample[0].Variants[0].SKU)
	assert.Equal(t, int64(1000), sample[0].Variants[0].Price.Amount)
}

func TestPostgresDestination_CustomerByExternalID(t *testing.T) {
	ctx := context.Background()
	dst := NewPostgresDestination("acme", dbtest.NewPool(t), zerolog.Nop())

	created, err := dst.UpsertCustomer(ctx, importedCustomer(domain.Customer{
		ID:        "gid://shop/Customer/7",
		Email:     "ada@example.com",
		FirstName: "Ada",
	}))
	require.NoError(t, err)

	got, err := dst.CustomerByExternalID(ctx, "gid://shop/Customer/7")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = dst.CustomerByExternalID(ctx, "gid://shop/Customer/8")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = dst.Count(ctx, provider.Entity("categories"))
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
