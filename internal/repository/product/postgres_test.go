package product

import (
	"context"
	"testing"

	"commerce-provider/internal/db/dbtest"
	"commerce-provider/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_UpsertByExternalIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.NewPool(t), zerolog.Nop())

	in := domain.Product{
		TenantID:   "acme",
		ExternalID: "gid://shop/Product/1",
		Handle:     "plant-pot",
		Title:      "Plant Pot",
		Status:     domain.ProductActive,
		Variants: []domain.Variant{
			{ExternalID: "gid://shop/ProductVariant/11", SKU: "POT-S", Title: "Small", Price: domain.NewMoney(1000, "USD"), InventoryQuantity: 5},
			{ExternalID: "gid://shop/ProductVariant/12", SKU: "POT-L", Title: "Large", Price: domain.NewMoney(1500, "USD"), InventoryQuantity: 2},
		},
	}
	first, err := repo.Upsert(ctx, in)
	require.NoError(t, err)
	require.Len(t, first.Variants, 2)

	in.Title = "Plant Pot v2"
	in.Variants = in.Variants[:1]
	second, err := repo.Upsert(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Plant Pot v2", second.Title)
	require.Len(t, second.Variants, 1)
	assert.Equal(t, first.Variants[0].ID, second.Variants[0].ID)

	n, err := repo.Count(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	byVariant, err := repo.GetByVariantID(ctx, "acme", second.Variants[0].ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, byVariant.ID)

	_, err = repo.GetByHandle(ctx, "other-tenant", "plant-pot")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPostgres_ListPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.NewPool(t), zerolog.Nop())

	for _, h := range []string{"a", "b", "c"} {
		_, err := repo.Upsert(ctx, domain.Product{TenantID: "acme", Handle: h, Title: h, Status: domain.ProductActive})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	opts := domain.ListOptions{Limit: 2}
	for {
		page, err := repo.List(ctx, "acme", opts)
		require.NoError(t, err)
		for _, p := range page.Items {
			seen[p.Handle] = true
		}
		if page.NextCursor == "" {
			break
		}
		opts.Cursor = page.NextCursor
	}
	assert.Len(t, seen, 3)
}
