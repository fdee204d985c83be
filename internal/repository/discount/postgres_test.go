package discount

import (
	"context"
	"testing"

	"commerce-provider/internal/db/dbtest"
	"commerce-provider/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_ReserveRespectsUsageLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgres(dbtest.NewPool(t), zerolog.Nop())

	limit := 1
	_, err := repo.Create(ctx, domain.DiscountCode{
		TenantID: "acme", Code: "save10", Type: domain.DiscountPercentage, Value: 1000, UsageLimit: &limit, Active: true,
	})
	require.NoError(t, err)

	got, err := repo.GetByCode(ctx, "acme", " Save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)

	require.NoError(t, repo.Reserve(ctx, "acme", []string{"SAVE10"}))
	err = repo.Reserve(ctx, "acme", []string{"save10"})
	var invalid *domain.ValidationError
	require.ErrorAs(t, err, &invalid)

	require.NoError(t, repo.Release(ctx, "acme", []string{"SAVE10"}))
	require.NoError(t, repo.Reserve(ctx, "acme", []string{"SAVE10"}))
}
