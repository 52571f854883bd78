package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barpos/backend/internal/domain"
)

func TestNoopRecipeCacheNeverHits(t *testing.T) {
	var c RecipeCache = NoopRecipeCache{}
	require.NoError(t, c.Set(context.Background(), "p1", []domain.RecipeRow{{IngredientID: "i1"}}, time.Minute))

	rows, ok, err := c.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rows)
}

func TestRedisRecipeCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BARPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BARPOS_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	c := NewRedisRecipeCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	productID := "cache-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = c.Delete(ctx, productID) })

	rows := []domain.RecipeRow{
		{ProductID: productID, IngredientID: "vodka", Qty: 45, Unit: "ML", Role: domain.RoleBase},
		{ProductID: productID, IngredientID: "lime", Qty: 1, Unit: "UNIT", Role: domain.RoleAccomp},
	}
	require.NoError(t, c.Set(ctx, productID, rows, time.Minute))

	got, ok, err := c.Get(ctx, productID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rows, got)

	require.NoError(t, c.Delete(ctx, productID))
	_, ok, err = c.Get(ctx, productID)
	require.NoError(t, err)
	assert.False(t, ok)
}
