package availability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store/memory"
)

func seedBar(t *testing.T) (*memory.Store, map[string]domain.Product) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	catalog := []struct {
		product domain.Product
		stock   int64
	}{
		{domain.Product{ID: "vodka", Name: "Vodka", Kind: domain.KindBase, Measure: "ML", MinStock: 100, Active: true}, 100},
		{domain.Product{ID: "lime", Name: "Lime", Kind: domain.KindAccomp, Measure: "UNIT", Active: true}, 10},
		{domain.Product{ID: "beer", Name: "Beer", Kind: domain.KindStandard, Measure: "UNIT", Active: true}, 2},
		{domain.Product{ID: "mule", Name: "Mule", Kind: domain.KindCocktail, Active: true}, 0},
		{domain.Product{ID: "sour", Name: "Sour", Kind: domain.KindCocktail, Active: true}, 0},
	}
	products := make(map[string]domain.Product, len(catalog))
	for _, item := range catalog {
		var initial *domain.InventoryMove
		if item.stock > 0 {
			initial = &domain.InventoryMove{Qty: item.stock, Type: domain.MoveIn}
		}
		created, err := s.CreateProduct(ctx, item.product, initial)
		require.NoError(t, err)
		products[created.ID] = created
	}
	require.NoError(t, s.ReplaceRecipe(ctx, "mule", []domain.RecipeRow{
		{ProductID: "mule", IngredientID: "vodka", Qty: 45, Unit: "ML", Role: domain.RoleBase},
		{ProductID: "mule", IngredientID: "lime", Qty: 1, Unit: "UNIT", Role: domain.RoleAccomp},
	}))
	return s, products
}

func TestDemandExpandsReservedCocktails(t *testing.T) {
	s, products := seedBar(t)
	engine := NewEngine(recipe.NewResolver(s, nil, 0, nil))

	demand, unresolved, err := engine.Demand(context.Background(), products, []domain.ReservationSummaryItem{
		{ProductID: "mule", ReservedQty: 3},
		{ProductID: "beer", ReservedQty: 3},
		{ProductID: "lime", ReservedQty: 1},
		{ProductID: "sour", ReservedQty: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(135), demand["vodka"])
	assert.Equal(t, int64(4), demand["lime"])
	assert.Equal(t, int64(3), demand["beer"])
	assert.Equal(t, []string{"sour"}, unresolved, "a cocktail without recipe is reported, not fatal")
}

func TestEvaluateFlagsOversubscription(t *testing.T) {
	_, products := seedBar(t)
	list := make([]domain.Product, 0, len(products))
	for _, p := range products {
		list = append(list, p)
	}

	items := NewEngine(nil).Evaluate(list, map[string]int64{"vodka": 135, "lime": 4, "beer": 1})
	require.Len(t, items, 3, "cocktails keep no stock of their own")

	assert.Equal(t, "vodka", items[0].ProductID)
	assert.True(t, items[0].Oversubscribed)
	assert.Equal(t, int64(-35), items[0].Available)
	assert.True(t, items[0].LowStock)

	byID := make(map[string]domain.ProductAvailability, len(items))
	for _, item := range items {
		byID[item.ProductID] = item
	}
	assert.False(t, byID["beer"].Oversubscribed)
	assert.Equal(t, int64(1), byID["beer"].Available)
	assert.False(t, byID["lime"].LowStock, "no threshold means never low")

	warnings := Warnings(items, []string{"lime", "vodka"})
	require.Len(t, warnings, 1)
	assert.Equal(t, "vodka", warnings[0].ProductID)
}
