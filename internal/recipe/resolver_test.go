package recipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/units"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) GetRecipe(ctx context.Context, productID string) ([]domain.RecipeRow, error) {
	args := m.Called(ctx, productID)
	rows, _ := args.Get(0).([]domain.RecipeRow)
	return rows, args.Error(1)
}

func (m *mockSource) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	args := m.Called(ctx, ids)
	products, _ := args.Get(0).(map[string]domain.Product)
	return products, args.Error(1)
}

var (
	vodka    = domain.Product{ID: "vodka", Name: "Vodka", Kind: domain.KindBase, Measure: units.UnitML}
	lime     = domain.Product{ID: "lime", Name: "Lime", Kind: domain.KindAccomp, Measure: units.UnitCount}
	syrup    = domain.Product{ID: "syrup", Name: "Syrup", Kind: domain.KindAccomp, Measure: units.UnitML}
	beer     = domain.Product{ID: "beer", Name: "Beer", Kind: domain.KindStandard, Measure: units.UnitCount}
	cocktail = domain.Product{ID: "mule", Name: "Mule", Kind: domain.KindCocktail}
)

func muleRecipe() []domain.RecipeRow {
	return []domain.RecipeRow{
		{ProductID: "mule", IngredientID: "vodka", Qty: 45, Unit: "ML", Role: domain.RoleBase},
		{ProductID: "mule", IngredientID: "lime", Qty: 1, Unit: "UNIT", Role: domain.RoleAccomp},
	}
}

func TestResolveScalesByQuantity(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return(muleRecipe(), nil).Once()
	src.On("GetProductsByIDs", mock.Anything, []string{"vodka", "lime"}).
		Return(map[string]domain.Product{"vodka": vodka, "lime": lime}, nil).Once()

	reqs, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 2, Consume)
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "vodka", reqs[0].Ingredient.ID)
	assert.Equal(t, int64(90), reqs[0].Qty)
	assert.Equal(t, domain.MoveRecipeUse, reqs[0].MoveType)
	assert.Equal(t, "lime", reqs[1].Ingredient.ID)
	assert.Equal(t, int64(2), reqs[1].Qty)
	assert.Equal(t, domain.MoveAccompUse, reqs[1].MoveType)
	src.AssertExpectations(t)
}

func TestResolveCachesPerRequest(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return(muleRecipe(), nil).Once()
	src.On("GetProductsByIDs", mock.Anything, []string{"vodka", "lime"}).
		Return(map[string]domain.Product{"vodka": vodka, "lime": lime}, nil).Once()

	resolver := NewResolver(src, nil, 0, nil)
	for i := 0; i < 3; i++ {
		_, err := resolver.Resolve(context.Background(), cocktail, 1, Consume)
		require.NoError(t, err)
	}
	src.AssertNumberOfCalls(t, "GetRecipe", 1)
	src.AssertNumberOfCalls(t, "GetProductsByIDs", 1)
}

func TestResolveTakesCeilingOnTotal(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return([]domain.RecipeRow{
		{IngredientID: "vodka", Qty: 1.5, Unit: "OZ", Role: domain.RoleBase},
	}, nil)
	src.On("GetProductsByIDs", mock.Anything, mock.Anything).Return(map[string]domain.Product{"vodka": vodka}, nil)

	reqs, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 2, Consume)
	require.NoError(t, err)
	assert.Equal(t, int64(89), reqs[0].Qty)
}

func TestResolveKeepsRowsForSameIngredientApart(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return([]domain.RecipeRow{
		{IngredientID: "vodka", Qty: 0.5, Unit: "OZ", Role: domain.RoleBase},
		{IngredientID: "vodka", Qty: 0.5, Unit: "OZ", Role: domain.RoleBase},
	}, nil)
	src.On("GetProductsByIDs", mock.Anything, mock.Anything).Return(map[string]domain.Product{"vodka": vodka}, nil)

	reqs, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 1, Consume)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, int64(15), reqs[0].Qty)
	assert.Equal(t, int64(15), reqs[1].Qty)
}

func TestResolveRestoreTags(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return(muleRecipe(), nil)
	src.On("GetProductsByIDs", mock.Anything, mock.Anything).Return(map[string]domain.Product{"vodka": vodka, "lime": lime}, nil)

	reqs, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 1, Restore)
	require.NoError(t, err)
	assert.Equal(t, domain.MoveReturnRecipe, reqs[0].MoveType)
	assert.Equal(t, domain.MoveReturnAccomp, reqs[1].MoveType)
}

func TestResolveFailsWithoutRecipe(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return([]domain.RecipeRow{}, nil)

	_, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 1, Consume)
	assert.ErrorIs(t, err, ErrNoRecipe)

	_, err = NewResolver(src, nil, 0, nil).Resolve(context.Background(), beer, 1, Consume)
	assert.ErrorIs(t, err, ErrNoRecipe)
}

func TestResolveRejectsRoleMismatch(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return([]domain.RecipeRow{
		{IngredientID: "lime", Qty: 1, Unit: "UNIT", Role: domain.RoleBase},
	}, nil)
	src.On("GetProductsByIDs", mock.Anything, mock.Anything).Return(map[string]domain.Product{"lime": lime}, nil)

	_, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 1, Consume)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestResolveUsesIngredientMeasureForAccomp(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return([]domain.RecipeRow{
		{IngredientID: "syrup", Qty: 1, Unit: "CL", Role: domain.RoleAccomp},
	}, nil)
	src.On("GetProductsByIDs", mock.Anything, mock.Anything).Return(map[string]domain.Product{"syrup": syrup}, nil)

	reqs, err := NewResolver(src, nil, 0, nil).Resolve(context.Background(), cocktail, 3, Consume)
	require.NoError(t, err)
	assert.Equal(t, int64(30), reqs[0].Qty)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]domain.RecipeRow, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []domain.RecipeRow, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(context.Context, string) error {
	return errors.New("connection refused")
}

func TestResolveLogsSharedCacheFailures(t *testing.T) {
	src := &mockSource{}
	src.On("GetRecipe", mock.Anything, "mule").Return(muleRecipe(), nil).Once()
	src.On("GetProductsByIDs", mock.Anything, []string{"vodka", "lime"}).
		Return(map[string]domain.Product{"vodka": vodka, "lime": lime}, nil).Once()

	core, logs := observer.New(zapcore.WarnLevel)
	reqs, err := NewResolver(src, brokenCache{}, 0, zap.New(core)).Resolve(context.Background(), cocktail, 1, Consume)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	assert.Equal(t, 1, logs.FilterMessage("recipe cache read failed").Len())
	writes := logs.FilterMessage("recipe cache write failed").All()
	require.Len(t, writes, 1)
	assert.Equal(t, zapcore.WarnLevel, writes[0].Level)
	assert.Equal(t, "mule", writes[0].ContextMap()["product_id"])
	src.AssertExpectations(t)
}

func TestMultiplier(t *testing.T) {
	assert.Equal(t, int64(1), Multiplier(0))
	assert.Equal(t, int64(1), Multiplier(-4))
	assert.Equal(t, int64(2), Multiplier(1.6))
	assert.Equal(t, int64(3), Multiplier(3))
}

func TestValidateRows(t *testing.T) {
	ingredients := map[string]domain.Product{"vodka": vodka, "lime": lime, "beer": beer}

	rows, err := ValidateRows(cocktail, []domain.RecipeRowInput{
		{IngredientID: "vodka", Qty: 1.5, Unit: "oz", Role: "base"},
		{IngredientID: "lime", Qty: 1, Role: "ACCOMP"},
	}, ingredients)
	require.NoError(t, err)
	assert.Equal(t, "OZ", rows[0].Unit)
	assert.Equal(t, domain.RoleBase, rows[0].Role)
	assert.Equal(t, units.UnitCount, rows[1].Unit)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{
		{IngredientID: "vodka", Qty: 30, Role: "BASE"},
		{IngredientID: "vodka", Qty: 15, Role: "BASE"},
	}, ingredients)
	assert.ErrorIs(t, err, ErrInvalidRecipe)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{{IngredientID: "mule", Qty: 1, Role: "BASE"}}, ingredients)
	assert.ErrorIs(t, err, ErrInvalidRecipe)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{{IngredientID: "beer", Qty: 1, Role: "ACCOMP"}}, ingredients)
	assert.ErrorIs(t, err, ErrRoleMismatch)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{{IngredientID: "lime", Qty: 0.5, Role: "ACCOMP"}}, ingredients)
	assert.ErrorIs(t, err, units.ErrInvalidQuantity)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{{IngredientID: "vodka", Qty: 1, Unit: "KG", Role: "BASE"}}, ingredients)
	assert.ErrorIs(t, err, units.ErrInvalidUnit)

	_, err = ValidateRows(cocktail, []domain.RecipeRowInput{{IngredientID: "ghost", Qty: 1, Role: "BASE"}}, ingredients)
	assert.ErrorIs(t, err, ErrUnknownIngredient)

	_, err = ValidateRows(beer, nil, ingredients)
	assert.ErrorIs(t, err, ErrInvalidRecipe)
}
