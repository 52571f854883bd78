package cache

import (
	"context"
	"time"

	"barpos/backend/internal/domain"
)

// RecipeCache holds recipe rows by cocktail product id across requests.
type RecipeCache interface {
	Get(ctx context.Context, productID string) ([]domain.RecipeRow, bool, error)
	Set(ctx context.Context, productID string, rows []domain.RecipeRow, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

type NoopRecipeCache struct{}

func (NoopRecipeCache) Get(_ context.Context, _ string) ([]domain.RecipeRow, bool, error) {
	return nil, false, nil
}

func (NoopRecipeCache) Set(_ context.Context, _ string, _ []domain.RecipeRow, _ time.Duration) error {
	return nil
}

func (NoopRecipeCache) Delete(_ context.Context, _ string) error {
	return nil
}

func recipeKey(productID string) string {
	return "barpos:recipe:v1:" + productID
}
