package recipe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"barpos/backend/internal/cache"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/units"
)

var (
	ErrNoRecipe          = errors.New("no recipe")
	ErrRoleMismatch      = errors.New("recipe role mismatch")
	ErrUnknownIngredient = errors.New("unknown recipe ingredient")
	ErrInvalidRecipe     = errors.New("invalid recipe")
)

// Source is the read side the resolver needs from the product store.
type Source interface {
	GetRecipe(ctx context.Context, productID string) ([]domain.RecipeRow, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

// Direction selects the ledger tags of resolved requirements.
type Direction int

const (
	Consume Direction = iota
	Restore
)

// Requirement is the canonical quantity one recipe row needs of its ingredient.
// Qty is always positive; the caller applies the sign.
type Requirement struct {
	Ingredient domain.Product
	Role       string
	Qty        int64
	MoveType   string
}

// Resolver expands cocktails into ingredient requirements. It memoizes
// recipes and ingredients for the lifetime of one request and is not safe for
// concurrent use.
type Resolver struct {
	src      Source
	shared   cache.RecipeCache
	ttl      time.Duration
	logger   *zap.Logger
	recipes  map[string][]domain.RecipeRow
	products map[string]domain.Product
}

func NewResolver(src Source, shared cache.RecipeCache, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if shared == nil {
		shared = cache.NoopRecipeCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{
		src:      src,
		shared:   shared,
		ttl:      ttl,
		logger:   logger,
		recipes:  make(map[string][]domain.RecipeRow),
		products: make(map[string]domain.Product),
	}
}

// Multiplier is how many recipe portions a sale quantity stands for.
func Multiplier(saleQty float64) int64 {
	if math.IsNaN(saleQty) || math.IsInf(saleQty, 0) {
		return 1
	}
	return max(1, int64(math.Round(saleQty)))
}

// Resolve returns one requirement per recipe row of cocktail, scaled to saleQty.
// Rows naming the same ingredient are kept apart.
func (r *Resolver) Resolve(ctx context.Context, cocktail domain.Product, saleQty float64, dir Direction) ([]Requirement, error) {
	if cocktail.Kind != domain.KindCocktail {
		return nil, fmt.Errorf("%w: product %s is %s, not %s", ErrNoRecipe, cocktail.ID, cocktail.Kind, domain.KindCocktail)
	}

	rows, err := r.recipe(ctx, cocktail.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: product %s (%s)", ErrNoRecipe, cocktail.ID, cocktail.Name)
	}

	if err := r.loadProducts(ctx, ingredientIDs(rows)); err != nil {
		return nil, err
	}

	multiplier := Multiplier(saleQty)
	out := make([]Requirement, 0, len(rows))
	for _, row := range rows {
		ingredient, ok := r.products[row.IngredientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s in recipe of %s", ErrUnknownIngredient, row.IngredientID, cocktail.ID)
		}
		category, err := rowCategory(row, ingredient)
		if err != nil {
			return nil, err
		}
		qty, err := units.ToCanonicalScaled(category, row.Unit, row.Qty, multiplier)
		if err != nil {
			return nil, fmt.Errorf("recipe of %s, ingredient %s: %w", cocktail.ID, ingredient.ID, err)
		}
		out = append(out, Requirement{
			Ingredient: ingredient,
			Role:       row.Role,
			Qty:        qty,
			MoveType:   moveType(row.Role, dir),
		})
	}
	return out, nil
}

// Products resolves ids through the request cache.
func (r *Resolver) Products(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if err := r.loadProducts(ctx, ids); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := r.products[id]; ok {
			out[id] = product
		}
	}
	return out, nil
}

func (r *Resolver) recipe(ctx context.Context, productID string) ([]domain.RecipeRow, error) {
	if rows, ok := r.recipes[productID]; ok {
		return rows, nil
	}

	rows, ok, err := r.shared.Get(ctx, productID)
	switch {
	case err != nil:
		r.logger.Warn("recipe cache read failed", zap.String("product_id", productID), zap.Error(err))
	case ok:
		r.recipes[productID] = rows
		return rows, nil
	}

	rows, err = r.src.GetRecipe(ctx, productID)
	if err != nil {
		return nil, err
	}
	r.recipes[productID] = rows
	if err := r.shared.Set(ctx, productID, rows, r.ttl); err != nil {
		r.logger.Warn("recipe cache write failed", zap.String("product_id", productID), zap.Error(err))
	}
	return rows, nil
}

func (r *Resolver) loadProducts(ctx context.Context, ids []string) error {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.products[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	loaded, err := r.src.GetProductsByIDs(ctx, missing)
	if err != nil {
		return err
	}
	for id, product := range loaded {
		r.products[id] = product
	}
	return nil
}

// rowCategory validates the ingredient against the row role and returns the
// category the row quantity is expressed in.
func rowCategory(row domain.RecipeRow, ingredient domain.Product) (units.Category, error) {
	switch row.Role {
	case domain.RoleBase:
		if ingredient.Kind != domain.KindBase {
			return "", fmt.Errorf("%w: BASE row needs a BASE ingredient, %s is %s", ErrRoleMismatch, ingredient.ID, ingredient.Kind)
		}
		return units.CategoryVolume, nil
	case domain.RoleAccomp:
		if ingredient.Kind != domain.KindAccomp {
			return "", fmt.Errorf("%w: ACCOMP row needs an ACCOMP ingredient, %s is %s", ErrRoleMismatch, ingredient.ID, ingredient.Kind)
		}
		return units.CategoryFor(ingredient.Kind, ingredient.Measure)
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrRoleMismatch, row.Role)
	}
}

func moveType(role string, dir Direction) string {
	switch {
	case role == domain.RoleBase && dir == Restore:
		return domain.MoveReturnRecipe
	case role == domain.RoleBase:
		return domain.MoveRecipeUse
	case dir == Restore:
		return domain.MoveReturnAccomp
	default:
		return domain.MoveAccompUse
	}
}

func ingredientIDs(rows []domain.RecipeRow) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.IngredientID)
	}
	return ids
}

// ValidateRows normalizes recipe input for product and checks every row
// against its ingredient. ingredients must hold every referenced id that exists.
func ValidateRows(product domain.Product, input []domain.RecipeRowInput, ingredients map[string]domain.Product) ([]domain.RecipeRow, error) {
	if product.Kind != domain.KindCocktail {
		return nil, fmt.Errorf("%w: only %s products carry a recipe", ErrInvalidRecipe, domain.KindCocktail)
	}

	seen := make(map[string]struct{}, len(input))
	rows := make([]domain.RecipeRow, 0, len(input))
	for i, in := range input {
		ingredientID := strings.TrimSpace(in.IngredientID)
		if ingredientID == "" {
			return nil, fmt.Errorf("%w: row %d has no ingredient", ErrInvalidRecipe, i+1)
		}
		if ingredientID == product.ID {
			return nil, fmt.Errorf("%w: a product cannot be its own ingredient", ErrInvalidRecipe)
		}
		if _, dup := seen[ingredientID]; dup {
			return nil, fmt.Errorf("%w: ingredient %s appears twice", ErrInvalidRecipe, ingredientID)
		}
		seen[ingredientID] = struct{}{}

		ingredient, ok := ingredients[ingredientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIngredient, ingredientID)
		}

		row := domain.RecipeRow{
			ProductID:    product.ID,
			IngredientID: ingredientID,
			Qty:          in.Qty,
			Unit:         units.Normalize(in.Unit),
			Role:         strings.ToUpper(strings.TrimSpace(in.Role)),
			Note:         strings.TrimSpace(in.Note),
		}
		category, err := rowCategory(row, ingredient)
		if err != nil {
			return nil, err
		}
		if row.Unit == "" {
			row.Unit = category.CanonicalUnit()
		}
		if _, err := units.ToCanonical(category, row.Unit, row.Qty); err != nil {
			return nil, fmt.Errorf("ingredient %s: %w", ingredientID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
