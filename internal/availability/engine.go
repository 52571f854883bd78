package availability

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/units"
)

// Expander turns a cocktail quantity into ingredient requirements.
type Expander interface {
	Resolve(ctx context.Context, cocktail domain.Product, saleQty float64, dir recipe.Direction) ([]recipe.Requirement, error)
}

type Engine struct {
	expander Expander
}

func NewEngine(expander Expander) *Engine {
	return &Engine{expander: expander}
}

// Demand converts reserved quantities into canonical demand per stock-tracked
// product. Reserved cocktails are charged to their ingredients. Cocktails whose
// recipe cannot be expanded are returned as unresolved instead of failing the
// whole report.
func (e *Engine) Demand(ctx context.Context, products map[string]domain.Product, reserved []domain.ReservationSummaryItem) (map[string]int64, []string, error) {
	demand := make(map[string]int64, len(reserved))
	unresolved := make([]string, 0)
	for _, item := range reserved {
		if item.ReservedQty <= 0 {
			continue
		}
		product, ok := products[item.ProductID]
		if !ok {
			unresolved = append(unresolved, item.ProductID)
			continue
		}
		if product.StockTracked() {
			demand[product.ID] += item.ReservedQty
			continue
		}

		reqs, err := e.expander.Resolve(ctx, product, float64(item.ReservedQty), recipe.Consume)
		if err != nil {
			if isRecipeError(err) {
				unresolved = append(unresolved, product.ID)
				continue
			}
			return nil, nil, err
		}
		for _, req := range reqs {
			demand[req.Ingredient.ID] += req.Qty
		}
	}
	return demand, unresolved, nil
}

// Evaluate reports stock against reserved demand for every stock-tracked
// product. Oversubscribed products sort first, then low ones, then by name.
func (e *Engine) Evaluate(products []domain.Product, demand map[string]int64) []domain.ProductAvailability {
	out := make([]domain.ProductAvailability, 0, len(products))
	for _, product := range products {
		if !product.StockTracked() {
			continue
		}
		reserved := demand[product.ID]
		available := product.Stock - reserved
		out = append(out, domain.ProductAvailability{
			ProductID:      product.ID,
			Name:           product.Name,
			Kind:           product.Kind,
			Measure:        product.Measure,
			Stock:          product.Stock,
			Reserved:       reserved,
			Available:      available,
			MinStock:       product.MinStock,
			LowStock:       product.MinStock > 0 && available <= product.MinStock,
			Oversubscribed: reserved > product.Stock,
		})
	}

	slices.SortFunc(out, func(a, b domain.ProductAvailability) int {
		if a.Oversubscribed != b.Oversubscribed {
			return boolRank(a.Oversubscribed) - boolRank(b.Oversubscribed)
		}
		if a.LowStock != b.LowStock {
			return boolRank(a.LowStock) - boolRank(b.LowStock)
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}

// Warnings keeps the entries for ids that are oversubscribed or low.
func Warnings(items []domain.ProductAvailability, ids []string) []domain.ProductAvailability {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	out := make([]domain.ProductAvailability, 0)
	for _, item := range items {
		if _, ok := wanted[item.ProductID]; !ok {
			continue
		}
		if item.Oversubscribed || item.LowStock {
			out = append(out, item)
		}
	}
	return out
}

func isRecipeError(err error) bool {
	return errors.Is(err, recipe.ErrNoRecipe) ||
		errors.Is(err, recipe.ErrRoleMismatch) ||
		errors.Is(err, recipe.ErrUnknownIngredient) ||
		errors.Is(err, units.ErrInvalidUnit) ||
		errors.Is(err, units.ErrInvalidQuantity)
}

func boolRank(v bool) int {
	if v {
		return 0
	}
	return 1
}
