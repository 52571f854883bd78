package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store"
	"barpos/backend/internal/units"
	"barpos/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.Kind = strings.ToUpper(strings.TrimSpace(filter.Kind))
	if filter.Kind != "" && !isKnownKind(filter.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", store.ErrInvalidTransaction, filter.Kind)
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Kind = strings.ToUpper(strings.TrimSpace(req.Kind))
	if req.Kind == "" {
		req.Kind = domain.KindStandard
	}

	if req.Name == "" || !isKnownKind(req.Kind) {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.PriceCents < 0 || req.MinStock < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.Kind == domain.KindCocktail && (req.InitialStock > 0 || req.MinStock > 0) {
		return domain.Product{}, fmt.Errorf("%w: cocktails keep no stock", store.ErrInvalidTransaction)
	}

	measure, err := units.NormalizeMeasure(req.Kind, req.Measure)
	if err != nil {
		return domain.Product{}, err
	}
	if req.ID == "" {
		req.ID = xid.New("prd")
	}

	product := domain.Product{
		ID:         req.ID,
		Name:       req.Name,
		Category:   req.Category,
		PriceCents: req.PriceCents,
		MinStock:   req.MinStock,
		Active:     true,
		Kind:       req.Kind,
		Measure:    measure,
	}

	var initial *domain.InventoryMove
	if req.InitialStock > 0 {
		initial = &domain.InventoryMove{
			ID:        xid.New("mov"),
			ProductID: product.ID,
			Qty:       req.InitialStock,
			Type:      domain.MoveIn,
			Note:      "initial stock",
			UserID:    actorName(ctx),
		}
	}

	created, err := s.repo.CreateProduct(ctx, product, initial)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,kind=%s,price=%d,stock=%d", created.Name, created.Kind, created.PriceCents, created.Stock))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 0 {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.MinStock != nil {
		if *req.MinStock < 0 || (*req.MinStock > 0 && !existing.StockTracked()) {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.MinStock = *req.MinStock
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	if req.Measure != nil {
		measure, err := units.NormalizeMeasure(existing.Kind, *req.Measure)
		if err != nil {
			return domain.Product{}, err
		}
		if measure != existing.Measure {
			if err := s.ensureNoStockHistory(ctx, existing); err != nil {
				return domain.Product{}, err
			}
		}
		updated.Measure = measure
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	changes := make([]string, 0, 4)
	if existing.Name != saved.Name {
		changes = append(changes, fmt.Sprintf("name:%s->%s", existing.Name, saved.Name))
	}
	if existing.PriceCents != saved.PriceCents {
		changes = append(changes, fmt.Sprintf("price:%d->%d", existing.PriceCents, saved.PriceCents))
	}
	if existing.Measure != saved.Measure {
		changes = append(changes, fmt.Sprintf("measure:%s->%s", existing.Measure, saved.Measure))
	}
	if existing.Active != saved.Active {
		changes = append(changes, fmt.Sprintf("active:%t->%t", existing.Active, saved.Active))
	}
	s.logAudit(ctx, "product_update", "product", saved.ID, strings.Join(changes, ","))
	return saved, nil
}

// ensureNoStockHistory rejects a measure change once balances exist in the old unit.
func (s *Service) ensureNoStockHistory(ctx context.Context, product domain.Product) error {
	if product.Stock != 0 {
		return fmt.Errorf("%w: measure of %s cannot change while it holds stock", store.ErrConflict, product.ID)
	}
	moves, err := s.repo.ListMoves(ctx, domain.MoveFilter{ProductID: product.ID, Limit: 1})
	if err != nil {
		return err
	}
	if len(moves) > 0 {
		return fmt.Errorf("%w: measure of %s cannot change once moves exist", store.ErrConflict, product.ID)
	}
	return nil
}

// SetRecipe replaces every row of a cocktail's recipe.
func (s *Service) SetRecipe(ctx context.Context, productID string, req domain.RecipeSetRequest) (domain.Recipe, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Recipe{}, err
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return domain.Recipe{}, err
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, strings.TrimSpace(item.IngredientID))
	}
	ingredients, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Recipe{}, err
	}

	rows, err := recipe.ValidateRows(product, req.Items, ingredients)
	if err != nil {
		return domain.Recipe{}, err
	}
	if err := s.repo.ReplaceRecipe(ctx, product.ID, rows); err != nil {
		return domain.Recipe{}, err
	}
	if err := s.recipes.Delete(ctx, product.ID); err != nil {
		s.logger.Warn("failed to invalidate recipe cache", zap.String("product_id", product.ID), zap.Error(err))
	}

	s.logAudit(ctx, "recipe_set", "product", product.ID, fmt.Sprintf("rows=%d", len(rows)))
	return buildRecipe(product, rows, ingredients), nil
}

func (s *Service) GetRecipe(ctx context.Context, productID string) (domain.Recipe, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return domain.Recipe{}, err
	}
	rows, err := s.repo.GetRecipe(ctx, product.ID)
	if err != nil {
		return domain.Recipe{}, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.IngredientID)
	}
	ingredients, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Recipe{}, err
	}
	return buildRecipe(product, rows, ingredients), nil
}

func buildRecipe(product domain.Product, rows []domain.RecipeRow, ingredients map[string]domain.Product) domain.Recipe {
	lines := make([]domain.RecipeLine, 0, len(rows))
	for _, row := range rows {
		ingredient := ingredients[row.IngredientID]
		lines = append(lines, domain.RecipeLine{
			RecipeRow:         row,
			IngredientName:    ingredient.Name,
			IngredientKind:    ingredient.Kind,
			IngredientMeasure: ingredient.Measure,
		})
	}
	return domain.Recipe{ProductID: product.ID, Name: product.Name, Items: lines}
}

func isKnownKind(kind string) bool {
	switch kind {
	case domain.KindStandard, domain.KindBase, domain.KindAccomp, domain.KindCocktail:
		return true
	default:
		return false
	}
}
