package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/units"
	"barpos/backend/internal/xid"
)

// Store keeps everything in process memory. A single mutex serializes every
// check-then-write, which makes each multi-row method atomic.
type Store struct {
	mu sync.RWMutex

	products  map[string]domain.Product
	recipes   map[string][]domain.RecipeRow
	moves     []domain.InventoryMove
	moveIndex map[string]int

	tabs         map[string]domain.Tab
	tabItems     map[string][]domain.TabItem
	reservations map[string]domain.StockReservation

	sales       map[string]domain.Sale
	saleOrder   []string
	saleItems   map[string][]domain.SaleItem
	payments    []domain.Payment
	returns     map[string][]domain.SaleReturn
	returnIndex map[string]string

	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		recipes:         make(map[string][]domain.RecipeRow),
		moveIndex:       make(map[string]int),
		tabs:            make(map[string]domain.Tab),
		tabItems:        make(map[string][]domain.TabItem),
		reservations:    make(map[string]domain.StockReservation),
		sales:           make(map[string]domain.Sale),
		saleItems:       make(map[string][]domain.SaleItem),
		returns:         make(map[string][]domain.SaleReturn),
		returnIndex:     make(map[string]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with dev users and a small bar catalogue. Opening
// stock is written as IN moves so the ledger sums match the balances.
func NewSeeded() *Store {
	s := New()

	users, usedDefaults, err := store.SeedUsers()
	if err != nil {
		zap.L().Fatal("failed to seed users", zap.Error(err))
	}
	if usedDefaults {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}
	for _, user := range users {
		s.usersByUsername[user.Username] = user
	}

	ctx := context.Background()
	for _, seed := range seedCatalog() {
		var initial *domain.InventoryMove
		if seed.stock > 0 {
			initial = &domain.InventoryMove{
				ID:        xid.New("mov"),
				ProductID: seed.product.ID,
				Qty:       seed.stock,
				Type:      domain.MoveIn,
				Note:      "initial stock",
				UserID:    "system",
			}
		}
		if _, err := s.CreateProduct(ctx, seed.product, initial); err != nil {
			zap.L().Fatal("failed to seed product", zap.String("product_id", seed.product.ID), zap.Error(err))
		}
	}
	for productID, rows := range seedRecipes() {
		if err := s.ReplaceRecipe(ctx, productID, rows); err != nil {
			zap.L().Fatal("failed to seed recipe", zap.String("product_id", productID), zap.Error(err))
		}
	}
	return s
}

type seedProduct struct {
	product domain.Product
	stock   int64
}

func seedCatalog() []seedProduct {
	item := func(id, name, category, kind, measure string, price, minStock, stock int64) seedProduct {
		return seedProduct{
			product: domain.Product{
				ID:         id,
				Name:       name,
				Category:   category,
				PriceCents: price,
				MinStock:   minStock,
				Active:     true,
				Kind:       kind,
				Measure:    measure,
			},
			stock: stock,
		}
	}

	return []seedProduct{
		item("prd-vodka", "Vodka", "spirits", domain.KindBase, units.UnitML, 0, 500, 3000),
		item("prd-gin", "Gin", "spirits", domain.KindBase, units.UnitML, 0, 500, 2000),
		item("prd-rum", "White Rum", "spirits", domain.KindBase, units.UnitML, 0, 500, 2000),
		item("prd-lime", "Lime", "garnish", domain.KindAccomp, units.UnitCount, 0, 10, 60),
		item("prd-ginger-beer", "Ginger Beer", "mixers", domain.KindAccomp, units.UnitCount, 0, 6, 24),
		item("prd-syrup", "Sugar Syrup", "mixers", domain.KindAccomp, units.UnitML, 0, 200, 1500),
		item("prd-salt", "Salt", "garnish", domain.KindAccomp, units.UnitGram, 0, 100, 1000),
		item("prd-beer", "Lager Beer", "beer", domain.KindStandard, units.UnitCount, 8000, 12, 48),
		item("prd-water", "Still Water", "soft-drinks", domain.KindStandard, units.UnitCount, 3000, 6, 24),
		item("prd-mule", "Moscow Mule", "cocktails", domain.KindCocktail, "", 22000, 0, 0),
		item("prd-gin-tonic", "Gin Tonic", "cocktails", domain.KindCocktail, "", 24000, 0, 0),
		item("prd-mojito", "Mojito", "cocktails", domain.KindCocktail, "", 21000, 0, 0),
	}
}

func seedRecipes() map[string][]domain.RecipeRow {
	return map[string][]domain.RecipeRow{
		"prd-mule": {
			{ProductID: "prd-mule", IngredientID: "prd-vodka", Qty: 45, Unit: units.UnitML, Role: domain.RoleBase},
			{ProductID: "prd-mule", IngredientID: "prd-lime", Qty: 1, Unit: units.UnitCount, Role: domain.RoleAccomp},
			{ProductID: "prd-mule", IngredientID: "prd-ginger-beer", Qty: 1, Unit: units.UnitCount, Role: domain.RoleAccomp},
		},
		"prd-gin-tonic": {
			{ProductID: "prd-gin-tonic", IngredientID: "prd-gin", Qty: 1.5, Unit: "OZ", Role: domain.RoleBase},
			{ProductID: "prd-gin-tonic", IngredientID: "prd-lime", Qty: 1, Unit: units.UnitCount, Role: domain.RoleAccomp},
		},
		"prd-mojito": {
			{ProductID: "prd-mojito", IngredientID: "prd-rum", Qty: 2, Unit: "OZ", Role: domain.RoleBase},
			{ProductID: "prd-mojito", IngredientID: "prd-lime", Qty: 1, Unit: units.UnitCount, Role: domain.RoleAccomp},
			{ProductID: "prd-mojito", IngredientID: "prd-syrup", Qty: 2, Unit: "CL", Role: domain.RoleAccomp},
		},
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initial *domain.InventoryMove) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrInvalidTransaction)
	}
	if _, exists := s.products[product.ID]; exists {
		return domain.Product{}, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = product.CreatedAt
	product.Stock = 0
	s.products[product.ID] = product

	if initial != nil {
		initial.ProductID = product.ID
		if _, err := s.applyMovesLocked([]domain.InventoryMove{*initial}, now); err != nil {
			delete(s.products, product.ID)
			return domain.Product{}, err
		}
	}
	return s.products[product.ID], nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	product.Stock = current.Stock
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return product, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.Kind != "" && p.Kind != filter.Kind {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Name), query) && !strings.Contains(strings.ToLower(p.ID), query) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetRecipe(_ context.Context, productID string) ([]domain.RecipeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.recipes[productID]), nil
}

func (s *Store) ReplaceRecipe(_ context.Context, productID string, rows []domain.RecipeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	for _, row := range rows {
		if _, ok := s.products[row.IngredientID]; !ok {
			return fmt.Errorf("%w: ingredient %s", store.ErrNotFound, row.IngredientID)
		}
	}
	if len(rows) == 0 {
		delete(s.recipes, productID)
		return nil
	}
	s.recipes[productID] = slices.Clone(rows)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, min(len(s.auditLogs), max(limit, 0)))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, s.auditLogs[i])
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func paginate[T any](items []T, limit int, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
