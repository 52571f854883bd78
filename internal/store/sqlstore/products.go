package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

const productColumns = `id, name, category, price_cents, stock, min_stock, is_active, kind, measure, created_at, updated_at`

const recipeColumns = `product_id, ingredient_id, qty, unit, role, note`

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initial *domain.InventoryMove) (domain.Product, error) {
	if product.ID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrInvalidTransaction)
	}
	now := time.Now().UTC()
	product.CreatedAt = utc(product.CreatedAt)
	product.UpdatedAt = product.CreatedAt
	product.Stock = 0

	var created domain.Product
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO products (`+productColumns+`)
			VALUES (:id, :name, :category, :price_cents, :stock, :min_stock, :is_active, :kind, :measure, :created_at, :updated_at)
		`, product); err != nil {
			return err
		}
		if initial != nil {
			initial.ProductID = product.ID
			if _, err := s.applyMovesTx(ctx, tx, []domain.InventoryMove{*initial}, now); err != nil {
				return err
			}
		}
		var err error
		created, err = s.getProduct(ctx, tx, product.ID)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE products
		SET name = ?, category = ?, price_cents = ?, min_stock = ?, is_active = ?, kind = ?, measure = ?, updated_at = ?
		WHERE id = ?
	`), product.Name, product.Category, product.PriceCents, product.MinStock, product.Active, product.Kind, product.Measure, time.Now().UTC(), product.ID)
	if err != nil {
		return domain.Product{}, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Product{}, store.ErrNotFound
	}
	return s.getProduct(ctx, s.db, product.ID)
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.getProduct(ctx, s.db, id)
}

func (s *Store) getProduct(ctx context.Context, q sqlx.ExtContext, id string) (domain.Product, error) {
	var product domain.Product
	err := sqlx.GetContext(ctx, q, &product, q.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return s.productsByIDs(ctx, s.db, ids, false)
}

// productsByIDs loads the listed products, optionally row-locked in id order.
func (s *Store) productsByIDs(ctx context.Context, q sqlx.ExtContext, ids []string, lock bool) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	suffix := ""
	if lock {
		suffix = s.forUpdate()
	}
	query, args, err := inQuery(q, `SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id`+suffix, sortedIDs(ids))
	if err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(ids))
	if err := sqlx.SelectContext(ctx, q, &products, query, args...); err != nil {
		return nil, err
	}
	for _, product := range products {
		result[product.ID] = product
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if filter.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(id) LIKE ?)")
		args = append(args, "%"+query+"%", "%"+query+"%")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, id"

	products := make([]domain.Product, 0, 64)
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetRecipe(ctx context.Context, productID string) ([]domain.RecipeRow, error) {
	if _, err := s.getProduct(ctx, s.db, productID); err != nil {
		return nil, err
	}
	rows := make([]domain.RecipeRow, 0, 4)
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+recipeColumns+` FROM product_recipes WHERE product_id = ? ORDER BY position
	`), productID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceRecipe swaps the whole recipe in one transaction.
func (s *Store) ReplaceRecipe(ctx context.Context, productID string, rows []domain.RecipeRow) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getProduct(ctx, tx, productID); err != nil {
			return err
		}
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.IngredientID)
		}
		found, err := s.productsByIDs(ctx, tx, ids, false)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return fmt.Errorf("%w: ingredient %s", store.ErrNotFound, id)
			}
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM product_recipes WHERE product_id = ?`), productID); err != nil {
			return err
		}
		for i, row := range rows {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO product_recipes (product_id, ingredient_id, position, qty, unit, role, note)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`), productID, row.IngredientID, i, row.Qty, row.Unit, row.Role, row.Note); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	entry.CreatedAt = utc(entry.CreatedAt)
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return mapErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	logs := make([]domain.AuditLog, 0, max(limit, 0))
	query := page(`
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC`, limit, 0)
	if err := s.db.SelectContext(ctx, &logs, query); err != nil {
		return nil, err
	}
	return logs, nil
}

type userRow struct {
	Username  string    `json:"username"`
	Password  string    `json:"password_hash"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	row := userRow{
		Username:  username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    true,
		CreatedAt: utc(user.CreatedAt),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES (:username, :password_hash, :role, :active, :created_at)
	`, row)
	if err = mapErr(err); errors.Is(err, store.ErrConflict) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows := make([]userRow, 0, 8)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT username, password_hash, role, active, created_at FROM users ORDER BY username
	`); err != nil {
		return nil, err
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET password_hash = ? WHERE username = ?`), password, username)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}
