package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

const moveColumns = `id, product_id, qty, type, source_ref, note, user_id, location, supplier_name, invoice_number,
	unit_cost_cents, discount_cents, tax_cents, lot, expiry_date, stock_after, created_at, updated_at`

func (s *Store) ApplyMoves(ctx context.Context, moves []domain.InventoryMove) ([]domain.InventoryMove, error) {
	var written []domain.InventoryMove
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		written, err = s.applyMovesTx(ctx, tx, moves, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// applyMovesTx locks every touched product row in id order, checks the whole
// batch, then writes balances and ledger rows. The balance update is
// conditional so a concurrent writer that slipped past the lock still cannot
// push stock below zero.
func (s *Store) applyMovesTx(ctx context.Context, tx *sqlx.Tx, moves []domain.InventoryMove, now time.Time) ([]domain.InventoryMove, error) {
	if len(moves) == 0 {
		return []domain.InventoryMove{}, nil
	}

	products, err := s.productsByIDs(ctx, tx, store.MoveProductIDs(moves), true)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]int64, len(products))
	for _, move := range moves {
		product, ok := products[move.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, move.ProductID)
		}
		if !product.StockTracked() {
			return nil, fmt.Errorf("%w: %s products keep no stock", store.ErrInvalidTransaction, product.Kind)
		}
		balances[move.ProductID] = product.Stock
	}

	after, final, err := store.PlanBalances(balances, moves)
	if err != nil {
		return nil, err
	}

	for _, productID := range sortedIDs(store.MoveProductIDs(moves)) {
		delta := final[productID] - balances[productID]
		if err := s.shiftBalance(ctx, tx, productID, delta, now); err != nil {
			return nil, err
		}
	}

	written := make([]domain.InventoryMove, 0, len(moves))
	for i, move := range moves {
		if move.ID == "" {
			move.ID = xid.New("mov")
		}
		move.CreatedAt = utc(move.CreatedAt)
		move.UpdatedAt = move.CreatedAt
		move.StockAfter = after[i]
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO inventory_moves (`+moveColumns+`)
			VALUES (:id, :product_id, :qty, :type, :source_ref, :note, :user_id, :location, :supplier_name, :invoice_number,
				:unit_cost_cents, :discount_cents, :tax_cents, :lot, :expiry_date, :stock_after, :created_at, :updated_at)
		`, move); err != nil {
			return nil, err
		}
		written = append(written, move)
	}
	return written, nil
}

// shiftBalance adds delta to the stock of one product unless that would take it below zero.
func (s *Store) shiftBalance(ctx context.Context, tx *sqlx.Tx, productID string, delta int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE products
		SET stock = stock + ?, updated_at = ?
		WHERE id = ? AND stock + ? >= 0
	`), delta, now, productID, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	product, err := s.getProduct(ctx, tx, productID)
	if err != nil {
		return err
	}
	s.logger.Warn("conditional stock update rejected",
		zap.String("product_id", productID),
		zap.Int64("delta", delta),
		zap.Int64("stock", product.Stock),
	)
	return &store.InsufficientStockError{ProductID: productID, Requested: -delta, Available: product.Stock}
}

func (s *Store) GetMove(ctx context.Context, id string) (domain.InventoryMove, error) {
	return s.getMove(ctx, s.db, id, false)
}

func (s *Store) getMove(ctx context.Context, q sqlx.ExtContext, id string, lock bool) (domain.InventoryMove, error) {
	query := `SELECT ` + moveColumns + ` FROM inventory_moves WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	var move domain.InventoryMove
	err := sqlx.GetContext(ctx, q, &move, q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryMove{}, store.ErrNotFound
	}
	if err != nil {
		return domain.InventoryMove{}, err
	}
	return move, nil
}

// ListMoves returns matching moves newest first.
func (s *Store) ListMoves(ctx context.Context, filter domain.MoveFilter) ([]domain.InventoryMove, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.SourceRef != "" {
		where = append(where, "source_ref = ?")
		args = append(args, filter.SourceRef)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + moveColumns + ` FROM inventory_moves`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query = page(query+" ORDER BY created_at DESC, id DESC", filter.Limit, filter.Offset)

	moves := make([]domain.InventoryMove, 0, 64)
	if err := s.db.SelectContext(ctx, &moves, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return moves, nil
}

// UpdateMove rewrites the editable fields of a move and shifts the product
// balance by the quantity difference. StockAfter moves by the same difference
// so it reads as if the move had been recorded with its corrected quantity.
func (s *Store) UpdateMove(ctx context.Context, move domain.InventoryMove) (domain.InventoryMove, error) {
	var updated domain.InventoryMove
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.getMove(ctx, tx, move.ID, true)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		delta := move.Qty - current.Qty
		if delta != 0 {
			if err := s.shiftBalance(ctx, tx, current.ProductID, delta, now); err != nil {
				return err
			}
		}

		move.ProductID = current.ProductID
		move.Type = current.Type
		move.SourceRef = current.SourceRef
		move.UserID = current.UserID
		move.StockAfter = current.StockAfter + delta
		move.CreatedAt = current.CreatedAt
		move.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE inventory_moves
			SET qty = :qty, note = :note, location = :location, supplier_name = :supplier_name,
				invoice_number = :invoice_number, unit_cost_cents = :unit_cost_cents,
				discount_cents = :discount_cents, tax_cents = :tax_cents, lot = :lot,
				expiry_date = :expiry_date, stock_after = :stock_after, updated_at = :updated_at
			WHERE id = :id
		`, move); err != nil {
			return err
		}
		updated = move
		return nil
	})
	if err != nil {
		return domain.InventoryMove{}, err
	}
	return updated, nil
}

// DeleteMove removes a move and reverses its effect on the balance.
func (s *Store) DeleteMove(ctx context.Context, id string) (domain.InventoryMove, error) {
	var deleted domain.InventoryMove
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.getMove(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := s.shiftBalance(ctx, tx, current.ProductID, -current.Qty, time.Now().UTC()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM inventory_moves WHERE id = ?`), id); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	if err != nil {
		return domain.InventoryMove{}, err
	}
	return deleted, nil
}

func (s *Store) LedgerSums(ctx context.Context) (map[string]int64, error) {
	type sumRow struct {
		ProductID string `json:"product_id"`
		Total     int64  `json:"total"`
	}
	rows := make([]sumRow, 0, 64)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT product_id, COALESCE(SUM(qty), 0) AS total FROM inventory_moves GROUP BY product_id
	`); err != nil {
		return nil, err
	}
	sums := make(map[string]int64, len(rows))
	for _, row := range rows {
		sums[row.ProductID] = row.Total
	}
	return sums, nil
}
