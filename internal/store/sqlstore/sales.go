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

const saleColumns = `id, user_id, status, subtotal_cents, discount_total_cents, tax_total_cents, total_cents,
	notes, client, tab_id, void_reason, voided_by, voided_at, created_at, updated_at`

const saleItemColumns = `id, sale_id, product_id, kind, qty, unit_price_cents, line_discount_cents, tax_rate,
	tax_cents, line_total_cents, name_snapshot, category_snapshot`

const paymentColumns = `id, sale_id, return_id, method, provider, amount_cents, change_given_cents, reference, created_at`

const returnColumns = `id, sale_id, user_id, amount_cents, record_refund_payment, refund_payment_status,
	refund_payment_id, note, created_at`

const returnItemColumns = `sale_item_id, product_id, name_snapshot, qty, unit_refund_cents, amount_cents`

// CreateSale writes the header, lines, moves and payments of one sale in a
// single transaction. Stock is checked after the product rows are locked.
func (s *Store) CreateSale(ctx context.Context, commit domain.SaleCommit) (domain.SaleDetail, error) {
	sale := commit.Sale
	if sale.ID == "" {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale id required", store.ErrInvalidTransaction)
	}
	now := time.Now().UTC()
	sale.CreatedAt = utc(sale.CreatedAt)
	sale.UpdatedAt = sale.CreatedAt

	var detail domain.SaleDetail
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if sale.TabID != "" {
			if _, err := s.openTab(ctx, tx, sale.TabID); err != nil {
				return err
			}
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO sales (`+saleColumns+`)
			VALUES (:id, :user_id, :status, :subtotal_cents, :discount_total_cents, :tax_total_cents, :total_cents,
				:notes, :client, :tab_id, :void_reason, :voided_by, :voided_at, :created_at, :updated_at)
		`, sale); err != nil {
			return err
		}

		moves := make([]domain.InventoryMove, len(commit.Moves))
		for i, move := range commit.Moves {
			move.SourceRef = sale.ID
			move.CreatedAt = sale.CreatedAt
			moves[i] = move
		}
		if _, err := s.applyMovesTx(ctx, tx, moves, now); err != nil {
			return err
		}

		for i, item := range commit.Items {
			if item.ID == "" {
				item.ID = xid.New("sli")
			}
			item.SaleID = sale.ID
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO sale_items (id, sale_id, position, product_id, kind, qty, unit_price_cents, line_discount_cents,
					tax_rate, tax_cents, line_total_cents, name_snapshot, category_snapshot)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`), item.ID, item.SaleID, i, item.ProductID, item.Kind, item.Qty, item.UnitPriceCents, item.LineDiscountCents,
				item.TaxRate, item.TaxCents, item.LineTotalCents, item.NameSnapshot, item.CategorySnapshot); err != nil {
				return err
			}
		}
		for _, payment := range commit.Payments {
			payment.SaleID = sale.ID
			if payment.CreatedAt.IsZero() {
				payment.CreatedAt = sale.CreatedAt
			}
			if err := s.insertPayment(ctx, tx, &payment); err != nil {
				return err
			}
		}
		if sale.TabID != "" {
			if err := s.consumeTab(ctx, tx, sale.TabID, sale.ID, now); err != nil {
				return err
			}
		}

		var err error
		detail, err = s.saleDetail(ctx, tx, sale.ID, false)
		return err
	})
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return detail, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (domain.SaleDetail, error) {
	return s.saleDetail(ctx, s.db, id, false)
}

// ListSales returns matching sale headers newest first.
func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, filter.To.UTC())
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query = page(query+" ORDER BY created_at DESC, id DESC", filter.Limit, filter.Offset)

	sales := make([]domain.Sale, 0, 32)
	if err := s.db.SelectContext(ctx, &sales, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListPayments(ctx context.Context, from *time.Time, to *time.Time) ([]domain.Payment, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if from != nil {
		where = append(where, "created_at >= ?")
		args = append(args, from.UTC())
	}
	if to != nil {
		where = append(where, "created_at < ?")
		args = append(args, to.UTC())
	}
	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	payments := make([]domain.Payment, 0, 32)
	if err := s.db.SelectContext(ctx, &payments, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return payments, nil
}

// VoidSale writes the reversal of every move the sale produced and marks it VOIDED.
func (s *Store) VoidSale(ctx context.Context, id string, reason string, userID string, at time.Time) (domain.SaleDetail, []domain.InventoryMove, error) {
	var (
		detail    domain.SaleDetail
		reversals []domain.InventoryMove
	)
	at = at.UTC()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.saleDetail(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := store.VoidEligible(current); err != nil {
			return err
		}

		saleMoves := make([]domain.InventoryMove, 0, 8)
		if err := tx.SelectContext(ctx, &saleMoves, tx.Rebind(`
			SELECT `+moveColumns+` FROM inventory_moves WHERE source_ref = ? ORDER BY created_at, id
		`), id); err != nil {
			return err
		}
		if reversals, err = s.applyMovesTx(ctx, tx, store.ReversalMoves(id, saleMoves, userID, at), at); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE sales SET status = ?, void_reason = ?, voided_by = ?, voided_at = ?, updated_at = ? WHERE id = ?
		`), domain.SaleStatusVoided, reason, userID, at, at, id); err != nil {
			return err
		}
		detail, err = s.saleDetail(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return domain.SaleDetail{}, nil, err
	}
	return detail, reversals, nil
}

// CreateReturn re-checks remaining quantities with the sale row locked,
// credits stock and moves the sale to PARTIAL_REFUND or REFUNDED.
func (s *Store) CreateReturn(ctx context.Context, commit domain.ReturnCommit) (domain.SaleDetail, domain.SaleReturn, error) {
	ret := commit.Return
	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	ret.CreatedAt = utc(ret.CreatedAt)

	var detail domain.SaleDetail
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := s.saleDetail(ctx, tx, ret.SaleID, true)
		if err != nil {
			return err
		}
		status, err := store.CheckReturn(current, ret)
		if err != nil {
			return err
		}

		moves := make([]domain.InventoryMove, len(commit.Moves))
		for i, move := range commit.Moves {
			move.SourceRef = ret.ID
			move.CreatedAt = ret.CreatedAt
			moves[i] = move
		}
		if _, err := s.applyMovesTx(ctx, tx, moves, now); err != nil {
			return err
		}

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO sale_returns (`+returnColumns+`)
			VALUES (:id, :sale_id, :user_id, :amount_cents, :record_refund_payment, :refund_payment_status,
				:refund_payment_id, :note, :created_at)
		`, ret); err != nil {
			return err
		}
		for i, item := range ret.Items {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO sale_return_items (return_id, position, `+returnItemColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`), ret.ID, i, item.SaleItemID, item.ProductID, item.NameSnapshot, item.Qty, item.UnitRefundCents, item.AmountCents); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE sales SET status = ?, updated_at = ? WHERE id = ?`), status, now, ret.SaleID); err != nil {
			return err
		}
		detail, err = s.saleDetail(ctx, tx, ret.SaleID, false)
		return err
	})
	if err != nil {
		return domain.SaleDetail{}, domain.SaleReturn{}, err
	}
	return detail, ret, nil
}

func (s *Store) GetReturn(ctx context.Context, id string) (domain.SaleReturn, error) {
	var ret domain.SaleReturn
	err := s.db.GetContext(ctx, &ret, s.db.Rebind(`SELECT `+returnColumns+` FROM sale_returns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SaleReturn{}, store.ErrNotFound
	}
	if err != nil {
		return domain.SaleReturn{}, err
	}
	if ret.Items, err = s.returnItems(ctx, s.db, ret.ID); err != nil {
		return domain.SaleReturn{}, err
	}
	return ret, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM sales WHERE id = ?`), payment.SaleID)
		if err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: sale %s", store.ErrNotFound, payment.SaleID)
		}
		if err := s.insertPayment(ctx, tx, &payment); err != nil {
			if errors.Is(mapErr(err), store.ErrConflict) && payment.ReturnID != "" {
				return fmt.Errorf("%w: return %s already has a refund payment", store.ErrConflict, payment.ReturnID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *Store) insertPayment(ctx context.Context, tx *sqlx.Tx, payment *domain.Payment) error {
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (:id, :sale_id, :return_id, :method, :provider, :amount_cents, :change_given_cents, :reference, :created_at)
	`, payment)
	return err
}

func (s *Store) GetRefundPayment(ctx context.Context, returnID string) (domain.Payment, error) {
	if returnID == "" {
		return domain.Payment{}, store.ErrNotFound
	}
	var payment domain.Payment
	err := s.db.GetContext(ctx, &payment, s.db.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE return_id = ?`), returnID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Payment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *Store) UpdateReturnRefund(ctx context.Context, returnID string, status string, paymentID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE sale_returns SET refund_payment_status = ?, refund_payment_id = ? WHERE id = ?
	`), status, paymentID, returnID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// saleDetail loads a sale with its lines, payments and returns. With lock set
// the sale row is held until the transaction ends.
func (s *Store) saleDetail(ctx context.Context, q sqlx.ExtContext, id string, lock bool) (domain.SaleDetail, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	var detail domain.SaleDetail
	err := sqlx.GetContext(ctx, q, &detail.Sale, q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
	}
	if err != nil {
		return domain.SaleDetail{}, err
	}

	detail.Items = make([]domain.SaleItem, 0, 4)
	if err := sqlx.SelectContext(ctx, q, &detail.Items, q.Rebind(`
		SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = ? ORDER BY position
	`), id); err != nil {
		return domain.SaleDetail{}, err
	}
	detail.Payments = make([]domain.Payment, 0, 2)
	if err := sqlx.SelectContext(ctx, q, &detail.Payments, q.Rebind(`
		SELECT `+paymentColumns+` FROM payments WHERE sale_id = ? ORDER BY created_at, id
	`), id); err != nil {
		return domain.SaleDetail{}, err
	}
	detail.Returns = make([]domain.SaleReturn, 0)
	if err := sqlx.SelectContext(ctx, q, &detail.Returns, q.Rebind(`
		SELECT `+returnColumns+` FROM sale_returns WHERE sale_id = ? ORDER BY created_at, id
	`), id); err != nil {
		return domain.SaleDetail{}, err
	}
	for i := range detail.Returns {
		items, err := s.returnItems(ctx, q, detail.Returns[i].ID)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		detail.Returns[i].Items = items
	}
	return detail, nil
}

func (s *Store) returnItems(ctx context.Context, q sqlx.ExtContext, returnID string) ([]domain.SaleReturnItem, error) {
	items := make([]domain.SaleReturnItem, 0, 4)
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(`
		SELECT `+returnItemColumns+` FROM sale_return_items WHERE return_id = ? ORDER BY position
	`), returnID); err != nil {
		return nil, err
	}
	return items, nil
}
