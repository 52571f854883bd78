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

const tabColumns = `id, name, status, user_id, notes, opened_at, closed_at`

const tabItemColumns = `id, tab_id, product_id, qty, unit_price_cents, line_discount_cents, tax_rate, tax_cents,
	line_total_cents, name_snapshot, category_snapshot, added_at`

const reservationColumns = `id, product_id, tab_id, qty, reserved_by, consumed, consumed_at, source_ref, expires_at, created_at, updated_at`

func (s *Store) CreateTab(ctx context.Context, tab domain.Tab) (domain.Tab, error) {
	if tab.ID == "" {
		tab.ID = xid.New("tab")
	}
	if tab.Status == "" {
		tab.Status = domain.TabStatusOpen
	}
	tab.OpenedAt = utc(tab.OpenedAt)
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tabs (`+tabColumns+`)
		VALUES (:id, :name, :status, :user_id, :notes, :opened_at, :closed_at)
	`, tab); err != nil {
		return domain.Tab{}, mapErr(err)
	}
	return tab, nil
}

func (s *Store) GetTab(ctx context.Context, id string) (domain.Tab, error) {
	return s.getTab(ctx, s.db, id, false)
}

func (s *Store) getTab(ctx context.Context, q sqlx.ExtContext, id string, lock bool) (domain.Tab, error) {
	query := `SELECT ` + tabColumns + ` FROM tabs WHERE id = ?`
	if lock {
		query += s.forUpdate()
	}
	var tab domain.Tab
	err := sqlx.GetContext(ctx, q, &tab, q.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tab{}, fmt.Errorf("%w: tab %s", store.ErrNotFound, id)
	}
	if err != nil {
		return domain.Tab{}, err
	}
	return tab, nil
}

// openTab locks the tab row and requires it to be OPEN. Every write that
// touches a tab's items or reservations goes through it, which serializes
// them per tab.
func (s *Store) openTab(ctx context.Context, tx *sqlx.Tx, id string) (domain.Tab, error) {
	tab, err := s.getTab(ctx, tx, id, true)
	if err != nil {
		return domain.Tab{}, err
	}
	if tab.Status != domain.TabStatusOpen {
		return domain.Tab{}, fmt.Errorf("%w: tab %s is %s", store.ErrConflict, id, tab.Status)
	}
	return tab, nil
}

func (s *Store) ListTabs(ctx context.Context, filter domain.TabFilter) ([]domain.Tab, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Status != "" && filter.Status != domain.TabStatusAll {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if query := strings.ToLower(strings.TrimSpace(filter.Query)); query != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+query+"%")
	}
	query := `SELECT ` + tabColumns + ` FROM tabs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query = page(query+" ORDER BY opened_at DESC, id", filter.Limit, filter.Offset)

	tabs := make([]domain.Tab, 0, 16)
	if err := s.db.SelectContext(ctx, &tabs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return tabs, nil
}

func (s *Store) UpdateTab(ctx context.Context, tab domain.Tab) (domain.Tab, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE tabs SET name = ?, notes = ? WHERE id = ?`), tab.Name, tab.Notes, tab.ID)
	if err != nil {
		return domain.Tab{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Tab{}, store.ErrNotFound
	}
	return s.getTab(ctx, s.db, tab.ID, false)
}

// CloseTab closes an open tab and drops its active reservations.
func (s *Store) CloseTab(ctx context.Context, id string, at time.Time) (domain.Tab, int, error) {
	var (
		tab      domain.Tab
		released int
	)
	at = at.UTC()
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if tab, err = s.openTab(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tabs SET status = ?, closed_at = ? WHERE id = ?`), domain.TabStatusClosed, at, id); err != nil {
			return err
		}
		tab.Status = domain.TabStatusClosed
		tab.ClosedAt = &at
		released, err = s.releaseTab(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Tab{}, 0, err
	}
	return tab, released, nil
}

func (s *Store) ReopenTab(ctx context.Context, id string) (domain.Tab, error) {
	var tab domain.Tab
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if tab, err = s.getTab(ctx, tx, id, true); err != nil {
			return err
		}
		if tab.Status == domain.TabStatusOpen {
			return fmt.Errorf("%w: tab %s is already open", store.ErrConflict, id)
		}
		var saleID string
		err = tx.GetContext(ctx, &saleID, tx.Rebind(`SELECT id FROM sales WHERE tab_id = ? LIMIT 1`), id)
		switch {
		case err == nil:
			return fmt.Errorf("%w: tab %s was settled by sale %s", store.ErrConflict, id, saleID)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tabs SET status = ?, closed_at = NULL WHERE id = ?`), domain.TabStatusOpen, id); err != nil {
			return err
		}
		tab.Status = domain.TabStatusOpen
		tab.ClosedAt = nil

		// Closing dropped the reservations; the items still stand for stock.
		if _, err := s.releaseTab(ctx, tx, id); err != nil {
			return err
		}
		items := make([]domain.TabItem, 0, 8)
		if err := tx.SelectContext(ctx, &items, tx.Rebind(`SELECT `+tabItemColumns+` FROM tab_items WHERE tab_id = ?`), id); err != nil {
			return err
		}
		now := time.Now().UTC()
		for productID, qty := range store.TabItemDemand(items) {
			if _, err := s.adjustReservation(ctx, tx, id, productID, qty, tab.UserID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Tab{}, err
	}
	return tab, nil
}

// ClearTab removes every item of the tab together with its active reservations.
func (s *Store) ClearTab(ctx context.Context, id string) (int, error) {
	var removed int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.getTab(ctx, tx, id, true); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tab_items WHERE tab_id = ?`), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		removed = int(n)
		_, err = s.releaseTab(ctx, tx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) DeleteTab(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		tab, err := s.getTab(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if tab.Status != domain.TabStatusClosed {
			return fmt.Errorf("%w: only closed tabs can be deleted", store.ErrConflict)
		}
		for _, stmt := range []string{
			`DELETE FROM tab_items WHERE tab_id = ?`,
			`DELETE FROM stock_reservations WHERE tab_id = ?`,
			`DELETE FROM tabs WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, tx.Rebind(stmt), id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) AddTabItem(ctx context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error) {
	if item.ID == "" {
		item.ID = xid.New("tbi")
	}
	now := time.Now().UTC()
	item.AddedAt = utc(item.AddedAt)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.openTab(ctx, tx, item.TabID); err != nil {
			return err
		}
		if _, err := s.getProduct(ctx, tx, item.ProductID); err != nil {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO tab_items (`+tabItemColumns+`)
			VALUES (:id, :tab_id, :product_id, :qty, :unit_price_cents, :line_discount_cents, :tax_rate, :tax_cents,
				:line_total_cents, :name_snapshot, :category_snapshot, :added_at)
		`, item); err != nil {
			return err
		}
		_, err := s.adjustReservation(ctx, tx, item.TabID, item.ProductID, item.Qty, reservedBy, now)
		return err
	})
	if err != nil {
		return domain.TabItem{}, err
	}
	return item, nil
}

func (s *Store) GetTabItem(ctx context.Context, tabID string, itemID string) (domain.TabItem, error) {
	return s.getTabItem(ctx, s.db, tabID, itemID)
}

func (s *Store) getTabItem(ctx context.Context, q sqlx.ExtContext, tabID string, itemID string) (domain.TabItem, error) {
	var item domain.TabItem
	err := sqlx.GetContext(ctx, q, &item, q.Rebind(`
		SELECT `+tabItemColumns+` FROM tab_items WHERE tab_id = ? AND id = ?
	`), tabID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TabItem{}, store.ErrNotFound
	}
	if err != nil {
		return domain.TabItem{}, err
	}
	return item, nil
}

func (s *Store) ListTabItems(ctx context.Context, tabID string) ([]domain.TabItem, error) {
	if _, err := s.getTab(ctx, s.db, tabID, false); err != nil {
		return nil, err
	}
	items := make([]domain.TabItem, 0, 8)
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT `+tabItemColumns+` FROM tab_items WHERE tab_id = ? ORDER BY added_at, id
	`), tabID); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateTabItem rewrites an item and moves its reservation by the quantity change.
func (s *Store) UpdateTabItem(ctx context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error) {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.openTab(ctx, tx, item.TabID); err != nil {
			return err
		}
		current, err := s.getTabItem(ctx, tx, item.TabID, item.ID)
		if err != nil {
			return err
		}
		item.ProductID = current.ProductID
		item.AddedAt = current.AddedAt
		if _, err := tx.NamedExecContext(ctx, `
			UPDATE tab_items
			SET qty = :qty, unit_price_cents = :unit_price_cents, line_discount_cents = :line_discount_cents,
				tax_rate = :tax_rate, tax_cents = :tax_cents, line_total_cents = :line_total_cents,
				name_snapshot = :name_snapshot, category_snapshot = :category_snapshot
			WHERE id = :id
		`, item); err != nil {
			return err
		}
		if delta := item.Qty - current.Qty; delta != 0 {
			_, err = s.adjustReservation(ctx, tx, item.TabID, item.ProductID, delta, reservedBy, time.Now().UTC())
		}
		return err
	})
	if err != nil {
		return domain.TabItem{}, err
	}
	return item, nil
}

func (s *Store) DeleteTabItem(ctx context.Context, tabID string, itemID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.openTab(ctx, tx, tabID); err != nil {
			return err
		}
		removed, err := s.getTabItem(ctx, tx, tabID, itemID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tab_items WHERE id = ?`), itemID); err != nil {
			return err
		}
		_, err = s.adjustReservation(ctx, tx, tabID, removed.ProductID, -removed.Qty, "", time.Now().UTC())
		return err
	})
}

func (s *Store) AdjustReservation(ctx context.Context, tabID string, productID string, delta int64, reservedBy string) (*domain.StockReservation, error) {
	var res *domain.StockReservation
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.openTab(ctx, tx, tabID); err != nil {
			return err
		}
		if _, err := s.getProduct(ctx, tx, productID); err != nil {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		var err error
		res, err = s.adjustReservation(ctx, tx, tabID, productID, delta, reservedBy, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) ListReservations(ctx context.Context, tabID string) ([]domain.StockReservation, error) {
	result := make([]domain.StockReservation, 0, 8)
	if err := s.db.SelectContext(ctx, &result, s.db.Rebind(`
		SELECT `+reservationColumns+` FROM stock_reservations
		WHERE tab_id = ? AND consumed = FALSE
		ORDER BY product_id
	`), tabID); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ReservationSummary(ctx context.Context, tabStatus string) ([]domain.ReservationSummaryItem, error) {
	if tabStatus == "" {
		tabStatus = domain.TabStatusOpen
	}
	query := `
		SELECT r.product_id AS product_id, COALESCE(SUM(r.qty), 0) AS reserved_qty
		FROM stock_reservations r
		JOIN tabs t ON t.id = r.tab_id
		WHERE r.consumed = FALSE`
	args := make([]any, 0, 1)
	if tabStatus != domain.TabStatusAll {
		query += ` AND t.status = ?`
		args = append(args, tabStatus)
	}
	query += ` GROUP BY r.product_id ORDER BY r.product_id`

	result := make([]domain.ReservationSummaryItem, 0, 16)
	if err := s.db.SelectContext(ctx, &result, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return result, nil
}

// adjustReservation merges delta into the single active reservation of
// (tab, product). A row whose quantity drops to zero or below is deleted;
// releasing without a row is a no-op. Callers hold the tab row lock.
func (s *Store) adjustReservation(ctx context.Context, tx *sqlx.Tx, tabID string, productID string, delta int64, reservedBy string, now time.Time) (*domain.StockReservation, error) {
	var current domain.StockReservation
	err := tx.GetContext(ctx, &current, tx.Rebind(`
		SELECT `+reservationColumns+` FROM stock_reservations
		WHERE tab_id = ? AND product_id = ? AND consumed = FALSE
	`), tabID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		if delta <= 0 {
			return nil, nil
		}
		res := domain.StockReservation{
			ID:         xid.New("res"),
			ProductID:  productID,
			TabID:      tabID,
			Qty:        delta,
			ReservedBy: reservedBy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO stock_reservations (`+reservationColumns+`)
			VALUES (:id, :product_id, :tab_id, :qty, :reserved_by, :consumed, :consumed_at, :source_ref, :expires_at, :created_at, :updated_at)
		`, res); err != nil {
			return nil, err
		}
		return &res, nil
	}
	if err != nil {
		return nil, err
	}

	current.Qty += delta
	if current.Qty <= 0 {
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM stock_reservations WHERE id = ?`), current.ID)
		return nil, err
	}
	current.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE stock_reservations SET qty = ?, updated_at = ? WHERE id = ?`), current.Qty, now, current.ID); err != nil {
		return nil, err
	}
	return &current, nil
}

func (s *Store) releaseTab(ctx context.Context, tx *sqlx.Tx, tabID string) (int, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM stock_reservations WHERE tab_id = ? AND consumed = FALSE`), tabID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// consumeTab marks the tab's reservations as used by a sale and closes it.
func (s *Store) consumeTab(ctx context.Context, tx *sqlx.Tx, tabID string, saleID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE stock_reservations
		SET consumed = TRUE, consumed_at = ?, source_ref = ?, updated_at = ?
		WHERE tab_id = ? AND consumed = FALSE
	`), now, saleID, now, tabID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tabs SET status = ?, closed_at = ? WHERE id = ?`), domain.TabStatusClosed, now, tabID)
	return err
}
