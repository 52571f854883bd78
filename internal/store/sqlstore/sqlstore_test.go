package sqlstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/storetest"
)

var allTables = []string{
	"sale_return_items", "sale_returns", "payments", "sale_items", "sales",
	"stock_reservations", "tab_items", "tabs", "inventory_moves", "product_recipes",
	"products", "audit_logs", "users",
}

func newSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), DriverSQLite, SQLiteDSN(":memory:"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestSQLiteRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return newSQLite(t)
	})
}

func TestPostgresRepositoryContract(t *testing.T) {
	databaseURL := os.Getenv("BARPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BARPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Repository {
		ctx := context.Background()
		s, err := New(ctx, DriverPostgres, databaseURL, zaptest.NewLogger(t))
		require.NoError(t, err)
		for _, table := range allTables {
			_, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		t.Cleanup(func() {
			_ = s.Close()
		})
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	require.NoError(t, s.migrate(context.Background()))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), "mysql", "", nil)
	assert.Error(t, err)
}

func TestActiveReservationIsUniquePerTabAndProduct(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	_, err := s.CreateProduct(ctx, domain.Product{ID: "beer", Name: "beer", Kind: domain.KindStandard, Active: true}, nil)
	require.NoError(t, err)
	tab, err := s.CreateTab(ctx, domain.Tab{Name: "t"})
	require.NoError(t, err)
	_, err = s.AdjustReservation(ctx, tab.ID, "beer", 2, "")
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stock_reservations (id, product_id, tab_id, qty, created_at, updated_at)
		VALUES ('res-dup', 'beer', ?, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, tab.ID)
	assert.ErrorIs(t, mapErr(err), store.ErrConflict)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Contains(t, SQLiteDSN(""), "file::memory:?")
	assert.Contains(t, SQLiteDSN("/tmp/bar.db"), "file:/tmp/bar.db?")
	assert.Contains(t, SQLiteDSN("bar.db"), "foreign_keys(1)")
}
