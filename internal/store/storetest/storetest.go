// Package storetest is the behaviour every store.Repository must share.
// Store packages call Run from their own tests with a factory for a fresh,
// empty repository.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("ProductsAndInitialStock", func(t *testing.T) { testProducts(t, newRepo(t)) })
	t.Run("Recipes", func(t *testing.T) { testRecipes(t, newRepo(t)) })
	t.Run("ApplyMovesIsAllOrNothing", func(t *testing.T) { testApplyMovesAtomic(t, newRepo(t)) })
	t.Run("MoveEditsShiftBalance", func(t *testing.T) { testMoveEdits(t, newRepo(t)) })
	t.Run("TabReservations", func(t *testing.T) { testTabReservations(t, newRepo(t)) })
	t.Run("TabLifecycle", func(t *testing.T) { testTabLifecycle(t, newRepo(t)) })
	t.Run("ReopenedTabReservesItsItems", func(t *testing.T) { testReopenReserves(t, newRepo(t)) })
	t.Run("SaleCommitAndVoid", func(t *testing.T) { testSaleAndVoid(t, newRepo(t)) })
	t.Run("SaleRejectedLeavesNoTrace", func(t *testing.T) { testSaleRejected(t, newRepo(t)) })
	t.Run("SaleFromTabConsumesReservations", func(t *testing.T) { testSaleFromTab(t, newRepo(t)) })
	t.Run("Returns", func(t *testing.T) { testReturns(t, newRepo(t)) })
	t.Run("RefundPayments", func(t *testing.T) { testRefundPayments(t, newRepo(t)) })
	t.Run("ConcurrentSalesNeverOversell", func(t *testing.T) { testConcurrentSales(t, newRepo(t)) })
	t.Run("UsersAndAudit", func(t *testing.T) { testUsersAndAudit(t, newRepo(t)) })
}

func seedProduct(t *testing.T, repo store.Repository, id string, kind string, measure string, stock int64) domain.Product {
	t.Helper()
	product := domain.Product{
		ID:         id,
		Name:       id,
		Category:   "test",
		PriceCents: 1000,
		Active:     true,
		Kind:       kind,
		Measure:    measure,
	}
	var initial *domain.InventoryMove
	if stock > 0 {
		initial = &domain.InventoryMove{Qty: stock, Type: domain.MoveIn, Note: "initial stock"}
	}
	created, err := repo.CreateProduct(context.Background(), product, initial)
	require.NoError(t, err)
	return created
}

func stockOf(t *testing.T, repo store.Repository, id string) int64 {
	t.Helper()
	product, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func assertLedgerMatches(t *testing.T, repo store.Repository) {
	t.Helper()
	ctx := context.Background()
	sums, err := repo.LedgerSums(ctx)
	require.NoError(t, err)
	products, err := repo.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	for _, product := range products {
		if !product.StockTracked() {
			continue
		}
		assert.Equalf(t, product.Stock, sums[product.ID], "ledger sum for %s", product.ID)
	}
}

func saleCommit(id string, moves ...domain.InventoryMove) domain.SaleCommit {
	var total int64
	items := make([]domain.SaleItem, 0, len(moves))
	for _, move := range moves {
		qty := -move.Qty
		items = append(items, domain.SaleItem{
			ID:             xid.New("sli"),
			ProductID:      move.ProductID,
			Kind:           domain.KindStandard,
			Qty:            qty,
			UnitPriceCents: 1000,
			LineTotalCents: 1000 * qty,
			NameSnapshot:   move.ProductID,
		})
		total += 1000 * qty
	}
	return domain.SaleCommit{
		Sale: domain.Sale{
			ID:            id,
			UserID:        "cashier",
			Status:        domain.SaleStatusCompleted,
			SubtotalCents: total,
			TotalCents:    total,
		},
		Items: items,
		Payments: []domain.Payment{{
			Method:      domain.PaymentCash,
			AmountCents: total,
		}},
		Moves: moves,
	}
}

func testProducts(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	beer := seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 24)
	assert.Equal(t, int64(24), beer.Stock)
	seedProduct(t, repo, "mule", domain.KindCocktail, "", 0)

	_, err := repo.CreateProduct(ctx, domain.Product{ID: "beer", Name: "dup", Kind: domain.KindStandard}, nil)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = repo.GetProduct(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	moves, err := repo.ListMoves(ctx, domain.MoveFilter{ProductID: "beer"})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, domain.MoveIn, moves[0].Type)
	assert.Equal(t, int64(24), moves[0].StockAfter)

	beer.Name = "Lager"
	beer.Stock = 999
	updated, err := repo.UpdateProduct(ctx, beer)
	require.NoError(t, err)
	assert.Equal(t, "Lager", updated.Name)
	assert.Equal(t, int64(24), updated.Stock)

	cocktails, err := repo.ListProducts(ctx, domain.ProductFilter{Kind: domain.KindCocktail})
	require.NoError(t, err)
	require.Len(t, cocktails, 1)
	assert.Equal(t, "mule", cocktails[0].ID)

	found, err := repo.GetProductsByIDs(ctx, []string{"beer", "ghost", "mule"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	byName, err := repo.ListProducts(ctx, domain.ProductFilter{Query: "lag"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "beer", byName[0].ID)
}

func testRecipes(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "vodka", domain.KindBase, "ML", 1000)
	seedProduct(t, repo, "lime", domain.KindAccomp, "UNIT", 10)
	seedProduct(t, repo, "mule", domain.KindCocktail, "", 0)

	rows := []domain.RecipeRow{
		{ProductID: "mule", IngredientID: "vodka", Qty: 45, Unit: "ML", Role: domain.RoleBase},
		{ProductID: "mule", IngredientID: "lime", Qty: 1, Unit: "UNIT", Role: domain.RoleAccomp, Note: "wedge"},
	}
	require.NoError(t, repo.ReplaceRecipe(ctx, "mule", rows))

	got, err := repo.GetRecipe(ctx, "mule")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "vodka", got[0].IngredientID)
	assert.Equal(t, 45.0, got[0].Qty)
	assert.Equal(t, "wedge", got[1].Note)

	err = repo.ReplaceRecipe(ctx, "mule", []domain.RecipeRow{{ProductID: "mule", IngredientID: "ghost", Qty: 1, Unit: "ML", Role: domain.RoleBase}})
	assert.ErrorIs(t, err, store.ErrNotFound)
	got, err = repo.GetRecipe(ctx, "mule")
	require.NoError(t, err)
	assert.Len(t, got, 2, "failed replace must keep the old recipe")

	require.NoError(t, repo.ReplaceRecipe(ctx, "mule", nil))
	got, err = repo.GetRecipe(ctx, "mule")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = repo.GetRecipe(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testApplyMovesAtomic(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "vodka", domain.KindBase, "ML", 100)
	seedProduct(t, repo, "lime", domain.KindAccomp, "UNIT", 1)
	seedProduct(t, repo, "mule", domain.KindCocktail, "", 0)

	_, err := repo.ApplyMoves(ctx, []domain.InventoryMove{
		{ProductID: "vodka", Qty: -45, Type: domain.MoveRecipeUse},
		{ProductID: "lime", Qty: -1, Type: domain.MoveAccompUse},
		{ProductID: "vodka", Qty: -45, Type: domain.MoveRecipeUse},
		{ProductID: "lime", Qty: -1, Type: domain.MoveAccompUse},
	})
	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr), "got %v", err)
	assert.Equal(t, "lime", stockErr.ProductID)
	assert.Equal(t, int64(100), stockOf(t, repo, "vodka"))
	assert.Equal(t, int64(1), stockOf(t, repo, "lime"))

	written, err := repo.ApplyMoves(ctx, []domain.InventoryMove{
		{ProductID: "vodka", Qty: -45, Type: domain.MoveRecipeUse},
		{ProductID: "vodka", Qty: -45, Type: domain.MoveRecipeUse},
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, int64(55), written[0].StockAfter)
	assert.Equal(t, int64(10), written[1].StockAfter)
	assert.NotEmpty(t, written[0].ID)
	assert.Equal(t, int64(10), stockOf(t, repo, "vodka"))

	_, err = repo.ApplyMoves(ctx, []domain.InventoryMove{{ProductID: "mule", Qty: 1, Type: domain.MoveIn}})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = repo.ApplyMoves(ctx, []domain.InventoryMove{{ProductID: "ghost", Qty: 1, Type: domain.MoveIn}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	assertLedgerMatches(t, repo)
}

func testMoveEdits(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 0)

	cost := int64(2000)
	written, err := repo.ApplyMoves(ctx, []domain.InventoryMove{{
		ProductID:     "beer",
		Qty:           10,
		Type:          domain.MoveIn,
		SourceRef:     "rcv-1",
		UnitCostCents: &cost,
	}})
	require.NoError(t, err)
	move := written[0]

	move.Qty = 6
	move.Note = "miscounted"
	move.Type = domain.MoveOut
	updated, err := repo.UpdateMove(ctx, move)
	require.NoError(t, err)
	assert.Equal(t, domain.MoveIn, updated.Type, "type is immutable")
	assert.Equal(t, int64(6), stockOf(t, repo, "beer"))
	assert.Equal(t, int64(6), updated.StockAfter)

	got, err := repo.GetMove(ctx, move.ID)
	require.NoError(t, err)
	assert.Equal(t, "miscounted", got.Note)
	assert.Equal(t, int64(6), got.StockAfter)
	require.NotNil(t, got.UnitCostCents)
	assert.Equal(t, int64(12000), *got.CostTotalCents())

	_, err = repo.ApplyMoves(ctx, []domain.InventoryMove{{ProductID: "beer", Qty: -5, Type: domain.MoveSale}})
	require.NoError(t, err)

	_, err = repo.DeleteMove(ctx, move.ID)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, int64(1), stockOf(t, repo, "beer"))

	bySource, err := repo.ListMoves(ctx, domain.MoveFilter{SourceRef: "rcv-1"})
	require.NoError(t, err)
	assert.Len(t, bySource, 1)

	all, err := repo.ListMoves(ctx, domain.MoveFilter{ProductID: "beer"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.MoveSale, all[0].Type, "newest first")

	deleted, err := repo.DeleteMove(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-5), deleted.Qty)
	assert.Equal(t, int64(6), stockOf(t, repo, "beer"))

	_, err = repo.GetMove(ctx, all[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assertLedgerMatches(t, repo)
}

func testTabReservations(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	tab, err := repo.CreateTab(ctx, domain.Tab{Name: "Table 4", UserID: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusOpen, tab.Status)

	first, err := repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 2, UnitPriceCents: 1000, LineTotalCents: 2000, NameSnapshot: "beer"}, "cashier")
	require.NoError(t, err)
	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 3, UnitPriceCents: 1000, LineTotalCents: 3000, NameSnapshot: "beer"}, "cashier")
	require.NoError(t, err)

	reservations, err := repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1, "one active reservation per tab and product")
	assert.Equal(t, int64(5), reservations[0].Qty)
	assert.Equal(t, int64(10), stockOf(t, repo, "beer"), "reservations never move stock")

	first.Qty = 1
	first.LineTotalCents = 1000
	_, err = repo.UpdateTabItem(ctx, first, "cashier")
	require.NoError(t, err)
	summary, err := repo.ReservationSummary(ctx, "")
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(4), summary[0].ReservedQty)

	require.NoError(t, repo.DeleteTabItem(ctx, tab.ID, first.ID))
	reservations, err = repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, int64(3), reservations[0].Qty)

	res, err := repo.AdjustReservation(ctx, tab.ID, "beer", -3, "")
	require.NoError(t, err)
	assert.Nil(t, res, "a reservation reaching zero is removed")
	res, err = repo.AdjustReservation(ctx, tab.ID, "beer", -1, "")
	require.NoError(t, err)
	assert.Nil(t, res, "releasing a missing reservation is a no-op")

	_, err = repo.AdjustReservation(ctx, tab.ID, "ghost", 1, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTabLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	tab, err := repo.CreateTab(ctx, domain.Tab{Name: "Bar 1"})
	require.NoError(t, err)
	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 2, UnitPriceCents: 1000, LineTotalCents: 2000, NameSnapshot: "beer"}, "")
	require.NoError(t, err)

	require.ErrorIs(t, repo.DeleteTab(ctx, tab.ID), store.ErrConflict)

	closed, released, err := repo.CloseTab(ctx, tab.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusClosed, closed.Status)
	assert.Equal(t, 1, released)
	require.NotNil(t, closed.ClosedAt)

	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 1, NameSnapshot: "beer"}, "")
	assert.ErrorIs(t, err, store.ErrConflict)
	_, _, err = repo.CloseTab(ctx, tab.ID, time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrConflict)

	open, err := repo.ListTabs(ctx, domain.TabFilter{Status: domain.TabStatusOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	reopened, err := repo.ReopenTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedAt)
	reservations, err := repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, int64(2), reservations[0].Qty)

	removed, err := repo.ClearTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	items, err := repo.ListTabItems(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	reservations, err = repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)

	renamed, err := repo.UpdateTab(ctx, domain.Tab{ID: tab.ID, Name: "Bar 2", Notes: "window"})
	require.NoError(t, err)
	assert.Equal(t, "Bar 2", renamed.Name)

	_, _, err = repo.CloseTab(ctx, tab.ID, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, repo.DeleteTab(ctx, tab.ID))
	_, err = repo.GetTab(ctx, tab.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSaleAndVoid(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	seedProduct(t, repo, "vodka", domain.KindBase, "ML", 1000)

	commit := saleCommit("sale-void",
		domain.InventoryMove{ProductID: "beer", Qty: -2, Type: domain.MoveSale},
		domain.InventoryMove{ProductID: "vodka", Qty: -90, Type: domain.MoveRecipeUse},
	)
	detail, err := repo.CreateSale(ctx, commit)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, detail.Sale.Status)
	assert.Len(t, detail.Items, 2)
	assert.Len(t, detail.Payments, 1)
	assert.Equal(t, int64(8), stockOf(t, repo, "beer"))
	assert.Equal(t, int64(910), stockOf(t, repo, "vodka"))

	_, err = repo.CreateSale(ctx, saleCommit("sale-void"))
	assert.ErrorIs(t, err, store.ErrConflict)

	moves, err := repo.ListMoves(ctx, domain.MoveFilter{SourceRef: "sale-void"})
	require.NoError(t, err)
	assert.Len(t, moves, 2)

	at := time.Now().UTC()
	voided, reversals, err := repo.VoidSale(ctx, "sale-void", "wrong table", "admin", at)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusVoided, voided.Sale.Status)
	assert.Equal(t, "wrong table", voided.Sale.VoidReason)
	assert.Equal(t, "admin", voided.Sale.VoidedBy)
	require.Len(t, reversals, 2)
	for _, move := range reversals {
		assert.Equal(t, domain.MoveVoidReversal, move.Type)
		assert.Equal(t, "sale-void", move.SourceRef)
	}
	assert.Equal(t, int64(10), stockOf(t, repo, "beer"))
	assert.Equal(t, int64(1000), stockOf(t, repo, "vodka"))

	_, _, err = repo.VoidSale(ctx, "sale-void", "again", "admin", at)
	assert.ErrorIs(t, err, store.ErrSaleNotEligible)
	_, _, err = repo.VoidSale(ctx, "ghost", "x", "admin", at)
	assert.ErrorIs(t, err, store.ErrNotFound)

	sales, err := repo.ListSales(ctx, domain.SaleFilter{Status: domain.SaleStatusVoided})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assertLedgerMatches(t, repo)
}

func testSaleRejected(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	seedProduct(t, repo, "lime", domain.KindAccomp, "UNIT", 1)

	_, err := repo.CreateSale(ctx, saleCommit("sale-short",
		domain.InventoryMove{ProductID: "beer", Qty: -2, Type: domain.MoveSale},
		domain.InventoryMove{ProductID: "lime", Qty: -2, Type: domain.MoveSale},
	))
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = repo.GetSale(ctx, "sale-short")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int64(10), stockOf(t, repo, "beer"))
	moves, err := repo.ListMoves(ctx, domain.MoveFilter{SourceRef: "sale-short"})
	require.NoError(t, err)
	assert.Empty(t, moves)
	payments, err := repo.ListPayments(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func testSaleFromTab(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	tab, err := repo.CreateTab(ctx, domain.Tab{Name: "Table 9"})
	require.NoError(t, err)
	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 3, UnitPriceCents: 1000, LineTotalCents: 3000, NameSnapshot: "beer"}, "")
	require.NoError(t, err)

	commit := saleCommit("sale-tab", domain.InventoryMove{ProductID: "beer", Qty: -3, Type: domain.MoveSale})
	commit.Sale.TabID = tab.ID
	_, err = repo.CreateSale(ctx, commit)
	require.NoError(t, err)

	got, err := repo.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusClosed, got.Status)
	reservations, err := repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations, "consumed reservations are no longer active")
	summary, err := repo.ReservationSummary(ctx, domain.TabStatusAll)
	require.NoError(t, err)
	assert.Empty(t, summary)
	assert.Equal(t, int64(7), stockOf(t, repo, "beer"))

	again := saleCommit("sale-tab-2", domain.InventoryMove{ProductID: "beer", Qty: -1, Type: domain.MoveSale})
	again.Sale.TabID = tab.ID
	_, err = repo.CreateSale(ctx, again)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, int64(7), stockOf(t, repo, "beer"))

	_, err = repo.ReopenTab(ctx, tab.ID)
	assert.ErrorIs(t, err, store.ErrConflict, "a settled tab cannot be sold twice")
	got, err = repo.GetTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusClosed, got.Status)
}

func testReopenReserves(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	seedProduct(t, repo, "water", domain.KindStandard, "UNIT", 10)
	tab, err := repo.CreateTab(ctx, domain.Tab{Name: "Patio", UserID: "cashier"})
	require.NoError(t, err)
	item, err := repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 4, UnitPriceCents: 1000, LineTotalCents: 4000, NameSnapshot: "beer"}, "cashier")
	require.NoError(t, err)
	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "beer", Qty: 1, UnitPriceCents: 1000, LineTotalCents: 1000, NameSnapshot: "beer"}, "cashier")
	require.NoError(t, err)
	_, err = repo.AddTabItem(ctx, domain.TabItem{TabID: tab.ID, ProductID: "water", Qty: 2, UnitPriceCents: 1000, LineTotalCents: 2000, NameSnapshot: "water"}, "cashier")
	require.NoError(t, err)

	_, released, err := repo.CloseTab(ctx, tab.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, released)
	summary, err := repo.ReservationSummary(ctx, domain.TabStatusAll)
	require.NoError(t, err)
	assert.Empty(t, summary)

	_, err = repo.ReopenTab(ctx, tab.ID)
	require.NoError(t, err)
	reserved := func() map[string]int64 {
		t.Helper()
		summary, err := repo.ReservationSummary(ctx, domain.TabStatusOpen)
		require.NoError(t, err)
		out := make(map[string]int64, len(summary))
		for _, row := range summary {
			out[row.ProductID] = row.ReservedQty
		}
		return out
	}
	assert.Equal(t, map[string]int64{"beer": 5, "water": 2}, reserved())

	item.Qty = 5
	item.LineTotalCents = 5000
	_, err = repo.UpdateTabItem(ctx, item, "cashier")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"beer": 6, "water": 2}, reserved())

	reservations, err := repo.ListReservations(ctx, tab.ID)
	require.NoError(t, err)
	assert.Len(t, reservations, 2, "one active row per product")
}

func testReturns(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)

	detail, err := repo.CreateSale(ctx, saleCommit("sale-ret", domain.InventoryMove{ProductID: "beer", Qty: -4, Type: domain.MoveSale}))
	require.NoError(t, err)
	item := detail.Items[0]

	newReturn := func(qty int64) domain.ReturnCommit {
		return domain.ReturnCommit{
			Return: domain.SaleReturn{
				SaleID:              "sale-ret",
				UserID:              "admin",
				Items:               []domain.SaleReturnItem{{SaleItemID: item.ID, ProductID: "beer", Qty: qty, UnitRefundCents: 1000, AmountCents: 1000 * qty}},
				AmountCents:         1000 * qty,
				RefundPaymentStatus: domain.RefundPaymentNotRequested,
			},
			Moves: []domain.InventoryMove{{ProductID: "beer", Qty: qty, Type: domain.MoveReturn}},
		}
	}

	after, ret, err := repo.CreateReturn(ctx, newReturn(1))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPartialRefund, after.Sale.Status)
	require.Len(t, after.Returns, 1)
	require.Len(t, after.Returns[0].Items, 1)
	assert.Equal(t, int64(7), stockOf(t, repo, "beer"))

	credits, err := repo.ListMoves(ctx, domain.MoveFilter{SourceRef: ret.ID})
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, domain.MoveReturn, credits[0].Type)

	_, _, err = repo.CreateReturn(ctx, newReturn(4))
	var qtyErr *store.ReturnQuantityError
	require.True(t, errors.As(err, &qtyErr), "got %v", err)
	assert.Equal(t, int64(3), qtyErr.Remaining)
	assert.Equal(t, int64(7), stockOf(t, repo, "beer"))

	_, _, err = repo.VoidSale(ctx, "sale-ret", "late", "admin", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrSaleNotEligible)

	after, _, err = repo.CreateReturn(ctx, newReturn(3))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusRefunded, after.Sale.Status)
	assert.Equal(t, int64(10), stockOf(t, repo, "beer"))

	_, _, err = repo.CreateReturn(ctx, newReturn(1))
	assert.ErrorIs(t, err, store.ErrSaleNotEligible)

	got, err := repo.GetReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.AmountCents)
	require.Len(t, got.Items, 1)
	assertLedgerMatches(t, repo)
}

func testRefundPayments(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", 10)
	detail, err := repo.CreateSale(ctx, saleCommit("sale-pay", domain.InventoryMove{ProductID: "beer", Qty: -2, Type: domain.MoveSale}))
	require.NoError(t, err)

	_, ret, err := repo.CreateReturn(ctx, domain.ReturnCommit{
		Return: domain.SaleReturn{
			SaleID:              "sale-pay",
			Items:               []domain.SaleReturnItem{{SaleItemID: detail.Items[0].ID, ProductID: "beer", Qty: 1, AmountCents: 1000}},
			AmountCents:         1000,
			RecordRefundPayment: true,
			RefundPaymentStatus: domain.RefundPaymentPending,
		},
		Moves: []domain.InventoryMove{{ProductID: "beer", Qty: 1, Type: domain.MoveReturn}},
	})
	require.NoError(t, err)

	_, err = repo.GetRefundPayment(ctx, ret.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	payment, err := repo.CreatePayment(ctx, domain.Payment{SaleID: "sale-pay", ReturnID: ret.ID, Method: domain.PaymentCash, AmountCents: -1000})
	require.NoError(t, err)
	_, err = repo.CreatePayment(ctx, domain.Payment{SaleID: "sale-pay", ReturnID: ret.ID, Method: domain.PaymentCash, AmountCents: -1000})
	assert.ErrorIs(t, err, store.ErrConflict)
	_, err = repo.CreatePayment(ctx, domain.Payment{SaleID: "ghost", Method: domain.PaymentCash, AmountCents: -1})
	assert.ErrorIs(t, err, store.ErrNotFound)

	found, err := repo.GetRefundPayment(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, found.ID)

	require.NoError(t, repo.UpdateReturnRefund(ctx, ret.ID, domain.RefundPaymentRecorded, payment.ID))
	got, err := repo.GetReturn(ctx, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundPaymentRecorded, got.RefundPaymentStatus)
	assert.Equal(t, payment.ID, got.RefundPaymentID)
	assert.ErrorIs(t, repo.UpdateReturnRefund(ctx, "ghost", domain.RefundPaymentFailed, ""), store.ErrNotFound)

	sale, err := repo.GetSale(ctx, "sale-pay")
	require.NoError(t, err)
	var net int64
	for _, p := range sale.Payments {
		net += p.AmountCents
	}
	assert.Equal(t, int64(1000), net)
}

func testConcurrentSales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	const stock = 5
	const buyers = 12
	seedProduct(t, repo, "beer", domain.KindStandard, "UNIT", stock)

	var (
		wg       sync.WaitGroup
		sold     atomic.Int64
		rejected atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateSale(ctx, saleCommit(fmt.Sprintf("sale-race-%02d", i),
				domain.InventoryMove{ProductID: "beer", Qty: -1, Type: domain.MoveSale}))
			switch {
			case err == nil:
				sold.Add(1)
			case errors.Is(err, store.ErrInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("sale %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(stock), sold.Load())
	assert.Equal(t, int64(buyers-stock), rejected.Load())
	assert.Equal(t, int64(0), stockOf(t, repo, "beer"))
	assertLedgerMatches(t, repo)
}

func testUsersAndAudit(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: " Alice ", Password: "hash", Role: "cashier"}))
	assert.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: "alice", Password: "hash"}), store.ErrConflict)
	assert.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: "", Password: "hash"}), store.ErrInvalidTransaction)

	require.NoError(t, repo.UpdateUserPassword(ctx, "ALICE", "hash2"))
	assert.ErrorIs(t, repo.UpdateUserPassword(ctx, "bob", "x"), store.ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "hash2", users[0].Password)
	assert.True(t, users[0].Active)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateAuditLog(ctx, domain.AuditLog{
			ActorUsername: "admin",
			ActorRole:     "admin",
			Action:        fmt.Sprintf("action-%d", i),
			EntityType:    "sale",
			CreatedAt:     time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}
	logs, err := repo.ListAuditLogs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "action-2", logs[0].Action)
}
