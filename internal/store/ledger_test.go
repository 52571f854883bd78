package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barpos/backend/internal/domain"
)

func TestPlanBalancesJudgesNetEffectPerProduct(t *testing.T) {
	balances := map[string]int64{"vodka": 100, "lime": 3}
	moves := []domain.InventoryMove{
		{ProductID: "vodka", Qty: -45},
		{ProductID: "lime", Qty: -1},
		{ProductID: "vodka", Qty: -45},
	}

	after, final, err := PlanBalances(balances, moves)
	require.NoError(t, err)
	assert.Equal(t, []int64{55, 2, 10}, after)
	assert.Equal(t, map[string]int64{"vodka": 10, "lime": 2}, final)
}

func TestPlanBalancesRejectsWholeBatch(t *testing.T) {
	balances := map[string]int64{"beer": 10, "lime": 1}
	_, _, err := PlanBalances(balances, []domain.InventoryMove{
		{ProductID: "beer", Qty: -3},
		{ProductID: "lime", Qty: -1},
		{ProductID: "lime", Qty: -1},
	})

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, "lime", stockErr.ProductID)
	assert.Equal(t, int64(2), stockErr.Requested)
	assert.Equal(t, int64(1), stockErr.Available)
}

func TestPlanBalancesUnknownProduct(t *testing.T) {
	_, _, err := PlanBalances(map[string]int64{}, []domain.InventoryMove{{ProductID: "ghost", Qty: 1}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReversalMovesSkipsForeignAndPriorReversals(t *testing.T) {
	at := time.Now().UTC()
	moves := []domain.InventoryMove{
		{ID: "m1", ProductID: "beer", Qty: -3, Type: domain.MoveSale, SourceRef: "sale-1"},
		{ID: "m2", ProductID: "vodka", Qty: -90, Type: domain.MoveRecipeUse, SourceRef: "sale-1"},
		{ID: "m3", ProductID: "vodka", Qty: -10, Type: domain.MoveSale, SourceRef: "sale-2"},
		{ID: "m4", ProductID: "beer", Qty: 3, Type: domain.MoveVoidReversal, SourceRef: "sale-1"},
	}

	reversals := ReversalMoves("sale-1", moves, "admin", at)
	require.Len(t, reversals, 2)
	assert.Equal(t, int64(3), reversals[0].Qty)
	assert.Equal(t, int64(90), reversals[1].Qty)
	for _, r := range reversals {
		assert.Equal(t, domain.MoveVoidReversal, r.Type)
		assert.Equal(t, "sale-1", r.SourceRef)
	}
}

func TestVoidEligible(t *testing.T) {
	clean := domain.SaleDetail{Sale: domain.Sale{ID: "s", Status: domain.SaleStatusCompleted}}
	assert.NoError(t, VoidEligible(clean))

	returned := clean
	returned.Returns = []domain.SaleReturn{{ID: "r"}}
	assert.ErrorIs(t, VoidEligible(returned), ErrSaleNotEligible)

	voided := domain.SaleDetail{Sale: domain.Sale{ID: "s", Status: domain.SaleStatusVoided}}
	assert.ErrorIs(t, VoidEligible(voided), ErrSaleNotEligible)
}

func TestCheckReturnTracksCumulativeQuantities(t *testing.T) {
	detail := domain.SaleDetail{
		Sale:  domain.Sale{ID: "s", Status: domain.SaleStatusCompleted},
		Items: []domain.SaleItem{{ID: "i1", Qty: 3}, {ID: "i2", Qty: 1}},
	}

	status, err := CheckReturn(detail, domain.SaleReturn{Items: []domain.SaleReturnItem{{SaleItemID: "i1", Qty: 2}}})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPartialRefund, status)

	detail.Sale.Status = status
	detail.Returns = []domain.SaleReturn{{Items: []domain.SaleReturnItem{{SaleItemID: "i1", Qty: 2}}}}

	_, err = CheckReturn(detail, domain.SaleReturn{Items: []domain.SaleReturnItem{{SaleItemID: "i1", Qty: 2}}})
	var qtyErr *ReturnQuantityError
	require.True(t, errors.As(err, &qtyErr))
	assert.Equal(t, int64(1), qtyErr.Remaining)

	status, err = CheckReturn(detail, domain.SaleReturn{Items: []domain.SaleReturnItem{
		{SaleItemID: "i1", Qty: 1},
		{SaleItemID: "i2", Qty: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusRefunded, status)
}

func TestCheckReturnRejectsIneligibleSales(t *testing.T) {
	items := []domain.SaleReturnItem{{SaleItemID: "i1", Qty: 1}}
	for _, status := range []string{domain.SaleStatusVoided, domain.SaleStatusRefunded} {
		detail := domain.SaleDetail{Sale: domain.Sale{ID: "s", Status: status}, Items: []domain.SaleItem{{ID: "i1", Qty: 1}}}
		_, err := CheckReturn(detail, domain.SaleReturn{Items: items})
		assert.ErrorIs(t, err, ErrSaleNotEligible)
	}

	detail := domain.SaleDetail{Sale: domain.Sale{ID: "s", Status: domain.SaleStatusCompleted}, Items: []domain.SaleItem{{ID: "i1", Qty: 1}}}
	_, err := CheckReturn(detail, domain.SaleReturn{Items: []domain.SaleReturnItem{{SaleItemID: "other", Qty: 1}}})
	assert.ErrorIs(t, err, ErrNotFound)
}
