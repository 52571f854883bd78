package store

import (
	"fmt"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/xid"
)

// PlanBalances checks a batch of moves against the current balances and
// returns the balance after each move plus the final balance per product.
// The batch is judged on its net effect per product, so one rejected product
// rejects the whole batch before anything is written.
func PlanBalances(balances map[string]int64, moves []domain.InventoryMove) ([]int64, map[string]int64, error) {
	final := make(map[string]int64, len(balances))
	net := make(map[string]int64)
	order := make([]string, 0)
	for _, move := range moves {
		if _, ok := balances[move.ProductID]; !ok {
			return nil, nil, fmt.Errorf("%w: product %s", ErrNotFound, move.ProductID)
		}
		if _, seen := net[move.ProductID]; !seen {
			order = append(order, move.ProductID)
		}
		net[move.ProductID] += move.Qty
	}

	for _, productID := range order {
		available := balances[productID]
		if available+net[productID] < 0 {
			return nil, nil, &InsufficientStockError{
				ProductID: productID,
				Requested: -net[productID],
				Available: available,
			}
		}
		final[productID] = available + net[productID]
	}

	running := make(map[string]int64, len(order))
	after := make([]int64, len(moves))
	for i, move := range moves {
		if _, ok := running[move.ProductID]; !ok {
			running[move.ProductID] = balances[move.ProductID]
		}
		running[move.ProductID] += move.Qty
		after[i] = running[move.ProductID]
	}
	return after, final, nil
}

// MoveProductIDs lists the distinct products a batch touches, in first-seen order.
func MoveProductIDs(moves []domain.InventoryMove) []string {
	seen := make(map[string]struct{}, len(moves))
	ids := make([]string, 0, len(moves))
	for _, move := range moves {
		if _, ok := seen[move.ProductID]; ok {
			continue
		}
		seen[move.ProductID] = struct{}{}
		ids = append(ids, move.ProductID)
	}
	return ids
}

// VoidEligible enforces that only a clean COMPLETED sale can be voided.
func VoidEligible(detail domain.SaleDetail) error {
	if detail.Sale.Status != domain.SaleStatusCompleted {
		return fmt.Errorf("%w: sale %s is %s", ErrSaleNotEligible, detail.Sale.ID, detail.Sale.Status)
	}
	if len(detail.Returns) > 0 {
		return fmt.Errorf("%w: sale %s has %d return(s)", ErrSaleNotEligible, detail.Sale.ID, len(detail.Returns))
	}
	return nil
}

// ReversalMoves builds the equal-and-opposite move for every move a sale wrote.
func ReversalMoves(saleID string, moves []domain.InventoryMove, userID string, at time.Time) []domain.InventoryMove {
	reversals := make([]domain.InventoryMove, 0, len(moves))
	for _, move := range moves {
		if move.SourceRef != saleID || move.Type == domain.MoveVoidReversal || move.Qty == 0 {
			continue
		}
		reversals = append(reversals, domain.InventoryMove{
			ID:        xid.New("mov"),
			ProductID: move.ProductID,
			Qty:       -move.Qty,
			Type:      domain.MoveVoidReversal,
			SourceRef: saleID,
			Note:      "void of " + move.ID,
			UserID:    userID,
			Location:  move.Location,
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	return reversals
}

// ReturnedQuantities sums returned quantity per sale item over all returns.
func ReturnedQuantities(returns []domain.SaleReturn) map[string]int64 {
	out := make(map[string]int64)
	for _, ret := range returns {
		for _, item := range ret.Items {
			out[item.SaleItemID] += item.Qty
		}
	}
	return out
}

// CheckReturn validates a new return against the sale as it stands and
// returns the sale status the return leads to.
func CheckReturn(detail domain.SaleDetail, ret domain.SaleReturn) (string, error) {
	switch detail.Sale.Status {
	case domain.SaleStatusVoided, domain.SaleStatusRefunded:
		return "", fmt.Errorf("%w: sale %s is %s", ErrSaleNotEligible, detail.Sale.ID, detail.Sale.Status)
	}
	if len(ret.Items) == 0 {
		return "", fmt.Errorf("%w: return has no items", ErrInvalidTransaction)
	}

	sold := make(map[string]int64, len(detail.Items))
	for _, item := range detail.Items {
		sold[item.ID] = item.Qty
	}
	returned := ReturnedQuantities(detail.Returns)

	for _, item := range ret.Items {
		soldQty, ok := sold[item.SaleItemID]
		if !ok {
			return "", fmt.Errorf("%w: sale item %s is not part of sale %s", ErrNotFound, item.SaleItemID, detail.Sale.ID)
		}
		if item.Qty <= 0 {
			return "", fmt.Errorf("%w: return qty must be positive", ErrInvalidTransaction)
		}
		remaining := soldQty - returned[item.SaleItemID]
		if item.Qty > remaining {
			return "", &ReturnQuantityError{SaleItemID: item.SaleItemID, Requested: item.Qty, Remaining: remaining}
		}
		returned[item.SaleItemID] += item.Qty
	}

	for id, qty := range sold {
		if returned[id] < qty {
			return domain.SaleStatusPartialRefund, nil
		}
	}
	return domain.SaleStatusRefunded, nil
}

// TabItemDemand totals tab item quantities per product, the amount an open
// tab should hold reserved.
func TabItemDemand(items []domain.TabItem) map[string]int64 {
	demand := make(map[string]int64, len(items))
	for _, item := range items {
		if item.Qty > 0 {
			demand[item.ProductID] += item.Qty
		}
	}
	return demand
}
