package memory

import (
	"context"
	"fmt"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

func (s *Store) ApplyMoves(_ context.Context, moves []domain.InventoryMove) ([]domain.InventoryMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.applyMovesLocked(moves, time.Now().UTC())
}

// applyMovesLocked validates the whole batch before touching any balance.
func (s *Store) applyMovesLocked(moves []domain.InventoryMove, now time.Time) ([]domain.InventoryMove, error) {
	if len(moves) == 0 {
		return []domain.InventoryMove{}, nil
	}

	balances := make(map[string]int64, len(moves))
	for _, move := range moves {
		product, ok := s.products[move.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, move.ProductID)
		}
		if !product.StockTracked() {
			return nil, fmt.Errorf("%w: %s products keep no stock", store.ErrInvalidTransaction, product.Kind)
		}
		if _, exists := s.moveIndex[move.ID]; exists && move.ID != "" {
			return nil, fmt.Errorf("%w: move %s already exists", store.ErrConflict, move.ID)
		}
		balances[move.ProductID] = product.Stock
	}

	after, final, err := store.PlanBalances(balances, moves)
	if err != nil {
		return nil, err
	}

	written := make([]domain.InventoryMove, 0, len(moves))
	for i, move := range moves {
		if move.ID == "" {
			move.ID = xid.New("mov")
		}
		if move.CreatedAt.IsZero() {
			move.CreatedAt = now
		}
		move.UpdatedAt = move.CreatedAt
		move.StockAfter = after[i]
		s.moveIndex[move.ID] = len(s.moves)
		s.moves = append(s.moves, move)
		written = append(written, move)
	}
	for productID, balance := range final {
		product := s.products[productID]
		product.Stock = balance
		product.UpdatedAt = now
		s.products[productID] = product
	}
	return written, nil
}

func (s *Store) GetMove(_ context.Context, id string) (domain.InventoryMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.moveIndex[id]
	if !ok {
		return domain.InventoryMove{}, store.ErrNotFound
	}
	return s.moves[idx], nil
}

// ListMoves returns matching moves newest first.
func (s *Store) ListMoves(_ context.Context, filter domain.MoveFilter) ([]domain.InventoryMove, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMove, 0, 64)
	for i := len(s.moves) - 1; i >= 0; i-- {
		move := s.moves[i]
		if filter.ProductID != "" && move.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && move.Type != filter.Type {
			continue
		}
		if filter.SourceRef != "" && move.SourceRef != filter.SourceRef {
			continue
		}
		if filter.From != nil && move.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !move.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, move)
	}
	return paginate(result, filter.Limit, filter.Offset), nil
}

// UpdateMove rewrites the editable fields of a move and shifts the product
// balance by the quantity difference. StockAfter moves by the same difference
// so it reads as if the move had been recorded with its corrected quantity.
func (s *Store) UpdateMove(_ context.Context, move domain.InventoryMove) (domain.InventoryMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.moveIndex[move.ID]
	if !ok {
		return domain.InventoryMove{}, store.ErrNotFound
	}
	current := s.moves[idx]
	delta := move.Qty - current.Qty

	now := time.Now().UTC()
	if err := s.shiftBalanceLocked(current.ProductID, delta, now); err != nil {
		return domain.InventoryMove{}, err
	}

	move.ProductID = current.ProductID
	move.Type = current.Type
	move.SourceRef = current.SourceRef
	move.UserID = current.UserID
	move.StockAfter = current.StockAfter + delta
	move.CreatedAt = current.CreatedAt
	move.UpdatedAt = now
	s.moves[idx] = move
	return move, nil
}

// DeleteMove removes a move and reverses its effect on the balance.
func (s *Store) DeleteMove(_ context.Context, id string) (domain.InventoryMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.moveIndex[id]
	if !ok {
		return domain.InventoryMove{}, store.ErrNotFound
	}
	current := s.moves[idx]
	if err := s.shiftBalanceLocked(current.ProductID, -current.Qty, time.Now().UTC()); err != nil {
		return domain.InventoryMove{}, err
	}

	s.moves = append(s.moves[:idx], s.moves[idx+1:]...)
	delete(s.moveIndex, id)
	for i := idx; i < len(s.moves); i++ {
		s.moveIndex[s.moves[i].ID] = i
	}
	return current, nil
}

func (s *Store) shiftBalanceLocked(productID string, delta int64, now time.Time) error {
	product, ok := s.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	if product.Stock+delta < 0 {
		return &store.InsufficientStockError{ProductID: productID, Requested: -delta, Available: product.Stock}
	}
	product.Stock += delta
	product.UpdatedAt = now
	s.products[productID] = product
	return nil
}

func (s *Store) LedgerSums(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]int64, len(s.products))
	for _, move := range s.moves {
		sums[move.ProductID] += move.Qty
	}
	return sums, nil
}
