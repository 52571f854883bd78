package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// CreateSale validates the tab and the full stock plan before writing the
// header, lines, moves and payments.
func (s *Store) CreateSale(_ context.Context, commit domain.SaleCommit) (domain.SaleDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale := commit.Sale
	if sale.ID == "" {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale id required", store.ErrInvalidTransaction)
	}
	if _, exists := s.sales[sale.ID]; exists {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
	}
	if sale.TabID != "" {
		if _, err := s.openTabLocked(sale.TabID); err != nil {
			return domain.SaleDetail{}, err
		}
	}

	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = sale.CreatedAt

	moves := make([]domain.InventoryMove, len(commit.Moves))
	for i, move := range commit.Moves {
		move.SourceRef = sale.ID
		move.CreatedAt = sale.CreatedAt
		moves[i] = move
	}
	if _, err := s.applyMovesLocked(moves, now); err != nil {
		return domain.SaleDetail{}, err
	}

	s.sales[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)
	items := make([]domain.SaleItem, 0, len(commit.Items))
	for _, item := range commit.Items {
		if item.ID == "" {
			item.ID = xid.New("sli")
		}
		item.SaleID = sale.ID
		items = append(items, item)
	}
	s.saleItems[sale.ID] = items
	for _, payment := range commit.Payments {
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.SaleID = sale.ID
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = sale.CreatedAt
		}
		s.payments = append(s.payments, payment)
	}
	if sale.TabID != "" {
		s.consumeTabLocked(sale.TabID, sale.ID, now)
	}

	return s.saleDetailLocked(sale.ID)
}

func (s *Store) GetSale(_ context.Context, id string) (domain.SaleDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saleDetailLocked(id)
}

// ListSales returns matching sale headers newest first.
func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.saleOrder))
	for i := len(s.saleOrder) - 1; i >= 0; i-- {
		sale := s.sales[s.saleOrder[i]]
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && sale.UserID != filter.UserID {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		result = append(result, sale)
	}
	return paginate(result, filter.Limit, filter.Offset), nil
}

func (s *Store) ListPayments(_ context.Context, from *time.Time, to *time.Time) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		if from != nil && payment.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && !payment.CreatedAt.Before(*to) {
			continue
		}
		result = append(result, payment)
	}
	return result, nil
}

// VoidSale writes the reversal of every move the sale produced and marks it VOIDED.
func (s *Store) VoidSale(_ context.Context, id string, reason string, userID string, at time.Time) (domain.SaleDetail, []domain.InventoryMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	detail, err := s.saleDetailLocked(id)
	if err != nil {
		return domain.SaleDetail{}, nil, err
	}
	if err := store.VoidEligible(detail); err != nil {
		return domain.SaleDetail{}, nil, err
	}

	saleMoves := make([]domain.InventoryMove, 0, 8)
	for _, move := range s.moves {
		if move.SourceRef == id {
			saleMoves = append(saleMoves, move)
		}
	}
	reversals, err := s.applyMovesLocked(store.ReversalMoves(id, saleMoves, userID, at), at)
	if err != nil {
		return domain.SaleDetail{}, nil, err
	}

	sale := s.sales[id]
	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedBy = userID
	sale.VoidedAt = &at
	sale.UpdatedAt = at
	s.sales[id] = sale

	detail, err = s.saleDetailLocked(id)
	return detail, reversals, err
}

// CreateReturn re-checks remaining quantities under the lock, credits stock
// and moves the sale to PARTIAL_REFUND or REFUNDED.
func (s *Store) CreateReturn(_ context.Context, commit domain.ReturnCommit) (domain.SaleDetail, domain.SaleReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := commit.Return
	detail, err := s.saleDetailLocked(ret.SaleID)
	if err != nil {
		return domain.SaleDetail{}, domain.SaleReturn{}, err
	}
	status, err := store.CheckReturn(detail, ret)
	if err != nil {
		return domain.SaleDetail{}, domain.SaleReturn{}, err
	}

	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	moves := make([]domain.InventoryMove, len(commit.Moves))
	for i, move := range commit.Moves {
		move.SourceRef = ret.ID
		move.CreatedAt = ret.CreatedAt
		moves[i] = move
	}
	if _, err := s.applyMovesLocked(moves, now); err != nil {
		return domain.SaleDetail{}, domain.SaleReturn{}, err
	}

	ret.Items = slices.Clone(ret.Items)
	s.returns[ret.SaleID] = append(s.returns[ret.SaleID], ret)
	s.returnIndex[ret.ID] = ret.SaleID

	sale := s.sales[ret.SaleID]
	sale.Status = status
	sale.UpdatedAt = now
	s.sales[ret.SaleID] = sale

	detail, err = s.saleDetailLocked(ret.SaleID)
	return detail, ret, err
}

func (s *Store) GetReturn(_ context.Context, id string) (domain.SaleReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, _, ok := s.findReturnLocked(id)
	if !ok {
		return domain.SaleReturn{}, store.ErrNotFound
	}
	return ret, nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sales[payment.SaleID]; !ok {
		return domain.Payment{}, fmt.Errorf("%w: sale %s", store.ErrNotFound, payment.SaleID)
	}
	if payment.ReturnID != "" {
		for _, existing := range s.payments {
			if existing.ReturnID == payment.ReturnID {
				return domain.Payment{}, fmt.Errorf("%w: return %s already has a refund payment", store.ErrConflict, payment.ReturnID)
			}
		}
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.payments = append(s.payments, payment)
	return payment, nil
}

func (s *Store) GetRefundPayment(_ context.Context, returnID string) (domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, payment := range s.payments {
		if payment.ReturnID == returnID {
			return payment, nil
		}
	}
	return domain.Payment{}, store.ErrNotFound
}

func (s *Store) UpdateReturnRefund(_ context.Context, returnID string, status string, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, idx, ok := s.findReturnLocked(returnID)
	if !ok {
		return store.ErrNotFound
	}
	ret.RefundPaymentStatus = status
	ret.RefundPaymentID = paymentID
	s.returns[ret.SaleID][idx] = ret
	return nil
}

func (s *Store) findReturnLocked(id string) (domain.SaleReturn, int, bool) {
	saleID, ok := s.returnIndex[id]
	if !ok {
		return domain.SaleReturn{}, 0, false
	}
	for i, ret := range s.returns[saleID] {
		if ret.ID == id {
			return ret, i, true
		}
	}
	return domain.SaleReturn{}, 0, false
}

func (s *Store) saleDetailLocked(id string) (domain.SaleDetail, error) {
	sale, ok := s.sales[id]
	if !ok {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale %s", store.ErrNotFound, id)
	}

	payments := make([]domain.Payment, 0, 2)
	for _, payment := range s.payments {
		if payment.SaleID == id {
			payments = append(payments, payment)
		}
	}
	returns := make([]domain.SaleReturn, 0, len(s.returns[id]))
	for _, ret := range s.returns[id] {
		ret.Items = slices.Clone(ret.Items)
		returns = append(returns, ret)
	}

	return domain.SaleDetail{
		Sale:     sale,
		Items:    slices.Clone(s.saleItems[id]),
		Payments: payments,
		Returns:  returns,
	}, nil
}
