package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

func (s *Store) CreateTab(_ context.Context, tab domain.Tab) (domain.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tab.ID == "" {
		tab.ID = xid.New("tab")
	}
	if _, exists := s.tabs[tab.ID]; exists {
		return domain.Tab{}, fmt.Errorf("%w: tab %s already exists", store.ErrConflict, tab.ID)
	}
	if tab.OpenedAt.IsZero() {
		tab.OpenedAt = time.Now().UTC()
	}
	if tab.Status == "" {
		tab.Status = domain.TabStatusOpen
	}
	s.tabs[tab.ID] = tab
	return tab, nil
}

func (s *Store) GetTab(_ context.Context, id string) (domain.Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tab, ok := s.tabs[id]
	if !ok {
		return domain.Tab{}, store.ErrNotFound
	}
	return tab, nil
}

func (s *Store) ListTabs(_ context.Context, filter domain.TabFilter) ([]domain.Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	tabs := make([]domain.Tab, 0, len(s.tabs))
	for _, tab := range s.tabs {
		if filter.Status != "" && filter.Status != domain.TabStatusAll && tab.Status != filter.Status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(tab.Name), query) {
			continue
		}
		tabs = append(tabs, tab)
	}
	slices.SortFunc(tabs, func(a, b domain.Tab) int {
		if c := b.OpenedAt.Compare(a.OpenedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return paginate(tabs, filter.Limit, filter.Offset), nil
}

func (s *Store) UpdateTab(_ context.Context, tab domain.Tab) (domain.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.tabs[tab.ID]
	if !ok {
		return domain.Tab{}, store.ErrNotFound
	}
	current.Name = tab.Name
	current.Notes = tab.Notes
	s.tabs[tab.ID] = current
	return current, nil
}

// CloseTab closes an open tab and drops its active reservations.
func (s *Store) CloseTab(_ context.Context, id string, at time.Time) (domain.Tab, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, err := s.openTabLocked(id)
	if err != nil {
		return domain.Tab{}, 0, err
	}
	tab.Status = domain.TabStatusClosed
	tab.ClosedAt = &at
	s.tabs[id] = tab
	return tab, s.releaseTabLocked(id), nil
}

func (s *Store) ReopenTab(_ context.Context, id string) (domain.Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, ok := s.tabs[id]
	if !ok {
		return domain.Tab{}, store.ErrNotFound
	}
	if tab.Status == domain.TabStatusOpen {
		return domain.Tab{}, fmt.Errorf("%w: tab %s is already open", store.ErrConflict, id)
	}
	for _, sale := range s.sales {
		if sale.TabID == id {
			return domain.Tab{}, fmt.Errorf("%w: tab %s was settled by sale %s", store.ErrConflict, id, sale.ID)
		}
	}
	tab.Status = domain.TabStatusOpen
	tab.ClosedAt = nil
	s.tabs[id] = tab

	// Closing dropped the reservations; the items still stand for stock.
	s.releaseTabLocked(id)
	now := time.Now().UTC()
	for productID, qty := range store.TabItemDemand(s.tabItems[id]) {
		s.adjustReservationLocked(id, productID, qty, tab.UserID, now)
	}
	return tab, nil
}

// ClearTab removes every item of the tab together with its active reservations.
func (s *Store) ClearTab(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tabs[id]; !ok {
		return 0, store.ErrNotFound
	}
	removed := len(s.tabItems[id])
	delete(s.tabItems, id)
	s.releaseTabLocked(id)
	return removed, nil
}

func (s *Store) DeleteTab(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab, ok := s.tabs[id]
	if !ok {
		return store.ErrNotFound
	}
	if tab.Status != domain.TabStatusClosed {
		return fmt.Errorf("%w: only closed tabs can be deleted", store.ErrConflict)
	}
	delete(s.tabItems, id)
	s.releaseTabLocked(id)
	delete(s.tabs, id)
	return nil
}

func (s *Store) AddTabItem(_ context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openTabLocked(item.TabID); err != nil {
		return domain.TabItem{}, err
	}
	if _, ok := s.products[item.ProductID]; !ok {
		return domain.TabItem{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
	}
	if item.ID == "" {
		item.ID = xid.New("tbi")
	}
	now := time.Now().UTC()
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	s.tabItems[item.TabID] = append(s.tabItems[item.TabID], item)
	s.adjustReservationLocked(item.TabID, item.ProductID, item.Qty, reservedBy, now)
	return item, nil
}

func (s *Store) GetTabItem(_ context.Context, tabID string, itemID string) (domain.TabItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.tabItems[tabID] {
		if item.ID == itemID {
			return item, nil
		}
	}
	return domain.TabItem{}, store.ErrNotFound
}

func (s *Store) ListTabItems(_ context.Context, tabID string) ([]domain.TabItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tabs[tabID]; !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.tabItems[tabID]), nil
}

// UpdateTabItem rewrites an item and moves its reservation by the quantity change.
func (s *Store) UpdateTabItem(_ context.Context, item domain.TabItem, reservedBy string) (domain.TabItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openTabLocked(item.TabID); err != nil {
		return domain.TabItem{}, err
	}
	items := s.tabItems[item.TabID]
	idx := slices.IndexFunc(items, func(it domain.TabItem) bool { return it.ID == item.ID })
	if idx < 0 {
		return domain.TabItem{}, store.ErrNotFound
	}
	current := items[idx]
	item.ProductID = current.ProductID
	item.AddedAt = current.AddedAt
	items[idx] = item

	if delta := item.Qty - current.Qty; delta != 0 {
		s.adjustReservationLocked(item.TabID, item.ProductID, delta, reservedBy, time.Now().UTC())
	}
	return item, nil
}

func (s *Store) DeleteTabItem(_ context.Context, tabID string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openTabLocked(tabID); err != nil {
		return err
	}
	items := s.tabItems[tabID]
	idx := slices.IndexFunc(items, func(it domain.TabItem) bool { return it.ID == itemID })
	if idx < 0 {
		return store.ErrNotFound
	}
	removed := items[idx]
	s.tabItems[tabID] = append(items[:idx], items[idx+1:]...)
	s.adjustReservationLocked(tabID, removed.ProductID, -removed.Qty, "", time.Now().UTC())
	return nil
}

func (s *Store) AdjustReservation(_ context.Context, tabID string, productID string, delta int64, reservedBy string) (*domain.StockReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.openTabLocked(tabID); err != nil {
		return nil, err
	}
	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	return s.adjustReservationLocked(tabID, productID, delta, reservedBy, time.Now().UTC()), nil
}

func (s *Store) ListReservations(_ context.Context, tabID string) ([]domain.StockReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockReservation, 0, 8)
	for _, res := range s.reservations {
		if res.TabID == tabID && !res.Consumed {
			result = append(result, res)
		}
	}
	slices.SortFunc(result, func(a, b domain.StockReservation) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) ReservationSummary(_ context.Context, tabStatus string) ([]domain.ReservationSummaryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tabStatus == "" {
		tabStatus = domain.TabStatusOpen
	}
	totals := make(map[string]int64)
	for _, res := range s.reservations {
		if res.Consumed {
			continue
		}
		tab, ok := s.tabs[res.TabID]
		if !ok {
			continue
		}
		if tabStatus != domain.TabStatusAll && tab.Status != tabStatus {
			continue
		}
		totals[res.ProductID] += res.Qty
	}

	result := make([]domain.ReservationSummaryItem, 0, len(totals))
	for productID, qty := range totals {
		result = append(result, domain.ReservationSummaryItem{ProductID: productID, ReservedQty: qty})
	}
	slices.SortFunc(result, func(a, b domain.ReservationSummaryItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) openTabLocked(id string) (domain.Tab, error) {
	tab, ok := s.tabs[id]
	if !ok {
		return domain.Tab{}, fmt.Errorf("%w: tab %s", store.ErrNotFound, id)
	}
	if tab.Status != domain.TabStatusOpen {
		return domain.Tab{}, fmt.Errorf("%w: tab %s is %s", store.ErrConflict, id, tab.Status)
	}
	return tab, nil
}

// adjustReservationLocked merges delta into the single active reservation of
// (tab, product). A row whose quantity drops to zero or below is deleted;
// releasing without a row is a no-op.
func (s *Store) adjustReservationLocked(tabID string, productID string, delta int64, reservedBy string, now time.Time) *domain.StockReservation {
	var current *domain.StockReservation
	for _, res := range s.reservations {
		if res.TabID == tabID && res.ProductID == productID && !res.Consumed {
			current = &res
			break
		}
	}

	if current == nil {
		if delta <= 0 {
			return nil
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
		s.reservations[res.ID] = res
		return &res
	}

	current.Qty += delta
	if current.Qty <= 0 {
		delete(s.reservations, current.ID)
		return nil
	}
	current.UpdatedAt = now
	s.reservations[current.ID] = *current
	return current
}

func (s *Store) releaseTabLocked(tabID string) int {
	released := 0
	for id, res := range s.reservations {
		if res.TabID == tabID && !res.Consumed {
			delete(s.reservations, id)
			released++
		}
	}
	return released
}

// consumeTabLocked marks the tab's reservations as used by a sale and closes it.
func (s *Store) consumeTabLocked(tabID string, saleID string, now time.Time) {
	for id, res := range s.reservations {
		if res.TabID == tabID && !res.Consumed {
			res.Consumed = true
			res.ConsumedAt = &now
			res.SourceRef = saleID
			res.UpdatedAt = now
			s.reservations[id] = res
		}
	}
	tab := s.tabs[tabID]
	tab.Status = domain.TabStatusClosed
	tab.ClosedAt = &now
	s.tabs[tabID] = tab
}
