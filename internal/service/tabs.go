package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"barpos/backend/internal/availability"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store"
)

func (s *Service) OpenTab(ctx context.Context, req domain.TabCreateRequest) (domain.Tab, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Tab{}, store.ErrInvalidTransaction
	}

	tab, err := s.repo.CreateTab(ctx, domain.Tab{
		Name:     name,
		Status:   domain.TabStatusOpen,
		UserID:   actorName(ctx),
		Notes:    strings.TrimSpace(req.Notes),
		OpenedAt: s.now(),
	})
	if err != nil {
		return domain.Tab{}, err
	}

	s.logAudit(ctx, "tab_open", "tab", tab.ID, "name="+tab.Name)
	return tab, nil
}

func (s *Service) ListTabs(ctx context.Context, filter domain.TabFilter) ([]domain.Tab, error) {
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	switch filter.Status {
	case "":
		filter.Status = domain.TabStatusOpen
	case domain.TabStatusOpen, domain.TabStatusClosed, domain.TabStatusAll:
	default:
		return nil, fmt.Errorf("%w: unknown tab status %q", store.ErrInvalidTransaction, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.ListTabs(ctx, filter)
}

// GetTab returns the tab with its items, totals and active reservations.
func (s *Service) GetTab(ctx context.Context, id string) (domain.TabDetail, error) {
	tab, err := s.repo.GetTab(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.TabDetail{}, err
	}
	items, err := s.repo.ListTabItems(ctx, tab.ID)
	if err != nil {
		return domain.TabDetail{}, err
	}
	reservations, err := s.repo.ListReservations(ctx, tab.ID)
	if err != nil {
		return domain.TabDetail{}, err
	}
	return domain.TabDetail{
		Tab:          tab,
		Items:        items,
		Totals:       tabTotals(items),
		Reservations: reservations,
	}, nil
}

// UpdateTab renames the tab or rewrites its notes.
func (s *Service) UpdateTab(ctx context.Context, id string, req domain.TabUpdateRequest) (domain.Tab, error) {
	tab, err := s.openTab(ctx, id)
	if err != nil {
		return domain.Tab{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Tab{}, store.ErrInvalidTransaction
		}
		tab.Name = name
	}
	if req.Notes != nil {
		tab.Notes = strings.TrimSpace(*req.Notes)
	}

	updated, err := s.repo.UpdateTab(ctx, tab)
	if err != nil {
		return domain.Tab{}, err
	}
	s.logAudit(ctx, "tab_update", "tab", updated.ID, "name="+updated.Name)
	return updated, nil
}

// AddTabItem writes the item and reserves its quantity in one store call, then
// reports availability warnings for the stock it draws on.
func (s *Service) AddTabItem(ctx context.Context, tabID string, req domain.TabItemRequest) (domain.TabItemResponse, error) {
	tab, err := s.openTab(ctx, tabID)
	if err != nil {
		return domain.TabItemResponse{}, err
	}
	if req.Qty <= 0 {
		return domain.TabItemResponse{}, fmt.Errorf("%w: qty must be a positive whole number", store.ErrInvalidTransaction)
	}
	product, err := s.sellableProduct(ctx, req.ProductID)
	if err != nil {
		return domain.TabItemResponse{}, err
	}

	price := product.PriceCents
	if req.UnitPriceCents != nil {
		price = *req.UnitPriceCents
	}
	discount := int64(0)
	if req.LineDiscountCents != nil {
		discount = *req.LineDiscountCents
	}
	if price < 0 || !validTaxRate(req.TaxRate) {
		return domain.TabItemResponse{}, store.ErrInvalidTransaction
	}

	item := domain.TabItem{
		TabID:            tab.ID,
		ProductID:        product.ID,
		Qty:              req.Qty,
		UnitPriceCents:   price,
		TaxRate:          req.TaxRate,
		NameSnapshot:     product.Name,
		CategorySnapshot: product.Category,
		AddedAt:          s.now(),
	}
	item = priceTabItem(item, discount)

	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(tab.ID, product.ID))
	if err != nil {
		return domain.TabItemResponse{}, err
	}
	created, err := s.repo.AddTabItem(ctx, item, actorName(ctx))
	unlock()
	if err != nil {
		return domain.TabItemResponse{}, err
	}

	s.logAudit(ctx, "tab_item_add", "tab", tab.ID, fmt.Sprintf("product=%s,qty=%d", created.ProductID, created.Qty))
	return domain.TabItemResponse{Item: created, Warnings: s.warningsFor(ctx, product)}, nil
}

// UpdateTabItem rewrites qty or pricing; the reservation follows the qty change.
func (s *Service) UpdateTabItem(ctx context.Context, tabID string, itemID string, req domain.TabItemUpdateRequest) (domain.TabItemResponse, error) {
	tab, err := s.openTab(ctx, tabID)
	if err != nil {
		return domain.TabItemResponse{}, err
	}
	current, err := s.repo.GetTabItem(ctx, tab.ID, strings.TrimSpace(itemID))
	if err != nil {
		return domain.TabItemResponse{}, err
	}

	item := current
	if req.Qty != nil {
		if *req.Qty <= 0 {
			return domain.TabItemResponse{}, fmt.Errorf("%w: qty must be a positive whole number", store.ErrInvalidTransaction)
		}
		item.Qty = *req.Qty
	}
	if req.UnitPriceCents != nil {
		if *req.UnitPriceCents < 0 {
			return domain.TabItemResponse{}, store.ErrInvalidTransaction
		}
		item.UnitPriceCents = *req.UnitPriceCents
	}
	discount := current.LineDiscountCents
	if req.LineDiscountCents != nil {
		discount = *req.LineDiscountCents
	}
	switch {
	case req.ClearTaxRate:
		item.TaxRate = nil
	case req.TaxRate != nil:
		if !validTaxRate(req.TaxRate) {
			return domain.TabItemResponse{}, store.ErrInvalidTransaction
		}
		item.TaxRate = req.TaxRate
	}
	item = priceTabItem(item, discount)

	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(tab.ID, item.ProductID))
	if err != nil {
		return domain.TabItemResponse{}, err
	}
	updated, err := s.repo.UpdateTabItem(ctx, item, actorName(ctx))
	unlock()
	if err != nil {
		return domain.TabItemResponse{}, err
	}

	s.logAudit(ctx, "tab_item_update", "tab", tab.ID, fmt.Sprintf("item=%s,qty:%d->%d", updated.ID, current.Qty, updated.Qty))
	resp := domain.TabItemResponse{Item: updated}
	if updated.Qty > current.Qty {
		if product, err := s.repo.GetProduct(ctx, updated.ProductID); err == nil {
			resp.Warnings = s.warningsFor(ctx, product)
		}
	}
	return resp, nil
}

func (s *Service) DeleteTabItem(ctx context.Context, tabID string, itemID string) error {
	tab, err := s.openTab(ctx, tabID)
	if err != nil {
		return err
	}
	item, err := s.repo.GetTabItem(ctx, tab.ID, strings.TrimSpace(itemID))
	if err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(tab.ID, item.ProductID))
	if err != nil {
		return err
	}
	err = s.repo.DeleteTabItem(ctx, tab.ID, item.ID)
	unlock()
	if err != nil {
		return err
	}

	s.logAudit(ctx, "tab_item_delete", "tab", tab.ID, fmt.Sprintf("item=%s,product=%s,qty=%d", item.ID, item.ProductID, item.Qty))
	return nil
}

// ClearTab drops every item and active reservation of an open tab.
func (s *Service) ClearTab(ctx context.Context, id string) (int, error) {
	tab, err := s.openTab(ctx, id)
	if err != nil {
		return 0, err
	}
	removed, err := s.repo.ClearTab(ctx, tab.ID)
	if err != nil {
		return 0, err
	}
	s.logAudit(ctx, "tab_clear", "tab", tab.ID, fmt.Sprintf("items=%d", removed))
	return removed, nil
}

// CloseTab closes the tab and releases its reservations unconditionally.
func (s *Service) CloseTab(ctx context.Context, id string) (domain.Tab, error) {
	tab, released, err := s.repo.CloseTab(ctx, strings.TrimSpace(id), s.now())
	if err != nil {
		return domain.Tab{}, err
	}
	s.logAudit(ctx, "tab_close", "tab", tab.ID, fmt.Sprintf("released=%d", released))
	return tab, nil
}

func (s *Service) ReopenTab(ctx context.Context, id string) (domain.Tab, error) {
	tab, err := s.repo.ReopenTab(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Tab{}, err
	}
	s.logAudit(ctx, "tab_reopen", "tab", tab.ID, "")
	return tab, nil
}

// DeleteTab removes a closed tab together with its items.
func (s *Service) DeleteTab(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteTab(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "tab_delete", "tab", id, "")
	return nil
}

// TabSalePayload shapes the items of a tab as sale lines, keeping their prices.
func (s *Service) TabSalePayload(ctx context.Context, id string) (domain.TabSalePayload, error) {
	detail, err := s.GetTab(ctx, id)
	if err != nil {
		return domain.TabSalePayload{}, err
	}
	if len(detail.Items) == 0 {
		return domain.TabSalePayload{}, fmt.Errorf("%w: tab %s has no items", store.ErrInvalidTransaction, detail.Tab.ID)
	}
	return domain.TabSalePayload{
		TabID:   detail.Tab.ID,
		TabName: detail.Tab.Name,
		Totals:  detail.Totals,
		Items:   tabSaleLines(detail.Items),
	}, nil
}

// Reserve adds qty to the tab's active reservation of a product.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (*domain.StockReservation, error) {
	if req.Qty <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	return s.adjustReservation(ctx, req, req.Qty, "reservation_add")
}

// Release subtracts qty; a reservation that reaches zero is removed.
func (s *Service) Release(ctx context.Context, req domain.ReservationRequest) (*domain.StockReservation, error) {
	if req.Qty <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	return s.adjustReservation(ctx, req, -req.Qty, "reservation_release")
}

func (s *Service) adjustReservation(ctx context.Context, req domain.ReservationRequest, delta int64, action string) (*domain.StockReservation, error) {
	tabID := strings.TrimSpace(req.TabID)
	productID := strings.TrimSpace(req.ProductID)
	if tabID == "" || productID == "" {
		return nil, store.ErrInvalidTransaction
	}

	unlock, err := s.locker.Lock(ctx, lock.ReservationKey(tabID, productID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, err := s.repo.AdjustReservation(ctx, tabID, productID, delta, actorName(ctx))
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, action, "tab", tabID, fmt.Sprintf("product=%s,delta=%d", productID, delta))
	return res, nil
}

func (s *Service) ReservationSummary(ctx context.Context, status string) ([]domain.ReservationSummaryItem, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "":
		status = domain.TabStatusOpen
	case domain.TabStatusOpen, domain.TabStatusClosed, domain.TabStatusAll:
	default:
		return nil, fmt.Errorf("%w: unknown tab status %q", store.ErrInvalidTransaction, status)
	}
	return s.repo.ReservationSummary(ctx, status)
}

// Availability compares every stock-tracked balance with what open tabs have
// reserved, charging reserved cocktails to their ingredients.
func (s *Service) Availability(ctx context.Context) (domain.AvailabilityReport, error) {
	return s.availabilityReport(ctx, s.resolver())
}

func (s *Service) availabilityReport(ctx context.Context, res *recipe.Resolver) (domain.AvailabilityReport, error) {
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return domain.AvailabilityReport{}, err
	}
	reserved, err := s.repo.ReservationSummary(ctx, domain.TabStatusOpen)
	if err != nil {
		return domain.AvailabilityReport{}, err
	}

	byID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	engine := availability.NewEngine(res)
	demand, unresolved, err := engine.Demand(ctx, byID, reserved)
	if err != nil {
		return domain.AvailabilityReport{}, err
	}
	return domain.AvailabilityReport{
		Items:      engine.Evaluate(products, demand),
		Unresolved: unresolved,
		CheckedAt:  s.now(),
	}, nil
}

// warningsFor reports oversubscribed or low stock behind product. Warnings are
// advisory, so failures are logged and yield none.
func (s *Service) warningsFor(ctx context.Context, product domain.Product) []domain.ProductAvailability {
	res := s.resolver()
	ids := []string{product.ID}
	if !product.StockTracked() {
		reqs, err := res.Resolve(ctx, product, 1, recipe.Consume)
		if err != nil {
			return nil
		}
		ids = ids[:0]
		for _, req := range reqs {
			ids = append(ids, req.Ingredient.ID)
		}
	}

	report, err := s.availabilityReport(ctx, res)
	if err != nil {
		s.logger.Warn("availability check failed", zap.String("product_id", product.ID), zap.Error(err))
		return nil
	}
	return availability.Warnings(report.Items, ids)
}

func (s *Service) openTab(ctx context.Context, id string) (domain.Tab, error) {
	tab, err := s.repo.GetTab(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Tab{}, err
	}
	if tab.Status != domain.TabStatusOpen {
		return domain.Tab{}, fmt.Errorf("%w: tab %s is %s", store.ErrConflict, tab.ID, tab.Status)
	}
	return tab, nil
}

func priceTabItem(item domain.TabItem, discount int64) domain.TabItem {
	amounts := domain.ComputeLine(item.UnitPriceCents, item.Qty, discount, item.TaxRate)
	item.LineDiscountCents = amounts.DiscountCents
	item.TaxCents = amounts.TaxCents
	item.LineTotalCents = amounts.TotalCents
	return item
}

func tabTotals(items []domain.TabItem) domain.TabTotals {
	var totals domain.TabTotals
	for _, item := range items {
		gross := item.UnitPriceCents * item.Qty
		totals.ItemsCount += item.Qty
		totals.SubtotalCents += max(0, gross-item.LineDiscountCents)
		totals.DiscountCents += item.LineDiscountCents
		totals.TaxCents += item.TaxCents
		totals.TotalCents += item.LineTotalCents
	}
	return totals
}

func tabSaleLines(items []domain.TabItem) []domain.SaleLineRequest {
	lines := make([]domain.SaleLineRequest, 0, len(items))
	for _, item := range items {
		price := item.UnitPriceCents
		discount := item.LineDiscountCents
		lines = append(lines, domain.SaleLineRequest{
			ProductID:         item.ProductID,
			Qty:               item.Qty,
			UnitPriceCents:    &price,
			LineDiscountCents: &discount,
			TaxRate:           item.TaxRate,
		})
	}
	return lines
}
