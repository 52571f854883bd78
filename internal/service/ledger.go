package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/units"
	"barpos/backend/internal/xid"
)

// systemMoveTypes are written only by sales, returns and voids.
var systemMoveTypes = map[string]struct{}{
	domain.MoveSale:         {},
	domain.MoveRecipeUse:    {},
	domain.MoveAccompUse:    {},
	domain.MoveReturn:       {},
	domain.MoveReturnRecipe: {},
	domain.MoveReturnAccomp: {},
	domain.MoveVoidReversal: {},
}

// CreateMove records one manual ledger entry and shifts the balance by its qty.
func (s *Service) CreateMove(ctx context.Context, req domain.MoveCreateRequest) (domain.MoveView, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.MoveView{}, err
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.ProductID == "" || req.Qty == 0 {
		return domain.MoveView{}, store.ErrInvalidTransaction
	}
	if req.Type == "" {
		req.Type = domain.MoveIn
		if req.Qty < 0 {
			req.Type = domain.MoveOut
		}
	}
	if _, reserved := systemMoveTypes[req.Type]; reserved {
		return domain.MoveView{}, fmt.Errorf("%w: %s moves are written by sales only", store.ErrInvalidTransaction, req.Type)
	}
	if (req.Type == domain.MoveIn && req.Qty < 0) || (req.Type == domain.MoveOut && req.Qty > 0) {
		return domain.MoveView{}, fmt.Errorf("%w: %s qty has the wrong sign", store.ErrInvalidTransaction, req.Type)
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.MoveView{}, err
	}

	move := domain.InventoryMove{
		ID:            xid.New("mov"),
		ProductID:     req.ProductID,
		Qty:           req.Qty,
		Type:          req.Type,
		SourceRef:     strings.TrimSpace(req.SourceRef),
		Note:          strings.TrimSpace(req.Note),
		UserID:        actorName(ctx),
		Location:      strings.TrimSpace(req.Location),
		SupplierName:  strings.TrimSpace(req.SupplierName),
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		UnitCostCents: req.UnitCostCents,
		DiscountCents: req.DiscountCents,
		TaxCents:      req.TaxCents,
		Lot:           strings.TrimSpace(req.Lot),
		ExpiryDate:    expiry,
	}

	written, err := s.applyMoves(ctx, "ledger.CreateMove", []domain.InventoryMove{move})
	if err != nil {
		return domain.MoveView{}, err
	}

	s.logAudit(ctx, "move_create", "inventory_move", written[0].ID, fmt.Sprintf("product=%s,qty=%d,type=%s", move.ProductID, move.Qty, move.Type))
	return toMoveView(written[0]), nil
}

// ReceiveStock books a supplier delivery. Every line becomes an IN move and all
// of them share the receipt id as source ref.
func (s *Service) ReceiveStock(ctx context.Context, req domain.ReceiveRequest) (domain.ReceiveResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ReceiveResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.ReceiveResponse{}, store.ErrInvalidTransaction
	}

	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, strings.TrimSpace(line.ProductID))
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.ReceiveResponse{}, err
	}

	receiptID := xid.New("rcv")
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "supplier receipt"
	}
	user := actorName(ctx)
	moves := make([]domain.InventoryMove, 0, len(req.Items))
	for _, line := range req.Items {
		product, ok := products[strings.TrimSpace(line.ProductID)]
		if !ok || !product.Active {
			return domain.ReceiveResponse{}, fmt.Errorf("%w: product %s missing or inactive", store.ErrNotFound, line.ProductID)
		}
		category, err := units.CategoryFor(product.Kind, product.Measure)
		if err != nil {
			return domain.ReceiveResponse{}, err
		}
		qty, err := units.ToCanonical(category, line.Unit, line.Qty)
		if err != nil {
			return domain.ReceiveResponse{}, fmt.Errorf("receive %s: %w", product.ID, err)
		}
		expiry, err := parseDate(line.ExpiryDate)
		if err != nil {
			return domain.ReceiveResponse{}, err
		}
		moves = append(moves, domain.InventoryMove{
			ID:            xid.New("mov"),
			ProductID:     product.ID,
			Qty:           qty,
			Type:          domain.MoveIn,
			SourceRef:     receiptID,
			Note:          note,
			UserID:        user,
			Location:      strings.TrimSpace(req.Location),
			SupplierName:  strings.TrimSpace(req.SupplierName),
			InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
			UnitCostCents: line.UnitCostCents,
			DiscountCents: line.DiscountCents,
			TaxCents:      line.TaxCents,
			Lot:           strings.TrimSpace(line.Lot),
			ExpiryDate:    expiry,
		})
	}

	written, err := s.applyMoves(ctx, "ledger.ReceiveStock", moves)
	if err != nil {
		return domain.ReceiveResponse{}, err
	}

	s.logAudit(ctx, "stock_receive", "receipt", receiptID, fmt.Sprintf("lines=%d,supplier=%s,invoice=%s", len(written), req.SupplierName, req.InvoiceNumber))
	return domain.ReceiveResponse{ReceiptID: receiptID, Moves: written}, nil
}

// AdjustStock sets an absolute balance by writing the ADJUST delta.
func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustRequest) (domain.AdjustResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.AdjustResponse{}, err
	}
	if req.Stock < 0 {
		return domain.AdjustResponse{}, store.ErrInvalidTransaction
	}

	unlock, err := s.lockProducts(ctx, []string{strings.TrimSpace(req.ProductID)})
	if err != nil {
		return domain.AdjustResponse{}, err
	}
	defer unlock()

	product, err := s.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.AdjustResponse{}, err
	}
	if !product.StockTracked() {
		return domain.AdjustResponse{}, fmt.Errorf("%w: %s products keep no stock", store.ErrInvalidTransaction, product.Kind)
	}

	delta := req.Stock - product.Stock
	if delta == 0 {
		return domain.AdjustResponse{Product: product}, nil
	}

	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = fmt.Sprintf("adjust %d -> %d", product.Stock, req.Stock)
	}
	written, err := s.repo.ApplyMoves(ctx, []domain.InventoryMove{{
		ID:        xid.New("mov"),
		ProductID: product.ID,
		Qty:       delta,
		Type:      domain.MoveAdjust,
		Note:      note,
		UserID:    actorName(ctx),
		Location:  strings.TrimSpace(req.Location),
	}})
	if err != nil {
		return domain.AdjustResponse{}, err
	}
	product, err = s.repo.GetProduct(ctx, product.ID)
	if err != nil {
		return domain.AdjustResponse{}, err
	}

	s.logAudit(ctx, "stock_adjust", "product", product.ID, fmt.Sprintf("delta=%d,stock=%d", delta, product.Stock))
	return domain.AdjustResponse{Product: product, Move: &written[0]}, nil
}

func (s *Service) GetMove(ctx context.Context, id string) (domain.MoveView, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.MoveView{}, err
	}
	move, err := s.repo.GetMove(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MoveView{}, err
	}
	return toMoveView(move), nil
}

func (s *Service) ListMoves(ctx context.Context, filter domain.MoveFilter) ([]domain.MoveView, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	filter.Type = strings.ToUpper(strings.TrimSpace(filter.Type))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	moves, err := s.repo.ListMoves(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]domain.MoveView, 0, len(moves))
	for _, move := range moves {
		views = append(views, toMoveView(move))
	}
	return views, nil
}

// UpdateMove edits a manual correction. A qty change shifts the balance by
// the difference and is refused if that would drive it negative.
func (s *Service) UpdateMove(ctx context.Context, id string, req domain.MoveUpdateRequest) (domain.MoveView, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.MoveView{}, err
	}

	current, err := s.repo.GetMove(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MoveView{}, err
	}

	unlock, err := s.lockProducts(ctx, []string{current.ProductID})
	if err != nil {
		return domain.MoveView{}, err
	}
	defer unlock()

	updated := current
	if req.Qty != nil {
		if *req.Qty == 0 {
			return domain.MoveView{}, store.ErrInvalidTransaction
		}
		updated.Qty = *req.Qty
	}
	if req.Note != nil {
		updated.Note = strings.TrimSpace(*req.Note)
	}
	if req.Location != nil {
		updated.Location = strings.TrimSpace(*req.Location)
	}
	if req.SupplierName != nil {
		updated.SupplierName = strings.TrimSpace(*req.SupplierName)
	}
	if req.InvoiceNumber != nil {
		updated.InvoiceNumber = strings.TrimSpace(*req.InvoiceNumber)
	}
	if req.UnitCostCents != nil {
		updated.UnitCostCents = req.UnitCostCents
	}
	if req.DiscountCents != nil {
		updated.DiscountCents = req.DiscountCents
	}
	if req.TaxCents != nil {
		updated.TaxCents = req.TaxCents
	}
	if req.Lot != nil {
		updated.Lot = strings.TrimSpace(*req.Lot)
	}
	if req.ExpiryDate != nil {
		expiry, err := parseDate(*req.ExpiryDate)
		if err != nil {
			return domain.MoveView{}, err
		}
		updated.ExpiryDate = expiry
	}

	ctx, span := s.startSpan(ctx, "ledger.UpdateMove", attribute.String("move.id", current.ID), attribute.String("product.id", current.ProductID))
	saved, err := s.repo.UpdateMove(ctx, updated)
	endSpan(span, err)
	if err != nil {
		return domain.MoveView{}, err
	}

	s.logAudit(ctx, "move_update", "inventory_move", saved.ID, fmt.Sprintf("qty:%d->%d", current.Qty, saved.Qty))
	return toMoveView(saved), nil
}

// DeleteMove removes a ledger entry and undoes its effect on the balance.
func (s *Service) DeleteMove(ctx context.Context, id string) (domain.MoveView, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.MoveView{}, err
	}

	current, err := s.repo.GetMove(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MoveView{}, err
	}
	unlock, err := s.lockProducts(ctx, []string{current.ProductID})
	if err != nil {
		return domain.MoveView{}, err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, "ledger.DeleteMove", attribute.String("move.id", current.ID), attribute.String("product.id", current.ProductID))
	removed, err := s.repo.DeleteMove(ctx, current.ID)
	endSpan(span, err)
	if err != nil {
		return domain.MoveView{}, err
	}

	s.logAudit(ctx, "move_delete", "inventory_move", removed.ID, fmt.Sprintf("product=%s,qty=%d,type=%s", removed.ProductID, removed.Qty, removed.Type))
	return toMoveView(removed), nil
}

// LowStock lists active stock-tracked products at or below their threshold.
func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockItem, error) {
	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	items := make([]domain.LowStockItem, 0)
	for _, product := range products {
		if !product.StockTracked() || product.MinStock <= 0 || product.Stock > product.MinStock {
			continue
		}
		items = append(items, domain.LowStockItem{
			ProductID: product.ID,
			Name:      product.Name,
			Kind:      product.Kind,
			Measure:   product.Measure,
			Stock:     product.Stock,
			MinStock:  product.MinStock,
		})
	}
	return items, nil
}

// AuditLedger compares every balance with the sum of its moves.
func (s *Service) AuditLedger(ctx context.Context) (domain.LedgerAudit, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.LedgerAudit{}, err
	}

	products, err := s.repo.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return domain.LedgerAudit{}, err
	}
	sums, err := s.repo.LedgerSums(ctx)
	if err != nil {
		return domain.LedgerAudit{}, err
	}

	audit := domain.LedgerAudit{Mismatches: make([]domain.LedgerMismatch, 0), CheckedAt: s.now()}
	for _, product := range products {
		if !product.StockTracked() {
			continue
		}
		audit.CheckedProducts++
		if sum := sums[product.ID]; sum != product.Stock {
			audit.Mismatches = append(audit.Mismatches, domain.LedgerMismatch{
				ProductID: product.ID,
				Name:      product.Name,
				Stock:     product.Stock,
				LedgerSum: sum,
			})
		}
	}
	if len(audit.Mismatches) > 0 {
		s.logger.Warn("ledger audit found mismatches", zap.Int("mismatches", len(audit.Mismatches)))
	}
	return audit, nil
}

// applyMoves writes a batch under the per-product locks.
func (s *Service) applyMoves(ctx context.Context, spanName string, moves []domain.InventoryMove) ([]domain.InventoryMove, error) {
	unlock, err := s.lockProducts(ctx, store.MoveProductIDs(moves))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ctx, span := s.startSpan(ctx, spanName, attribute.Int("moves.count", len(moves)))
	written, err := s.repo.ApplyMoves(ctx, moves)
	endSpan(span, err)
	return written, err
}

func toMoveView(move domain.InventoryMove) domain.MoveView {
	return domain.MoveView{InventoryMove: move, CostTotalCents: move.CostTotalCents()}
}

// parseDate accepts a calendar date or an RFC 3339 timestamp; empty means none.
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid date %q", store.ErrInvalidTransaction, raw)
}
