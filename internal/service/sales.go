package service

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// CreateSale prices every line, expands cocktails into ingredient moves and
// commits header, lines, moves and payments in one store call. Any line that
// fails leaves no trace of the others.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleDetail, error) {
	ctx, span := s.startSpan(ctx, "sale.Create",
		attribute.Int("sale.lines", len(req.Items)),
		attribute.String("tab.id", req.TabID),
	)
	detail, err := s.createSale(ctx, req)
	if err == nil {
		span.SetAttributes(
			attribute.String("sale.id", detail.Sale.ID),
			attribute.Int64("sale.total_cents", detail.Sale.TotalCents),
		)
	}
	endSpan(span, err)
	return detail, err
}

func (s *Service) createSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleDetail, error) {
	req.TabID = strings.TrimSpace(req.TabID)
	if req.TabID != "" && len(req.Items) == 0 {
		tab, err := s.openTab(ctx, req.TabID)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		items, err := s.repo.ListTabItems(ctx, tab.ID)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		req.Items = tabSaleLines(items)
	}
	if len(req.Items) == 0 {
		return domain.SaleDetail{}, fmt.Errorf("%w: sale has no items", store.ErrInvalidTransaction)
	}

	payments, paid, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.SaleDetail{}, err
	}

	res := s.resolver()
	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, strings.TrimSpace(line.ProductID))
	}
	products, err := res.Products(ctx, ids)
	if err != nil {
		return domain.SaleDetail{}, err
	}

	now := s.now()
	user := actorName(ctx)
	sale := domain.Sale{
		ID:        xid.New("sal"),
		UserID:    user,
		Status:    domain.SaleStatusCompleted,
		Notes:     strings.TrimSpace(req.Notes),
		Client:    strings.TrimSpace(req.Client),
		TabID:     req.TabID,
		CreatedAt: now,
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	moves := make([]domain.InventoryMove, 0, len(req.Items))
	for i, line := range req.Items {
		product, ok := products[strings.TrimSpace(line.ProductID)]
		if !ok {
			return domain.SaleDetail{}, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if err := checkSellable(product); err != nil {
			return domain.SaleDetail{}, err
		}
		if line.Qty <= 0 {
			return domain.SaleDetail{}, fmt.Errorf("%w: line %d qty must be a positive whole number", store.ErrInvalidTransaction, i+1)
		}

		price := product.PriceCents
		if line.UnitPriceCents != nil {
			price = *line.UnitPriceCents
		}
		discount := int64(0)
		if line.LineDiscountCents != nil {
			discount = *line.LineDiscountCents
		}
		if price < 0 || !validTaxRate(line.TaxRate) {
			return domain.SaleDetail{}, fmt.Errorf("%w: line %d has an invalid price or tax rate", store.ErrInvalidTransaction, i+1)
		}

		amounts := domain.ComputeLine(price, line.Qty, discount, line.TaxRate)
		items = append(items, domain.SaleItem{
			ID:                xid.New("sli"),
			SaleID:            sale.ID,
			ProductID:         product.ID,
			Kind:              product.Kind,
			Qty:               line.Qty,
			UnitPriceCents:    price,
			LineDiscountCents: amounts.DiscountCents,
			TaxRate:           copyRate(line.TaxRate),
			TaxCents:          amounts.TaxCents,
			LineTotalCents:    amounts.TotalCents,
			NameSnapshot:      product.Name,
			CategorySnapshot:  product.Category,
		})
		sale.SubtotalCents += amounts.BaseCents
		sale.DiscountCents += amounts.DiscountCents
		sale.TaxCents += amounts.TaxCents
		sale.TotalCents += amounts.TotalCents

		lineMoves, err := s.stockMoves(ctx, res, product, line.Qty, recipe.Consume)
		if err != nil {
			return domain.SaleDetail{}, err
		}
		moves = append(moves, lineMoves...)
	}

	if paid < sale.TotalCents {
		return domain.SaleDetail{}, fmt.Errorf("%w: payments %d below total %d", store.ErrInvalidPayment, paid, sale.TotalCents)
	}
	assignChange(payments, paid-sale.TotalCents)
	for i := range payments {
		payments[i].ID = xid.New("pay")
		payments[i].SaleID = sale.ID
		payments[i].CreatedAt = now
	}
	for i := range moves {
		moves[i].SourceRef = sale.ID
		moves[i].Note = "sale " + sale.ID
		moves[i].UserID = user
		moves[i].CreatedAt = now
	}

	unlock, err := s.lockProducts(ctx, store.MoveProductIDs(moves))
	if err != nil {
		return domain.SaleDetail{}, err
	}
	defer unlock()

	detail, err := s.repo.CreateSale(ctx, domain.SaleCommit{
		Sale:     sale,
		Items:    items,
		Payments: payments,
		Moves:    moves,
	})
	if err != nil {
		return domain.SaleDetail{}, err
	}

	s.logAudit(ctx, "sale_create", "sale", detail.Sale.ID, fmt.Sprintf("total=%d,lines=%d,moves=%d,payments=%d,tab=%s", detail.Sale.TotalCents, len(items), len(moves), len(payments), req.TabID))
	return detail, nil
}

// stockMoves turns a sold or returned line into signed ledger moves.
// Stock-tracked products move themselves; cocktails move their ingredients.
func (s *Service) stockMoves(ctx context.Context, res *recipe.Resolver, product domain.Product, qty int64, dir recipe.Direction) ([]domain.InventoryMove, error) {
	sign, direct := int64(-1), domain.MoveSale
	if dir == recipe.Restore {
		sign, direct = 1, domain.MoveReturn
	}

	if product.StockTracked() {
		return []domain.InventoryMove{{
			ID:        xid.New("mov"),
			ProductID: product.ID,
			Qty:       sign * qty,
			Type:      direct,
		}}, nil
	}

	reqs, err := res.Resolve(ctx, product, float64(qty), dir)
	if err != nil {
		return nil, err
	}
	moves := make([]domain.InventoryMove, 0, len(reqs))
	for _, req := range reqs {
		moves = append(moves, domain.InventoryMove{
			ID:        xid.New("mov"),
			ProductID: req.Ingredient.ID,
			Qty:       sign * req.Qty,
			Type:      req.MoveType,
		})
	}
	return moves, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.SaleDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleDetail{}, store.ErrInvalidTransaction
	}
	return s.repo.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	filter.Status = strings.ToUpper(strings.TrimSpace(filter.Status))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListSales(ctx, filter)
}

// SalesSummary totals sales by status and payments by method over [from, to).
// Money totals leave voided sales out; payment totals are net of change.
func (s *Service) SalesSummary(ctx context.Context, from *time.Time, to *time.Time) (domain.SalesSummary, error) {
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	payments, err := s.repo.ListPayments(ctx, from, to)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{From: from, To: to, Sales: len(sales)}
	byStatus := make(map[string]*domain.StatusTotal)
	for _, sale := range sales {
		total, ok := byStatus[sale.Status]
		if !ok {
			total = &domain.StatusTotal{Status: sale.Status}
			byStatus[sale.Status] = total
		}
		total.Sales++
		total.TotalCents += sale.TotalCents
		if sale.Status == domain.SaleStatusVoided {
			continue
		}
		summary.SubtotalCents += sale.SubtotalCents
		summary.DiscountCents += sale.DiscountCents
		summary.TaxCents += sale.TaxCents
		summary.TotalCents += sale.TotalCents
	}

	byMethod := make(map[string]*domain.PaymentTotal)
	for _, payment := range payments {
		if payment.AmountCents < 0 {
			summary.RefundedCents -= payment.AmountCents
		}
		key := payment.Method + "/" + payment.Provider
		total, ok := byMethod[key]
		if !ok {
			total = &domain.PaymentTotal{Method: payment.Method, Provider: payment.Provider}
			byMethod[key] = total
		}
		total.Payments++
		total.AmountCents += payment.AmountCents - payment.ChangeGivenCents
	}

	summary.ByStatus = make([]domain.StatusTotal, 0, len(byStatus))
	for _, total := range byStatus {
		summary.ByStatus = append(summary.ByStatus, *total)
	}
	slices.SortFunc(summary.ByStatus, func(a, b domain.StatusTotal) int { return cmp.Compare(a.Status, b.Status) })
	summary.ByPayment = make([]domain.PaymentTotal, 0, len(byMethod))
	for _, total := range byMethod {
		summary.ByPayment = append(summary.ByPayment, *total)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.PaymentTotal) int {
		if c := cmp.Compare(a.Method, b.Method); c != 0 {
			return c
		}
		return cmp.Compare(a.Provider, b.Provider)
	})
	return summary, nil
}

// VoidSale reverses every move a clean COMPLETED sale wrote.
func (s *Service) VoidSale(ctx context.Context, id string, req domain.VoidRequest) (domain.VoidResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.VoidResponse{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.VoidResponse{}, store.ErrInvalidTransaction
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	ctx, span := s.startSpan(ctx, "sale.Void", attribute.String("sale.id", id))
	resp, err := s.voidSale(ctx, id, reason)
	if err == nil {
		span.SetAttributes(attribute.Int("sale.reversals", len(resp.Reversals)))
	}
	endSpan(span, err)
	return resp, err
}

func (s *Service) voidSale(ctx context.Context, id string, reason string) (domain.VoidResponse, error) {
	detail, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.VoidResponse{}, err
	}
	if err := store.VoidEligible(detail); err != nil {
		return domain.VoidResponse{}, err
	}

	saleMoves, err := s.repo.ListMoves(ctx, domain.MoveFilter{SourceRef: id})
	if err != nil {
		return domain.VoidResponse{}, err
	}
	unlock, err := s.lockProducts(ctx, store.MoveProductIDs(saleMoves))
	if err != nil {
		return domain.VoidResponse{}, err
	}
	defer unlock()

	voided, reversals, err := s.repo.VoidSale(ctx, id, reason, actorName(ctx), s.now())
	if err != nil {
		return domain.VoidResponse{}, err
	}

	s.logAudit(ctx, "sale_void", "sale", id, fmt.Sprintf("reason=%s,reversals=%d", reason, len(reversals)))
	return domain.VoidResponse{Sale: voided, Reversals: reversals}, nil
}

func (s *Service) sellableProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return product, checkSellable(product)
}

// checkSellable rejects inactive products and bare ingredients.
func checkSellable(product domain.Product) error {
	if !product.Active {
		return fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, product.ID)
	}
	switch product.Kind {
	case domain.KindBase, domain.KindAccomp:
		return fmt.Errorf("%w: %s is an ingredient (%s) and cannot be sold", store.ErrInvalidTransaction, product.Name, product.Kind)
	}
	return nil
}

func normalizePayments(reqs []domain.PaymentRequest) ([]domain.Payment, int64, error) {
	if len(reqs) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one payment is required", store.ErrInvalidPayment)
	}
	payments := make([]domain.Payment, 0, len(reqs))
	paid := int64(0)
	for _, req := range reqs {
		method := strings.ToUpper(strings.TrimSpace(req.Method))
		switch method {
		case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentOther:
		default:
			return nil, 0, fmt.Errorf("%w: unknown method %q", store.ErrInvalidPayment, req.Method)
		}
		if req.AmountCents <= 0 {
			return nil, 0, fmt.Errorf("%w: amount must be positive", store.ErrInvalidPayment)
		}
		provider := ""
		if method == domain.PaymentTransfer {
			provider = strings.ToUpper(strings.TrimSpace(req.Provider))
			if provider != domain.ProviderNequi && provider != domain.ProviderDaviplata {
				return nil, 0, fmt.Errorf("%w: unknown transfer provider %q", store.ErrInvalidPayment, req.Provider)
			}
		}
		payments = append(payments, domain.Payment{
			Method:      method,
			Provider:    provider,
			AmountCents: req.AmountCents,
			Reference:   strings.TrimSpace(req.Reference),
		})
		paid += req.AmountCents
	}
	return payments, paid, nil
}

// assignChange books the overpayment as change on the last CASH payment. Change
// never exceeds the cash handed over on that payment.
func assignChange(payments []domain.Payment, overpay int64) {
	if overpay <= 0 {
		return
	}
	for i := len(payments) - 1; i >= 0; i-- {
		if payments[i].Method == domain.PaymentCash {
			payments[i].ChangeGivenCents = min(overpay, payments[i].AmountCents)
			return
		}
	}
}

func validTaxRate(rate *float64) bool {
	return rate == nil || (!math.IsNaN(*rate) && !math.IsInf(*rate, 0) && *rate >= 0 && *rate <= 100)
}

func copyRate(rate *float64) *float64 {
	if rate == nil {
		return nil
	}
	v := *rate
	return &v
}
