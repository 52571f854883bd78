package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/recipe"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// CreateReturn takes back part or all of a sale. Refunds are priced from the
// sale line snapshot; cocktails credit their ingredients through the current
// recipe. When asked, the refund payment is recorded after the return commits.
func (s *Service) CreateReturn(ctx context.Context, req domain.SaleReturnRequest) (domain.ReturnResponse, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	ctx, span := s.startSpan(ctx, "sale.Return",
		attribute.String("sale.id", req.SaleID),
		attribute.Int("return.lines", len(req.Items)),
	)
	resp, err := s.createReturn(ctx, req)
	endSpan(span, err)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	if resp.Return.RefundPaymentStatus == domain.RefundPaymentPending {
		resp.Return = s.recordRefundPayment(ctx, resp.Return)
		if detail, err := s.repo.GetSale(ctx, resp.Return.SaleID); err == nil {
			resp.Sale = detail
		} else {
			s.logger.Warn("failed to reload sale after refund payment", zap.String("sale_id", resp.Return.SaleID), zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Service) createReturn(ctx context.Context, req domain.SaleReturnRequest) (domain.ReturnResponse, error) {
	if req.SaleID == "" || len(req.Items) == 0 {
		return domain.ReturnResponse{}, store.ErrInvalidTransaction
	}

	detail, err := s.repo.GetSale(ctx, req.SaleID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	saleItems := make(map[string]domain.SaleItem, len(detail.Items))
	ids := make([]string, 0, len(detail.Items))
	for _, item := range detail.Items {
		saleItems[item.ID] = item
		ids = append(ids, item.ProductID)
	}

	ret := domain.SaleReturn{
		ID:                  xid.New("ret"),
		SaleID:              detail.Sale.ID,
		UserID:              actorName(ctx),
		Items:               make([]domain.SaleReturnItem, 0, len(req.Items)),
		RecordRefundPayment: req.RecordRefundPayment,
		Note:                strings.TrimSpace(req.Note),
		CreatedAt:           s.now(),
	}
	for _, line := range req.Items {
		item, ok := saleItems[strings.TrimSpace(line.SaleItemID)]
		if !ok {
			return domain.ReturnResponse{}, fmt.Errorf("%w: sale item %s is not part of sale %s", store.ErrNotFound, line.SaleItemID, detail.Sale.ID)
		}
		if line.Qty <= 0 {
			return domain.ReturnResponse{}, fmt.Errorf("%w: return qty must be positive", store.ErrInvalidTransaction)
		}
		refund := domain.UnitRefund(item, line.Qty)
		ret.Items = append(ret.Items, domain.SaleReturnItem{
			SaleItemID:      item.ID,
			ProductID:       item.ProductID,
			NameSnapshot:    item.NameSnapshot,
			Qty:             line.Qty,
			UnitRefundCents: domain.UnitRefund(item, 1).TotalCents,
			AmountCents:     refund.TotalCents,
		})
		ret.AmountCents += refund.TotalCents
	}

	// Early answer for the caller; the store checks again under its lock.
	if _, err := store.CheckReturn(detail, ret); err != nil {
		return domain.ReturnResponse{}, err
	}

	ret.RefundPaymentStatus = domain.RefundPaymentNotRequested
	if ret.RecordRefundPayment && ret.AmountCents > 0 {
		ret.RefundPaymentStatus = domain.RefundPaymentPending
	}

	res := s.resolver()
	products, err := res.Products(ctx, ids)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	moves := make([]domain.InventoryMove, 0, len(ret.Items))
	for _, item := range ret.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return domain.ReturnResponse{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		lineMoves, err := s.stockMoves(ctx, res, product, item.Qty, recipe.Restore)
		if err != nil {
			return domain.ReturnResponse{}, err
		}
		moves = append(moves, lineMoves...)
	}
	for i := range moves {
		moves[i].SourceRef = ret.ID
		moves[i].Note = fmt.Sprintf("return %s of sale %s", ret.ID, ret.SaleID)
		moves[i].UserID = ret.UserID
		moves[i].CreatedAt = ret.CreatedAt
	}

	unlock, err := s.lockProducts(ctx, store.MoveProductIDs(moves))
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	defer unlock()

	updated, created, err := s.repo.CreateReturn(ctx, domain.ReturnCommit{Return: ret, Moves: moves})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.logAudit(ctx, "sale_return", "sale", created.SaleID, fmt.Sprintf("return=%s,amount=%d,lines=%d,status=%s", created.ID, created.AmountCents, len(created.Items), updated.Sale.Status))
	return domain.ReturnResponse{Sale: updated, Return: created}, nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.SaleReturn, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.SaleReturn{}, store.ErrInvalidTransaction
	}
	return s.repo.GetReturn(ctx, id)
}

// RetryRefundPayment re-attempts the refund payment of a return whose first
// recording failed or never finished.
func (s *Service) RetryRefundPayment(ctx context.Context, returnID string) (domain.SaleReturn, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SaleReturn{}, err
	}
	ret, err := s.GetReturn(ctx, returnID)
	if err != nil {
		return domain.SaleReturn{}, err
	}
	switch ret.RefundPaymentStatus {
	case domain.RefundPaymentFailed, domain.RefundPaymentPending:
	case domain.RefundPaymentRecorded:
		return ret, nil
	default:
		return domain.SaleReturn{}, fmt.Errorf("%w: return %s did not request a refund payment", store.ErrConflict, ret.ID)
	}

	ret = s.recordRefundPayment(ctx, ret)
	s.logAudit(ctx, "refund_payment_retry", "return", ret.ID, "status="+ret.RefundPaymentStatus)
	return ret, nil
}

// recordRefundPayment writes the negative CASH payment of a committed return.
// A failure never undoes the return; it leaves the return FAILED for a retry.
// At most one refund payment exists per return, so a lost acknowledgement is
// recovered by reading the payment back.
func (s *Service) recordRefundPayment(ctx context.Context, ret domain.SaleReturn) domain.SaleReturn {
	ctx, span := s.startSpan(ctx, "sale.RecordRefundPayment",
		attribute.String("return.id", ret.ID),
		attribute.Int64("return.amount_cents", ret.AmountCents),
	)

	payment, err := s.repo.GetRefundPayment(ctx, ret.ID)
	if errors.Is(err, store.ErrNotFound) {
		payment, err = s.createRefundPayment(ctx, ret)
	}

	status, paymentID := domain.RefundPaymentRecorded, payment.ID
	if err != nil {
		status, paymentID = domain.RefundPaymentFailed, ""
		s.logger.Warn("refund payment not recorded",
			zap.String("return_id", ret.ID),
			zap.String("sale_id", ret.SaleID),
			zap.Int64("amount_cents", ret.AmountCents),
			zap.Error(err),
		)
	}
	endSpan(span, err)

	if err := s.repo.UpdateReturnRefund(ctx, ret.ID, status, paymentID); err != nil {
		s.logger.Warn("failed to store refund payment status",
			zap.String("return_id", ret.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
	ret.RefundPaymentStatus = status
	ret.RefundPaymentID = paymentID
	return ret
}

func (s *Service) createRefundPayment(ctx context.Context, ret domain.SaleReturn) (domain.Payment, error) {
	var lastErr error
	for attempt := 1; attempt <= s.refundAttempts; attempt++ {
		payment, err := s.repo.CreatePayment(ctx, domain.Payment{
			ID:          xid.New("pay"),
			SaleID:      ret.SaleID,
			ReturnID:    ret.ID,
			Method:      domain.PaymentCash,
			AmountCents: -ret.AmountCents,
			Reference:   "refund " + ret.ID,
			CreatedAt:   s.now(),
		})
		if err == nil {
			return payment, nil
		}
		if errors.Is(err, store.ErrConflict) {
			return s.repo.GetRefundPayment(ctx, ret.ID)
		}
		lastErr = err
		s.logger.Warn("refund payment attempt failed",
			zap.String("return_id", ret.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.refundAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return domain.Payment{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * s.refundBackoff):
		}
	}
	return domain.Payment{}, fmt.Errorf("refund payment for return %s after %d attempts: %w", ret.ID, s.refundAttempts, lastErr)
}
