package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"barpos/backend/internal/domain"
)

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	detail, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), domain.SaleFilter{
		Status: q.Get("status"),
		UserID: q.Get("user_id"),
		From:   from,
		To:     to,
		Limit:  parsePositiveLimit(q.Get("limit"), 50, 500),
		Offset: parseOffset(q.Get("offset")),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.SalesSummary(r.Context(), from, to)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleVoidSale(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "void", req.ManagerPIN) {
		return
	}
	resp, err := a.service.VoidSale(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// returnBody accepts both the list form and the older single-line form
// {"sale_item_id": ..., "qty": ...}.
type returnBody struct {
	Items               []domain.ReturnLineRequest `json:"items"`
	SaleItemID          string                     `json:"sale_item_id"`
	Qty                 int64                      `json:"qty"`
	RecordRefundPayment bool                       `json:"record_refund_payment"`
	Note                string                     `json:"note"`
	ManagerPIN          string                     `json:"manager_pin"`
}

func (b returnBody) toRequest(saleID string) (domain.SaleReturnRequest, error) {
	items := b.Items
	single := strings.TrimSpace(b.SaleItemID) != ""
	switch {
	case single && len(items) > 0:
		return domain.SaleReturnRequest{}, errors.New("send either items or sale_item_id, not both")
	case single:
		items = []domain.ReturnLineRequest{{SaleItemID: b.SaleItemID, Qty: b.Qty}}
	case len(items) == 0:
		return domain.SaleReturnRequest{}, errors.New("return items required")
	}
	return domain.SaleReturnRequest{
		SaleID:              saleID,
		Items:               items,
		RecordRefundPayment: b.RecordRefundPayment,
		Note:                b.Note,
	}, nil
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var body returnBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := body.toRequest(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.checkManagerPIN(w, r, "return", body.ManagerPIN) {
		return
	}
	resp, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

func (a *API) handleRetryRefundPayment(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.RetryRefundPayment(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}
