package httpapi

import (
	"net/http"

	"barpos/backend/internal/domain"
)

func (a *API) handleListTabs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tabs, err := a.service.ListTabs(r.Context(), domain.TabFilter{
		Status: q.Get("status"),
		Query:  q.Get("q"),
		Limit:  parsePositiveLimit(q.Get("limit"), 50, 200),
		Offset: parseOffset(q.Get("offset")),
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": tabs})
}

func (a *API) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	var req domain.TabCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tab, err := a.service.OpenTab(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tab": tab})
}

func (a *API) handleGetTab(w http.ResponseWriter, r *http.Request) {
	detail, err := a.service.GetTab(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateTab(w http.ResponseWriter, r *http.Request) {
	var req domain.TabUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tab, err := a.service.UpdateTab(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": tab})
}

func (a *API) handleDeleteTab(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteTab(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddTabItem(w http.ResponseWriter, r *http.Request) {
	var req domain.TabItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AddTabItem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleUpdateTabItem(w http.ResponseWriter, r *http.Request) {
	var req domain.TabItemUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.UpdateTabItem(r.Context(), r.PathValue("id"), r.PathValue("itemID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteTabItem(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteTabItem(r.Context(), r.PathValue("id"), r.PathValue("itemID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleClearTab(w http.ResponseWriter, r *http.Request) {
	removed, err := a.service.ClearTab(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	tab, err := a.service.CloseTab(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": tab})
}

func (a *API) handleReopenTab(w http.ResponseWriter, r *http.Request) {
	tab, err := a.service.ReopenTab(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tab": tab})
}

func (a *API) handleTabSalePayload(w http.ResponseWriter, r *http.Request) {
	payload, err := a.service.TabSalePayload(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.Reserve(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservation": res})
}

func (a *API) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := a.service.Release(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	// A nil reservation means the row reached zero and is gone.
	writeJSON(w, http.StatusOK, map[string]any{"reservation": res})
}

func (a *API) handleReservationSummary(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ReservationSummary(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleAvailability(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.Availability(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
