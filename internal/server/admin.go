package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tournevent/shipbroker/internal/orders"
)

func (s *Server) handleAttentionQueue(w http.ResponseWriter, r *http.Request) {
	limit := maxPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	list, err := s.Orders.NeedsAttention(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (s *Server) handleRetryBooking(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.RetryBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, o)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}
	o, err := s.Orders.Refund(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type adminStatusInput struct {
	Status   string `json:"status"`
	Location string `json:"location"`
	Remarks  string `json:"remarks"`
}

// handleAdminStatus lets an operator correct a shipment status.
func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	var in adminStatusInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	res, err := s.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), orders.StatusUpdate{
		Status:   in.Status,
		Location: in.Location,
		Remarks:  in.Remarks,
		Source:   orders.SourceAdmin,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResult(res))
}

func statusResult(res *orders.UpdateResult) map[string]any {
	return map[string]any{
		"order_id":        res.Order.ID,
		"status":          res.Order.Status,
		"previous_status": res.Previous,
		"applied":         res.Applied,
	}
}
