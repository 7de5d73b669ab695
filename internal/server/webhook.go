package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/orders"
)

type webhookPayload struct {
	OrderID       string `json:"order_id"`
	AWB           string `json:"awb"`
	Status        string `json:"status"`
	PartnerStatus string `json:"partner_status"`
	PartnerName   string `json:"partner_name"`
	TrackingData  struct {
		Location  string `json:"location"`
		Remarks   string `json:"remarks"`
		Timestamp string `json:"timestamp"`
	} `json:"tracking_data"`
}

// handleShipmentWebhook applies a partner status push. Every outcome is a
// final answer for the caller: 200 when applied or ignored, 400 when the
// payload cannot be applied.
func (s *Server) handleShipmentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookToken != "" && !tokenEqual(r.Header.Get("X-Webhook-Token"), s.cfg.WebhookToken) {
		s.rejectStatus(w, r, http.StatusUnauthorized)
		return
	}

	var p webhookPayload
	if err := decodeWebhook(w, r, &p); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	ref := strings.TrimSpace(p.OrderID)
	if ref == "" {
		ref = strings.TrimSpace(p.AWB)
	}
	if ref == "" {
		badRequest(w, "order_id or awb is required")
		return
	}

	order, err := s.Orders.Find(r.Context(), ref)
	if err != nil {
		s.rejectWebhookOrder(w, r, err)
		return
	}

	status := p.Status
	if status == "" && p.PartnerStatus != "" {
		partner := p.PartnerName
		if partner == "" {
			partner = order.Partner
		}
		sh, err := s.Registry.Get(partner)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status = string(sh.MapStatus(p.PartnerStatus))
	}

	update := orders.StatusUpdate{
		Status:        status,
		PartnerStatus: p.PartnerStatus,
		Location:      p.TrackingData.Location,
		Remarks:       p.TrackingData.Remarks,
		Source:        orders.SourceWebhook,
	}
	if p.TrackingData.Timestamp != "" {
		if at, err := time.Parse(time.RFC3339, p.TrackingData.Timestamp); err == nil {
			update.At = at
		}
	}

	res, err := s.Orders.UpdateStatus(r.Context(), order.ID, update)
	if err != nil {
		s.rejectWebhookOrder(w, r, err)
		return
	}
	s.Logger.Ctx(r.Context()).Info("Webhook status processed",
		zap.String("order_id", res.Order.ID),
		zap.String("partner", order.Partner),
		zap.String("status", string(res.Order.Status)),
		zap.Bool("applied", res.Applied),
	)
	writeJSON(w, http.StatusOK, statusResult(res))
}

// rejectWebhookOrder answers unknown orders with 400 so the sender stops
// redelivering; other errors go through the usual mapping.
func (s *Server) rejectWebhookOrder(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Kind: "OrderNotFound", Message: err.Error()}})
		return
	}
	s.writeError(w, r, err)
}

// decodeWebhook is lenient about unknown fields since partners add them
// freely.
func decodeWebhook(w http.ResponseWriter, r *http.Request, p *webhookPayload) error {
	return jsonDecoder(w, r).Decode(p)
}
