package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

type errorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Shortfall string `json:"shortfall,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonDecoder(w http.ResponseWriter, r *http.Request) *json.Decoder {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := jsonDecoder(w, r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorKinds maps sentinels to a status and kind, checked in order.
var errorKinds = []struct {
	err    error
	status int
	kind   string
}{
	{wallet.ErrInsufficientFunds, http.StatusBadRequest, "InsufficientFunds"},
	{wallet.ErrInvalidAmount, http.StatusBadRequest, "InvalidAmount"},
	{wallet.ErrInvalidTopUp, http.StatusBadRequest, "InvalidTopUp"},
	{orders.ErrInvalidPartner, http.StatusBadRequest, "InvalidPartner"},
	{shipper.ErrUnknownProvider, http.StatusBadRequest, "InvalidPartner"},
	{orders.ErrInvalidOrder, http.StatusBadRequest, "InvalidOrder"},
	{shipper.ErrInvalidPackage, http.StatusBadRequest, "InvalidOrder"},
	{orders.ErrInvalidStatus, http.StatusBadRequest, "InvalidStatus"},
	{shipper.ErrNoServiceableRoute, http.StatusBadRequest, "NoServiceableRoute"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "OrderNotFound"},
	{orders.ErrUnauthorized, http.StatusForbidden, "Unauthorized"},
	{orders.ErrNotCancellable, http.StatusConflict, "NotCancellable"},
	{orders.ErrNotRefundable, http.StatusConflict, "NotRefundable"},
	{orders.ErrBookingNotRetryable, http.StatusConflict, "BookingNotRetryable"},
	{shipper.ErrShipmentRejected, http.StatusBadGateway, "ShipmentRejected"},
	{shipper.ErrTrackingUnavailable, http.StatusBadGateway, "TrackingUnavailable"},
	{shipper.ErrProviderUnavailable, http.StatusBadGateway, "ProviderUnavailable"},
	{shipper.ErrAuthenticationFailed, http.StatusBadGateway, "ProviderUnavailable"},
	{shipper.ErrRateLimitExceeded, http.StatusBadGateway, "ProviderUnavailable"},
}

// writeError renders err with the status of its kind. Unclassified errors are
// logged and reported as internal.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := apiError{Kind: "Internal", Message: "internal error"}
	status := http.StatusInternalServerError
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			status, body.Kind, body.Message = k.status, k.kind, err.Error()
			break
		}
	}

	var insufficient *wallet.InsufficientFundsError
	if errors.As(err, &insufficient) {
		body.Shortfall = wallet.FormatMinor(insufficient.Shortfall())
	}

	if status >= http.StatusInternalServerError {
		s.Logger.Ctx(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: body})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: apiError{Kind: "BadRequest", Message: message}})
}

func (s *Server) rejectStatus(w http.ResponseWriter, r *http.Request, status int) {
	kind := "Unauthenticated"
	if status == http.StatusForbidden {
		kind = "Forbidden"
	}
	writeJSON(w, status, errorBody{Error: apiError{Kind: kind, Message: http.StatusText(status)}})
}
