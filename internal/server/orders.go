package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/export"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

const (
	defaultPage = 20
	maxPage     = 100
	maxExport   = 5000
)

type shipmentInput struct {
	Partner     string              `json:"partner"`
	Pickup      shipper.Address     `json:"pickup"`
	Delivery    shipper.Address     `json:"delivery"`
	Package     shipper.Package     `json:"package"`
	ServiceType shipper.ServiceType `json:"service_type"`
}

func (in shipmentInput) quoteRequest() *shipper.QuoteRequest {
	return &shipper.QuoteRequest{
		Origin:      in.Pickup,
		Destination: in.Delivery,
		Package:     in.Package,
		ServiceHint: in.ServiceType,
	}
}

type placeOrderInput struct {
	shipmentInput
	PaymentMethod string            `json:"payment_method"`
	Metadata      map[string]string `json:"metadata"`
}

type placementResponse struct {
	Order        *orders.Order  `json:"order"`
	Quote        *shipper.Quote `json:"quote"`
	BalanceAfter string         `json:"balance_after"`
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (s *Server) handlePartners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"partners": s.Registry.Names()})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var in shipmentInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := in.Package.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.Quoter.Quote(r.Context(), in.Partner, in.quoteRequest())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type compareInput struct {
	shipmentInput
	Partners []string `json:"partners"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var in compareInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := in.Package.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}
	quotes, errs := s.Quoter.Compare(r.Context(), in.quoteRequest(), in.Partners)
	failures := make([]string, len(errs))
	for i, err := range errs {
		failures[i] = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quotes":   quotes,
		"failures": failures,
	})
}

// handleServiceability checks one partner, or all of them concurrently.
func (s *Server) handleServiceability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &shipper.ServiceabilityRequest{
		OriginPincode:      q.Get("origin"),
		DestinationPincode: q.Get("destination"),
		DestinationCountry: q.Get("country"),
	}
	if req.OriginPincode == "" || req.DestinationPincode == "" {
		badRequest(w, "origin and destination are required")
		return
	}
	if raw := q.Get("weight"); raw != "" {
		weight, err := strconv.ParseFloat(raw, 64)
		if err != nil || weight < 0 {
			badRequest(w, "invalid weight")
			return
		}
		req.WeightKG = weight
	}

	var partners []shipper.Shipper
	if name := q.Get("partner"); name != "" {
		sh, err := s.Registry.Get(name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		partners = []shipper.Shipper{sh}
	} else {
		partners = s.Registry.All()
	}

	var (
		mu      sync.Mutex
		results = make([]*shipper.ServiceabilityResponse, 0, len(partners))
		errs    []string
	)
	g, ctx := errgroup.WithContext(r.Context())
	for _, sh := range partners {
		g.Go(func() error {
			resp, err := sh.CheckServiceability(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err.Error())
				return nil
			}
			results = append(results, resp)
			return nil
		})
	}
	_ = g.Wait()

	if len(partners) == 1 && len(errs) == 1 {
		writeJSON(w, http.StatusBadGateway, errorBody{Error: apiError{Kind: "ProviderUnavailable", Message: errs[0]}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "failures": errs})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var in placeOrderInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	placement, err := s.Orders.PlaceOrder(r.Context(), orders.PlaceOrderRequest{
		UserID:        principal(r).UserID,
		Partner:       in.Partner,
		Pickup:        in.Pickup,
		Delivery:      in.Delivery,
		Package:       in.Package,
		ServiceType:   in.ServiceType,
		PaymentMethod: in.PaymentMethod,
		Metadata:      in.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placementResponse{
		Order:        placement.Order,
		Quote:        placement.Quote,
		BalanceAfter: wallet.FormatMinor(placement.BalanceAfter),
	})
}

// listFilter reads status, limit and offset. Customers only see their own
// orders.
func listFilter(r *http.Request, userID string, defLimit, maxLimit int) (orders.Filter, error) {
	q := r.URL.Query()
	f := orders.Filter{UserID: userID, Limit: defLimit}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := shipper.ParseStatus(part)
			if err != nil {
				return f, fmt.Errorf("%w: %q", orders.ErrInvalidStatus, part)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, fmt.Errorf("%w: invalid limit", orders.ErrInvalidOrder)
		}
		f.Limit = min(n, maxLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%w: invalid offset", orders.ErrInvalidOrder)
		}
		f.Offset = n
	}
	return f, nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r, principal(r).UserID, defaultPage, maxPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Orders.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

// handleExportOrders streams the caller's orders as CSV, e.g. for an AWB
// batch.
func (s *Server) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r, principal(r).UserID, maxExport, maxExport)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Orders.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="orders-%s.csv"`, time.Now().UTC().Format("20060102")))
	if err := export.WriteOrders(w, list); err != nil {
		s.Logger.Ctx(r.Context()).Warn("CSV export interrupted", zap.Error(err))
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.Orders.Get(r.Context(), principal(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type reasonInput struct {
	Reason string `json:"reason"`
}

func decodeReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var in reasonInput
	if r.ContentLength == 0 {
		return "", true
	}
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return "", false
	}
	return in.Reason, true
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}
	o, err := s.Orders.Cancel(r.Context(), principal(r).UserID, chi.URLParam(r, "id"), reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
