// Package server exposes the broker over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

// OrderService is the order workflow the handlers drive.
type OrderService interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*orders.Placement, error)
	Get(ctx context.Context, userID, id string) (*orders.Order, error)
	Find(ctx context.Context, ref string) (*orders.Order, error)
	List(ctx context.Context, f orders.Filter) ([]*orders.Order, error)
	Cancel(ctx context.Context, userID, id, reason string) (*orders.Order, error)
	Refund(ctx context.Context, id, reason string) (*orders.Order, error)
	RetryBooking(ctx context.Context, id string) (*orders.Order, error)
	NeedsAttention(ctx context.Context, limit int) ([]*orders.Order, error)
	UpdateStatus(ctx context.Context, ref string, u orders.StatusUpdate) (*orders.UpdateResult, error)
}

// WalletService is the ledger the handlers read and credit.
type WalletService interface {
	Account(ctx context.Context, userID string) (wallet.Account, error)
	History(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error)
	Credit(ctx context.Context, userID string, amount int64, description string, opts ...wallet.TxOption) (wallet.Transaction, error)
	ApplyTopUp(ctx context.Context, t wallet.TopUp) (wallet.Transaction, error)
}

// QuoteService prices shipments.
type QuoteService interface {
	Quote(ctx context.Context, partner string, req *shipper.QuoteRequest) (*shipper.Quote, error)
	Compare(ctx context.Context, req *shipper.QuoteRequest, partners []string) ([]*shipper.Quote, []error)
}

// Config holds server configuration.
type Config struct {
	Port int
	// WebhookToken, when set, must be sent as X-Webhook-Token.
	WebhookToken string
	// InternalToken guards /internal routes, which are disabled when empty.
	InternalToken string
}

// Deps are the services behind the routes.
type Deps struct {
	Registry *shipper.Registry
	Orders   OrderService
	Wallet   WalletService
	Quoter   QuoteService
	Tokens   *auth.TokenManager
	GraphQL  http.Handler
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Logger   *otelzap.Logger
}

// Server is the HTTP server for the broker.
type Server struct {
	cfg Config
	Deps
}

// New creates a new server instance.
func New(cfg Config, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg, Deps: deps}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	r.Post("/webhooks/shipments", s.handleShipmentWebhook)

	r.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/topups", s.handleTopUp)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.Tokens, s.rejectStatus))
		if s.GraphQL != nil {
			r.Post("/graphql", s.GraphQL.ServeHTTP)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/partners", s.handlePartners)
			r.Post("/quotes", s.handleQuote)
			r.Post("/quotes/compare", s.handleCompare)
			r.Get("/serviceability", s.handleServiceability)

			r.Post("/orders", s.handlePlaceOrder)
			r.Get("/orders", s.handleListOrders)
			r.Get("/orders/export.csv", s.handleExportOrders)
			r.Get("/orders/{id}", s.handleGetOrder)
			r.Post("/orders/{id}/cancel", s.handleCancelOrder)

			r.Get("/wallet", s.handleWallet)
			r.Get("/wallet/transactions", s.handleWalletTransactions)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin(s.rejectStatus))
				r.Get("/orders/attention", s.handleAttentionQueue)
				r.Post("/orders/{id}/retry-booking", s.handleRetryBooking)
				r.Post("/orders/{id}/refund", s.handleRefund)
				r.Post("/orders/{id}/status", s.handleAdminStatus)
				r.Post("/wallets/{userID}/credit", s.handleAdminCredit)
			})
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.Logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"partners": s.Registry.Count(),
	})
}
