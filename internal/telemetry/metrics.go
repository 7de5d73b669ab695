package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	PartnerRequests    *prometheus.CounterVec
	PartnerDuration    *prometheus.HistogramVec
	QuoteFallbacks     *prometheus.CounterVec
	OrdersPlaced       *prometheus.CounterVec
	OrderFailures      *prometheus.CounterVec
	BookingOutcomes    *prometheus.CounterVec
	StatusUpdates      *prometheus.CounterVec
	WalletTransactions *prometheus.CounterVec
	WalletAmount       *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// NewMetrics creates metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PartnerRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_partner_requests_total",
				Help: "Delivery partner calls by partner, operation and outcome",
			},
			[]string{"partner", "operation", "outcome"},
		),
		PartnerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipbroker_partner_request_duration_seconds",
				Help:    "Delivery partner call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"partner", "operation"},
		),
		QuoteFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_quote_fallbacks_total",
				Help: "Quotes answered from the rate card because the partner failed",
			},
			[]string{"partner"},
		),
		OrdersPlaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_orders_placed_total",
				Help: "Orders placed and paid, by partner",
			},
			[]string{"partner"},
		),
		OrderFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_order_failures_total",
				Help: "Order placements that failed, by reason",
			},
			[]string{"reason"},
		),
		BookingOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_booking_outcomes_total",
				Help: "Shipment booking attempts by partner and outcome",
			},
			[]string{"partner", "outcome"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_status_updates_total",
				Help: "Order status updates by source and whether they changed the order",
			},
			[]string{"source", "applied"},
		),
		WalletTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_wallet_transactions_total",
				Help: "Wallet transactions by kind",
			},
			[]string{"kind"},
		),
		WalletAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_wallet_amount_minor_total",
				Help: "Wallet amounts moved in minor currency units, by kind",
			},
			[]string{"kind"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shipbroker_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shipbroker_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordPartnerCall records one partner API call.
func (m *Metrics) RecordPartnerCall(partner, operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PartnerRequests.WithLabelValues(partner, operation, outcome).Inc()
	m.PartnerDuration.WithLabelValues(partner, operation).Observe(seconds)
}

// RecordFallback records a rate-card fallback quote.
func (m *Metrics) RecordFallback(partner string) {
	if m == nil {
		return
	}
	m.QuoteFallbacks.WithLabelValues(partner).Inc()
}

// RecordOrderPlaced records a paid order.
func (m *Metrics) RecordOrderPlaced(partner string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(partner).Inc()
}

// RecordOrderFailure records a failed placement.
func (m *Metrics) RecordOrderFailure(reason string) {
	if m == nil {
		return
	}
	m.OrderFailures.WithLabelValues(reason).Inc()
}

// RecordBooking records the outcome of a booking attempt.
func (m *Metrics) RecordBooking(partner, outcome string) {
	if m == nil {
		return
	}
	m.BookingOutcomes.WithLabelValues(partner, outcome).Inc()
}

// RecordStatusUpdate records a status update attempt.
func (m *Metrics) RecordStatusUpdate(source string, applied bool) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(source, strconv.FormatBool(applied)).Inc()
}

// RecordWalletTransaction records a committed wallet transaction.
func (m *Metrics) RecordWalletTransaction(kind string, amount int64) {
	if m == nil {
		return
	}
	m.WalletTransactions.WithLabelValues(kind).Inc()
	m.WalletAmount.WithLabelValues(kind).Add(float64(amount))
}

// RecordHTTP records a served HTTP request.
func (m *Metrics) RecordHTTP(method, route string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
