// Package pricing resolves shipment prices from partners, falling back to a
// deterministic rate card when a partner cannot quote.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Quote sources recorded on orders.
const (
	SourcePartner  = "partner"
	SourceRateCard = "rate_card"
)

// Quoter prices shipments.
type Quoter struct {
	registry *shipper.Registry
	card     *RateCard
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewQuoter creates a quoter. A nil card uses DefaultRateCard.
func NewQuoter(registry *shipper.Registry, card *RateCard, logger *otelzap.Logger, metrics *telemetry.Metrics) *Quoter {
	if card == nil {
		card = DefaultRateCard()
	}
	return &Quoter{
		registry: registry,
		card:     card,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Quote asks the partner for a price. Any partner failure is absorbed by
// returning the rate-card estimate with Fallback set; only an unknown partner
// is an error.
func (q *Quoter) Quote(ctx context.Context, partner string, req *shipper.QuoteRequest) (*shipper.Quote, error) {
	s, err := q.registry.Get(partner)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	quote, err := s.QuoteRate(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err == nil && quote != nil {
		q.metrics.RecordPartnerCall(s.Name(), shipper.OpQuoteRate, "ok", elapsed)
		normalize(quote)
		return quote, nil
	}

	q.metrics.RecordPartnerCall(s.Name(), shipper.OpQuoteRate, "error", elapsed)
	q.metrics.RecordFallback(s.Name())
	q.logger.Ctx(ctx).Warn("Partner quote failed, using rate card",
		zap.String("partner", s.Name()),
		zap.Float64("weight_kg", req.Package.WeightKG),
		zap.Error(err),
	)
	return q.Fallback(s.Name(), req), nil
}

// Fallback computes the rate-card quote. It depends only on partner, weight
// and service hint.
func (q *Quoter) Fallback(partner string, req *shipper.QuoteRequest) *shipper.Quote {
	base, surcharge := q.card.For(partner).Price(req.Package.WeightKG)

	serviceType := req.ServiceHint
	if serviceType == "" {
		serviceType = shipper.ServiceStandard
	}
	return &shipper.Quote{
		Partner: partner,
		Selected: shipper.RateOption{
			ServiceName: "Rate card estimate",
			ServiceType: serviceType,
			Pricing: shipper.Pricing{
				Base:       base,
				Surcharges: surcharge,
				Tax:        decimal.Zero,
				Total:      base.Add(surcharge),
				Currency:   shipper.DefaultCurrency,
			}.Normalize(),
			Charges: []shipper.Charge{
				{Code: "BASE", Description: "Base fee", Amount: base},
				{Code: "WEIGHT", Description: fmt.Sprintf("%.3f kg", req.Package.WeightKG), Amount: surcharge},
			},
		},
		Fallback: true,
		QuotedAt: q.now().UTC(),
	}
}

// Compare quotes every registered partner, or the named ones, cheapest first.
// Partners that fail are reported in errs and left out.
func (q *Quoter) Compare(ctx context.Context, req *shipper.QuoteRequest, partners []string) ([]*shipper.Quote, []error) {
	quotes, errs := q.registry.QuoteAll(ctx, req, partners)
	for _, quote := range quotes {
		normalize(quote)
	}
	return quotes, errs
}

func normalize(q *shipper.Quote) {
	q.Selected.Pricing = q.Selected.Pricing.Normalize()
	for i := range q.Alternatives {
		q.Alternatives[i].Pricing = q.Alternatives[i].Pricing.Normalize()
	}
}
