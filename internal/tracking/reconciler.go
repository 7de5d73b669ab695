// Package tracking polls partners for the state of booked shipments and feeds
// changes through the same status update path as webhooks.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Orders is the part of the orchestrator the reconciler reads and updates.
type Orders interface {
	List(ctx context.Context, f orders.Filter) ([]*orders.Order, error)
	UpdateStatus(ctx context.Context, ref string, u orders.StatusUpdate) (*orders.UpdateResult, error)
}

// Config tunes the reconciler.
type Config struct {
	Interval    time.Duration
	Concurrency int
	CallTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Minute,
		Concurrency: 8,
		CallTimeout: 60 * time.Second,
	}
}

// Outcome of syncing one order.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Summary counts the outcomes of one pass.
type Summary struct {
	Checked   int
	Updated   int
	Unchanged int
	Failed    int
}

// Reconciler polls partner tracking for active shipments.
type Reconciler struct {
	orders   Orders
	registry *shipper.Registry
	logger   *otelzap.Logger
	metrics  *telemetry.Metrics
	cfg      Config
}

// NewReconciler creates a reconciler. Zero config fields take defaults.
func NewReconciler(o Orders, registry *shipper.Registry, logger *otelzap.Logger, metrics *telemetry.Metrics, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Reconciler{
		orders:   o,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Run syncs immediately and then on every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Ctx(ctx).Warn("Tracking sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SyncOnce checks every active order that has an AWB. Individual tracking
// failures are counted, never returned.
func (r *Reconciler) SyncOnce(ctx context.Context) (Summary, error) {
	active, err := r.orders.List(ctx, orders.Filter{
		Statuses:    orders.ActiveStatuses(),
		HasTracking: true,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("listing active shipments: %w", err)
	}

	var updated, unchanged, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, o := range active {
		g.Go(func() error {
			switch r.SyncOrder(gctx, o) {
			case OutcomeUpdated:
				updated.Add(1)
			case OutcomeUnchanged:
				unchanged.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s := Summary{
		Checked:   len(active),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Failed:    int(failed.Load()),
	}
	r.logger.Ctx(ctx).Info("Tracking sync finished",
		zap.Int("checked", s.Checked),
		zap.Int("updated", s.Updated),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("failed", s.Failed),
	)
	return s, nil
}

// SyncOrder tracks one shipment and applies any change.
func (r *Reconciler) SyncOrder(ctx context.Context, o *orders.Order) Outcome {
	log := r.logger.Ctx(ctx)
	fields := []zap.Field{
		zap.String("order_id", o.ID),
		zap.String("partner", o.Partner),
		zap.String("tracking_id", o.TrackingID),
	}

	s, err := r.registry.Get(o.Partner)
	if err != nil {
		log.Warn("Tracking skipped", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	start := time.Now()
	resp, err := s.TrackShipment(cctx, o.TrackingID)
	cancel()
	elapsed := time.Since(start).Seconds()

	switch {
	case errors.Is(err, shipper.ErrTrackingUnavailable):
		r.metrics.RecordPartnerCall(s.Name(), shipper.OpTrackShipment, "unavailable", elapsed)
		log.Debug("Partner has no tracking yet", fields...)
		return OutcomeUnchanged
	case err != nil:
		r.metrics.RecordPartnerCall(s.Name(), shipper.OpTrackShipment, "error", elapsed)
		log.Warn("Tracking failed", append(fields, zap.Error(err))...)
		return OutcomeFailed
	}
	r.metrics.RecordPartnerCall(s.Name(), shipper.OpTrackShipment, "ok", elapsed)

	// The adapter may refine its summary status from checkpoints; only map the
	// raw phrase when it left Status unset.
	status := resp.Status
	if !status.Valid() {
		status = s.MapStatus(resp.PartnerStatus)
	}
	// Partners report scans they cannot classify as pending; that never
	// moves a booked shipment backwards.
	if status == shipper.StatusPending {
		return OutcomeUnchanged
	}

	update := orders.StatusUpdate{
		Status:        string(status),
		PartnerStatus: resp.PartnerStatus,
		Location:      resp.Location,
		Source:        orders.SourceReconciler,
	}
	if len(resp.History) > 0 {
		latest := resp.History[0]
		for _, e := range resp.History[1:] {
			if e.Timestamp.After(latest.Timestamp) {
				latest = e
			}
		}
		update.At = latest.Timestamp
		update.Remarks = latest.Description
	}

	res, err := r.orders.UpdateStatus(ctx, o.ID, update)
	if err != nil {
		log.Error("Applying tracked status failed", append(fields, zap.String("status", string(status)), zap.Error(err))...)
		return OutcomeFailed
	}
	if !res.Applied {
		return OutcomeUnchanged
	}
	return OutcomeUpdated
}
