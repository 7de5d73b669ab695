package orders

import (
	"context"
	"sync"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Booker books the shipment of one order.
type Booker interface {
	BookShipment(ctx context.Context, orderID string) error
}

// DispatcherConfig sizes the booking worker pool.
type DispatcherConfig struct {
	Workers       int
	QueueSize     int
	SweepInterval time.Duration
	// Lease must match the orchestrator's BookingLease.
	Lease time.Duration
}

// DefaultDispatcherConfig returns production defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:       4,
		QueueSize:     256,
		SweepInterval: 30 * time.Second,
		Lease:         2 * time.Minute,
	}
}

// Dispatcher hands booking work from the request path to a pool of workers.
// Delivery is at least once: a periodic sweep re-enqueues every paid order
// whose booking is due, and the booking claim discards duplicates.
type Dispatcher struct {
	store  Store
	logger *otelzap.Logger
	cfg    DispatcherConfig
	queue  chan string
	now    func() time.Time

	mu     sync.Mutex
	queued map[string]struct{}
}

// NewDispatcher creates a dispatcher. Run must be called to start workers.
func NewDispatcher(store Store, logger *otelzap.Logger, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	return &Dispatcher{
		store:  store,
		logger: logger,
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueSize),
		now:    time.Now,
		queued: make(map[string]struct{}),
	}
}

// Enqueue schedules a booking without blocking. It returns false when the
// queue is full; the sweep picks the order up later.
func (d *Dispatcher) Enqueue(orderID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queued[orderID]; ok {
		return true
	}
	select {
	case d.queue <- orderID:
		d.queued[orderID] = struct{}{}
		return true
	default:
		return false
	}
}

// Pending returns the number of queued orders.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) dequeued(orderID string) {
	d.mu.Lock()
	delete(d.queued, orderID)
	d.mu.Unlock()
}

// Run starts the workers and the sweeper and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, booker Booker) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			d.work(ctx, booker)
			return nil
		})
	}
	g.Go(func() error {
		d.sweepLoop(ctx)
		return nil
	})
	d.logger.Info("Booking dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
		zap.Duration("sweep_interval", d.cfg.SweepInterval),
	)
	err := g.Wait()
	d.logger.Info("Booking dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, booker Booker) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-d.queue:
			d.dequeued(id)
			if err := booker.BookShipment(ctx, id); err != nil {
				d.logger.Ctx(ctx).Debug("Booking attempt failed", zap.String("order_id", id), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
			d.logger.Ctx(ctx).Warn("Booking sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep enqueues paid orders whose booking is pending, due for retry, or held
// by an expired claim. It returns how many were enqueued.
func (d *Dispatcher) Sweep(ctx context.Context) (int, error) {
	candidates, err := d.store.List(ctx, Filter{
		Statuses:      ActiveStatuses(),
		BookingStates: []BookingState{BookingPending, BookingFailed, BookingInProgress},
		PaymentStatus: PaymentCompleted,
	})
	if err != nil {
		return 0, err
	}
	now := d.now()
	n := 0
	for _, o := range candidates {
		if !d.due(o, now) {
			continue
		}
		if !d.Enqueue(o.ID) {
			d.logger.Ctx(ctx).Warn("Booking queue full during sweep", zap.Int("enqueued", n))
			break
		}
		n++
	}
	if n > 0 {
		d.logger.Ctx(ctx).Info("Booking sweep enqueued orders", zap.Int("count", n))
	}
	return n, nil
}

func (d *Dispatcher) due(o *Order, now time.Time) bool {
	switch o.Booking.State {
	case BookingPending:
		return true
	case BookingFailed:
		return o.Booking.NextAttemptAt == nil || !now.Before(*o.Booking.NextAttemptAt)
	case BookingInProgress:
		return o.Booking.ClaimedAt == nil || now.Sub(*o.Booking.ClaimedAt) >= d.cfg.Lease
	}
	return false
}
