package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func TestDispatcher_EnqueueDeduplicatesAndNeverBlocks(t *testing.T) {
	d := orders.NewDispatcher(memory.NewOrderStore(), otelzap.New(zap.NewNop()), orders.DispatcherConfig{QueueSize: 2})

	assert.True(t, d.Enqueue("a"))
	assert.True(t, d.Enqueue("a"))
	assert.Equal(t, 1, d.Pending())

	assert.True(t, d.Enqueue("b"))
	assert.False(t, d.Enqueue("c"), "full queue refuses instead of blocking")
	assert.Equal(t, 2, d.Pending())
}

func seedOrder(t *testing.T, store *memory.OrderStore, id string, mutate func(o *orders.Order)) {
	t.Helper()
	now := time.Now().UTC()
	o := &orders.Order{
		ID:          id,
		OrderNumber: "SB-" + id,
		UserID:      "u1",
		Partner:     "delhivery",
		Status:      shipper.StatusPending,
		Payment:     orders.Payment{Status: orders.PaymentCompleted, Amount: 10000},
		Booking:     orders.Booking{State: orders.BookingPending},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, store.Create(context.Background(), o))
}

func TestDispatcher_SweepEnqueuesDueBookings(t *testing.T) {
	store := memory.NewOrderStore()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	fresh := now.Add(-10 * time.Second)
	stale := now.Add(-10 * time.Minute)

	seedOrder(t, store, "pending", nil)
	seedOrder(t, store, "retry-due", func(o *orders.Order) {
		o.Booking.State = orders.BookingFailed
		o.Booking.NextAttemptAt = &past
	})
	seedOrder(t, store, "retry-later", func(o *orders.Order) {
		o.Booking.State = orders.BookingFailed
		o.Booking.NextAttemptAt = &future
	})
	seedOrder(t, store, "stale-claim", func(o *orders.Order) {
		o.Booking.State = orders.BookingInProgress
		o.Booking.ClaimedAt = &stale
	})
	seedOrder(t, store, "live-claim", func(o *orders.Order) {
		o.Booking.State = orders.BookingInProgress
		o.Booking.ClaimedAt = &fresh
	})
	seedOrder(t, store, "booked", func(o *orders.Order) {
		o.Booking.State = orders.BookingBooked
		o.TrackingID = "AWB1"
		o.Status = shipper.StatusConfirmed
	})
	seedOrder(t, store, "parked", func(o *orders.Order) {
		o.Booking.State = orders.BookingNeedsAttention
	})
	seedOrder(t, store, "unpaid", func(o *orders.Order) {
		o.Payment.Status = orders.PaymentPending
	})
	seedOrder(t, store, "cancelled", func(o *orders.Order) {
		o.Status = shipper.StatusCancelled
		o.Payment.Status = orders.PaymentRefunded
	})

	d := orders.NewDispatcher(store, otelzap.New(zap.NewNop()), orders.DefaultDispatcherConfig())
	n, err := d.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, d.Pending())
}

func TestDispatcher_RunBooksQueuedOrders(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.clock.now = time.Now().UTC()
	f.fund(t, "u1", 50000)

	var ids []string
	for i := 0; i < 3; i++ {
		p, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))
		require.NoError(t, err)
		ids = append(ids, p.Order.ID)
	}

	d := orders.NewDispatcher(f.memory, f.logger, orders.DispatcherConfig{Workers: 2, SweepInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, f.orch) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			o, err := f.memory.Get(context.Background(), id)
			if err != nil || o.Booking.State != orders.BookingBooked {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.Equal(t, 3, f.partner.CreateCalls())
}
