package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"go.uber.org/zap"
)

// Booking outcomes recorded in metrics.
const (
	outcomeBooked         = "booked"
	outcomeFailed         = "failed"
	outcomeNeedsAttention = "needs_attention"
)

// BookShipment creates the partner shipment for a paid order. The order is
// claimed first, so concurrent and repeated calls book at most once; a call
// that finds nothing to claim returns nil. The order number is the partner
// idempotency key on every attempt.
func (o *Orchestrator) BookShipment(ctx context.Context, id string) error {
	now := o.now().UTC()
	var skipped string
	claimed, err := o.store.Update(ctx, id, func(cur *Order) error {
		if reason := cur.claim(now, o.cfg.BookingLease); reason != "" {
			skipped = reason
			return errNotClaimable
		}
		return nil
	})
	if errors.Is(err, errNotClaimable) {
		o.logger.Ctx(ctx).Debug("Booking not claimed",
			zap.String("order_id", id),
			zap.String("reason", skipped),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claiming booking of %s: %w", id, err)
	}
	attempt := claimed.Booking.Attempts

	resp, callErr := o.createShipment(ctx, claimed)

	// Record the outcome even if the worker is shutting down.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	if callErr == nil {
		return o.recordBooked(rctx, claimed, resp)
	}
	return o.recordBookingFailure(rctx, claimed, attempt, callErr, ctx.Err() != nil)
}

// claim moves a due booking to in_progress. It returns why the order cannot
// be claimed, or "" on success.
func (o *Order) claim(now time.Time, lease time.Duration) string {
	if !o.Paid() {
		return "not paid"
	}
	if o.Status.Terminal() {
		return "terminal status"
	}
	switch o.Booking.State {
	case BookingPending, "":
	case BookingFailed:
		if o.Booking.NextAttemptAt != nil && now.Before(*o.Booking.NextAttemptAt) {
			return "retry not due"
		}
	case BookingInProgress:
		if o.Booking.ClaimedAt != nil && now.Sub(*o.Booking.ClaimedAt) < lease {
			return "claimed by another worker"
		}
	default:
		return "booking " + string(o.Booking.State)
	}
	o.Booking.State = BookingInProgress
	o.Booking.Attempts++
	o.Booking.ClaimedAt = timePtr(now)
	o.Booking.NextAttemptAt = nil
	o.UpdatedAt = now
	return ""
}

func (o *Orchestrator) createShipment(ctx context.Context, order *Order) (*shipper.ShipmentResponse, error) {
	s, err := o.registry.Get(order.Partner)
	if err != nil {
		return nil, err
	}
	req := &shipper.ShipmentRequest{
		OrderRef:    order.OrderNumber,
		Pickup:      order.Pickup,
		Delivery:    order.Delivery,
		Package:     order.Package,
		ServiceType: order.ServiceType,
		ServiceCode: order.Metadata.ServiceCode,
		Amount:      order.Pricing.Total,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InCallBackoff
	tries := o.cfg.InCallRetries
	if tries == 0 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (*shipper.ShipmentResponse, error) {
		start := time.Now()
		resp, err := s.CreateShipment(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		o.metrics.RecordPartnerCall(s.Name(), shipper.OpCreateShipment, outcome, time.Since(start).Seconds())
		if err != nil && !shipper.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		if err == nil && (resp == nil || resp.TrackingID == "") {
			return nil, backoff.Permanent(shipper.Rejected(s.Name(), "NO_TRACKING_ID", "partner returned no tracking id"))
		}
		return resp, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

func (o *Orchestrator) recordBooked(ctx context.Context, claimed *Order, resp *shipper.ShipmentResponse) error {
	now := o.now().UTC()
	booked, err := o.store.Update(ctx, claimed.ID, func(cur *Order) error {
		if cur.Booking.State == BookingBooked {
			return errUnchanged
		}
		cur.TrackingID = resp.TrackingID
		cur.TrackingURL = resp.TrackingURL
		cur.Booking.State = BookingBooked
		cur.Booking.BookedAt = timePtr(now)
		cur.Booking.LastError = ""
		cur.Booking.ClaimedAt = nil
		if resp.PartnerOrderRef != "" {
			if cur.Metadata.Extra == nil {
				cur.Metadata.Extra = make(map[string]string)
			}
			cur.Metadata.Extra["partner_order_ref"] = resp.PartnerOrderRef
		}
		if cur.Status == shipper.StatusPending {
			cur.Status = shipper.StatusConfirmed
			cur.Metadata.StatusHistory = append(cur.Metadata.StatusHistory, HistoryEntry{
				Status:  shipper.StatusConfirmed,
				Source:  "booking",
				Remarks: "AWB " + resp.TrackingID + " assigned",
				At:      now,
			})
		}
		cur.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		// The partner holds the booking under the order number, so the next
		// claim after the lease recovers the AWB without booking twice.
		o.logger.Ctx(ctx).Error("Recording booking failed",
			zap.String("order_id", claimed.ID),
			zap.String("tracking_id", resp.TrackingID),
			zap.Error(err),
		)
		return fmt.Errorf("recording booking of %s: %w", claimed.ID, err)
	}

	o.metrics.RecordBooking(booked.Partner, outcomeBooked)
	o.publish(ctx, events.OrderBooked, booked)
	o.logger.Ctx(ctx).Info("Shipment booked",
		zap.String("order_id", booked.ID),
		zap.String("order_number", booked.OrderNumber),
		zap.String("partner", booked.Partner),
		zap.String("tracking_id", booked.TrackingID),
		zap.Int("attempt", booked.Booking.Attempts),
		zap.Bool("previously_created", resp.PreviouslyCreated),
	)
	return nil
}

func (o *Orchestrator) recordBookingFailure(ctx context.Context, claimed *Order, attempt int, callErr error, interrupted bool) error {
	now := o.now().UTC()
	park := !interrupted && (!shipper.IsRetryable(callErr) || attempt >= o.cfg.MaxBookingAttempts)

	updated, err := o.store.Update(ctx, claimed.ID, func(cur *Order) error {
		if cur.Booking.State != BookingInProgress || cur.Booking.Attempts != attempt {
			return errUnchanged
		}
		cur.Booking.LastError = callErr.Error()
		cur.Booking.ClaimedAt = nil
		switch {
		case interrupted:
			cur.Booking.State = BookingFailed
			cur.Booking.NextAttemptAt = timePtr(now)
		case park:
			cur.Booking.State = BookingNeedsAttention
		default:
			cur.Booking.State = BookingFailed
			cur.Booking.NextAttemptAt = timePtr(now.Add(o.retryDelay(attempt)))
		}
		cur.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return callErr
	}
	if err != nil {
		o.logger.Ctx(ctx).Error("Recording booking failure failed",
			zap.String("order_id", claimed.ID),
			zap.NamedError("cause", callErr),
			zap.Error(err),
		)
		return fmt.Errorf("recording booking failure of %s: %w", claimed.ID, err)
	}

	outcome := outcomeFailed
	if park {
		outcome = outcomeNeedsAttention
	}
	o.metrics.RecordBooking(updated.Partner, outcome)
	o.publish(ctx, events.OrderBookingFailed, updated)

	fields := []zap.Field{
		zap.String("order_id", updated.ID),
		zap.String("order_number", updated.OrderNumber),
		zap.String("partner", updated.Partner),
		zap.Int("attempt", attempt),
		zap.String("booking_state", string(updated.Booking.State)),
		zap.Error(callErr),
	}
	if park {
		o.logger.Ctx(ctx).Error("Booking needs attention", fields...)
	} else {
		if updated.Booking.NextAttemptAt != nil {
			fields = append(fields, zap.Time("next_attempt_at", *updated.Booking.NextAttemptAt))
		}
		o.logger.Ctx(ctx).Warn("Booking failed, will retry", fields...)
	}
	return callErr
}

// retryDelay is RetryBaseDelay doubled per attempt, capped at one hour.
func (o *Orchestrator) retryDelay(attempt int) time.Duration {
	const maxDelay = time.Hour
	d := o.cfg.RetryBaseDelay
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// RetryBooking returns a failed or parked booking to the queue with a fresh
// attempt budget.
func (o *Orchestrator) RetryBooking(ctx context.Context, id string) (*Order, error) {
	now := o.now().UTC()
	order, err := o.store.Update(ctx, id, func(cur *Order) error {
		if !cur.Paid() || cur.Status.Terminal() {
			return fmt.Errorf("%w: order is %s, payment %s", ErrBookingNotRetryable, cur.Status, cur.Payment.Status)
		}
		if cur.Booking.State != BookingFailed && cur.Booking.State != BookingNeedsAttention {
			return fmt.Errorf("%w: booking is %s", ErrBookingNotRetryable, cur.Booking.State)
		}
		cur.Booking.State = BookingPending
		cur.Booking.Attempts = 0
		cur.Booking.NextAttemptAt = nil
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Ctx(ctx).Info("Booking retry requested",
		zap.String("order_id", order.ID),
		zap.String("last_error", order.Booking.LastError),
	)
	o.schedule(ctx, order.ID)
	return order, nil
}
