package orders

import (
	"context"
	"fmt"

	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"go.uber.org/zap"
)

// Cancel cancels the caller's order before a shipment is booked and refunds
// the payment as a new wallet credit.
func (o *Orchestrator) Cancel(ctx context.Context, userID, id, reason string) (*Order, error) {
	return o.cancelAndRefund(ctx, id, reason, "customer", func(cur *Order) error {
		if cur.UserID != userID {
			return ErrUnauthorized
		}
		if cur.Status != shipper.StatusPending {
			return fmt.Errorf("%w: order is %s", ErrNotCancellable, cur.Status)
		}
		return refundable(cur, ErrNotCancellable)
	})
}

// Refund cancels an unbooked paid order on behalf of ops, typically one whose
// booking needs attention. Calling it again after a failed credit retries the
// credit.
func (o *Orchestrator) Refund(ctx context.Context, id, reason string) (*Order, error) {
	return o.cancelAndRefund(ctx, id, reason, SourceAdmin, func(cur *Order) error {
		if cur.Status.Terminal() && cur.Status != shipper.StatusCancelled {
			return fmt.Errorf("%w: order is %s", ErrNotRefundable, cur.Status)
		}
		return refundable(cur, ErrNotRefundable)
	})
}

func refundable(cur *Order, kind error) error {
	switch {
	case cur.Payment.Status == PaymentRefunded && cur.Payment.RefundTransactionID == "":
		return nil
	case cur.Payment.Status != PaymentCompleted:
		return fmt.Errorf("%w: payment is %s", kind, cur.Payment.Status)
	case cur.Booking.State == BookingBooked || cur.Booking.State == BookingInProgress:
		return fmt.Errorf("%w: booking is %s", kind, cur.Booking.State)
	}
	return nil
}

// cancelAndRefund marks the order cancelled and refunded in one update, so no
// worker can claim it afterwards, then credits the wallet under a key derived
// from the order id.
func (o *Orchestrator) cancelAndRefund(ctx context.Context, id, reason, actor string, check func(*Order) error) (*Order, error) {
	now := o.now().UTC()
	cancelled, err := o.store.Update(ctx, id, func(cur *Order) error {
		if err := check(cur); err != nil {
			return err
		}
		if cur.Status != shipper.StatusCancelled {
			cur.Status = shipper.StatusCancelled
			cur.Metadata.StatusHistory = append(cur.Metadata.StatusHistory, HistoryEntry{
				Status:  shipper.StatusCancelled,
				Source:  actor,
				Remarks: reason,
				At:      now,
			})
		}
		cur.Payment.Status = PaymentRefunded
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Refund for order %s", cancelled.OrderNumber)
	if reason != "" {
		description += ": " + reason
	}
	tx, err := o.wallet.Credit(ctx, cancelled.UserID, cancelled.Payment.Amount, description,
		wallet.WithIdempotencyKey("refund:"+cancelled.ID),
		wallet.WithMetadata(map[string]string{"order_id": cancelled.ID, "reason": reason}),
	)
	if err != nil {
		o.logger.Ctx(ctx).Error("Refund credit failed",
			zap.String("order_id", cancelled.ID),
			zap.Int64("amount", cancelled.Payment.Amount),
			zap.Error(err),
		)
		return cancelled, fmt.Errorf("refunding order %s: %w", cancelled.OrderNumber, err)
	}

	refunded, err := o.store.Update(ctx, id, func(cur *Order) error {
		cur.Payment.RefundTransactionID = tx.ID
		cur.Payment.RefundedAt = timePtr(now)
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return cancelled, fmt.Errorf("recording refund of %s: %w", cancelled.OrderNumber, err)
	}

	o.publish(ctx, events.OrderCancelled, refunded)
	o.logger.Ctx(ctx).Info("Order cancelled and refunded",
		zap.String("order_id", refunded.ID),
		zap.String("actor", actor),
		zap.String("refund_transaction_id", tx.ID),
		zap.Int64("amount", refunded.Payment.Amount),
	)
	return refunded, nil
}
