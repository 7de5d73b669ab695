package orders

import (
	"context"

	"github.com/tournevent/shipbroker/pkg/shipper"
)

// Filter selects orders in List. Zero fields match everything.
type Filter struct {
	UserID        string
	Statuses      []shipper.Status
	BookingStates []BookingState
	PaymentStatus PaymentStatus
	HasTracking   bool
	Limit         int
	Offset        int
}

// Store persists orders as documents with atomic per-document updates.
type Store interface {
	// Create inserts a new order, failing with ErrDuplicateOrder when the id
	// or order number exists.
	Create(ctx context.Context, o *Order) error

	// Get, FindByNumber and FindByTrackingID fail with ErrOrderNotFound.
	Get(ctx context.Context, id string) (*Order, error)
	FindByNumber(ctx context.Context, number string) (*Order, error)
	FindByTrackingID(ctx context.Context, trackingID string) (*Order, error)

	// Update reads the order, applies fn and writes the result as one atomic
	// step, bumping Version. An error from fn aborts without writing and is
	// returned as is.
	Update(ctx context.Context, id string, fn func(o *Order) error) (*Order, error)

	// Delete removes the order. It is only used to undo a failed placement.
	Delete(ctx context.Context, id string) error

	// List returns matching orders, newest first.
	List(ctx context.Context, f Filter) ([]*Order, error)
}

// Match reports whether o satisfies f, ignoring paging.
func (f Filter) Match(o *Order) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.PaymentStatus != "" && o.Payment.Status != f.PaymentStatus {
		return false
	}
	if f.HasTracking && o.TrackingID == "" {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
		return false
	}
	if len(f.BookingStates) > 0 && !containsBooking(f.BookingStates, o.Booking.State) {
		return false
	}
	return true
}

// ActiveStatuses are the non-terminal statuses.
func ActiveStatuses() []shipper.Status {
	var out []shipper.Status
	for _, s := range shipper.Statuses() {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func containsStatus(list []shipper.Status, s shipper.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsBooking(list []BookingState, s BookingState) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
