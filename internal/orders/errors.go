package orders

import "errors"

var (
	// ErrInvalidPartner indicates the requested partner is not registered.
	ErrInvalidPartner = errors.New("invalid partner")

	// ErrInvalidOrder indicates missing or malformed order fields.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInvalidStatus indicates a status outside the internal set.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrOrderNotFound indicates no order matched the reference.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnauthorized indicates the order belongs to another user.
	ErrUnauthorized = errors.New("order not owned by caller")

	// ErrDuplicateOrder is returned by a Store when the order number is taken.
	ErrDuplicateOrder = errors.New("duplicate order number")

	// ErrNotCancellable indicates the order has progressed past cancellation.
	ErrNotCancellable = errors.New("order cannot be cancelled")

	// ErrNotRefundable indicates the order was booked or already refunded.
	ErrNotRefundable = errors.New("order cannot be refunded")

	// ErrBookingNotRetryable indicates the booking is not failed or parked.
	ErrBookingNotRetryable = errors.New("booking cannot be retried")

	// errUnchanged aborts a Store.Update without writing.
	errUnchanged = errors.New("unchanged")

	// errNotClaimable means another worker owns the booking or none is due.
	errNotClaimable = errors.New("booking not claimable")
)
