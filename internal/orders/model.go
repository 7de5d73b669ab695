package orders

import (
	"time"

	"github.com/tournevent/shipbroker/pkg/shipper"
)

// PaymentStatus is the state of an order's wallet payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// BookingState tracks shipment creation with the partner.
type BookingState string

const (
	// BookingPending waits for a dispatcher worker.
	BookingPending BookingState = "pending"
	// BookingInProgress is claimed by a worker; stale claims are reclaimed
	// after the lease.
	BookingInProgress BookingState = "in_progress"
	// BookingBooked has an AWB.
	BookingBooked BookingState = "booked"
	// BookingFailed failed transiently and is retried at NextAttemptAt.
	BookingFailed BookingState = "failed"
	// BookingNeedsAttention was rejected or ran out of attempts and waits for
	// an operator to retry or refund.
	BookingNeedsAttention BookingState = "needs_attention"
)

// Payment is the wallet payment of an order. Amount is in minor units.
type Payment struct {
	Status              PaymentStatus `json:"status"`
	Method              string        `json:"method"`
	Amount              int64         `json:"amount"`
	TransactionID       string        `json:"transaction_id,omitempty"`
	PaidAt              *time.Time    `json:"paid_at,omitempty"`
	RefundTransactionID string        `json:"refund_transaction_id,omitempty"`
	RefundedAt          *time.Time    `json:"refunded_at,omitempty"`
}

// Booking records shipment-creation attempts.
type Booking struct {
	State         BookingState `json:"state"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"last_error,omitempty"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	BookedAt      *time.Time   `json:"booked_at,omitempty"`
}

// HistoryEntry is one status change.
type HistoryEntry struct {
	Status        shipper.Status `json:"status"`
	PartnerStatus string         `json:"partner_status,omitempty"`
	Location      string         `json:"location,omitempty"`
	Remarks       string         `json:"remarks,omitempty"`
	Source        string         `json:"source"`
	At            time.Time      `json:"at"`
}

// Metadata holds quote provenance, the status trail and free-form extras.
type Metadata struct {
	FallbackQuote bool              `json:"fallback_quote"`
	QuoteSource   string            `json:"quote_source"`
	ServiceName   string            `json:"service_name,omitempty"`
	ServiceCode   string            `json:"service_code,omitempty"`
	StatusHistory []HistoryEntry    `json:"status_history,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Order is a paid shipment request.
type Order struct {
	ID                string              `json:"id"`
	OrderNumber       string              `json:"order_number"`
	UserID            string              `json:"user_id"`
	Pickup            shipper.Address     `json:"pickup"`
	Delivery          shipper.Address     `json:"delivery"`
	Package           shipper.Package     `json:"package"`
	Partner           string              `json:"partner"`
	ServiceType       shipper.ServiceType `json:"service_type"`
	Pricing           shipper.Pricing     `json:"pricing"`
	Payment           Payment             `json:"payment"`
	Status            shipper.Status      `json:"status"`
	TrackingID        string              `json:"tracking_id,omitempty"`
	TrackingURL       string              `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time          `json:"estimated_delivery,omitempty"`
	Booking           Booking             `json:"booking"`
	Metadata          Metadata            `json:"metadata"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Version           int64               `json:"version"`
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Payment.PaidAt = cloneTime(o.Payment.PaidAt)
	c.Payment.RefundedAt = cloneTime(o.Payment.RefundedAt)
	c.Booking.ClaimedAt = cloneTime(o.Booking.ClaimedAt)
	c.Booking.NextAttemptAt = cloneTime(o.Booking.NextAttemptAt)
	c.Booking.BookedAt = cloneTime(o.Booking.BookedAt)
	c.EstimatedDelivery = cloneTime(o.EstimatedDelivery)
	if o.Metadata.StatusHistory != nil {
		c.Metadata.StatusHistory = append([]HistoryEntry(nil), o.Metadata.StatusHistory...)
	}
	if o.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(o.Metadata.Extra))
		for k, v := range o.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

// Paid reports whether the wallet payment was captured and not refunded.
func (o *Order) Paid() bool {
	return o.Payment.Status == PaymentCompleted
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
