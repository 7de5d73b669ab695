// Package export renders orders as CSV for AWB batches and reports.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tournevent/shipbroker/internal/orders"
)

// OrderColumns is the header row of WriteOrders.
var OrderColumns = []string{
	"order_number",
	"created_at",
	"partner",
	"service_type",
	"status",
	"awb",
	"tracking_url",
	"pickup_pincode",
	"delivery_pincode",
	"delivery_city",
	"weight_kg",
	"total",
	"currency",
	"payment_status",
	"booking_state",
	"fallback_quote",
}

// WriteOrders writes a header row and one row per order.
func WriteOrders(w io.Writer, list []*orders.Order) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OrderColumns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, o := range list {
		if err := cw.Write(orderRow(o)); err != nil {
			return fmt.Errorf("writing order %s: %w", o.OrderNumber, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func orderRow(o *orders.Order) []string {
	return []string{
		o.OrderNumber,
		o.CreatedAt.UTC().Format(time.RFC3339),
		o.Partner,
		string(o.ServiceType),
		string(o.Status),
		o.TrackingID,
		o.TrackingURL,
		o.Pickup.Pincode,
		o.Delivery.Pincode,
		o.Delivery.City,
		strconv.FormatFloat(o.Package.WeightKG, 'f', -1, 64),
		o.Pricing.Total.StringFixed(2),
		o.Pricing.Currency,
		string(o.Payment.Status),
		string(o.Booking.State),
		strconv.FormatBool(o.Metadata.FallbackQuote),
	}
}
