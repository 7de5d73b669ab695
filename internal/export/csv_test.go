package export_test

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/internal/export"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

func TestWriteOrders(t *testing.T) {
	list := []*orders.Order{
		{
			OrderNumber: "SB20260302A1B2C3",
			CreatedAt:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			Partner:     "delhivery",
			ServiceType: shipper.ServiceStandard,
			Status:      shipper.StatusInTransit,
			TrackingID:  "1490811234567",
			TrackingURL: "https://www.delhivery.com/track/package/1490811234567",
			Pickup:      shipper.Address{Pincode: "110006"},
			Delivery:    shipper.Address{Pincode: "560001", City: "Bengaluru, KA"},
			Package:     shipper.Package{WeightKG: 1.25},
			Pricing:     shipper.Pricing{Total: decimal.RequireFromString("106.2"), Currency: "INR"},
			Payment:     orders.Payment{Status: orders.PaymentCompleted},
			Booking:     orders.Booking{State: orders.BookingBooked},
		},
		{
			OrderNumber: "SB20260302D4E5F6",
			CreatedAt:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.FixedZone("IST", 19800)),
			Partner:     "dhl",
			Status:      shipper.StatusPending,
			Package:     shipper.Package{WeightKG: 2},
			Pricing:     shipper.Pricing{Total: decimal.NewFromInt(90), Currency: "INR"},
			Payment:     orders.Payment{Status: orders.PaymentCompleted},
			Booking:     orders.Booking{State: orders.BookingNeedsAttention},
			Metadata:    orders.Metadata{FallbackQuote: true},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, export.WriteOrders(&buf, list))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, export.OrderColumns, rows[0])
	assert.Equal(t, []string{
		"SB20260302A1B2C3", "2026-03-02T10:00:00Z", "delhivery", "standard", "in_transit",
		"1490811234567", "https://www.delhivery.com/track/package/1490811234567",
		"110006", "560001", "Bengaluru, KA", "1.25", "106.20", "INR", "completed", "booked", "false",
	}, rows[1])
	assert.Equal(t, "2026-03-02T05:30:00Z", rows[2][1])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "90.00", rows[2][11])
	assert.Equal(t, "needs_attention", rows[2][14])
	assert.Equal(t, "true", rows[2][15])
}

func TestWriteOrders_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteOrders(&buf, nil))
	assert.Equal(t, "order_number,created_at,partner,service_type,status,awb,tracking_url,pickup_pincode,delivery_pincode,delivery_city,weight_kg,total,currency,payment_status,booking_state,fallback_quote\n", buf.String())
}
