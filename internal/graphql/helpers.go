package graphql

import (
	"time"

	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

// object is a resolved GraphQL object. Values may be resolverFuncs, which are
// only called when the field is selected.
type object map[string]any

type resolverFunc func(args map[string]any) (any, error)

const currency = "INR"

func orderToObject(o *orders.Order) object {
	history := make([]any, 0, len(o.Metadata.StatusHistory))
	for _, h := range o.Metadata.StatusHistory {
		history = append(history, object{
			"status":        string(h.Status),
			"partnerStatus": optional(h.PartnerStatus),
			"location":      optional(h.Location),
			"remarks":       optional(h.Remarks),
			"source":        h.Source,
			"at":            formatTime(h.At),
		})
	}
	var eta any
	if o.EstimatedDelivery != nil {
		eta = formatTime(*o.EstimatedDelivery)
	}
	return object{
		"id":                o.ID,
		"orderNumber":       o.OrderNumber,
		"partner":           o.Partner,
		"serviceType":       string(o.ServiceType),
		"status":            string(o.Status),
		"paymentStatus":     string(o.Payment.Status),
		"bookingState":      string(o.Booking.State),
		"amount":            wallet.FormatMinor(o.Payment.Amount),
		"currency":          currency,
		"trackingId":        optional(o.TrackingID),
		"trackingUrl":       optional(o.TrackingURL),
		"estimatedDelivery": eta,
		"weightKg":          o.Package.WeightKG,
		"pickup":            addressToObject(o.Pickup),
		"delivery":          addressToObject(o.Delivery),
		"history":           history,
		"createdAt":         formatTime(o.CreatedAt),
		"updatedAt":         formatTime(o.UpdatedAt),
	}
}

func addressToObject(a shipper.Address) object {
	return object{
		"name":    a.Name,
		"city":    a.City,
		"state":   a.State,
		"pincode": a.Pincode,
	}
}

func transactionToObject(t wallet.Transaction) object {
	return object{
		"id":           t.ID,
		"kind":         string(t.Kind),
		"amount":       wallet.FormatMinor(t.Amount),
		"balanceAfter": wallet.FormatMinor(t.BalanceAfter),
		"description":  t.Description,
		"orderRef":     optional(t.OrderRef),
		"createdAt":    formatTime(t.CreatedAt),
	}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// intArg reads an Int argument. Literals arrive as int64, JSON variables as
// float64.
func intArg(args map[string]any, name string, def int) int {
	switch v := args[name].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
