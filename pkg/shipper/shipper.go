// Package shipper provides an abstraction layer for delivery partners.
package shipper

import (
	"context"
)

// Shipper defines the interface that all delivery partners must implement.
type Shipper interface {
	// Name returns the partner identifier (e.g., "delhivery", "shiprocket", "dhl").
	Name() string

	// QuoteRate returns a normalized price for a shipment. It must not have side effects.
	QuoteRate(ctx context.Context, req *QuoteRequest) (*Quote, error)

	// CreateShipment books a pickup with the partner. Callers pass a stable OrderRef
	// which partners use to de-duplicate repeated attempts.
	CreateShipment(ctx context.Context, req *ShipmentRequest) (*ShipmentResponse, error)

	// TrackShipment returns the current partner-side state of a shipment.
	TrackShipment(ctx context.Context, trackingID string) (*TrackingResponse, error)

	// CheckServiceability reports whether the partner serves a pincode pair.
	CheckServiceability(ctx context.Context, req *ServiceabilityRequest) (*ServiceabilityResponse, error)

	// MapStatus folds partner vocabulary into the internal status set. Never fails.
	MapStatus(partnerStatus string) Status
}
