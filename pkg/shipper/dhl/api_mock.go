package dhl

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates        func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
	OnCreateShipment  func(ctx context.Context, req *ShipmentRequest, messageRef string) (*ShipmentResponse, error)
	OnTrack           func(ctx context.Context, trackingNumber string) (*TrackingResponse, error)
	OnValidateAddress func(ctx context.Context, countryCode, postalCode string) (*AddressValidateResponse, error)

	mu       sync.Mutex
	bookings map[string]*ShipmentResponse // message reference -> booking
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{bookings: make(map[string]*ShipmentResponse)}
}

func (m *MockAPIClient) simulate(ctx context.Context) error {
	if m.SimulateLatency > 0 {
		select {
		case <-time.After(m.SimulateLatency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.SimulateErrors {
		return &APIError{StatusCode: 503, Title: "Service Unavailable", Detail: "Simulated API error"}
	}
	return nil
}

// GetRates returns Express Worldwide and Economy Select offers priced by weight.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	var weight float64
	for _, p := range req.Packages {
		weight += p.Weight
	}
	eta := time.Now().AddDate(0, 0, 4).Format("2006-01-02T15:04:05")
	return &RatesResponse{Products: []Product{
		{
			ProductName: "EXPRESS WORLDWIDE",
			ProductCode: "P",
			TotalPrice:  []Price{{CurrencyType: "BILLC", PriceCurrency: "INR", Price: 2400 + 900*weight}},
			TotalPriceBreakdown: []PriceBreakdown{{
				CurrencyType:  "BILLC",
				PriceCurrency: "INR",
				PriceBreakdown: []BreakdownItem{
					{TypeCode: "SPRQN", Price: (2400 + 900*weight) * 0.72},
					{TypeCode: "FF", Price: (2400 + 900*weight) * 0.10},
					{TypeCode: "TAX", Price: (2400 + 900*weight) * 0.18},
				},
			}},
			DeliveryCapabilities: DeliveryCapabilities{EstimatedDeliveryDateAndTime: eta, TotalTransitDays: "3"},
		},
		{
			ProductName:          "ECONOMY SELECT",
			ProductCode:          "H",
			TotalPrice:           []Price{{CurrencyType: "BILLC", PriceCurrency: "INR", Price: 1800 + 600*weight}},
			DeliveryCapabilities: DeliveryCapabilities{TotalTransitDays: "7"},
		},
	}}, nil
}

// CreateShipment books a mock shipment. A repeated Message-Reference returns the
// original booking.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest, messageRef string) (*ShipmentResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req, messageRef)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.bookings[messageRef]; ok {
		dup := *prev
		return &dup, nil
	}
	number := fmt.Sprintf("%010d", 1234500000+len(m.bookings))
	resp := &ShipmentResponse{
		ShipmentTrackingNumber: number,
		TrackingURL:            "https://www.dhl.com/in-en/home/tracking.html?tracking-id=" + number,
		Packages:               []Piece{{ReferenceNumber: 1, TrackingNumber: "JD01" + number}},
	}
	m.bookings[messageRef] = resp
	dup := *resp
	return &dup, nil
}

// Track returns a picked-up shipment moving through a hub.
func (m *MockAPIClient) Track(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnTrack != nil {
		return m.OnTrack(ctx, trackingNumber)
	}

	today := time.Now().Format("2006-01-02")
	return &TrackingResponse{Shipments: []TrackedShipment{{
		ShipmentTrackingNumber: trackingNumber,
		Status:                 "transit",
		Events: []Event{
			{Date: today, Time: "18:20:00", TypeCode: "PL", Description: "Processed at LEIPZIG - GERMANY", ServiceArea: []ServiceArea{{Code: "LEJ", Description: "Leipzig-DE"}}},
			{Date: today, Time: "09:02:00", TypeCode: "PU", Description: "Shipment picked up", ServiceArea: []ServiceArea{{Code: "BOM", Description: "Mumbai-IN"}}},
		},
	}}}, nil
}

// ValidateAddress reports every address as served.
func (m *MockAPIClient) ValidateAddress(ctx context.Context, countryCode, postalCode string) (*AddressValidateResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnValidateAddress != nil {
		return m.OnValidateAddress(ctx, countryCode, postalCode)
	}
	return &AddressValidateResponse{Address: []ValidatedAddress{{
		CountryCode: countryCode,
		PostalCode:  postalCode,
		ServiceArea: ServiceArea{Code: "XXX"},
	}}}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
