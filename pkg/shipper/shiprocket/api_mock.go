package shiprocket

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnServiceability func(ctx context.Context, req *ServiceabilityRequest) (*ServiceabilityResponse, error)
	OnCreateOrder    func(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error)
	OnAssignAWB      func(ctx context.Context, req *AssignAWBRequest) (*AssignAWBResponse, error)
	OnTrackAWB       func(ctx context.Context, awb string) (*TrackResponse, error)

	mu        sync.Mutex
	orders    map[string]*CreateOrderResponse // client order id -> order
	shipments map[int64]*CreateOrderResponse
	nextID    int64
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{
		orders:    make(map[string]*CreateOrderResponse),
		shipments: make(map[int64]*CreateOrderResponse),
		nextID:    5000,
	}
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
		return &APIError{StatusCode: 503, Message: "Simulated API error"}
	}
	return nil
}

// Serviceability returns two couriers: a surface and an air option.
func (m *MockAPIClient) Serviceability(ctx context.Context, req *ServiceabilityRequest) (*ServiceabilityResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnServiceability != nil {
		return m.OnServiceability(ctx, req)
	}

	slabs := math.Ceil(req.WeightKG / 0.5)
	return &ServiceabilityResponse{
		Status: 200,
		Data: ServiceabilityData{
			RecommendedCourierID: 12,
			AvailableCourierCompanies: []CourierCompany{
				{
					CourierCompanyID:      12,
					CourierName:           "Xpressbees Surface",
					FreightCharge:         34 * slabs,
					Rate:                  34 * slabs * 1.18,
					EstimatedDeliveryDays: 5,
					IsSurface:             true,
					COD:                   1,
				},
				{
					CourierCompanyID:      24,
					CourierName:           "Bluedart Air",
					FreightCharge:         71 * slabs,
					Rate:                  71 * slabs * 1.18,
					EstimatedDeliveryDays: 2,
					COD:                   1,
				},
			},
		},
	}, nil
}

// CreateOrder creates a mock order. A repeated client order id returns the
// existing order, with its AWB when one was assigned.
func (m *MockAPIClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateOrder != nil {
		return m.OnCreateOrder(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.orders[req.OrderID]; ok {
		dup := *existing
		return &dup, nil
	}

	m.nextID++
	order := &CreateOrderResponse{
		OrderID:    m.nextID,
		ShipmentID: m.nextID + 100000,
		Status:     "NEW",
		StatusCode: 1,
	}
	m.orders[req.OrderID] = order
	m.shipments[order.ShipmentID] = order
	dup := *order
	return &dup, nil
}

// AssignAWB assigns a mock AWB to a shipment.
func (m *MockAPIClient) AssignAWB(ctx context.Context, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnAssignAWB != nil {
		return m.OnAssignAWB(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.shipments[req.ShipmentID]
	if !ok {
		return nil, &APIError{StatusCode: 422, Message: fmt.Sprintf("shipment %d not found", req.ShipmentID)}
	}
	courier := req.CourierID
	if courier == 0 {
		courier = 12
	}
	if order.AWBCode == "" {
		order.AWBCode = fmt.Sprintf("SR%010d", req.ShipmentID)
		order.CourierID = FlexibleInt(courier)
		order.Status = "AWB ASSIGNED"
	}
	return &AssignAWBResponse{
		AWBAssignStatus: 1,
		Response: AssignPayload{Data: AssignData{
			AWBCode:          order.AWBCode,
			CourierCompanyID: int(order.CourierID),
			ShipmentID:       req.ShipmentID,
		}},
	}, nil
}

// TrackAWB returns mock tracking for an AWB.
func (m *MockAPIClient) TrackAWB(ctx context.Context, awb string) (*TrackResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnTrackAWB != nil {
		return m.OnTrackAWB(ctx, awb)
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	return &TrackResponse{TrackingData: TrackingData{
		TrackStatus:    1,
		ShipmentStatus: 18,
		ShipmentTrack:  []ShipmentTrack{{AWBCode: awb, CurrentStatus: "IN TRANSIT"}},
		ShipmentTrackActivities: []Activity{
			{Date: now, Status: "18", Activity: "In Transit", Location: "Delhi Hub", SRStatus: "IN TRANSIT"},
			{Date: now, Status: "42", Activity: "Picked Up", Location: "Gurgaon", SRStatus: "PICKED UP"},
		},
		TrackURL: "https://shiprocket.co/tracking/" + awb,
	}}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
