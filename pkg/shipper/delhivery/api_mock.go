package delhivery

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MockAPIClient is a mock implementation of APIClient for testing.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetCharges     func(ctx context.Context, req *ChargesRequest) (*ChargesResponse, error)
	OnCreateShipment func(ctx context.Context, req *CreateRequest) (*CreateResponse, error)
	OnTrack          func(ctx context.Context, waybill string) (*TrackResponse, error)
	OnPincode        func(ctx context.Context, pincode string) (*PincodeResponse, error)

	mu       sync.Mutex
	waybills map[string]string // order -> waybill
}

// NewMockAPIClient creates a new mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{waybills: make(map[string]string)}
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
		return &APIError{StatusCode: 503, Code: "MOCK_ERROR", Message: "Simulated API error"}
	}
	return nil
}

// GetCharges returns a mock charge: surface is cheaper than express.
func (m *MockAPIClient) GetCharges(ctx context.Context, req *ChargesRequest) (*ChargesResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnGetCharges != nil {
		return m.OnGetCharges(ctx, req)
	}

	slabs := float64((req.WeightGrams + 499) / 500)
	perSlab := 38.0
	if req.Mode == ModeExpress {
		perSlab = 62.0
	}
	freight := perSlab * slabs
	fuel := freight * 0.12
	gross := freight + fuel
	tax := gross * 0.18

	return &ChargesResponse{
		Status:      "SUCCESS",
		Zone:        "D",
		ChargedKG:   slabs / 2,
		ChargeDL:    freight,
		ChargeFSC:   fuel,
		GrossAmount: gross,
		TotalAmount: gross + tax,
		TaxData:     TaxData{IGST: tax},
	}, nil
}

// CreateShipment creates a mock shipment. Orders are de-duplicated like the real API.
func (m *MockAPIClient) CreateShipment(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnCreateShipment != nil {
		return m.OnCreateShipment(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	resp := &CreateResponse{Success: true, PackageCount: len(req.Shipments)}
	for _, s := range req.Shipments {
		if wb, ok := m.waybills[s.Order]; ok {
			resp.Packages = append(resp.Packages, PackageOutcome{
				Status:  "Fail",
				Waybill: wb,
				RefNum:  s.Order,
				Remarks: []string{"Duplicate order id"},
			})
			continue
		}
		wb := strconv.FormatInt(1490000000000+int64(len(m.waybills)), 10)
		m.waybills[s.Order] = wb
		resp.Packages = append(resp.Packages, PackageOutcome{
			Status:   "Success",
			Waybill:  wb,
			RefNum:   s.Order,
			Serviced: true,
		})
	}
	return resp, nil
}

// Track returns mock tracking for known waybills.
func (m *MockAPIClient) Track(ctx context.Context, waybill string) (*TrackResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnTrack != nil {
		return m.OnTrack(ctx, waybill)
	}

	now := time.Now().Format("2006-01-02T15:04:05")
	return &TrackResponse{
		ShipmentData: []ShipmentData{{
			Shipment: TrackedShipment{
				AWB: waybill,
				Status: ScanStatus{
					Status:         "In Transit",
					StatusType:     "UD",
					StatusLocation: "Bhiwandi_Mankoli_HB (Maharashtra)",
					StatusDateTime: now,
				},
				Scans: []ScanEntry{
					{ScanDetail: ScanDetail{Scan: "Manifested", ScanType: "UD", ScanDateTime: now, ScannedLocation: "Mumbai_Andheri_DC"}},
					{ScanDetail: ScanDetail{Scan: "In Transit", ScanType: "UD", ScanDateTime: now, ScannedLocation: "Bhiwandi_Mankoli_HB"}},
				},
			},
		}},
	}, nil
}

// Pincode reports every pincode as prepaid-serviceable.
func (m *MockAPIClient) Pincode(ctx context.Context, pincode string) (*PincodeResponse, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	if m.OnPincode != nil {
		return m.OnPincode(ctx, pincode)
	}

	pin, err := strconv.Atoi(pincode)
	if err != nil {
		return nil, &APIError{StatusCode: 400, Code: "BAD_PIN", Message: fmt.Sprintf("invalid pincode %q", pincode)}
	}
	return &PincodeResponse{DeliveryCodes: []DeliveryCode{{
		PostalCode: PostalCode{Pin: pin, PrePaid: "Y", COD: "Y", Pickup: "Y"},
	}}}, nil
}

// Ensure MockAPIClient implements APIClient interface
var _ APIClient = (*MockAPIClient)(nil)
