// Package mock provides a mock shipper implementation for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

// Client is a mock delivery partner. Hooks override the default behaviour;
// call counters are safe for concurrent use.
type Client struct {
	name string

	OnQuoteRate      func(ctx context.Context, req *shipper.QuoteRequest) (*shipper.Quote, error)
	OnCreateShipment func(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResponse, error)
	OnTrackShipment  func(ctx context.Context, trackingID string) (*shipper.TrackingResponse, error)

	quoteCalls  atomic.Int64
	createCalls atomic.Int64
	trackCalls  atomic.Int64

	mu     sync.Mutex
	booked map[string]*shipper.ShipmentResponse
}

// New creates a new mock shipper.
func New(name string) *Client {
	return &Client{name: name, booked: make(map[string]*shipper.ShipmentResponse)}
}

// Name returns the partner name.
func (c *Client) Name() string {
	return c.name
}

// QuoteCalls returns how many times QuoteRate was called.
func (c *Client) QuoteCalls() int { return int(c.quoteCalls.Load()) }

// CreateCalls returns how many times CreateShipment was called.
func (c *Client) CreateCalls() int { return int(c.createCalls.Load()) }

// TrackCalls returns how many times TrackShipment was called.
func (c *Client) TrackCalls() int { return int(c.trackCalls.Load()) }

// Booked returns how many distinct order refs were acknowledged.
func (c *Client) Booked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.booked)
}

// QuoteRate returns a fixed standard/express quote.
func (c *Client) QuoteRate(ctx context.Context, req *shipper.QuoteRequest) (*shipper.Quote, error) {
	c.quoteCalls.Add(1)
	if c.OnQuoteRate != nil {
		return c.OnQuoteRate(ctx, req)
	}

	standard := shipper.RateOption{
		ServiceCode: "STD",
		ServiceName: c.name + " Standard",
		ServiceType: shipper.ServiceStandard,
		Pricing: shipper.Pricing{
			Base:       decimal.RequireFromString("80.00"),
			Surcharges: decimal.RequireFromString("10.00"),
			Tax:        decimal.RequireFromString("16.20"),
			Total:      decimal.RequireFromString("106.20"),
			Currency:   shipper.DefaultCurrency,
		},
		TransitDaysMin: 3,
		TransitDaysMax: 5,
	}
	express := shipper.RateOption{
		ServiceCode: "EXP",
		ServiceName: c.name + " Express",
		ServiceType: shipper.ServiceExpress,
		Pricing: shipper.Pricing{
			Base:       decimal.RequireFromString("150.00"),
			Surcharges: decimal.RequireFromString("20.00"),
			Tax:        decimal.RequireFromString("30.60"),
			Total:      decimal.RequireFromString("200.60"),
			Currency:   shipper.DefaultCurrency,
		},
		TransitDaysMin: 1,
		TransitDaysMax: 2,
	}

	selected, alt := standard, express
	if req.ServiceHint == shipper.ServiceExpress {
		selected, alt = express, standard
	}
	return &shipper.Quote{
		Partner:      c.name,
		Selected:     selected,
		Alternatives: []shipper.RateOption{alt},
		QuotedAt:     time.Now(),
	}, nil
}

// CreateShipment books a mock shipment. Repeated calls with the same OrderRef
// return the original booking, like partners that honour idempotency keys.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (*shipper.ShipmentResponse, error) {
	c.createCalls.Add(1)
	if c.OnCreateShipment != nil {
		resp, err := c.OnCreateShipment(ctx, req)
		if err == nil && resp != nil {
			c.remember(req.OrderRef, resp)
		}
		return resp, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.booked[req.OrderRef]; ok {
		dup := *prev
		dup.PreviouslyCreated = true
		return &dup, nil
	}
	awb := fmt.Sprintf("MOCK%d", 100000000+len(c.booked))
	resp := &shipper.ShipmentResponse{
		TrackingID:      awb,
		TrackingURL:     fmt.Sprintf("https://track.%s.mock/%s", c.name, awb),
		PartnerOrderRef: c.name + "-" + req.OrderRef,
	}
	c.booked[req.OrderRef] = resp
	return resp, nil
}

func (c *Client) remember(ref string, resp *shipper.ShipmentResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.booked[ref]; !ok {
		c.booked[ref] = resp
	}
}

// TrackShipment reports every shipment as in transit.
func (c *Client) TrackShipment(ctx context.Context, trackingID string) (*shipper.TrackingResponse, error) {
	c.trackCalls.Add(1)
	if c.OnTrackShipment != nil {
		return c.OnTrackShipment(ctx, trackingID)
	}
	return &shipper.TrackingResponse{
		TrackingID:    trackingID,
		PartnerStatus: "In Transit",
		Status:        shipper.StatusInTransit,
		Location:      "Mock Hub",
	}, nil
}

// CheckServiceability reports every route as serviceable.
func (c *Client) CheckServiceability(ctx context.Context, req *shipper.ServiceabilityRequest) (*shipper.ServiceabilityResponse, error) {
	return &shipper.ServiceabilityResponse{
		Partner:       c.name,
		Serviceable:   true,
		Prepaid:       true,
		EstimatedDays: 4,
	}, nil
}

// MapStatus uses only the shared vocabulary.
func (c *Client) MapStatus(partnerStatus string) shipper.Status {
	return shipper.MapStatus(nil, partnerStatus)
}

var _ shipper.Shipper = (*Client)(nil)
