// Package delhivery provides integration with the Delhivery B2C courier API.
package delhivery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	carrierName    = "delhivery"
	trackingURLFmt = "https://www.delhivery.com/track/package/%s"
	defaultTimeout = 30 * time.Second
)

// vocabulary holds Delhivery phrases that differ from the common vocabulary.
var vocabulary = map[string]shipper.Status{
	"manifested":       shipper.StatusConfirmed,
	"not picked":       shipper.StatusConfirmed,
	"pending":          shipper.StatusInTransit,
	"dispatched":       shipper.StatusOutForDelivery,
	"dto":              shipper.StatusRTO,
	"rto":              shipper.StatusRTO,
	"returned":         shipper.StatusRTO,
	"pickup requested": shipper.StatusConfirmed,
}

// Config holds Delhivery configuration.
type Config struct {
	APIKey            string
	BaseURL           string
	PickupLocation    string // warehouse name registered with Delhivery
	Timeout           time.Duration
	RequestsPerSecond float64
	UseMock           bool // When true, uses mock API client
}

// Client is the Delhivery shipper client.
// It implements the shipper.Shipper interface and delegates
// API calls to the underlying APIClient (mock or HTTP).
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a new Delhivery client.
// If cfg.UseMock is true, it uses a mock API client for testing.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Timeout:           timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Delhivery client with a custom API client.
// This is useful for injecting mock clients in tests.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	return &Client{
		config:    cfg,
		apiClient: apiClient,
		logger:    logger,
		tracer:    shipper.TracerOrDefault(tracer, carrierName),
		now:       time.Now,
	}
}

// Name returns the carrier name.
func (c *Client) Name() string {
	return carrierName
}

// QuoteRate prices the parcel in both surface and express mode.
func (c *Client) QuoteRate(ctx context.Context, req *shipper.QuoteRequest) (_ *shipper.Quote, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpQuoteRate,
		attribute.String("origin_pincode", req.Origin.Pincode),
		attribute.String("destination_pincode", req.Destination.Pincode),
	)
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Getting Delhivery charges",
		zap.String("origin_pincode", req.Origin.Pincode),
		zap.String("destination_pincode", req.Destination.Pincode),
		zap.Float64("weight_kg", req.Package.WeightKG),
	)

	modes := []string{ModeSurface, ModeExpress}
	results := make([]*ChargesResponse, len(modes))
	errs := make([]error, len(modes))

	var g errgroup.Group
	for i, mode := range modes {
		g.Go(func() error {
			results[i], errs[i] = c.apiClient.GetCharges(ctx, &ChargesRequest{
				Mode:          mode,
				OriginPin:     req.Origin.Pincode,
				DestPin:       req.Destination.Pincode,
				WeightGrams:   grams(req.Package.WeightKG),
				PaymentType:   "Pre-paid",
				ShipmentState: "Delivered",
			})
			return nil
		})
	}
	_ = g.Wait()

	var options []shipper.RateOption
	for i, r := range results {
		if errs[i] != nil || r == nil || r.TotalAmount <= 0 {
			continue
		}
		options = append(options, chargesToOption(modes[i], r))
	}

	if len(options) == 0 {
		if err := firstNonRouteError(errs); err != nil {
			c.logger.Ctx(ctx).Error("Delhivery API error", zap.Error(err))
			return nil, classify(shipper.OpQuoteRate, err)
		}
		return nil, shipper.Wrap(carrierName, shipper.OpQuoteRate, shipper.ErrNoServiceableRoute)
	}

	return shipper.BuildQuote(carrierName, options, req.ServiceHint, c.now())
}

// CreateShipment manifests the parcel. The order reference is sent as the
// Delhivery order id, which Delhivery de-duplicates.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (_ *shipper.ShipmentResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpCreateShipment,
		attribute.String("order_ref", req.OrderRef),
	)
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Creating Delhivery shipment",
		zap.String("order_ref", req.OrderRef),
		zap.String("service_type", string(req.ServiceType)),
	)

	apiReq := &CreateRequest{
		Shipments:      []Shipment{shipmentToAPI(req)},
		PickupLocation: PickupLocation{Name: c.config.PickupLocation},
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("Delhivery API error", zap.Error(err))
		return nil, classify(shipper.OpCreateShipment, err)
	}

	if len(apiResp.Packages) == 0 {
		msg := apiResp.Remark
		if msg == "" {
			msg = "no package in manifest response"
		}
		return nil, shipper.Rejected(carrierName, "MANIFEST_FAILED", msg)
	}

	pkg := apiResp.Packages[0]
	remarks := strings.Join(pkg.Remarks, "; ")
	switch {
	case strings.EqualFold(pkg.Status, "Success") && pkg.Waybill != "":
		return c.shipmentResponse(pkg, false), nil
	case pkg.Waybill != "" && strings.Contains(strings.ToLower(remarks), "duplicate"):
		c.logger.Ctx(ctx).Info("Delhivery reports order already manifested",
			zap.String("order_ref", req.OrderRef),
			zap.String("waybill", pkg.Waybill),
		)
		return c.shipmentResponse(pkg, true), nil
	default:
		if remarks == "" {
			remarks = apiResp.Remark
		}
		return nil, shipper.Rejected(carrierName, "MANIFEST_FAILED", remarks)
	}
}

func (c *Client) shipmentResponse(pkg PackageOutcome, previous bool) *shipper.ShipmentResponse {
	return &shipper.ShipmentResponse{
		TrackingID:        pkg.Waybill,
		TrackingURL:       fmt.Sprintf(trackingURLFmt, pkg.Waybill),
		PartnerOrderRef:   pkg.RefNum,
		PreviouslyCreated: previous,
	}
}

// TrackShipment retrieves the scan history of a waybill.
func (c *Client) TrackShipment(ctx context.Context, trackingID string) (_ *shipper.TrackingResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpTrackShipment,
		attribute.String("tracking_id", trackingID),
	)
	defer func() { shipper.EndSpan(span, err) }()

	apiResp, err := c.apiClient.Track(ctx, trackingID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, shipper.Wrap(carrierName, shipper.OpTrackShipment, shipper.ErrTrackingUnavailable)
		}
		return nil, classify(shipper.OpTrackShipment, err)
	}
	if len(apiResp.ShipmentData) == 0 || apiResp.Error != "" {
		return nil, shipper.Wrap(carrierName, shipper.OpTrackShipment, shipper.ErrTrackingUnavailable)
	}

	s := apiResp.ShipmentData[0].Shipment
	resp := &shipper.TrackingResponse{
		TrackingID:    s.AWB,
		PartnerStatus: s.Status.Status,
		Status:        c.statusFor(s.Status.Status, s.Status.StatusType),
		Location:      s.Status.StatusLocation,
	}
	for _, scan := range s.Scans {
		d := scan.ScanDetail
		resp.History = append(resp.History, shipper.TrackingEvent{
			Timestamp:     parseTimestamp(d.ScanDateTime),
			PartnerStatus: d.Scan,
			Status:        c.statusFor(d.Scan, d.ScanType),
			Location:      d.ScannedLocation,
			Description:   d.Instructions,
		})
	}
	return resp, nil
}

// CheckServiceability looks up the destination pincode.
func (c *Client) CheckServiceability(ctx context.Context, req *shipper.ServiceabilityRequest) (_ *shipper.ServiceabilityResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpServiceability,
		attribute.String("destination_pincode", req.DestinationPincode),
	)
	defer func() { shipper.EndSpan(span, err) }()

	if req.DestinationCountry != "" && !strings.EqualFold(req.DestinationCountry, "IN") {
		return &shipper.ServiceabilityResponse{Partner: carrierName}, nil
	}

	apiResp, err := c.apiClient.Pincode(ctx, req.DestinationPincode)
	if err != nil {
		return nil, classify(shipper.OpServiceability, err)
	}

	resp := &shipper.ServiceabilityResponse{Partner: carrierName}
	if len(apiResp.DeliveryCodes) == 0 {
		return resp, nil
	}
	pc := apiResp.DeliveryCodes[0].PostalCode
	resp.Prepaid = pc.PrePaid == "Y"
	resp.COD = pc.COD == "Y"
	resp.Serviceable = resp.Prepaid || resp.COD
	if resp.Serviceable {
		resp.EstimatedDays = 5
	}
	return resp, nil
}

// MapStatus translates Delhivery vocabulary into the internal status set.
func (c *Client) MapStatus(partnerStatus string) shipper.Status {
	return shipper.MapStatus(vocabulary, partnerStatus)
}

// statusFor refines the scan text with the status type. RT scans are on the
// return leg regardless of the scan text.
func (c *Client) statusFor(scan, statusType string) shipper.Status {
	switch strings.ToUpper(statusType) {
	case "RT":
		return shipper.StatusRTO
	case "DL":
		if strings.Contains(strings.ToLower(scan), "rto") {
			return shipper.StatusRTO
		}
		return shipper.StatusDelivered
	}
	return c.MapStatus(scan)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func shipmentToAPI(req *shipper.ShipmentRequest) Shipment {
	d := req.Delivery
	mode := "Surface"
	if req.ServiceType == shipper.ServiceExpress || req.ServiceType == shipper.ServiceAir {
		mode = "Express"
	}
	address := d.Line1
	if d.Line2 != "" {
		address += ", " + d.Line2
	}
	declared, _ := req.Package.DeclaredValue.Float64()
	return Shipment{
		Name:          d.Name,
		Address:       address,
		Pin:           d.Pincode,
		City:          d.City,
		State:         d.State,
		Country:       "India",
		Phone:         d.Phone,
		Order:         req.OrderRef,
		PaymentMode:   "Prepaid",
		TotalAmount:   declared,
		ProductsDesc:  req.Package.Description,
		WeightGrams:   grams(req.Package.WeightKG),
		Length:        req.Package.Dimensions.LengthCM,
		Width:         req.Package.Dimensions.WidthCM,
		Height:        req.Package.Dimensions.HeightCM,
		ShippingMode:  mode,
		ReturnPin:     req.Pickup.Pincode,
		ReturnAddress: req.Pickup.Line1,
	}
}

func chargesToOption(mode string, r *ChargesResponse) shipper.RateOption {
	opt := shipper.RateOption{
		Pricing: shipper.Pricing{
			Base:       decimal.NewFromFloat(r.ChargeDL),
			Surcharges: decimal.NewFromFloat(r.ChargeFSC + r.ChargeDPH + r.ChargeCOD),
			Tax:        decimal.NewFromFloat(r.TaxData.Total()),
			Total:      decimal.NewFromFloat(r.TotalAmount),
			Currency:   shipper.DefaultCurrency,
		}.Normalize(),
		Charges: []shipper.Charge{
			{Code: "DL", Description: "Freight", Amount: decimal.NewFromFloat(r.ChargeDL).Round(2)},
			{Code: "FSC", Description: "Fuel surcharge", Amount: decimal.NewFromFloat(r.ChargeFSC).Round(2)},
		},
	}
	if mode == ModeExpress {
		opt.ServiceCode = "E"
		opt.ServiceName = "Delhivery Express"
		opt.ServiceType = shipper.ServiceExpress
		opt.TransitDaysMin, opt.TransitDaysMax = 1, 3
	} else {
		opt.ServiceCode = "S"
		opt.ServiceName = "Delhivery Surface"
		opt.ServiceType = shipper.ServiceSurface
		opt.TransitDaysMin, opt.TransitDaysMax = 3, 7
	}
	return opt
}

func grams(kg float64) int {
	return int(math.Ceil(kg * 1000))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// firstNonRouteError returns the first error that does not merely mean the
// route has no price.
func firstNonRouteError(errs []error) error {
	for _, err := range errs {
		var apiErr *APIError
		if err == nil || (errors.As(err, &apiErr) && apiErr.Code == "NO_CHARGES") {
			continue
		}
		return err
	}
	return nil
}

// classify converts an API error into the partner error taxonomy.
func classify(op string, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return shipper.Wrap(carrierName, op, err)
	}

	se := shipper.NewShipperError(carrierName, apiErr.Code, apiErr.Message).
		WithOp(op).
		WithStatusCode(apiErr.StatusCode).
		WithCause(err)

	switch {
	case apiErr.StatusCode == http.StatusUnauthorized,
		apiErr.StatusCode == http.StatusForbidden,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= 500,
		apiErr.StatusCode == 0:
		se.WithKind(shipper.ErrProviderUnavailable)
	case op == shipper.OpCreateShipment:
		se.WithKind(shipper.ErrShipmentRejected)
	case op == shipper.OpQuoteRate:
		se.WithKind(shipper.ErrNoServiceableRoute)
	default:
		se.WithKind(shipper.ErrProviderUnavailable)
	}
	return se
}

var _ shipper.Shipper = (*Client)(nil)
