// Package shiprocket provides integration with the Shiprocket aggregator API.
package shiprocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierName    = "shiprocket"
	trackingURLPre = "https://shiprocket.co/tracking/"
	activityLayout = "2006-01-02 15:04:05"
)

var vocabulary = map[string]shipper.Status{
	"new":                        shipper.StatusPending,
	"invoiced":                   shipper.StatusPending,
	"awb assigned":               shipper.StatusConfirmed,
	"label generated":            shipper.StatusConfirmed,
	"pickup scheduled":           shipper.StatusConfirmed,
	"pickup generated":           shipper.StatusConfirmed,
	"pickup queued":              shipper.StatusConfirmed,
	"out for pickup":             shipper.StatusConfirmed,
	"pickup exception":           shipper.StatusConfirmed,
	"picked up":                  shipper.StatusPickedUp,
	"shipped":                    shipper.StatusInTransit,
	"in transit":                 shipper.StatusInTransit,
	"reached at destination hub": shipper.StatusInTransit,
	"undelivered":                shipper.StatusInTransit,
	"delayed":                    shipper.StatusInTransit,
	"out for delivery":           shipper.StatusOutForDelivery,
	"delivered":                  shipper.StatusDelivered,
	"canceled":                   shipper.StatusCancelled,
	"cancellation requested":     shipper.StatusCancelled,
	"rto initiated":              shipper.StatusRTO,
	"rto in transit":             shipper.StatusRTO,
	"rto delivered":              shipper.StatusRTO,
	"rto ofd":                    shipper.StatusRTO,
}

// Config holds Shiprocket configuration.
type Config struct {
	Email             string
	Password          string
	BaseURL           string
	PickupLocation    string // pickup nickname configured in the Shiprocket panel
	Timeout           time.Duration
	RequestsPerSecond float64
	UseMock           bool
}

// Client is the Shiprocket shipper client.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a new Shiprocket client.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer) *Client {
	var apiClient APIClient

	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL:           cfg.BaseURL,
			Email:             cfg.Email,
			Password:          cfg.Password,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new Shiprocket client with a custom API client.
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

// QuoteRate lists the courier offers for the corridor.
func (c *Client) QuoteRate(ctx context.Context, req *shipper.QuoteRequest) (_ *shipper.Quote, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpQuoteRate,
		attribute.String("origin_pincode", req.Origin.Pincode),
		attribute.String("destination_pincode", req.Destination.Pincode),
	)
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Getting Shiprocket rates",
		zap.String("origin_pincode", req.Origin.Pincode),
		zap.String("destination_pincode", req.Destination.Pincode),
		zap.Float64("weight_kg", req.Package.WeightKG),
	)

	declared, _ := req.Package.DeclaredValue.Float64()
	apiResp, err := c.apiClient.Serviceability(ctx, &ServiceabilityRequest{
		PickupPostcode:   req.Origin.Pincode,
		DeliveryPostcode: req.Destination.Pincode,
		WeightKG:         req.Package.WeightKG,
		DeclaredValue:    declared,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Shiprocket API error", zap.Error(err))
		return nil, classify(shipper.OpQuoteRate, err)
	}

	options := make([]shipper.RateOption, 0, len(apiResp.Data.AvailableCourierCompanies))
	for _, cc := range apiResp.Data.AvailableCourierCompanies {
		if cc.Rate <= 0 {
			continue
		}
		options = append(options, courierToOption(cc))
	}
	if len(options) == 0 {
		return nil, shipper.Wrap(carrierName, shipper.OpQuoteRate, shipper.ErrNoServiceableRoute)
	}
	return shipper.BuildQuote(carrierName, options, req.ServiceHint, c.now())
}

// CreateShipment creates the order and assigns an AWB. The order reference is
// the Shiprocket order id, so a replay finds the existing order instead of
// creating a second one.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (_ *shipper.ShipmentResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpCreateShipment,
		attribute.String("order_ref", req.OrderRef),
	)
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Creating Shiprocket order",
		zap.String("order_ref", req.OrderRef),
		zap.String("service_code", req.ServiceCode),
	)

	order, err := c.apiClient.CreateOrder(ctx, c.orderToAPI(req))
	if err != nil {
		c.logger.Ctx(ctx).Error("Shiprocket API error", zap.Error(err))
		return nil, classify(shipper.OpCreateShipment, err)
	}

	if order.AWBCode != "" {
		return &shipper.ShipmentResponse{
			TrackingID:        order.AWBCode,
			TrackingURL:       trackingURLPre + order.AWBCode,
			PartnerOrderRef:   strconv.FormatInt(order.OrderID, 10),
			PreviouslyCreated: true,
		}, nil
	}

	courierID, _ := strconv.Atoi(req.ServiceCode)
	assigned, err := c.apiClient.AssignAWB(ctx, &AssignAWBRequest{
		ShipmentID: order.ShipmentID,
		CourierID:  courierID,
	})
	if err != nil {
		c.logger.Ctx(ctx).Error("Shiprocket AWB assignment failed", zap.Error(err))
		return nil, classify(shipper.OpCreateShipment, err)
	}
	awb := assigned.Response.Data.AWBCode
	if assigned.AWBAssignStatus != 1 || awb == "" {
		msg := assigned.Message
		if msg == "" {
			msg = "courier did not assign an AWB"
		}
		return nil, shipper.Rejected(carrierName, "AWB_NOT_ASSIGNED", msg)
	}

	return &shipper.ShipmentResponse{
		TrackingID:      awb,
		TrackingURL:     trackingURLPre + awb,
		PartnerOrderRef: strconv.FormatInt(order.OrderID, 10),
	}, nil
}

// TrackShipment retrieves tracking by AWB.
func (c *Client) TrackShipment(ctx context.Context, trackingID string) (_ *shipper.TrackingResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpTrackShipment,
		attribute.String("tracking_id", trackingID),
	)
	defer func() { shipper.EndSpan(span, err) }()

	apiResp, err := c.apiClient.TrackAWB(ctx, trackingID)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, shipper.Wrap(carrierName, shipper.OpTrackShipment, shipper.ErrTrackingUnavailable)
		}
		return nil, classify(shipper.OpTrackShipment, err)
	}

	td := apiResp.TrackingData
	if td.TrackStatus == 0 || len(td.ShipmentTrack) == 0 {
		return nil, shipper.Wrap(carrierName, shipper.OpTrackShipment, shipper.ErrTrackingUnavailable)
	}

	current := td.ShipmentTrack[0]
	resp := &shipper.TrackingResponse{
		TrackingID:    trackingID,
		PartnerStatus: current.CurrentStatus,
		Status:        c.MapStatus(current.CurrentStatus),
	}
	for i, a := range td.ShipmentTrackActivities {
		label := a.SRStatus
		if label == "" {
			label = a.Activity
		}
		ts, _ := time.Parse(activityLayout, a.Date)
		resp.History = append(resp.History, shipper.TrackingEvent{
			Timestamp:     ts,
			PartnerStatus: label,
			Status:        c.MapStatus(label),
			Location:      a.Location,
			Description:   a.Activity,
		})
		if i == 0 {
			resp.Location = a.Location
		}
	}
	return resp, nil
}

// CheckServiceability reports whether any courier serves the corridor.
func (c *Client) CheckServiceability(ctx context.Context, req *shipper.ServiceabilityRequest) (_ *shipper.ServiceabilityResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpServiceability,
		attribute.String("destination_pincode", req.DestinationPincode),
	)
	defer func() { shipper.EndSpan(span, err) }()

	resp := &shipper.ServiceabilityResponse{Partner: carrierName}
	if req.DestinationCountry != "" && !strings.EqualFold(req.DestinationCountry, "IN") {
		return resp, nil
	}

	weight := req.WeightKG
	if weight <= 0 {
		weight = 0.5
	}
	apiResp, err := c.apiClient.Serviceability(ctx, &ServiceabilityRequest{
		PickupPostcode:   req.OriginPincode,
		DeliveryPostcode: req.DestinationPincode,
		WeightKG:         weight,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return resp, nil
		}
		return nil, classify(shipper.OpServiceability, err)
	}

	for _, cc := range apiResp.Data.AvailableCourierCompanies {
		resp.Serviceable = true
		resp.Prepaid = true
		if cc.COD == 1 {
			resp.COD = true
		}
		if d := int(cc.EstimatedDeliveryDays); d > 0 && (resp.EstimatedDays == 0 || d < resp.EstimatedDays) {
			resp.EstimatedDays = d
		}
	}
	return resp, nil
}

// MapStatus translates Shiprocket vocabulary into the internal status set.
func (c *Client) MapStatus(partnerStatus string) shipper.Status {
	return shipper.MapStatus(vocabulary, partnerStatus)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func (c *Client) orderToAPI(req *shipper.ShipmentRequest) *CreateOrderRequest {
	d := req.Delivery
	first, last := splitName(d.Name)
	declared, _ := req.Package.DeclaredValue.Float64()
	description := req.Package.Description
	if description == "" {
		description = "Parcel"
	}
	return &CreateOrderRequest{
		OrderID:             req.OrderRef,
		OrderDate:           c.now().Format("2006-01-02 15:04"),
		PickupLocation:      c.config.PickupLocation,
		BillingCustomerName: first,
		BillingLastName:     last,
		BillingAddress:      d.Line1,
		BillingAddress2:     d.Line2,
		BillingCity:         d.City,
		BillingPincode:      d.Pincode,
		BillingState:        d.State,
		BillingCountry:      "India",
		BillingEmail:        d.Email,
		BillingPhone:        d.Phone,
		ShippingIsBilling:   true,
		OrderItems: []OrderItem{{
			Name:         description,
			SKU:          req.OrderRef,
			Units:        1,
			SellingPrice: declared,
		}},
		PaymentMethod: "Prepaid",
		SubTotal:      declared,
		Length:        req.Package.Dimensions.LengthCM,
		Breadth:       req.Package.Dimensions.WidthCM,
		Height:        req.Package.Dimensions.HeightCM,
		Weight:        req.Package.WeightKG,
	}
}

func courierToOption(cc CourierCompany) shipper.RateOption {
	total := decimal.NewFromFloat(cc.Rate)
	base := decimal.NewFromFloat(cc.FreightCharge)
	surcharges := decimal.NewFromFloat(cc.CODCharges + cc.OtherCharges)
	tax := total.Sub(base).Sub(surcharges)
	if tax.IsNegative() {
		tax = decimal.Zero
	}

	serviceType := shipper.ServiceExpress
	if cc.IsSurface {
		serviceType = shipper.ServiceSurface
	}
	days := int(cc.EstimatedDeliveryDays)

	return shipper.RateOption{
		ServiceCode: strconv.Itoa(cc.CourierCompanyID),
		ServiceName: cc.CourierName,
		ServiceType: serviceType,
		Pricing: shipper.Pricing{
			Base:       base,
			Surcharges: surcharges,
			Tax:        tax,
			Total:      total,
			Currency:   shipper.DefaultCurrency,
		}.Normalize(),
		TransitDaysMin: days,
		TransitDaysMax: days,
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "Customer", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// classify converts an API error into the partner error taxonomy.
func classify(op string, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return shipper.Wrap(carrierName, op, err)
	}

	se := shipper.NewShipperError(carrierName, "HTTP_"+strconv.Itoa(apiErr.StatusCode), apiErr.Error()).
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
