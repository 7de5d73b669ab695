// Package dhl provides integration with the DHL Express API for
// international parcels.
package dhl

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	carrierName    = "dhl"
	defaultTimeout = 60 * time.Second
	trackingURLPre = "https://www.dhl.com/in-en/home/tracking.html?tracking-id="
)

// vocabulary covers DHL checkpoint type codes and shipment status words.
var vocabulary = map[string]shipper.Status{
	"pre transit": shipper.StatusConfirmed,
	"pu":          shipper.StatusPickedUp,
	"pl":          shipper.StatusInTransit,
	"df":          shipper.StatusInTransit,
	"af":          shipper.StatusInTransit,
	"ar":          shipper.StatusInTransit,
	"cc":          shipper.StatusInTransit,
	"transit":     shipper.StatusInTransit,
	"failure":     shipper.StatusInTransit,
	"wc":          shipper.StatusOutForDelivery,
	"ok":          shipper.StatusDelivered,
	"delivered":   shipper.StatusDelivered,
	"rt":          shipper.StatusRTO,
	"returned":    shipper.StatusRTO,
}

// Config holds DHL Express configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	AccountNumber     string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	UseMock           bool
}

// Client is the DHL Express shipper client.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// New creates a new DHL client.
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
			ClientID:          cfg.ClientID,
			ClientSecret:      cfg.ClientSecret,
			Timeout:           timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	}

	return NewWithAPIClient(cfg, apiClient, logger, tracer)
}

// NewWithAPIClient creates a new DHL client with a custom API client.
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

// QuoteRate returns the DHL products for the lane.
func (c *Client) QuoteRate(ctx context.Context, req *shipper.QuoteRequest) (_ *shipper.Quote, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpQuoteRate,
		attribute.String("destination_country", req.Destination.Country()),
	)
	defer func() { shipper.EndSpan(span, err) }()

	c.logger.Ctx(ctx).Info("Getting DHL rates",
		zap.String("origin_country", req.Origin.Country()),
		zap.String("destination_country", req.Destination.Country()),
		zap.Float64("weight_kg", req.Package.WeightKG),
	)

	apiReq := &RatesRequest{
		CustomerDetails: RateParties{
			ShipperDetails:  rateAddress(req.Origin),
			ReceiverDetails: rateAddress(req.Destination),
		},
		Accounts:                   c.accounts(),
		PlannedShippingDateAndTime: c.plannedShipping(),
		UnitOfMeasurement:          "metric",
		IsCustomsDeclarable:        req.Origin.Country() != req.Destination.Country(),
		Packages:                   []Package{packageToAPI(req.Package)},
	}

	apiResp, err := c.apiClient.GetRates(ctx, apiReq)
	if err != nil {
		c.logger.Ctx(ctx).Error("DHL API error", zap.Error(err))
		return nil, classify(shipper.OpQuoteRate, err)
	}

	options := make([]shipper.RateOption, 0, len(apiResp.Products))
	for _, p := range apiResp.Products {
		if opt, ok := productToOption(p); ok {
			options = append(options, opt)
		}
	}
	quote, err := shipper.BuildQuote(carrierName, options, req.ServiceHint, c.now())
	if err != nil {
		return nil, err
	}
	if eta := selectedETA(apiResp.Products, quote.Selected.ServiceCode); !eta.IsZero() {
		quote.EstimatedDelivery = &eta
	}
	return quote, nil
}

// CreateShipment books the shipment. The Message-Reference header is derived
// from the order reference so replays carry the same reference.
func (c *Client) CreateShipment(ctx context.Context, req *shipper.ShipmentRequest) (_ *shipper.ShipmentResponse, err error) {
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpCreateShipment,
		attribute.String("order_ref", req.OrderRef),
	)
	defer func() { shipper.EndSpan(span, err) }()

	productCode := req.ServiceCode
	if productCode == "" {
		productCode = "P"
	}

	c.logger.Ctx(ctx).Info("Creating DHL shipment",
		zap.String("order_ref", req.OrderRef),
		zap.String("product_code", productCode),
	)

	declared, _ := req.Package.DeclaredValue.Float64()
	apiReq := &ShipmentRequest{
		PlannedShippingDateAndTime: c.plannedShipping(),
		Pickup:                     Pickup{IsRequested: false},
		ProductCode:                productCode,
		Accounts:                   c.accounts(),
		CustomerReferences:         []Reference{{Value: req.OrderRef, TypeCode: "CU"}},
		CustomerDetails: ShipmentParties{
			ShipperDetails:  partyToAPI(req.Pickup),
			ReceiverDetails: partyToAPI(req.Delivery),
		},
		Content: Content{
			Packages:              []Package{packageToAPI(req.Package)},
			IsCustomsDeclarable:   req.Pickup.Country() != req.Delivery.Country(),
			DeclaredValue:         declared,
			DeclaredValueCurrency: shipper.DefaultCurrency,
			Description:           description(req.Package),
			UnitOfMeasurement:     "metric",
		},
	}

	apiResp, err := c.apiClient.CreateShipment(ctx, apiReq, MessageReference(req.OrderRef))
	if err != nil {
		c.logger.Ctx(ctx).Error("DHL API error", zap.Error(err))
		return nil, classify(shipper.OpCreateShipment, err)
	}
	if apiResp.ShipmentTrackingNumber == "" {
		return nil, shipper.Rejected(carrierName, "NO_TRACKING_NUMBER", "shipment accepted without a tracking number")
	}

	url := apiResp.TrackingURL
	if url == "" {
		url = trackingURLPre + apiResp.ShipmentTrackingNumber
	}
	return &shipper.ShipmentResponse{
		TrackingID:      apiResp.ShipmentTrackingNumber,
		TrackingURL:     url,
		PartnerOrderRef: req.OrderRef,
	}, nil
}

// MessageReference derives the 36-character DHL Message-Reference for an order.
func MessageReference(orderRef string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("shipbroker:order:"+orderRef)).String()
}

// TrackShipment retrieves checkpoints, newest first.
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
	if len(apiResp.Shipments) == 0 {
		return nil, shipper.Wrap(carrierName, shipper.OpTrackShipment, shipper.ErrTrackingUnavailable)
	}

	s := apiResp.Shipments[0]
	resp := &shipper.TrackingResponse{
		TrackingID:    s.ShipmentTrackingNumber,
		PartnerStatus: s.Status,
		Status:        c.MapStatus(s.Status),
	}
	for i, e := range s.Events {
		location := ""
		if len(e.ServiceArea) > 0 {
			location = e.ServiceArea[0].Description
		}
		ts, _ := time.Parse("2006-01-02 15:04:05", e.Date+" "+e.Time)
		resp.History = append(resp.History, shipper.TrackingEvent{
			Timestamp:     ts,
			PartnerStatus: e.TypeCode,
			Status:        c.MapStatus(e.TypeCode),
			Location:      location,
			Description:   e.Description,
		})
		if i == 0 {
			resp.Location = location
			// The checkpoint code is more precise than the summary status.
			if st := c.MapStatus(e.TypeCode); st != shipper.StatusPending {
				resp.Status = st
			}
		}
	}
	return resp, nil
}

// CheckServiceability validates the destination postal code.
func (c *Client) CheckServiceability(ctx context.Context, req *shipper.ServiceabilityRequest) (_ *shipper.ServiceabilityResponse, err error) {
	country := strings.ToUpper(req.DestinationCountry)
	if country == "" {
		country = "IN"
	}
	ctx, span := shipper.StartSpan(ctx, c.tracer, carrierName, shipper.OpServiceability,
		attribute.String("destination_country", country),
	)
	defer func() { shipper.EndSpan(span, err) }()

	resp := &shipper.ServiceabilityResponse{Partner: carrierName}
	apiResp, err := c.apiClient.ValidateAddress(ctx, country, req.DestinationPincode)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusBadRequest) {
			return resp, nil
		}
		return nil, classify(shipper.OpServiceability, err)
	}
	if len(apiResp.Address) > 0 {
		resp.Serviceable = true
		resp.Prepaid = true
	}
	return resp, nil
}

// MapStatus translates DHL vocabulary into the internal status set.
func (c *Client) MapStatus(partnerStatus string) shipper.Status {
	return shipper.MapStatus(vocabulary, partnerStatus)
}

// ============================================================================
// Conversion helpers
// ============================================================================

func (c *Client) accounts() []Account {
	if c.config.AccountNumber == "" {
		return nil
	}
	return []Account{{TypeCode: "shipper", Number: c.config.AccountNumber}}
}

func (c *Client) plannedShipping() string {
	return c.now().UTC().Add(time.Hour).Format("2006-01-02T15:04:05") + " GMT+00:00"
}

func rateAddress(a shipper.Address) RateAddress {
	return RateAddress{PostalCode: a.Pincode, CityName: a.City, CountryCode: a.Country()}
}

func partyToAPI(a shipper.Address) Party {
	company := a.Company
	if company == "" {
		company = a.Name
	}
	return Party{
		PostalAddress: PostalAddress{
			PostalCode:   a.Pincode,
			CityName:     a.City,
			CountryCode:  a.Country(),
			ProvinceCode: a.State,
			AddressLine1: a.Line1,
			AddressLine2: a.Line2,
		},
		ContactInformation: ContactInformation{
			FullName:    a.Name,
			CompanyName: company,
			Phone:       a.Phone,
			Email:       a.Email,
		},
	}
}

func packageToAPI(p shipper.Package) Package {
	return Package{
		Weight: p.WeightKG,
		Dimensions: Dimensions{
			Length: orOne(p.Dimensions.LengthCM),
			Width:  orOne(p.Dimensions.WidthCM),
			Height: orOne(p.Dimensions.HeightCM),
		},
	}
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

func description(p shipper.Package) string {
	if p.Description != "" {
		return p.Description
	}
	return "General merchandise"
}

func productToOption(p Product) (shipper.RateOption, bool) {
	price, ok := billingPrice(p.TotalPrice)
	if !ok || price.Price <= 0 {
		return shipper.RateOption{}, false
	}
	total := decimal.NewFromFloat(price.Price)

	tax, surcharges := decimal.Zero, decimal.Zero
	for _, b := range p.TotalPriceBreakdown {
		if b.CurrencyType != price.CurrencyType {
			continue
		}
		for _, item := range b.PriceBreakdown {
			switch item.TypeCode {
			case "TAX":
				tax = tax.Add(decimal.NewFromFloat(item.Price))
			case "SPRQN", "STDIS":
			default:
				surcharges = surcharges.Add(decimal.NewFromFloat(item.Price))
			}
		}
	}
	base := total.Sub(tax).Sub(surcharges)

	serviceType := shipper.ServiceExpress
	if strings.Contains(strings.ToUpper(p.ProductName), "ECONOMY") {
		serviceType = shipper.ServiceEconomy
	}
	days, _ := strconv.Atoi(p.DeliveryCapabilities.TotalTransitDays)

	return shipper.RateOption{
		ServiceCode: p.ProductCode,
		ServiceName: "DHL " + p.ProductName,
		ServiceType: serviceType,
		Pricing: shipper.Pricing{
			Base:       base,
			Surcharges: surcharges,
			Tax:        tax,
			Total:      total,
			Currency:   price.PriceCurrency,
		}.Normalize(),
		TransitDaysMin: days,
		TransitDaysMax: days,
	}, true
}

func billingPrice(prices []Price) (Price, bool) {
	for _, p := range prices {
		if p.CurrencyType == "BILLC" {
			return p, true
		}
	}
	if len(prices) > 0 {
		return prices[0], true
	}
	return Price{}, false
}

func selectedETA(products []Product, code string) time.Time {
	for _, p := range products {
		if p.ProductCode != code {
			continue
		}
		if t, err := time.Parse("2006-01-02T15:04:05", p.DeliveryCapabilities.EstimatedDeliveryDateAndTime); err == nil {
			return t
		}
	}
	return time.Time{}
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
