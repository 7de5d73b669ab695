package dhl

import (
	"context"
)

// APIClient defines the interface for DHL Express API operations.
// OAuth2 token handling is internal to the implementation.
type APIClient interface {
	// GetRates retrieves product offers for a shipment
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	// CreateShipment books a shipment. messageRef is sent as the
	// Message-Reference header and is stable across retries.
	CreateShipment(ctx context.Context, req *ShipmentRequest, messageRef string) (*ShipmentResponse, error)

	// Track retrieves tracking information for a shipment tracking number
	Track(ctx context.Context, trackingNumber string) (*TrackingResponse, error)

	// ValidateAddress checks whether DHL serves a postal code
	ValidateAddress(ctx context.Context, countryCode, postalCode string) (*AddressValidateResponse, error)
}

// ============================================================================
// API Request/Response Types (match DHL Express API structure)
// ============================================================================

// TokenResponse is the OAuth2 client-credentials response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// RatesRequest maps to POST /rates.
type RatesRequest struct {
	CustomerDetails            RateParties `json:"customerDetails"`
	Accounts                   []Account   `json:"accounts,omitempty"`
	PlannedShippingDateAndTime string      `json:"plannedShippingDateAndTime"`
	UnitOfMeasurement          string      `json:"unitOfMeasurement"`
	IsCustomsDeclarable        bool        `json:"isCustomsDeclarable"`
	Packages                   []Package   `json:"packages"`
}

// RateParties holds the origin and destination of a rate request.
type RateParties struct {
	ShipperDetails  RateAddress `json:"shipperDetails"`
	ReceiverDetails RateAddress `json:"receiverDetails"`
}

// RateAddress is the minimal address used for rating.
type RateAddress struct {
	PostalCode  string `json:"postalCode"`
	CityName    string `json:"cityName"`
	CountryCode string `json:"countryCode"`
}

// Account is a DHL billing account.
type Account struct {
	TypeCode string `json:"typeCode"`
	Number   string `json:"number"`
}

// Package is one piece of a shipment.
type Package struct {
	Weight     float64    `json:"weight"`
	Dimensions Dimensions `json:"dimensions"`
}

// Dimensions in centimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RatesResponse lists DHL products.
type RatesResponse struct {
	Products []Product `json:"products"`
}

// Product is one DHL product offer.
type Product struct {
	ProductName          string               `json:"productName"`
	ProductCode          string               `json:"productCode"`
	TotalPrice           []Price              `json:"totalPrice"`
	TotalPriceBreakdown  []PriceBreakdown     `json:"totalPriceBreakdown,omitempty"`
	DeliveryCapabilities DeliveryCapabilities `json:"deliveryCapabilities"`
}

// Price is a price in one currency view.
type Price struct {
	CurrencyType  string  `json:"currencyType"` // BILLC, PULCL or BASEC
	PriceCurrency string  `json:"priceCurrency"`
	Price         float64 `json:"price"`
}

// PriceBreakdown itemizes a price.
type PriceBreakdown struct {
	CurrencyType   string          `json:"currencyType"`
	PriceCurrency  string          `json:"priceCurrency"`
	PriceBreakdown []BreakdownItem `json:"priceBreakdown"`
}

// BreakdownItem is one line of a price breakdown.
type BreakdownItem struct {
	TypeCode string  `json:"typeCode"` // SPRQN, STDIS, TAX, FF
	Price    float64 `json:"price"`
}

// DeliveryCapabilities describes the transit of a product.
type DeliveryCapabilities struct {
	EstimatedDeliveryDateAndTime string `json:"estimatedDeliveryDateAndTime"`
	TotalTransitDays             string `json:"totalTransitDays"`
}

// ShipmentRequest maps to POST /shipments.
type ShipmentRequest struct {
	PlannedShippingDateAndTime string          `json:"plannedShippingDateAndTime"`
	Pickup                     Pickup          `json:"pickup"`
	ProductCode                string          `json:"productCode"`
	Accounts                   []Account       `json:"accounts,omitempty"`
	CustomerReferences         []Reference     `json:"customerReferences,omitempty"`
	CustomerDetails            ShipmentParties `json:"customerDetails"`
	Content                    Content         `json:"content"`
}

// Pickup controls courier pickup booking.
type Pickup struct {
	IsRequested bool `json:"isRequested"`
}

// Reference is a customer reference.
type Reference struct {
	Value    string `json:"value"`
	TypeCode string `json:"typeCode"`
}

// ShipmentParties holds shipper and receiver.
type ShipmentParties struct {
	ShipperDetails  Party `json:"shipperDetails"`
	ReceiverDetails Party `json:"receiverDetails"`
}

// Party is a shipper or receiver.
type Party struct {
	PostalAddress      PostalAddress      `json:"postalAddress"`
	ContactInformation ContactInformation `json:"contactInformation"`
}

// PostalAddress is a full postal address.
type PostalAddress struct {
	PostalCode   string `json:"postalCode"`
	CityName     string `json:"cityName"`
	CountryCode  string `json:"countryCode"`
	ProvinceCode string `json:"provinceCode,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
}

// ContactInformation is a contact person.
type ContactInformation struct {
	FullName    string `json:"fullName"`
	CompanyName string `json:"companyName"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
}

// Content describes what is shipped.
type Content struct {
	Packages              []Package `json:"packages"`
	IsCustomsDeclarable   bool      `json:"isCustomsDeclarable"`
	DeclaredValue         float64   `json:"declaredValue,omitempty"`
	DeclaredValueCurrency string    `json:"declaredValueCurrency,omitempty"`
	Description           string    `json:"description"`
	UnitOfMeasurement     string    `json:"unitOfMeasurement"`
}

// ShipmentResponse is the booking result.
type ShipmentResponse struct {
	ShipmentTrackingNumber string     `json:"shipmentTrackingNumber"`
	TrackingURL            string     `json:"trackingUrl"`
	Packages               []Piece    `json:"packages"`
	Documents              []Document `json:"documents"`
}

// Piece is a booked package.
type Piece struct {
	ReferenceNumber int    `json:"referenceNumber"`
	TrackingNumber  string `json:"trackingNumber"`
}

// Document is a generated label or invoice.
type Document struct {
	ImageFormat string `json:"imageFormat"`
	Content     string `json:"content"`
	TypeCode    string `json:"typeCode"`
}

// TrackingResponse maps to GET /shipments/{n}/tracking.
type TrackingResponse struct {
	Shipments []TrackedShipment `json:"shipments"`
}

// TrackedShipment is the tracked state of a shipment.
type TrackedShipment struct {
	ShipmentTrackingNumber string  `json:"shipmentTrackingNumber"`
	Status                 string  `json:"status"`
	Events                 []Event `json:"events"`
}

// Event is one checkpoint.
type Event struct {
	Date        string        `json:"date"` // 2006-01-02
	Time        string        `json:"time"` // 15:04:05
	TypeCode    string        `json:"typeCode"`
	Description string        `json:"description"`
	ServiceArea []ServiceArea `json:"serviceArea"`
}

// ServiceArea is a DHL facility.
type ServiceArea struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// AddressValidateResponse maps to GET /address-validate.
type AddressValidateResponse struct {
	Address []ValidatedAddress `json:"address"`
}

// ValidatedAddress is a served address.
type ValidatedAddress struct {
	CountryCode string      `json:"countryCode"`
	PostalCode  string      `json:"postalCode"`
	CityName    string      `json:"cityName"`
	ServiceArea ServiceArea `json:"serviceArea"`
}

// APIError represents an error from the DHL API (RFC 7807 problem detail).
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title == "" {
		return e.Detail
	}
	return e.Title + ": " + e.Detail
}
