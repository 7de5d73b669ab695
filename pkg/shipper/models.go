package shipper

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a partner omits the currency of a price.
const DefaultCurrency = "INR"

// Status represents the normalized status of a shipment.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRTO            Status = "rto"
)

var allStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPickedUp,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusRTO,
}

// Statuses returns the closed set of internal statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s belongs to the internal status set.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRTO
}

// ParseStatus accepts an internal status name in any case, with spaces or dashes
// in place of underscores.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(NormalizeVocabulary(raw), " ", "_"))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

// ServiceType represents the shipping service tier.
type ServiceType string

const (
	ServiceStandard ServiceType = "standard"
	ServiceExpress  ServiceType = "express"
	ServiceSurface  ServiceType = "surface"
	ServiceAir      ServiceType = "air"
	ServiceEconomy  ServiceType = "economy"
)

// Address represents a pickup or delivery address.
type Address struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state"`
	Pincode     string `json:"pincode"`
	CountryCode string `json:"country_code,omitempty"` // ISO 3166-1 alpha-2, defaults to IN
}

// Country returns the address country, defaulting to India.
func (a Address) Country() string {
	if a.CountryCode == "" {
		return "IN"
	}
	return strings.ToUpper(a.CountryCode)
}

// Dimensions are in centimetres.
type Dimensions struct {
	LengthCM float64 `json:"length_cm"`
	WidthCM  float64 `json:"width_cm"`
	HeightCM float64 `json:"height_cm"`
}

// Package represents the parcel to be shipped.
type Package struct {
	WeightKG      float64         `json:"weight_kg"`
	Dimensions    Dimensions      `json:"dimensions"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
	Description   string          `json:"description,omitempty"`
}

// Validate checks physical attributes.
func (p Package) Validate() error {
	if p.WeightKG <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidPackage)
	}
	if p.Dimensions.LengthCM < 0 || p.Dimensions.WidthCM < 0 || p.Dimensions.HeightCM < 0 {
		return fmt.Errorf("%w: dimensions must not be negative", ErrInvalidPackage)
	}
	if p.DeclaredValue.IsNegative() {
		return fmt.Errorf("%w: declared value must not be negative", ErrInvalidPackage)
	}
	return nil
}

// Pricing is the normalized price breakdown of a shipment.
type Pricing struct {
	Base       decimal.Decimal `json:"base"`
	Surcharges decimal.Decimal `json:"surcharges"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

// Normalize rounds every component to two places, fills a missing currency and
// derives a missing total from its components.
func (p Pricing) Normalize() Pricing {
	p.Base = p.Base.Round(2)
	p.Surcharges = p.Surcharges.Round(2)
	p.Tax = p.Tax.Round(2)
	if p.Total.IsZero() {
		p.Total = p.Base.Add(p.Surcharges).Add(p.Tax)
	}
	p.Total = p.Total.Round(2)
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	p.Currency = strings.ToUpper(p.Currency)
	return p
}

// Charge is one line of a partner's price breakdown.
type Charge struct {
	Code        string          `json:"code"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// RateOption is one service tier offered by a partner.
type RateOption struct {
	ServiceCode    string      `json:"service_code"`
	ServiceName    string      `json:"service_name"`
	ServiceType    ServiceType `json:"service_type"`
	Pricing        Pricing     `json:"pricing"`
	Charges        []Charge    `json:"charges,omitempty"`
	TransitDaysMin int         `json:"transit_days_min,omitempty"`
	TransitDaysMax int         `json:"transit_days_max,omitempty"`
}

// Quote is the normalized output of a rate call.
type Quote struct {
	Partner           string       `json:"partner"`
	Selected          RateOption   `json:"selected"`
	Alternatives      []RateOption `json:"alternatives,omitempty"`
	EstimatedDelivery *time.Time   `json:"estimated_delivery,omitempty"`
	Fallback          bool         `json:"fallback"`
	QuotedAt          time.Time    `json:"quoted_at"`
}

// Pricing returns the price of the selected option.
func (q *Quote) Pricing() Pricing {
	return q.Selected.Pricing
}

// QuoteRequest is the request for a rate quote.
type QuoteRequest struct {
	Origin      Address
	Destination Address
	Package     Package
	ServiceHint ServiceType
}

// ShipmentRequest is the request for booking a shipment.
type ShipmentRequest struct {
	OrderRef    string // stable per order, used as the partner idempotency key
	Pickup      Address
	Delivery    Address
	Package     Package
	ServiceType ServiceType
	ServiceCode string
	Amount      decimal.Decimal
}

// ShipmentResponse is the partner acknowledgment of a booking.
type ShipmentResponse struct {
	TrackingID        string
	TrackingURL       string
	PartnerOrderRef   string
	LabelURL          string
	PreviouslyCreated bool
}

// TrackingEvent is one scan in a shipment's history.
type TrackingEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	PartnerStatus string    `json:"partner_status"`
	Status        Status    `json:"status"`
	Location      string    `json:"location,omitempty"`
	Description   string    `json:"description,omitempty"`
}

// TrackingResponse is the current partner-side state of a shipment.
type TrackingResponse struct {
	TrackingID    string
	PartnerStatus string
	Status        Status
	Location      string
	History       []TrackingEvent
}

// ServiceabilityRequest asks whether a partner serves a route.
type ServiceabilityRequest struct {
	OriginPincode      string
	DestinationPincode string
	DestinationCountry string
	WeightKG           float64
}

// ServiceabilityResponse is the partner's answer for a route.
type ServiceabilityResponse struct {
	Partner       string `json:"partner"`
	Serviceable   bool   `json:"serviceable"`
	Prepaid       bool   `json:"prepaid"`
	COD           bool   `json:"cod"`
	EstimatedDays int    `json:"estimated_days,omitempty"`
}

// BuildQuote picks the option matching hint, or the cheapest one, and returns
// the rest as alternatives ordered by total. It fails with ErrNoServiceableRoute
// when options is empty.
func BuildQuote(partner string, options []RateOption, hint ServiceType, now time.Time) (*Quote, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("%s: %w", partner, ErrNoServiceableRoute)
	}
	sorted := make([]RateOption, len(options))
	copy(sorted, options)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Pricing.Total.LessThan(sorted[j].Pricing.Total)
	})

	idx := 0
	if hint != "" {
		for i, o := range sorted {
			if o.ServiceType == hint {
				idx = i
				break
			}
		}
	}

	q := &Quote{
		Partner:  partner,
		Selected: sorted[idx],
		QuotedAt: now,
	}
	for i, o := range sorted {
		if i != idx {
			q.Alternatives = append(q.Alternatives, o)
		}
	}
	if days := q.Selected.TransitDaysMax; days > 0 {
		eta := now.AddDate(0, 0, days)
		q.EstimatedDelivery = &eta
	}
	return q, nil
}
