package shiprocket

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// APIClient defines the interface for Shiprocket API operations.
// Authentication is handled by the implementation.
type APIClient interface {
	// Serviceability lists couriers and rates for a corridor
	Serviceability(ctx context.Context, req *ServiceabilityRequest) (*ServiceabilityResponse, error)

	// CreateOrder creates an ad-hoc order
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error)

	// AssignAWB assigns a courier and waybill to a shipment
	AssignAWB(ctx context.Context, req *AssignAWBRequest) (*AssignAWBResponse, error)

	// TrackAWB retrieves tracking information for an AWB
	TrackAWB(ctx context.Context, awb string) (*TrackResponse, error)
}

// ============================================================================
// API Request/Response Types (match Shiprocket external API v1)
// ============================================================================

// LoginRequest maps to POST /v1/external/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	CompanyID int    `json:"company_id"`
	Token     string `json:"token"`
}

// ServiceabilityRequest maps to GET /v1/external/courier/serviceability/ query params.
type ServiceabilityRequest struct {
	PickupPostcode   string
	DeliveryPostcode string
	WeightKG         float64
	COD              bool
	DeclaredValue    float64
}

// ServiceabilityResponse lists the couriers available for a corridor.
type ServiceabilityResponse struct {
	Status int                `json:"status"`
	Data   ServiceabilityData `json:"data"`
}

// ServiceabilityData wraps the courier list.
type ServiceabilityData struct {
	AvailableCourierCompanies []CourierCompany `json:"available_courier_companies"`
	RecommendedCourierID      int              `json:"recommended_courier_company_id"`
}

// CourierCompany is one courier offer.
type CourierCompany struct {
	CourierCompanyID      int         `json:"courier_company_id"`
	CourierName           string      `json:"courier_name"`
	Rate                  float64     `json:"rate"`
	FreightCharge         float64     `json:"freight_charge"`
	CODCharges            float64     `json:"cod_charges"`
	OtherCharges          float64     `json:"other_charges"`
	EstimatedDeliveryDays FlexibleInt `json:"estimated_delivery_days"`
	ETD                   string      `json:"etd"`
	IsSurface             bool        `json:"is_surface"`
	COD                   int         `json:"cod"`
	Rating                float64     `json:"rating"`
}

// FlexibleInt accepts a JSON number or a numeric string.
type FlexibleInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleInt) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexibleInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = FlexibleInt(n)
	return nil
}

// CreateOrderRequest maps to POST /v1/external/orders/create/adhoc.
type CreateOrderRequest struct {
	OrderID             string      `json:"order_id"` // client order id, unique per channel
	OrderDate           string      `json:"order_date"`
	PickupLocation      string      `json:"pickup_location"`
	BillingCustomerName string      `json:"billing_customer_name"`
	BillingLastName     string      `json:"billing_last_name"`
	BillingAddress      string      `json:"billing_address"`
	BillingAddress2     string      `json:"billing_address_2,omitempty"`
	BillingCity         string      `json:"billing_city"`
	BillingPincode      string      `json:"billing_pincode"`
	BillingState        string      `json:"billing_state"`
	BillingCountry      string      `json:"billing_country"`
	BillingEmail        string      `json:"billing_email"`
	BillingPhone        string      `json:"billing_phone"`
	ShippingIsBilling   bool        `json:"shipping_is_billing"`
	OrderItems          []OrderItem `json:"order_items"`
	PaymentMethod       string      `json:"payment_method"`
	SubTotal            float64     `json:"sub_total"`
	Length              float64     `json:"length"`
	Breadth             float64     `json:"breadth"`
	Height              float64     `json:"height"`
	Weight              float64     `json:"weight"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	Name         string  `json:"name"`
	SKU          string  `json:"sku"`
	Units        int     `json:"units"`
	SellingPrice float64 `json:"selling_price"`
}

// CreateOrderResponse is the response of an ad-hoc create.
type CreateOrderResponse struct {
	OrderID     int64       `json:"order_id"`
	ShipmentID  int64       `json:"shipment_id"`
	Status      string      `json:"status"`
	StatusCode  int         `json:"status_code"`
	AWBCode     string      `json:"awb_code"`
	CourierID   FlexibleInt `json:"courier_company_id"`
	CourierName string      `json:"courier_name"`
}

// AssignAWBRequest maps to POST /v1/external/courier/assign/awb.
type AssignAWBRequest struct {
	ShipmentID int64 `json:"shipment_id"`
	CourierID  int   `json:"courier_id,omitempty"`
}

// AssignAWBResponse is the AWB assignment result.
type AssignAWBResponse struct {
	AWBAssignStatus int           `json:"awb_assign_status"`
	Message         string        `json:"message,omitempty"`
	Response        AssignPayload `json:"response"`
}

// AssignPayload wraps the assignment data.
type AssignPayload struct {
	Data AssignData `json:"data"`
}

// AssignData is the assigned courier and AWB.
type AssignData struct {
	AWBCode          string `json:"awb_code"`
	CourierCompanyID int    `json:"courier_company_id"`
	CourierName      string `json:"courier_name"`
	ShipmentID       int64  `json:"shipment_id"`
	AWBCodeStatus    int    `json:"awb_code_status"`
}

// TrackResponse maps to GET /v1/external/courier/track/awb/{awb}.
type TrackResponse struct {
	TrackingData TrackingData `json:"tracking_data"`
}

// TrackingData is the tracking payload.
type TrackingData struct {
	TrackStatus             int             `json:"track_status"`
	ShipmentStatus          int             `json:"shipment_status"`
	ShipmentTrack           []ShipmentTrack `json:"shipment_track"`
	ShipmentTrackActivities []Activity      `json:"shipment_track_activities"`
	TrackURL                string          `json:"track_url"`
	Error                   string          `json:"error,omitempty"`
}

// ShipmentTrack is the summary of a tracked shipment.
type ShipmentTrack struct {
	AWBCode       string `json:"awb_code"`
	CurrentStatus string `json:"current_status"`
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DeliveredDate string `json:"delivered_date"`
}

// Activity is one scan.
type Activity struct {
	Date     string `json:"date"`
	Status   string `json:"status"`
	Activity string `json:"activity"`
	Location string `json:"location"`
	SRStatus string `json:"sr-status-label"`
}

// APIError represents an error from the Shiprocket API.
type APIError struct {
	StatusCode int                 `json:"status_code"`
	Message    string              `json:"message"`
	Errors     map[string][]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return e.Message
	}
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+strings.Join(e.Errors[field], ", "))
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}
