package delhivery

import (
	"context"
)

// APIClient defines the interface for Delhivery API operations.
// This abstraction allows for mock implementations during testing
// and real implementations in production.
type APIClient interface {
	// GetCharges fetches the shipping charge for one transport mode
	GetCharges(ctx context.Context, req *ChargesRequest) (*ChargesResponse, error)

	// CreateShipment manifests a new shipment
	CreateShipment(ctx context.Context, req *CreateRequest) (*CreateResponse, error)

	// Track retrieves tracking information for a waybill
	Track(ctx context.Context, waybill string) (*TrackResponse, error)

	// Pincode retrieves serviceability for a pincode
	Pincode(ctx context.Context, pincode string) (*PincodeResponse, error)
}

// Transport modes.
const (
	ModeExpress = "E"
	ModeSurface = "S"
)

// ============================================================================
// API Request/Response Types (match Delhivery B2C API structure)
// ============================================================================

// ChargesRequest maps to GET /api/kinko/v1/invoice/charges/.json query params.
type ChargesRequest struct {
	Mode          string // md: E or S
	OriginPin     string // o_pin
	DestPin       string // d_pin
	WeightGrams   int     // cgm
	PaymentType   string // pt: Pre-paid or COD
	ShipmentState string // ss: Delivered, RTO, DTO
}

// ChargesResponse is one element of the charges array.
type ChargesResponse struct {
	Status      string  `json:"status"`
	Zone        string  `json:"zone"`
	ChargedKG   float64 `json:"charged_weight"`
	ChargeDL    float64 `json:"charge_DL"`  // freight
	ChargeFSC   float64 `json:"charge_FSC"` // fuel surcharge
	ChargeDPH   float64 `json:"charge_DPH"` // handling
	ChargeCOD   float64 `json:"charge_COD"`
	ChargeRTO   float64 `json:"charge_RTO"`
	GrossAmount float64 `json:"gross_amount"`
	TotalAmount float64 `json:"total_amount"`
	TaxData     TaxData `json:"tax_data"`
}

// TaxData is the GST split of a charge.
type TaxData struct {
	IGST float64 `json:"IGST"`
	CGST float64 `json:"CGST"`
	SGST float64 `json:"SGST"`
}

// Total returns the sum of all GST components.
func (t TaxData) Total() float64 {
	return t.IGST + t.CGST + t.SGST
}

// CreateRequest maps to POST /api/cmu/create.json.
type CreateRequest struct {
	Shipments      []Shipment     `json:"shipments"`
	PickupLocation PickupLocation `json:"pickup_location"`
}

// Shipment is one consignment in a create request.
type Shipment struct {
	Name          string  `json:"name"`
	Address       string  `json:"add"`
	Pin           string  `json:"pin"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
	Phone         string  `json:"phone"`
	Order         string  `json:"order"` // client order id, de-duplicated by Delhivery
	PaymentMode   string  `json:"payment_mode"`
	TotalAmount   float64 `json:"total_amount"`
	ProductsDesc  string  `json:"products_desc,omitempty"`
	WeightGrams   int     `json:"weight"`
	Length        float64 `json:"shipment_length,omitempty"`
	Width         float64 `json:"shipment_width,omitempty"`
	Height        float64 `json:"shipment_height,omitempty"`
	ShippingMode  string  `json:"shipping_mode,omitempty"` // Express or Surface
	ReturnPin     string  `json:"return_pin,omitempty"`
	ReturnAddress string  `json:"return_add,omitempty"`
}

// PickupLocation identifies the registered warehouse.
type PickupLocation struct {
	Name    string `json:"name"`
	Address string `json:"add,omitempty"`
	City    string `json:"city,omitempty"`
	Pin     string `json:"pin_code,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// CreateResponse is the manifest response.
type CreateResponse struct {
	Success      bool             `json:"success"`
	Error        bool             `json:"error"`
	Remark       string           `json:"rmk,omitempty"`
	UploadWBN    string           `json:"upload_wbn,omitempty"`
	PackageCount int              `json:"package_count"`
	Packages     []PackageOutcome `json:"packages"`
}

// PackageOutcome is the per-consignment result of a create request.
type PackageOutcome struct {
	Status   string   `json:"status"` // Success or Fail
	Waybill  string   `json:"waybill"`
	RefNum   string   `json:"refnum"`
	Remarks  []string `json:"remarks"`
	Serviced bool     `json:"serviceable"`
}

// TrackResponse maps to GET /api/v1/packages/json/.
type TrackResponse struct {
	ShipmentData []ShipmentData `json:"ShipmentData"`
	Error        string         `json:"Error,omitempty"`
}

// ShipmentData wraps one tracked shipment.
type ShipmentData struct {
	Shipment TrackedShipment `json:"Shipment"`
}

// TrackedShipment is the tracked state of a waybill.
type TrackedShipment struct {
	AWB         string      `json:"AWB"`
	ReferenceNo string      `json:"ReferenceNo"`
	Status      ScanStatus  `json:"Status"`
	Scans       []ScanEntry `json:"Scans"`
}

// ScanStatus is the latest status of a shipment.
type ScanStatus struct {
	Status         string `json:"Status"`
	StatusType     string `json:"StatusType"` // UD, DL, RT
	StatusLocation string `json:"StatusLocation"`
	StatusDateTime string `json:"StatusDateTime"`
	Instructions   string `json:"Instructions"`
}

// ScanEntry wraps one scan.
type ScanEntry struct {
	ScanDetail ScanDetail `json:"ScanDetail"`
}

// ScanDetail is one scan event.
type ScanDetail struct {
	Scan            string `json:"Scan"`
	ScanType        string `json:"ScanType"`
	ScanDateTime    string `json:"ScanDateTime"`
	ScannedLocation string `json:"ScannedLocation"`
	Instructions    string `json:"Instructions"`
}

// PincodeResponse maps to GET /c/api/pin-codes/json/.
type PincodeResponse struct {
	DeliveryCodes []DeliveryCode `json:"delivery_codes"`
}

// DeliveryCode wraps one pincode record.
type DeliveryCode struct {
	PostalCode PostalCode `json:"postal_code"`
}

// PostalCode describes serviceability of a pincode.
type PostalCode struct {
	Pin      int    `json:"pin"`
	City     string `json:"city"`
	State    string `json:"state_code"`
	PrePaid  string `json:"pre_paid"` // Y or N
	COD      string `json:"cod"`
	Pickup   string `json:"pickup"`
	Embargo  bool   `json:"is_oda"`
	District string `json:"district"`
}

// APIError represents an error from the Delhivery API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}
