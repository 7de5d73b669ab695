package dhl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/tournevent/shipbroker/pkg/shipper/dhl"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func newTestClient(mockClient *dhl.MockAPIClient) *dhl.Client {
	logger := otelzap.New(zap.NewNop())
	return dhl.NewWithAPIClient(dhl.Config{AccountNumber: "123456789"}, mockClient, logger, nil)
}

func quoteRequest() *shipper.QuoteRequest {
	return &shipper.QuoteRequest{
		Origin:      shipper.Address{City: "Mumbai", Pincode: "400053"},
		Destination: shipper.Address{City: "London", Pincode: "EC1A 1BB", CountryCode: "gb"},
		Package:     shipper.Package{WeightKG: 2},
	}
}

func shipmentRequest(ref string) *shipper.ShipmentRequest {
	return &shipper.ShipmentRequest{
		OrderRef: ref,
		Pickup:   shipper.Address{Name: "Seller", Line1: "12 Link Rd", City: "Mumbai", Pincode: "400053", Phone: "9999999999"},
		Delivery: shipper.Address{Name: "Buyer", Line1: "1 King St", City: "London", Pincode: "EC1A 1BB", CountryCode: "GB", Phone: "+4420000000"},
		Package: shipper.Package{
			WeightKG:      2,
			DeclaredValue: decimal.NewFromInt(5000),
			Description:   "Books",
		},
		ServiceType: shipper.ServiceExpress,
		ServiceCode: "P",
	}
}

func TestClient_QuoteRate_CheapestProduct(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	quote, err := client.QuoteRate(context.Background(), quoteRequest())

	require.NoError(t, err)
	assert.Equal(t, "dhl", quote.Partner)
	assert.Equal(t, "H", quote.Selected.ServiceCode)
	assert.Equal(t, shipper.ServiceEconomy, quote.Selected.ServiceType)
	assert.Equal(t, "3000.00", quote.Selected.Pricing.Total.StringFixed(2))
	assert.Equal(t, 7, quote.Selected.TransitDaysMax)
	require.Len(t, quote.Alternatives, 1)
	assert.Equal(t, "P", quote.Alternatives[0].ServiceCode)
}

func TestClient_QuoteRate_ExpressBreakdown(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	req := quoteRequest()
	req.ServiceHint = shipper.ServiceExpress
	quote, err := client.QuoteRate(context.Background(), req)

	require.NoError(t, err)
	p := quote.Selected.Pricing
	assert.Equal(t, "4200.00", p.Total.StringFixed(2))
	assert.Equal(t, "756.00", p.Tax.StringFixed(2))
	assert.Equal(t, "420.00", p.Surcharges.StringFixed(2))
	assert.Equal(t, "3024.00", p.Base.StringFixed(2))
	assert.Equal(t, "INR", p.Currency)
	assert.NotNil(t, quote.EstimatedDelivery)
}

func TestClient_QuoteRate_RequestShape(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnGetRates = func(ctx context.Context, req *dhl.RatesRequest) (*dhl.RatesResponse, error) {
		assert.True(t, req.IsCustomsDeclarable)
		assert.Equal(t, "GB", req.CustomerDetails.ReceiverDetails.CountryCode)
		assert.Equal(t, "IN", req.CustomerDetails.ShipperDetails.CountryCode)
		assert.Equal(t, "metric", req.UnitOfMeasurement)
		require.Len(t, req.Accounts, 1)
		assert.Equal(t, "123456789", req.Accounts[0].Number)
		return &dhl.RatesResponse{}, nil
	}
	client := newTestClient(mockAPI)

	_, err := client.QuoteRate(context.Background(), quoteRequest())

	assert.True(t, errors.Is(err, shipper.ErrNoServiceableRoute))
}

func TestClient_QuoteRate_Outage(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.SimulateErrors = true
	client := newTestClient(mockAPI)

	_, err := client.QuoteRate(context.Background(), quoteRequest())

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrProviderUnavailable))
	assert.True(t, shipper.IsRetryable(err))
}

func TestClient_QuoteRate_UnknownLane(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnGetRates = func(ctx context.Context, req *dhl.RatesRequest) (*dhl.RatesResponse, error) {
		return nil, &dhl.APIError{StatusCode: 400, Title: "Bad Request", Detail: "Product not available between this origin and destination"}
	}
	client := newTestClient(mockAPI)

	_, err := client.QuoteRate(context.Background(), quoteRequest())

	assert.True(t, errors.Is(err, shipper.ErrNoServiceableRoute))
}

func TestClient_CreateShipment_Success(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	resp, err := client.CreateShipment(context.Background(), shipmentRequest("SB20261015ABC123"))

	require.NoError(t, err)
	assert.Len(t, resp.TrackingID, 10)
	assert.Contains(t, resp.TrackingURL, resp.TrackingID)
	assert.Equal(t, "SB20261015ABC123", resp.PartnerOrderRef)
}

func TestClient_CreateShipment_ReplaySameReference(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	first, err := client.CreateShipment(context.Background(), shipmentRequest("SB1"))
	require.NoError(t, err)
	second, err := client.CreateShipment(context.Background(), shipmentRequest("SB1"))
	require.NoError(t, err)
	other, err := client.CreateShipment(context.Background(), shipmentRequest("SB2"))
	require.NoError(t, err)

	assert.Equal(t, first.TrackingID, second.TrackingID)
	assert.NotEqual(t, first.TrackingID, other.TrackingID)
}

func TestClient_CreateShipment_MapsRequest(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnCreateShipment = func(ctx context.Context, req *dhl.ShipmentRequest, messageRef string) (*dhl.ShipmentResponse, error) {
		assert.Equal(t, dhl.MessageReference("SB1"), messageRef)
		assert.Len(t, messageRef, 36)
		assert.Equal(t, "P", req.ProductCode)
		require.Len(t, req.CustomerReferences, 1)
		assert.Equal(t, "SB1", req.CustomerReferences[0].Value)
		assert.Equal(t, "GB", req.CustomerDetails.ReceiverDetails.PostalAddress.CountryCode)
		assert.Equal(t, "Buyer", req.CustomerDetails.ReceiverDetails.ContactInformation.CompanyName)
		assert.True(t, req.Content.IsCustomsDeclarable)
		assert.Equal(t, 5000.0, req.Content.DeclaredValue)
		assert.Equal(t, "Books", req.Content.Description)
		return &dhl.ShipmentResponse{ShipmentTrackingNumber: "1234567890"}, nil
	}
	client := newTestClient(mockAPI)

	resp, err := client.CreateShipment(context.Background(), shipmentRequest("SB1"))

	require.NoError(t, err)
	assert.Equal(t, "https://www.dhl.com/in-en/home/tracking.html?tracking-id=1234567890", resp.TrackingURL)
}

func TestClient_CreateShipment_Rejected(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnCreateShipment = func(ctx context.Context, req *dhl.ShipmentRequest, messageRef string) (*dhl.ShipmentResponse, error) {
		return nil, &dhl.APIError{StatusCode: 422, Title: "Unprocessable Entity", Detail: "Receiver phone is invalid"}
	}
	client := newTestClient(mockAPI)

	_, err := client.CreateShipment(context.Background(), shipmentRequest("SB1"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shipper.ErrShipmentRejected))
	assert.False(t, shipper.IsRetryable(err))
	assert.Contains(t, err.Error(), "dhl")
	assert.Contains(t, err.Error(), shipper.OpCreateShipment)
}

func TestClient_CreateShipment_ServerError(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnCreateShipment = func(ctx context.Context, req *dhl.ShipmentRequest, messageRef string) (*dhl.ShipmentResponse, error) {
		return nil, &dhl.APIError{StatusCode: 500, Title: "Internal Server Error"}
	}
	client := newTestClient(mockAPI)

	_, err := client.CreateShipment(context.Background(), shipmentRequest("SB1"))

	assert.True(t, errors.Is(err, shipper.ErrProviderUnavailable))
	assert.True(t, shipper.IsRetryable(err))
}

func TestClient_TrackShipment(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	resp, err := client.TrackShipment(context.Background(), "1234500000")

	require.NoError(t, err)
	assert.Equal(t, "1234500000", resp.TrackingID)
	assert.Equal(t, shipper.StatusInTransit, resp.Status)
	assert.Equal(t, "Leipzig-DE", resp.Location)
	require.Len(t, resp.History, 2)
	assert.Equal(t, shipper.StatusPickedUp, resp.History[1].Status)
	assert.Equal(t, 18, resp.History[0].Timestamp.Hour())
}

func TestClient_TrackShipment_Delivered(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnTrack = func(ctx context.Context, trackingNumber string) (*dhl.TrackingResponse, error) {
		return &dhl.TrackingResponse{Shipments: []dhl.TrackedShipment{{
			ShipmentTrackingNumber: trackingNumber,
			Status:                 "delivered",
			Events: []dhl.Event{
				{Date: "2026-10-14", Time: "11:00:00", TypeCode: "OK", Description: "Delivered"},
				{Date: "2026-10-14", Time: "08:00:00", TypeCode: "WC", Description: "With delivery courier"},
			},
		}}}, nil
	}
	client := newTestClient(mockAPI)

	resp, err := client.TrackShipment(context.Background(), "1")

	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, resp.Status)
	assert.Equal(t, shipper.StatusOutForDelivery, resp.History[1].Status)
}

func TestClient_TrackShipment_NotFound(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	mockAPI.OnTrack = func(ctx context.Context, trackingNumber string) (*dhl.TrackingResponse, error) {
		return nil, &dhl.APIError{StatusCode: 404, Title: "Not Found", Detail: "No shipments found"}
	}
	client := newTestClient(mockAPI)

	_, err := client.TrackShipment(context.Background(), "1")

	assert.True(t, errors.Is(err, shipper.ErrTrackingUnavailable))
}

func TestClient_CheckServiceability(t *testing.T) {
	mockAPI := dhl.NewMockAPIClient()
	client := newTestClient(mockAPI)

	resp, err := client.CheckServiceability(context.Background(), &shipper.ServiceabilityRequest{
		DestinationPincode: "EC1A 1BB",
		DestinationCountry: "gb",
	})
	require.NoError(t, err)
	assert.True(t, resp.Serviceable)
	assert.False(t, resp.COD)

	mockAPI.OnValidateAddress = func(ctx context.Context, countryCode, postalCode string) (*dhl.AddressValidateResponse, error) {
		assert.Equal(t, "GB", countryCode)
		return nil, &dhl.APIError{StatusCode: 404, Title: "Not Found"}
	}
	resp, err = client.CheckServiceability(context.Background(), &shipper.ServiceabilityRequest{
		DestinationPincode: "ZZ9",
		DestinationCountry: "GB",
	})
	require.NoError(t, err)
	assert.False(t, resp.Serviceable)
}

func TestClient_MapStatus(t *testing.T) {
	client := newTestClient(dhl.NewMockAPIClient())

	tests := map[string]shipper.Status{
		"PU":          shipper.StatusPickedUp,
		"pre-transit": shipper.StatusConfirmed,
		"transit":     shipper.StatusInTransit,
		"WC":          shipper.StatusOutForDelivery,
		"OK":          shipper.StatusDelivered,
		"RT":          shipper.StatusRTO,
		"":            shipper.StatusPending,
		"XYZ":         shipper.StatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, client.MapStatus(in), in)
	}
}
