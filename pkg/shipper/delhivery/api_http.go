package delhivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPAPIClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetCharges fetches the charge for one transport mode.
// GET /api/kinko/v1/invoice/charges/.json
func (c *HTTPAPIClient) GetCharges(ctx context.Context, req *ChargesRequest) (*ChargesResponse, error) {
	q := url.Values{}
	q.Set("md", req.Mode)
	q.Set("o_pin", req.OriginPin)
	q.Set("d_pin", req.DestPin)
	q.Set("cgm", strconv.Itoa(req.WeightGrams))
	q.Set("pt", req.PaymentType)
	q.Set("ss", req.ShipmentState)

	resp, err := c.doRequest(ctx, http.MethodGet, "/api/kinko/v1/invoice/charges/.json?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result []ChargesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode charges response: %w", err)
	}
	if len(result) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: "NO_CHARGES", Message: "no charges returned for route"}
	}
	return &result[0], nil
}

// CreateShipment manifests a shipment.
// POST /api/cmu/create.json
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/cmu/create.json", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.parseError(resp)
	}

	var result CreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return &result, nil
}

// Track retrieves tracking information.
// GET /api/v1/packages/json/?waybill={waybill}
func (c *HTTPAPIClient) Track(ctx context.Context, waybill string) (*TrackResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/packages/json/?waybill="+url.QueryEscape(waybill), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result TrackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode tracking response: %w", err)
	}
	return &result, nil
}

// Pincode retrieves serviceability for a pincode.
// GET /c/api/pin-codes/json/?filter_codes={pincode}
func (c *HTTPAPIClient) Pincode(ctx context.Context, pincode string) (*PincodeResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/c/api/pin-codes/json/?filter_codes="+url.QueryEscape(pincode), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result PincodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pincode response: %w", err)
	}
	return &result, nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey) // Delhivery uses a static token header
	req.Header.Set("User-Agent", "shipbroker/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	var simpleErr struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
		Remark string `json:"rmk"`
	}
	if err := json.Unmarshal(body, &simpleErr); err == nil {
		msg := simpleErr.Error
		if msg == "" {
			msg = simpleErr.Detail
		}
		if msg == "" {
			msg = simpleErr.Remark
		}
		if msg != "" {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
				Message:    msg,
			}
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message:    string(body),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
