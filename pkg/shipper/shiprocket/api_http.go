package shiprocket

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

	"github.com/tournevent/shipbroker/pkg/shipper"
	"golang.org/x/time/rate"
)

// sessionTTL is how long a login token is reused before logging in again.
const sessionTTL = 23 * time.Hour

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *shipper.TokenCache
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL           string
	Email             string
	Password          string
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

	c := &HTTPAPIClient{
		baseURL:  cfg.BaseURL,
		email:    cfg.Email,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
	c.tokens = shipper.NewTokenCache(c.login, shipper.DefaultTokenExpiryBuffer)
	return c
}

// Tokens exposes the session cache, mainly for tests.
func (c *HTTPAPIClient) Tokens() *shipper.TokenCache {
	return c.tokens
}

// login opens a session.
// POST /v1/external/auth/login
func (c *HTTPAPIClient) login(ctx context.Context) (shipper.Token, error) {
	body, err := json.Marshal(LoginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return shipper.Token{}, fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/external/auth/login", bytes.NewReader(body))
	if err != nil {
		return shipper.Token{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shipper.Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return shipper.Token{}, c.parseError(resp)
	}

	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return shipper.Token{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	return shipper.Token{Value: result.Token, ExpiresAt: time.Now().Add(sessionTTL)}, nil
}

// Serviceability lists courier offers for a corridor.
// GET /v1/external/courier/serviceability/
func (c *HTTPAPIClient) Serviceability(ctx context.Context, req *ServiceabilityRequest) (*ServiceabilityResponse, error) {
	q := url.Values{}
	q.Set("pickup_postcode", req.PickupPostcode)
	q.Set("delivery_postcode", req.DeliveryPostcode)
	q.Set("weight", strconv.FormatFloat(req.WeightKG, 'f', -1, 64))
	cod := "0"
	if req.COD {
		cod = "1"
	}
	q.Set("cod", cod)
	if req.DeclaredValue > 0 {
		q.Set("declared_value", strconv.FormatFloat(req.DeclaredValue, 'f', 2, 64))
	}

	var result ServiceabilityResponse
	if err := c.call(ctx, http.MethodGet, "/v1/external/courier/serviceability/?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateOrder creates an ad-hoc order.
// POST /v1/external/orders/create/adhoc
func (c *HTTPAPIClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	var result CreateOrderResponse
	if err := c.call(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AssignAWB assigns a courier.
// POST /v1/external/courier/assign/awb
func (c *HTTPAPIClient) AssignAWB(ctx context.Context, req *AssignAWBRequest) (*AssignAWBResponse, error) {
	var result AssignAWBResponse
	if err := c.call(ctx, http.MethodPost, "/v1/external/courier/assign/awb", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackAWB retrieves tracking information.
// GET /v1/external/courier/track/awb/{awb}
func (c *HTTPAPIClient) TrackAWB(ctx context.Context, awb string) (*TrackResponse, error) {
	var result TrackResponse
	if err := c.call(ctx, http.MethodGet, "/v1/external/courier/track/awb/"+url.PathEscape(awb), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs an authenticated request and decodes a 2xx body into out.
// A 401 drops the session and the request is replayed once with a new token.
func (c *HTTPAPIClient) call(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.doRequest(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.tokens.Invalidate()
			continue
		}

		err = c.decode(resp, out)
		resp.Body.Close()
		return err
	}
}

func (c *HTTPAPIClient) decode(resp *http.Response, out interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shipper.ErrAuthenticationFailed, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "shipbroker/1.0")

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
