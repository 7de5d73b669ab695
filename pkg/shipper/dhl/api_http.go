package dhl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tournevent/shipbroker/pkg/shipper"
	"golang.org/x/time/rate"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
// It obtains bearer tokens with the OAuth2 client-credentials grant.
type HTTPAPIClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	limiter      *rate.Limiter
	tokens       *shipper.TokenCache
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL           string
	ClientID          string
	ClientSecret      string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	c := &HTTPAPIClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
	c.tokens = shipper.NewTokenCache(c.fetchToken, shipper.DefaultTokenExpiryBuffer)
	return c
}

// Tokens exposes the token cache, mainly for tests.
func (c *HTTPAPIClient) Tokens() *shipper.TokenCache {
	return c.tokens
}

// fetchToken runs the client-credentials grant.
// POST /oauth/token
func (c *HTTPAPIClient) fetchToken(ctx context.Context) (shipper.Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return shipper.Token{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issued := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return shipper.Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return shipper.Token{}, c.parseError(resp)
	}

	var result TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return shipper.Token{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return shipper.Token{
		Value:     result.AccessToken,
		ExpiresAt: issued.Add(time.Duration(result.ExpiresIn) * time.Second),
	}, nil
}

// GetRates retrieves product offers.
// POST /rates
func (c *HTTPAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	var result RatesResponse
	if err := c.call(ctx, http.MethodPost, "/rates", req, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateShipment books a shipment.
// POST /shipments
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *ShipmentRequest, messageRef string) (*ShipmentResponse, error) {
	headers := map[string]string{"Message-Reference": messageRef}
	var result ShipmentResponse
	if err := c.call(ctx, http.MethodPost, "/shipments", req, headers, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Track retrieves tracking checkpoints.
// GET /shipments/{shipmentTrackingNumber}/tracking
func (c *HTTPAPIClient) Track(ctx context.Context, trackingNumber string) (*TrackingResponse, error) {
	var result TrackingResponse
	path := "/shipments/" + url.PathEscape(trackingNumber) + "/tracking?trackingView=all-checkpoints"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateAddress checks whether a postal code is served.
// GET /address-validate
func (c *HTTPAPIClient) ValidateAddress(ctx context.Context, countryCode, postalCode string) (*AddressValidateResponse, error) {
	q := url.Values{}
	q.Set("type", "delivery")
	q.Set("countryCode", countryCode)
	q.Set("postalCode", postalCode)

	var result AddressValidateResponse
	if err := c.call(ctx, http.MethodGet, "/address-validate?"+q.Encode(), nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs an authenticated request and decodes a 2xx body into out.
// A 401 drops the token and the request is replayed once.
func (c *HTTPAPIClient) call(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.doRequest(ctx, method, path, payload, headers)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.tokens.Invalidate()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			err = c.parseError(resp)
		} else if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
			err = fmt.Errorf("failed to decode response: %w", err)
		}
		resp.Body.Close()
		return err
	}
}

// doRequest performs an HTTP request with proper headers and authentication.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, payload []byte, headers map[string]string) (*http.Response, error) {
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
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from an HTTP response.
func (c *HTTPAPIClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && (apiErr.Detail != "" || apiErr.Title != "") {
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Title: oauthErr.Error, Detail: oauthErr.Description}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Title:      fmt.Sprintf("HTTP %d", resp.StatusCode),
		Detail:     string(body),
	}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
