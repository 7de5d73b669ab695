package shiprocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/pkg/shipper/shiprocket"
)

type fakeShiprocket struct {
	logins    atomic.Int32
	rejectOne atomic.Bool
}

func (f *fakeShiprocket) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req shiprocket.LoginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ops@example.com", req.Email)
		n := f.logins.Add(1)
		_ = json.NewEncoder(w).Encode(shiprocket.LoginResponse{Token: "tok-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/v1/external/courier/track/awb/", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectOne.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Token has expired","status_code":401}`))
			return
		}
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer tok-")
		_, _ = w.Write([]byte(`{"tracking_data":{"track_status":1,"shipment_track":[{"awb_code":"A1","current_status":"Delivered"}]}}`))
	})
	return mux
}

func TestHTTPAPIClient_LoginOnceUnderConcurrency(t *testing.T) {
	fake := &fakeShiprocket{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := shiprocket.NewHTTPAPIClient(shiprocket.HTTPAPIClientConfig{
		BaseURL:  srv.URL,
		Email:    "ops@example.com",
		Password: "secret",
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.TrackAWB(context.Background(), "A1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fake.logins.Load())
	assert.True(t, client.Tokens().Valid())
}

func TestHTTPAPIClient_ReauthenticatesOn401(t *testing.T) {
	fake := &fakeShiprocket{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client := shiprocket.NewHTTPAPIClient(shiprocket.HTTPAPIClientConfig{
		BaseURL:  srv.URL,
		Email:    "ops@example.com",
		Password: "secret",
	})

	_, err := client.TrackAWB(context.Background(), "A1")
	require.NoError(t, err)

	fake.rejectOne.Store(true)
	resp, err := client.TrackAWB(context.Background(), "A1")

	require.NoError(t, err)
	assert.Equal(t, "Delivered", resp.TrackingData.ShipmentTrack[0].CurrentStatus)
	assert.Equal(t, int32(2), fake.logins.Load())
}

func TestHTTPAPIClient_LoginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid email and password combination","status_code":400}`))
	}))
	defer srv.Close()

	client := shiprocket.NewHTTPAPIClient(shiprocket.HTTPAPIClientConfig{BaseURL: srv.URL})

	_, err := client.TrackAWB(context.Background(), "A1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email")
	assert.False(t, client.Tokens().Valid())
}
