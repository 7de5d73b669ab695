package server_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/export"
	"github.com/tournevent/shipbroker/internal/graphql"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/pricing"
	"github.com/tournevent/shipbroker/internal/server"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/tournevent/shipbroker/pkg/shipper/mock"
)

const (
	webhookToken  = "hook-secret"
	internalToken = "internal-secret"
)

type testEnv struct {
	handler http.Handler
	orch    *orders.Orchestrator
	ledger  *wallet.Ledger
	tokens  *auth.TokenManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := otelzap.New(zap.NewNop())
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	registry := shipper.NewRegistry()
	registry.Register(mock.New("delhivery"))
	registry.Register(mock.New("shiprocket"))

	ledger := wallet.NewLedger(memory.NewWalletStore(), logger)
	quoter := pricing.NewQuoter(registry, pricing.DefaultRateCard(), logger, metrics)
	orch := orders.NewOrchestrator(memory.NewOrderStore(), registry, quoter, ledger, logger)
	tokens := auth.NewTokenManager("test-secret", time.Hour)

	srv := server.New(server.Config{WebhookToken: webhookToken, InternalToken: internalToken}, server.Deps{
		Registry: registry,
		Orders:   orch,
		Wallet:   ledger,
		Quoter:   quoter,
		Tokens:   tokens,
		GraphQL:  graphql.NewResolver(registry, orch, ledger, logger, metrics),
		Metrics:  metrics,
		Gatherer: reg,
		Logger:   logger,
	})
	return &testEnv{handler: srv.Handler(), orch: orch, ledger: ledger, tokens: tokens}
}

func (e *testEnv) token(t *testing.T, userID string, admin bool) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(userID, admin)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.ledger.Credit(context.Background(), userID, amount, "test funding")
	require.NoError(t, err)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorResponse struct {
	Error struct {
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Shortfall string `json:"shortfall"`
	} `json:"error"`
}

func orderBody(partner string) map[string]any {
	return map[string]any{
		"partner":  partner,
		"pickup":   map[string]any{"name": "Warehouse", "phone": "9800000000", "line1": "1 Dock Rd", "city": "Mumbai", "state": "MH", "pincode": "400001"},
		"delivery": map[string]any{"name": "Asha", "phone": "9811111111", "line1": "22 MG Rd", "city": "Delhi", "state": "DL", "pincode": "110001"},
		"package":  map[string]any{"weight_kg": 1.2, "declared_value": "1500"},
	}
}

func TestServer_Health(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","partners":2}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/health")
}

func TestServer_RequiresAuthentication(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/wallet", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", decode[errorResponse](t, rec).Error.Kind)

	rec = e.do(t, http.MethodGet, "/api/wallet", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/admin/orders/attention", e.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_PlaceOrderChargesWallet(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "u1", false)
	e.fund(t, "u1", 50000)

	rec := e.do(t, http.MethodPost, "/api/orders", tok, orderBody("delhivery"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	placed := decode[struct {
		Order        orders.Order `json:"order"`
		BalanceAfter string       `json:"balance_after"`
	}](t, rec)
	assert.Equal(t, "393.80", placed.BalanceAfter)
	assert.Equal(t, orders.PaymentCompleted, placed.Order.Payment.Status)

	rec = e.do(t, http.MethodGet, "/api/orders/"+placed.Order.ID, tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/orders/"+placed.Order.ID, e.token(t, "u2", false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/orders/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/wallet", tok, nil)
	assert.Equal(t, "393.80", decode[map[string]any](t, rec)["balance"])

	rec = e.do(t, http.MethodGet, "/api/wallet/transactions?limit=1", tok, nil)
	txs := decode[map[string][]wallet.Transaction](t, rec)["transactions"]
	require.Len(t, txs, 1)
	assert.Equal(t, wallet.KindDebit, txs[0].Kind)
	assert.Equal(t, int64(10620), txs[0].Amount)
}

func TestServer_PlaceOrderErrors(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "u1", false)
	e.fund(t, "u1", 5000)

	rec := e.do(t, http.MethodPost, "/api/orders", tok, orderBody("delhivery"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, "InsufficientFunds", body.Error.Kind)
	assert.Equal(t, "56.20", body.Error.Shortfall)

	rec = e.do(t, http.MethodPost, "/api/orders", tok, orderBody("bluedart"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidPartner", decode[errorResponse](t, rec).Error.Kind)

	rec = e.do(t, http.MethodPost, "/api/orders", tok, `{"partner":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BadRequest", decode[errorResponse](t, rec).Error.Kind)

	list, err := e.orch.List(context.Background(), orders.Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestServer_QuotesAndServiceability(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "u1", false)

	rec := e.do(t, http.MethodPost, "/api/quotes", tok, orderBody("shiprocket"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decode[shipper.Quote](t, rec)
	assert.Equal(t, "shiprocket", quote.Partner)
	assert.Equal(t, "106.2", quote.Selected.Pricing.Total.String())

	rec = e.do(t, http.MethodPost, "/api/quotes/compare", tok, orderBody(""))
	require.Equal(t, http.StatusOK, rec.Code)
	compared := decode[struct {
		Quotes []shipper.Quote `json:"quotes"`
	}](t, rec)
	assert.Len(t, compared.Quotes, 2)

	rec = e.do(t, http.MethodGet, "/api/serviceability?origin=400001&destination=110001", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	svc := decode[struct {
		Results []shipper.ServiceabilityResponse `json:"results"`
	}](t, rec)
	assert.Len(t, svc.Results, 2)

	rec = e.do(t, http.MethodGet, "/api/serviceability?origin=400001", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/partners", tok, nil)
	assert.JSONEq(t, `{"partners":["delhivery","shiprocket"]}`, rec.Body.String())
}

func placeBooked(t *testing.T, e *testEnv, userID string) *orders.Order {
	t.Helper()
	e.fund(t, userID, 50000)
	rec := e.do(t, http.MethodPost, "/api/orders", e.token(t, userID, false), orderBody("delhivery"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	placed := decode[struct {
		Order orders.Order `json:"order"`
	}](t, rec)
	require.NoError(t, e.orch.BookShipment(context.Background(), placed.Order.ID))
	booked, err := e.orch.Get(context.Background(), "", placed.Order.ID)
	require.NoError(t, err)
	require.NotEmpty(t, booked.TrackingID)
	return booked
}

func TestServer_ShipmentWebhook(t *testing.T) {
	e := newTestEnv(t)
	booked := placeBooked(t, e, "u1")
	hook := func(body any, token string) *httptest.ResponseRecorder {
		return e.do(t, http.MethodPost, "/webhooks/shipments", "", body, "X-Webhook-Token", token)
	}

	rec := hook(map[string]any{"awb": booked.TrackingID, "status": "in_transit"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = hook(map[string]any{
		"awb":            booked.TrackingID,
		"partner_status": "Out For Delivery",
		"partner_name":   "delhivery",
		"tracking_data":  map[string]any{"location": "Delhi Hub", "timestamp": "2026-03-03T08:00:00Z"},
		"carrier_extra":  "ignored",
	}, webhookToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"order_id":"`+booked.ID+`","status":"out_for_delivery","previous_status":"confirmed","applied":true}`, rec.Body.String())

	rec = hook(map[string]any{"order_id": booked.ID, "status": "out_for_delivery", "tracking_data": map[string]any{"location": "Delhi Hub"}}, webhookToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["applied"])

	rec = hook(map[string]any{"status": "delivered"}, webhookToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hook(map[string]any{"order_id": "nope", "status": "delivered"}, webhookToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OrderNotFound", decode[errorResponse](t, rec).Error.Kind)

	rec = hook(map[string]any{"order_id": booked.ID, "status": "teleported"}, webhookToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidStatus", decode[errorResponse](t, rec).Error.Kind)

	got, err := e.orch.Get(context.Background(), "", booked.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusOutForDelivery, got.Status)
}

func TestServer_ShipmentWebhookMapsWithOrderPartner(t *testing.T) {
	e := newTestEnv(t)
	booked := placeBooked(t, e, "u1")

	rec := e.do(t, http.MethodPost, "/webhooks/shipments", "", map[string]any{
		"awb":            booked.TrackingID,
		"partner_status": "In Transit",
	}, "X-Webhook-Token", webhookToken)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"order_id":"`+booked.ID+`","status":"in_transit","previous_status":"confirmed","applied":true}`, rec.Body.String())
	got, err := e.orch.Get(context.Background(), "", booked.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusInTransit, got.Status)
	last := got.Metadata.StatusHistory[len(got.Metadata.StatusHistory)-1]
	assert.Equal(t, "In Transit", last.PartnerStatus)
}

func TestServer_InternalTopUps(t *testing.T) {
	e := newTestEnv(t)
	topUp := map[string]any{"payment_id": "pay_42", "user_id": "u9", "amount": 25000, "gateway": "razorpay"}

	rec := e.do(t, http.MethodPost, "/internal/topups", "", topUp)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/internal/topups", "", topUp, "X-Internal-Token", internalToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[wallet.Transaction](t, rec)

	rec = e.do(t, http.MethodPost, "/internal/topups", "", topUp, "X-Internal-Token", internalToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[wallet.Transaction](t, rec).ID)

	balance, err := e.ledger.Balance(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, int64(25000), balance)

	rec = e.do(t, http.MethodPost, "/internal/topups", "", map[string]any{"user_id": "u9", "amount": 1}, "X-Internal-Token", internalToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CancelAndAdminRoutes(t *testing.T) {
	e := newTestEnv(t)
	tok := e.token(t, "u1", false)
	admin := e.token(t, "ops", true)
	e.fund(t, "u1", 50000)

	rec := e.do(t, http.MethodPost, "/api/orders", tok, orderBody("delhivery"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[struct {
		Order orders.Order `json:"order"`
	}](t, rec).Order.ID

	rec = e.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", tok, map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, shipper.StatusCancelled, decode[orders.Order](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	balance, err := e.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance)

	rec = e.do(t, http.MethodPost, "/api/admin/wallets/u1/credit", admin, map[string]any{"amount": "12.50", "idempotency_key": "goodwill-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodPost, "/api/admin/wallets/u1/credit", admin, map[string]any{"amount": "12.50", "idempotency_key": "goodwill-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	balance, err = e.ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(51250), balance)

	rec = e.do(t, http.MethodPost, "/api/admin/wallets/u1/credit", admin, map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidAmount", decode[errorResponse](t, rec).Error.Kind)

	rec = e.do(t, http.MethodGet, "/api/admin/orders/attention", admin, nil)
	assert.JSONEq(t, `{"orders":[]}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/admin/orders/"+id+"/retry-booking", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_AdminStatusCorrection(t *testing.T) {
	e := newTestEnv(t)
	booked := placeBooked(t, e, "u1")
	admin := e.token(t, "ops", true)

	rec := e.do(t, http.MethodPost, "/api/admin/orders/"+booked.OrderNumber+"/status", admin,
		map[string]any{"status": "delivered", "remarks": "POD verified"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := e.orch.Get(context.Background(), "", booked.ID)
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusDelivered, got.Status)
	last := got.Metadata.StatusHistory[len(got.Metadata.StatusHistory)-1]
	assert.Equal(t, orders.SourceAdmin, last.Source)
}

func TestServer_ExportOrdersCSV(t *testing.T) {
	e := newTestEnv(t)
	booked := placeBooked(t, e, "u1")

	rec := e.do(t, http.MethodGet, "/api/orders/export.csv", e.token(t, "u1", false), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, export.OrderColumns, rows[0])
	assert.Contains(t, rows[1], booked.TrackingID)

	rec = e.do(t, http.MethodGet, "/api/orders?status=unknown", e.token(t, "u1", false), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GraphQL(t *testing.T) {
	e := newTestEnv(t)
	e.fund(t, "u1", 12345)

	rec := e.do(t, http.MethodPost, "/graphql", e.token(t, "u1", false),
		map[string]any{"query": `{ wallet { balance } partners { name } }`})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"wallet":{"balance":"123.45"},"partners":[{"name":"delhivery"},{"name":"shiprocket"}]}}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/graphql", "", map[string]any{"query": `{ partners { name } }`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
