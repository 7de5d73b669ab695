package graphql_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/auth"
	"github.com/tournevent/shipbroker/internal/graphql"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/tournevent/shipbroker/pkg/shipper/mock"
)

type fakeOrders struct {
	list []*orders.Order
	err  error
}

func (f *fakeOrders) Get(_ context.Context, userID, id string) (*orders.Order, error) {
	for _, o := range f.list {
		if o.ID == id {
			if o.UserID != userID {
				return nil, orders.ErrUnauthorized
			}
			return o, nil
		}
	}
	return nil, orders.ErrOrderNotFound
}

func (f *fakeOrders) List(_ context.Context, filter orders.Filter) ([]*orders.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*orders.Order
	for _, o := range f.list {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

var created = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testOrder(id, user string, status shipper.Status) *orders.Order {
	return &orders.Order{
		ID:          id,
		OrderNumber: "SB20260302" + id,
		UserID:      user,
		Partner:     "delhivery",
		ServiceType: shipper.ServiceStandard,
		Status:      status,
		TrackingID:  "AWB" + id,
		Pickup:      shipper.Address{Name: "Warehouse", City: "Mumbai", State: "MH", Pincode: "400001"},
		Delivery:    shipper.Address{Name: "Asha", City: "Delhi", State: "DL", Pincode: "110001"},
		Package:     shipper.Package{WeightKG: 1.5},
		Payment:     orders.Payment{Status: orders.PaymentCompleted, Amount: 10620},
		Booking:     orders.Booking{State: orders.BookingBooked},
		Metadata: orders.Metadata{StatusHistory: []orders.HistoryEntry{
			{Status: shipper.StatusPending, Source: "order", Remarks: "Order placed", At: created},
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newTestResolver(t *testing.T) (*graphql.Resolver, *fakeOrders) {
	t.Helper()
	registry := shipper.NewRegistry()
	registry.Register(mock.New("delhivery"))
	registry.Register(mock.New("dhl"))

	logger := otelzap.New(zap.NewNop())
	ledger := wallet.NewLedger(memory.NewWalletStore(), logger)
	_, err := ledger.Credit(context.Background(), "u1", 50000, "top-up")
	require.NoError(t, err)

	o := &fakeOrders{list: []*orders.Order{
		testOrder("1", "u1", shipper.StatusInTransit),
		testOrder("2", "u1", shipper.StatusDelivered),
		testOrder("3", "u2", shipper.StatusInTransit),
	}}
	return graphql.NewResolver(registry, o, ledger, logger, nil), o
}

func asUser(userID string) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{UserID: userID})
}

func TestExecute_PartnersAndWallet(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Execute(asUser("u1"), graphql.Request{Query: `{
		partners { name }
		wallet { balance currency recent: transactions(limit: 1) { kind amount balanceAfter } }
	}`})

	require.Empty(t, resp.Errors)
	assert.Equal(t, []any{
		map[string]any{"name": "delhivery"},
		map[string]any{"name": "dhl"},
	}, resp.Data["partners"])
	w := resp.Data["wallet"].(map[string]any)
	assert.Equal(t, "500.00", w["balance"])
	assert.Equal(t, "INR", w["currency"])
	assert.Equal(t, []any{map[string]any{"kind": "credit", "amount": "500.00", "balanceAfter": "500.00"}}, w["recent"])
}

func TestExecute_OrderScopedToCaller(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Execute(asUser("u1"), graphql.Request{
		Query:     `query One($id: ID!) { order(id: $id) { orderNumber status trackingId pickup { city } history { status source } } }`,
		Variables: map[string]any{"id": "1"},
	})
	require.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{
		"orderNumber": "SB202603021",
		"status":      "in_transit",
		"trackingId":  "AWB1",
		"pickup":      map[string]any{"city": "Mumbai"},
		"history":     []any{map[string]any{"status": "pending", "source": "order"}},
	}, resp.Data["order"])

	resp = r.Execute(asUser("u1"), graphql.Request{Query: `{ order(id: "3") { id } }`})
	require.Empty(t, resp.Errors)
	assert.Nil(t, resp.Data["order"])
}

func TestExecute_OrdersFilterAndFragments(t *testing.T) {
	r, _ := newTestResolver(t)

	resp := r.Execute(asUser("u1"), graphql.Request{Query: `
		query { orders(status: "in_transit") { ...ids __typename amount @skip(if: true) } }
		fragment ids on Order { id partner }`})

	require.Empty(t, resp.Errors)
	assert.Equal(t, []any{
		map[string]any{"id": "1", "partner": "delhivery", "__typename": "Order"},
	}, resp.Data["orders"])
}

func TestExecute_Errors(t *testing.T) {
	r, fake := newTestResolver(t)

	t.Run("unauthenticated", func(t *testing.T) {
		resp := r.Execute(context.Background(), graphql.Request{Query: `{ partners { name } }`})
		require.Len(t, resp.Errors, 1)
		assert.Nil(t, resp.Data)
	})

	t.Run("validation", func(t *testing.T) {
		resp := r.Execute(asUser("u1"), graphql.Request{Query: `{ partners { id } }`})
		require.NotEmpty(t, resp.Errors)
		assert.Nil(t, resp.Data)
	})

	t.Run("invalid status argument", func(t *testing.T) {
		resp := r.Execute(asUser("u1"), graphql.Request{Query: `{ orders(status: "lost") { id } }`})
		require.Len(t, resp.Errors, 1)
		assert.Contains(t, resp.Errors[0].Message, "invalid status")
		assert.Equal(t, "orders", resp.Errors[0].Path.String())
		assert.Nil(t, resp.Data["orders"])
	})

	t.Run("store failure is not leaked", func(t *testing.T) {
		fake.err = errors.New("connection refused")
		defer func() { fake.err = nil }()

		resp := r.Execute(asUser("u1"), graphql.Request{Query: `{ orders { id } partners { name } }`})
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "internal error", resp.Errors[0].Message)
		assert.NotNil(t, resp.Data["partners"])
	})
}

func TestServeHTTP(t *testing.T) {
	r, _ := newTestResolver(t)

	body, _ := json.Marshal(graphql.Request{Query: `{ wallet { balance } }`})
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req = req.WithContext(asUser("u1"))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"wallet":{"balance":"500.00"}}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
