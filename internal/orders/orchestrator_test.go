package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/internal/mocks"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/pricing"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/tournevent/shipbroker/pkg/shipper/mock"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingScheduler) Enqueue(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return true
}

func (s *recordingScheduler) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	memory   *memory.OrderStore
	ledger   *wallet.Ledger
	partner  *mock.Client
	registry *shipper.Registry
	sched    *recordingScheduler
	clock    *testClock
	logger   *otelzap.Logger
	orch     *orders.Orchestrator
}

type fixtureOption struct {
	store  func(*memory.OrderStore) orders.Store
	wallet func(*wallet.Ledger) orders.Wallet
	opts   []orders.Option
}

func testConfig() orders.Config {
	cfg := orders.DefaultConfig()
	cfg.InCallBackoff = time.Millisecond
	return cfg
}

func newFixture(t *testing.T, fo fixtureOption) *fixture {
	t.Helper()
	logger := otelzap.New(zaptest.NewLogger(t))
	f := &fixture{
		memory:   memory.NewOrderStore(),
		ledger:   wallet.NewLedger(memory.NewWalletStore(), logger),
		partner:  mock.New("delhivery"),
		registry: shipper.NewRegistry(),
		sched:    &recordingScheduler{},
		clock:    &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		logger:   logger,
	}
	f.registry.Register(f.partner)
	f.registry.Register(mock.New("shiprocket"))

	var store orders.Store = f.memory
	if fo.store != nil {
		store = fo.store(f.memory)
	}
	var w orders.Wallet = f.ledger
	if fo.wallet != nil {
		w = fo.wallet(f.ledger)
	}
	opts := append([]orders.Option{
		orders.WithScheduler(f.sched),
		orders.WithClock(f.clock.Now),
		orders.WithConfig(testConfig()),
	}, fo.opts...)
	f.orch = orders.NewOrchestrator(store, f.registry, pricing.NewQuoter(f.registry, nil, logger, nil), w, logger, opts...)
	return f
}

func (f *fixture) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), user, amount, "opening balance")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func (f *fixture) allOrders(t *testing.T) []*orders.Order {
	t.Helper()
	list, err := f.memory.List(context.Background(), orders.Filter{})
	require.NoError(t, err)
	return list
}

func placeRequest(user string, weight float64) orders.PlaceOrderRequest {
	return orders.PlaceOrderRequest{
		UserID:  user,
		Partner: "delhivery",
		Pickup: shipper.Address{
			Name: "Asha Traders", Phone: "9876543210", Line1: "12 Chandni Chowk",
			City: "Delhi", State: "DL", Pincode: "110006",
		},
		Delivery: shipper.Address{
			Name: "Ravi Kumar", Phone: "9123456780", Line1: "44 MG Road",
			City: "Bengaluru", State: "KA", Pincode: "560001",
		},
		Package: shipper.Package{
			WeightKG:      weight,
			Dimensions:    shipper.Dimensions{LengthCM: 20, WidthCM: 15, HeightCM: 10},
			DeclaredValue: decimal.NewFromInt(1500),
		},
	}
}

func TestPlaceOrder_ChargesWalletAndSchedulesBooking(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	p, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))
	require.NoError(t, err)

	o := p.Order
	assert.Regexp(t, `^SB20260302[0-9A-F]{6}$`, o.OrderNumber)
	assert.Equal(t, shipper.StatusPending, o.Status)
	assert.Equal(t, "106.20", o.Pricing.Total.StringFixed(2))
	assert.Equal(t, orders.PaymentCompleted, o.Payment.Status)
	assert.Equal(t, int64(10620), o.Payment.Amount)
	assert.NotEmpty(t, o.Payment.TransactionID)
	require.NotNil(t, o.Payment.PaidAt)
	assert.Equal(t, orders.BookingPending, o.Booking.State)
	assert.False(t, o.Metadata.FallbackQuote)
	assert.Equal(t, pricing.SourcePartner, o.Metadata.QuoteSource)
	assert.Equal(t, "STD", o.Metadata.ServiceCode)
	assert.Empty(t, o.TrackingID)

	assert.Equal(t, int64(39380), p.BalanceAfter)
	assert.Equal(t, int64(39380), f.balance(t, "u1"))
	assert.Equal(t, []string{o.ID}, f.sched.IDs())
	assert.Equal(t, 0, f.partner.CreateCalls(), "booking happens outside placement")

	history, err := f.ledger.History(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, o.Payment.TransactionID, history[0].ID)
	assert.Equal(t, o.OrderNumber, history[0].OrderRef)
}

func TestPlaceOrder_FallbackQuoteDuringOutage(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)
	f.partner.OnQuoteRate = func(context.Context, *shipper.QuoteRequest) (*shipper.Quote, error) {
		return nil, shipper.Unavailable("delhivery", shipper.OpQuoteRate, errors.New("connection refused"))
	}

	p, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 2.5))
	require.NoError(t, err)

	assert.Equal(t, "100.00", p.Order.Pricing.Total.StringFixed(2))
	assert.True(t, p.Order.Metadata.FallbackQuote)
	assert.Equal(t, pricing.SourceRateCard, p.Order.Metadata.QuoteSource)
	assert.Equal(t, orders.PaymentCompleted, p.Order.Payment.Status)
	assert.Equal(t, int64(40000), p.BalanceAfter)
	assert.Equal(t, []string{p.Order.ID}, f.sched.IDs())
}

func TestPlaceOrder_InsufficientFundsWritesNothing(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 5000)

	_, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))

	require.Error(t, err)
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	var insufficient *wallet.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(5620), insufficient.Shortfall())

	assert.Empty(t, f.allOrders(t))
	assert.Equal(t, int64(5000), f.balance(t, "u1"))
	assert.Empty(t, f.sched.IDs())
}

func TestPlaceOrder_InvalidPartner(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	req := placeRequest("u1", 1)
	req.Partner = "fedex"
	_, err := f.orch.PlaceOrder(context.Background(), req)

	assert.ErrorIs(t, err, orders.ErrInvalidPartner)
	assert.Contains(t, err.Error(), "delhivery, shiprocket")
	assert.Empty(t, f.allOrders(t))
}

func TestPlaceOrder_PartnerNameIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	req := placeRequest("u1", 1)
	req.Partner = " Delhivery "
	p, err := f.orch.PlaceOrder(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "delhivery", p.Order.Partner)
}

func TestPlaceOrder_InvalidOrder(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	noWeight := placeRequest("u1", 0)
	_, err := f.orch.PlaceOrder(context.Background(), noWeight)
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)
	assert.ErrorIs(t, err, shipper.ErrInvalidPackage)

	noPincode := placeRequest("u1", 1)
	noPincode.Delivery.Pincode = " "
	_, err = f.orch.PlaceOrder(context.Background(), noPincode)
	assert.ErrorIs(t, err, orders.ErrInvalidOrder)
	assert.Contains(t, err.Error(), "delivery pincode")

	assert.Equal(t, 0, f.partner.QuoteCalls())
}

type failingDebitWallet struct {
	*wallet.Ledger
	err error
}

func (w failingDebitWallet) Debit(context.Context, string, int64, string, string, ...wallet.TxOption) (wallet.Transaction, error) {
	return wallet.Transaction{}, w.err
}

func TestPlaceOrder_DebitFailureRemovesOrder(t *testing.T) {
	debitErr := errors.New("ledger store unavailable")
	f := newFixture(t, fixtureOption{
		wallet: func(l *wallet.Ledger) orders.Wallet { return failingDebitWallet{Ledger: l, err: debitErr} },
	})
	f.fund(t, "u1", 50000)

	_, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))

	assert.ErrorIs(t, err, debitErr)
	assert.Empty(t, f.allOrders(t), "an order whose debit failed must not remain")
	assert.Equal(t, int64(50000), f.balance(t, "u1"))
	assert.Empty(t, f.sched.IDs())
}

type failingUpdateStore struct {
	*memory.OrderStore
}

func (failingUpdateStore) Update(context.Context, string, func(*orders.Order) error) (*orders.Order, error) {
	return nil, errors.New("write conflict")
}

func TestPlaceOrder_MarkPaidFailureReversesDebit(t *testing.T) {
	f := newFixture(t, fixtureOption{
		store: func(m *memory.OrderStore) orders.Store { return failingUpdateStore{m} },
	})
	f.fund(t, "u1", 50000)

	_, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write conflict")
	assert.Empty(t, f.allOrders(t))
	assert.Equal(t, int64(50000), f.balance(t, "u1"))

	history, err := f.ledger.History(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, wallet.KindCredit, history[0].Kind)
	assert.Equal(t, history[1].ID, history[0].Metadata["reverses"])
}

func TestPlaceOrder_CallerCancellationDoesNotStrandDebit(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := f.orch.PlaceOrder(ctx, placeRequest("u1", 1))

	require.NoError(t, err)
	stored, err := f.memory.Get(context.Background(), p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentCompleted, stored.Payment.Status)
	assert.Equal(t, int64(39380), f.balance(t, "u1"))
}

func TestPlaceOrder_ConcurrentOrdersNeverOverdraw(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				placed++
			} else {
				assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, placed)
	assert.Equal(t, 6, rejected)
	assert.Equal(t, int64(50000-4*10620), f.balance(t, "u1"))
	assert.Len(t, f.allOrders(t), 4)
}

func TestOrchestrator_PublishesOrderEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)

	var placedID string
	gomock.InOrder(
		publisher.EXPECT().
			Publish(gomock.Any(), events.TopicOrders, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, e events.Event) error {
				assert.Equal(t, events.OrderPlaced, e.Type)
				placedID = e.Key
				return nil
			}),
		publisher.EXPECT().
			Publish(gomock.Any(), events.TopicOrders, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, e events.Event) error {
				assert.Equal(t, events.OrderBooked, e.Type)
				assert.Equal(t, placedID, e.Key)
				return errors.New("broker down")
			}),
	)

	f := newFixture(t, fixtureOption{opts: []orders.Option{orders.WithPublisher(publisher)}})
	f.fund(t, "u1", 50000)

	p, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))
	require.NoError(t, err)
	require.NoError(t, f.orch.BookShipment(context.Background(), p.Order.ID))
}

func TestOrchestrator_GetChecksOwner(t *testing.T) {
	f := newFixture(t, fixtureOption{})
	f.fund(t, "u1", 50000)
	p, err := f.orch.PlaceOrder(context.Background(), placeRequest("u1", 1))
	require.NoError(t, err)

	got, err := f.orch.Get(context.Background(), "u1", p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Order.OrderNumber, got.OrderNumber)

	_, err = f.orch.Get(context.Background(), "u2", p.Order.ID)
	assert.ErrorIs(t, err, orders.ErrUnauthorized)

	_, err = f.orch.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	list, err := f.orch.List(context.Background(), orders.Filter{UserID: "u2"})
	require.NoError(t, err)
	assert.Empty(t, list)
}
