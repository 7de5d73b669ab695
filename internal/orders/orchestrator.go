// Package orders couples wallet payment to order creation and books shipments
// with delivery partners outside the request path.
package orders

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/internal/pricing"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Wallet is the part of wallet.Ledger the orchestrator charges and refunds.
type Wallet interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, description, orderRef string, opts ...wallet.TxOption) (wallet.Transaction, error)
	Credit(ctx context.Context, userID string, amount int64, description string, opts ...wallet.TxOption) (wallet.Transaction, error)
}

// Quoter prices a shipment, absorbing partner failures.
type Quoter interface {
	Quote(ctx context.Context, partner string, req *shipper.QuoteRequest) (*shipper.Quote, error)
}

// Scheduler hands an order to the booking workers without blocking.
type Scheduler interface {
	Enqueue(orderID string) bool
}

// Config tunes placement and booking.
type Config struct {
	// PersistTimeout bounds the create, debit and mark-paid steps, which run
	// detached from the caller's cancellation.
	PersistTimeout time.Duration
	// MaxBookingAttempts before a booking is parked as needs_attention.
	MaxBookingAttempts int
	// BookingLease after which an in_progress claim may be taken over.
	BookingLease time.Duration
	// RetryBaseDelay is doubled per attempt to schedule the next booking try.
	RetryBaseDelay time.Duration
	// InCallRetries and InCallBackoff control retries inside one attempt.
	InCallRetries uint
	InCallBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PersistTimeout:     10 * time.Second,
		MaxBookingAttempts: 5,
		BookingLease:       2 * time.Minute,
		RetryBaseDelay:     30 * time.Second,
		InCallRetries:      3,
		InCallBackoff:      200 * time.Millisecond,
	}
}

// Orchestrator runs the order state machine.
type Orchestrator struct {
	store     Store
	registry  *shipper.Registry
	quoter    Quoter
	wallet    Wallet
	scheduler Scheduler
	publisher events.Publisher
	metrics   *telemetry.Metrics
	logger    *otelzap.Logger
	cfg       Config
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScheduler enqueues bookings after placement and retries.
func WithScheduler(s Scheduler) Option {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithPublisher publishes order events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records order metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store Store, registry *shipper.Registry, quoter Quoter, w Wallet, logger *otelzap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		registry:  registry,
		quoter:    quoter,
		wallet:    w,
		publisher: events.Nop{},
		logger:    logger,
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PlaceOrderRequest is a caller's shipment order.
type PlaceOrderRequest struct {
	UserID        string
	Partner       string
	Pickup        shipper.Address
	Delivery      shipper.Address
	Package       shipper.Package
	ServiceType   shipper.ServiceType
	PaymentMethod string
	Metadata      map[string]string
}

// Placement is the result of a successful PlaceOrder.
type Placement struct {
	Order        *Order
	Quote        *shipper.Quote
	BalanceAfter int64
}

// PlaceOrder quotes, charges the wallet and persists a paid order, then hands
// booking to the scheduler. No order survives a failed charge.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Placement, error) {
	s, err := o.registry.Get(req.Partner)
	if err != nil {
		o.metrics.RecordOrderFailure("invalid_partner")
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrInvalidPartner, req.Partner, strings.Join(o.registry.Names(), ", "))
	}
	partner := s.Name()
	if err := validatePlacement(req); err != nil {
		o.metrics.RecordOrderFailure("invalid_order")
		return nil, err
	}

	quote, err := o.quoter.Quote(ctx, partner, &shipper.QuoteRequest{
		Origin:      req.Pickup,
		Destination: req.Delivery,
		Package:     req.Package,
		ServiceHint: req.ServiceType,
	})
	if err != nil {
		o.metrics.RecordOrderFailure("quote")
		return nil, fmt.Errorf("quoting %s: %w", partner, err)
	}
	price := quote.Pricing().Normalize()
	amount := wallet.ToMinor(price.Total)
	if amount <= 0 {
		o.metrics.RecordOrderFailure("invalid_order")
		return nil, fmt.Errorf("%w: quoted total %s", ErrInvalidOrder, price.Total.StringFixed(2))
	}

	balance, err := o.wallet.Balance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		o.metrics.RecordOrderFailure("insufficient_funds")
		return nil, &wallet.InsufficientFundsError{UserID: req.UserID, Balance: balance, Requested: amount}
	}

	// From here on the caller going away must not strand a debit.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
	defer cancel()

	order := o.newOrder(req, partner, quote, price, amount)
	if err := o.create(pctx, order); err != nil {
		o.metrics.RecordOrderFailure("persist")
		return nil, err
	}

	tx, err := o.wallet.Debit(pctx, req.UserID, amount,
		fmt.Sprintf("Shipment %s via %s", order.OrderNumber, partner),
		order.OrderNumber,
		wallet.WithIdempotencyKey("order:"+order.ID),
		wallet.WithMetadata(map[string]string{"order_id": order.ID, "partner": partner}),
	)
	if err != nil {
		o.discard(pctx, order, err)
		reason := "debit"
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			reason = "insufficient_funds"
		}
		o.metrics.RecordOrderFailure(reason)
		return nil, fmt.Errorf("charging order %s: %w", order.OrderNumber, err)
	}

	paidAt := o.now().UTC()
	paid, err := o.store.Update(pctx, order.ID, func(cur *Order) error {
		cur.Payment.Status = PaymentCompleted
		cur.Payment.TransactionID = tx.ID
		cur.Payment.PaidAt = timePtr(paidAt)
		cur.UpdatedAt = paidAt
		return nil
	})
	if err != nil {
		o.reverse(pctx, order, tx)
		o.discard(pctx, order, err)
		o.metrics.RecordOrderFailure("mark_paid")
		return nil, fmt.Errorf("recording payment of order %s: %w", order.OrderNumber, err)
	}

	o.schedule(ctx, paid.ID)
	o.metrics.RecordOrderPlaced(partner)
	o.publish(ctx, events.OrderPlaced, paid)
	o.logger.Ctx(ctx).Info("Order placed",
		zap.String("order_id", paid.ID),
		zap.String("order_number", paid.OrderNumber),
		zap.String("user_id", paid.UserID),
		zap.String("partner", partner),
		zap.String("total", paid.Pricing.Total.StringFixed(2)),
		zap.Bool("fallback_quote", paid.Metadata.FallbackQuote),
	)

	return &Placement{Order: paid, Quote: quote, BalanceAfter: tx.BalanceAfter}, nil
}

func validatePlacement(req PlaceOrderRequest) error {
	var missing []string
	if req.UserID == "" {
		missing = append(missing, "user")
	}
	if strings.TrimSpace(req.Pickup.Pincode) == "" {
		missing = append(missing, "pickup pincode")
	}
	if strings.TrimSpace(req.Delivery.Pincode) == "" {
		missing = append(missing, "delivery pincode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidOrder, strings.Join(missing, ", "))
	}
	if err := req.Package.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}
	return nil
}

func (o *Orchestrator) newOrder(req PlaceOrderRequest, partner string, quote *shipper.Quote, price shipper.Pricing, amount int64) *Order {
	now := o.now().UTC()
	method := req.PaymentMethod
	if method == "" {
		method = "wallet"
	}
	source := pricing.SourcePartner
	if quote.Fallback {
		source = pricing.SourceRateCard
	}
	serviceType := quote.Selected.ServiceType
	if serviceType == "" {
		serviceType = shipper.ServiceStandard
	}
	var extra map[string]string
	if len(req.Metadata) > 0 {
		extra = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			extra[k] = v
		}
	}
	return &Order{
		ID:                uuid.NewString(),
		OrderNumber:       newOrderNumber(now),
		UserID:            req.UserID,
		Pickup:            req.Pickup,
		Delivery:          req.Delivery,
		Package:           req.Package,
		Partner:           partner,
		ServiceType:       serviceType,
		Pricing:           price,
		Payment:           Payment{Status: PaymentPending, Method: method, Amount: amount},
		Status:            shipper.StatusPending,
		EstimatedDelivery: cloneTime(quote.EstimatedDelivery),
		Booking:           Booking{State: BookingPending},
		Metadata: Metadata{
			FallbackQuote: quote.Fallback,
			QuoteSource:   source,
			ServiceName:   quote.Selected.ServiceName,
			ServiceCode:   quote.Selected.ServiceCode,
			StatusHistory: []HistoryEntry{{
				Status:  shipper.StatusPending,
				Source:  "order",
				Remarks: "Order placed",
				At:      now,
			}},
			Extra: extra,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// newOrderNumber returns SB<yyyymmdd><6 hex>.
func newOrderNumber(now time.Time) string {
	id := uuid.New()
	return "SB" + now.UTC().Format("20060102") + strings.ToUpper(hex.EncodeToString(id[:3]))
}

func (o *Orchestrator) create(ctx context.Context, order *Order) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = o.store.Create(ctx, order); !errors.Is(err, ErrDuplicateOrder) {
			break
		}
		order.OrderNumber = newOrderNumber(order.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("persisting order: %w", err)
	}
	return nil
}

// discard removes an order whose payment did not complete.
func (o *Orchestrator) discard(ctx context.Context, order *Order, cause error) {
	if err := o.store.Delete(ctx, order.ID); err != nil && !errors.Is(err, ErrOrderNotFound) {
		o.logger.Ctx(ctx).Error("Removing unpaid order failed",
			zap.String("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	o.logger.Ctx(ctx).Warn("Unpaid order removed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Error(cause),
	)
}

// reverse credits back a debit whose order could not be marked paid.
func (o *Orchestrator) reverse(ctx context.Context, order *Order, debit wallet.Transaction) {
	_, err := o.wallet.Credit(ctx, order.UserID, debit.Amount,
		fmt.Sprintf("Reversal for order %s", order.OrderNumber),
		wallet.WithIdempotencyKey("reversal:"+order.ID),
		wallet.WithMetadata(map[string]string{"order_id": order.ID, "reverses": debit.ID}),
	)
	if err != nil {
		o.logger.Ctx(ctx).Error("Reversing order debit failed",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", debit.ID),
			zap.Int64("amount", debit.Amount),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) schedule(ctx context.Context, id string) {
	if o.scheduler == nil {
		return
	}
	if !o.scheduler.Enqueue(id) {
		o.logger.Ctx(ctx).Warn("Booking queue full, left for sweeper", zap.String("order_id", id))
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, order *Order) {
	if err := o.publisher.Publish(ctx, events.TopicOrders, events.New(eventType, order.ID, order)); err != nil {
		o.logger.Ctx(ctx).Warn("Publishing order event failed",
			zap.String("order_id", order.ID),
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// Get returns an order. A non-empty userID must own it.
func (o *Orchestrator) Get(ctx context.Context, userID, id string) (*Order, error) {
	order, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && order.UserID != userID {
		return nil, ErrUnauthorized
	}
	return order, nil
}

// Find resolves an order id, order number or AWB.
func (o *Orchestrator) Find(ctx context.Context, ref string) (*Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrOrderNotFound
	}
	lookups := []func(context.Context, string) (*Order, error){
		o.store.Get,
		o.store.FindByNumber,
		o.store.FindByTrackingID,
	}
	for _, lookup := range lookups {
		order, err := lookup(ctx, ref)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrOrderNotFound, ref)
}

// List returns orders matching f.
func (o *Orchestrator) List(ctx context.Context, f Filter) ([]*Order, error) {
	return o.store.List(ctx, f)
}

// NeedsAttention lists paid orders whose booking was parked for ops.
func (o *Orchestrator) NeedsAttention(ctx context.Context, limit int) ([]*Order, error) {
	return o.store.List(ctx, Filter{
		BookingStates: []BookingState{BookingNeedsAttention},
		PaymentStatus: PaymentCompleted,
		Limit:         limit,
	})
}
