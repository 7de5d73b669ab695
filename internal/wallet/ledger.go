// Package wallet implements the prepaid balance ledger charged for shipments.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tournevent/shipbroker/internal/events"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Ledger applies credits and debits. Operations on one account are serialized
// in process and again by the store; different accounts never contend.
type Ledger struct {
	store     Store
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
	publisher events.Publisher
	locks     *accountLocks
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher publishes wallet.credited and wallet.debited events.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithMetrics records transaction metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, logger *otelzap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		logger:    logger,
		publisher: events.Nop{},
		locks:     newAccountLocks(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TxOption sets optional transaction fields.
type TxOption func(*Transaction)

// WithMetadata attaches free-form metadata.
func WithMetadata(md map[string]string) TxOption {
	return func(t *Transaction) {
		if len(md) == 0 {
			return
		}
		if t.Metadata == nil {
			t.Metadata = make(map[string]string, len(md))
		}
		for k, v := range md {
			t.Metadata[k] = v
		}
	}
}

// WithIdempotencyKey makes repeated calls with the same key return the first
// transaction instead of applying again.
func WithIdempotencyKey(key string) TxOption {
	return func(t *Transaction) { t.IdempotencyKey = key }
}

// WithTrackingRef links the transaction to a partner tracking id.
func WithTrackingRef(ref string) TxOption {
	return func(t *Transaction) { t.TrackingRef = ref }
}

// Credit adds amount (minor units) to the user's balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, description string, opts ...TxOption) (Transaction, error) {
	return l.apply(ctx, l.newTransaction(userID, KindCredit, amount, description, "", opts))
}

// Debit removes amount (minor units) from the user's balance, failing with
// *InsufficientFundsError when the balance is too low.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, description, orderRef string, opts ...TxOption) (Transaction, error) {
	return l.apply(ctx, l.newTransaction(userID, KindDebit, amount, description, orderRef, opts))
}

// ApplyTopUp credits a verified gateway payment once per payment id.
func (l *Ledger) ApplyTopUp(ctx context.Context, t TopUp) (Transaction, error) {
	if err := t.Validate(); err != nil {
		return Transaction{}, fmt.Errorf("top-up %q: %w", t.PaymentID, err)
	}
	description := "Wallet top-up"
	if t.Method != "" {
		description += " via " + t.Method
	}
	return l.Credit(ctx, t.UserID, t.Amount, description,
		WithIdempotencyKey("topup:"+t.PaymentID),
		WithMetadata(map[string]string{
			"payment_id": t.PaymentID,
			"method":     t.Method,
			"gateway":    t.Gateway,
		}),
	)
}

// Balance returns the current balance in minor units.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	acct, err := l.store.Account(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("reading wallet of %s: %w", userID, err)
	}
	return acct.Balance, nil
}

// Account returns the user's account.
func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	acct, err := l.store.Account(ctx, userID)
	if err != nil {
		return Account{}, fmt.Errorf("reading wallet of %s: %w", userID, err)
	}
	return acct, nil
}

// History returns the newest transactions first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	txs, err := l.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions of %s: %w", userID, err)
	}
	return txs, nil
}

func (l *Ledger) newTransaction(userID string, kind Kind, amount int64, description, orderRef string, opts []TxOption) Transaction {
	tx := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		OrderRef:    orderRef,
		CreatedAt:   l.now().UTC(),
	}
	for _, opt := range opts {
		opt(&tx)
	}
	return tx
}

func (l *Ledger) apply(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.UserID == "" {
		return Transaction{}, fmt.Errorf("%s: missing user", tx.Kind)
	}
	if tx.Amount <= 0 {
		return Transaction{}, fmt.Errorf("%s of %d: %w", tx.Kind, tx.Amount, ErrInvalidAmount)
	}

	unlock := l.locks.lock(tx.UserID)
	stored, err := l.store.Apply(ctx, tx)
	unlock()

	switch {
	case errors.Is(err, ErrDuplicateTransaction):
		l.logger.Ctx(ctx).Info("Wallet transaction replayed",
			zap.String("user_id", tx.UserID),
			zap.String("idempotency_key", tx.IdempotencyKey),
			zap.String("transaction_id", stored.ID),
		)
		return stored, nil
	case err != nil:
		var insufficient *InsufficientFundsError
		if errors.As(err, &insufficient) {
			l.logger.Ctx(ctx).Info("Wallet debit refused",
				zap.String("user_id", tx.UserID),
				zap.Int64("balance", insufficient.Balance),
				zap.Int64("requested", insufficient.Requested),
			)
			return Transaction{}, err
		}
		l.logger.Ctx(ctx).Error("Wallet transaction failed",
			zap.String("user_id", tx.UserID),
			zap.String("kind", string(tx.Kind)),
			zap.Error(err),
		)
		return Transaction{}, fmt.Errorf("applying %s: %w", tx.Kind, err)
	}

	l.metrics.RecordWalletTransaction(string(stored.Kind), stored.Amount)
	l.logger.Ctx(ctx).Info("Wallet transaction applied",
		zap.String("user_id", stored.UserID),
		zap.String("transaction_id", stored.ID),
		zap.String("kind", string(stored.Kind)),
		zap.Int64("amount", stored.Amount),
		zap.Int64("balance_after", stored.BalanceAfter),
	)

	eventType := events.WalletCredited
	if stored.Kind == KindDebit {
		eventType = events.WalletDebited
	}
	if err := l.publisher.Publish(ctx, events.TopicWallet, events.New(eventType, stored.UserID, stored)); err != nil {
		l.logger.Ctx(ctx).Warn("Publishing wallet event failed",
			zap.String("transaction_id", stored.ID),
			zap.Error(err),
		)
	}
	return stored, nil
}
