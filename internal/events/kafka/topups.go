package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/wallet"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopUpApplier credits a verified top-up.
type TopUpApplier interface {
	ApplyTopUp(ctx context.Context, t wallet.TopUp) (wallet.Transaction, error)
}

// ConsumerConfig configures the top-up consumer.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MaxAttempts uint
	Backoff     time.Duration
	// RestartDelay is the first pause before reopening the reader after a
	// failure; it doubles up to a minute while failures continue.
	RestartDelay time.Duration
}

// ReaderFactory opens a reader positioned at the group's committed offset.
type ReaderFactory func() MessageReader

// TopUpConsumer credits wallets from payment-gateway events. A message is
// committed only after its credit is stored; malformed messages are logged
// and committed so they do not block the partition.
type TopUpConsumer struct {
	open         ReaderFactory
	wallet       TopUpApplier
	logger       *otelzap.Logger
	tries        uint
	backoff      time.Duration
	restartDelay time.Duration
}

// NewTopUpConsumer creates a consumer group reader for cfg.Topic.
func NewTopUpConsumer(cfg ConsumerConfig, w TopUpApplier, logger *otelzap.Logger) *TopUpConsumer {
	open := func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		})
	}
	return NewTopUpConsumerWithReader(open, w, logger, cfg)
}

// NewTopUpConsumerWithReader creates a consumer that reads through readers
// obtained from open.
func NewTopUpConsumerWithReader(open ReaderFactory, w TopUpApplier, logger *otelzap.Logger, cfg ConsumerConfig) *TopUpConsumer {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	return &TopUpConsumer{
		open:         open,
		wallet:       w,
		logger:       logger,
		tries:        cfg.MaxAttempts,
		backoff:      cfg.Backoff,
		restartDelay: cfg.RestartDelay,
	}
}

// Run consumes until ctx is cancelled and always returns nil. When a top-up
// cannot be applied after all attempts, or the broker fails, the reader is
// closed with the message uncommitted and a fresh one is opened after a
// delay, so the message is redelivered.
func (c *TopUpConsumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.restartDelay
	b.MaxInterval = time.Minute
	for {
		committed, err := c.consume(ctx, c.open())
		if ctx.Err() != nil {
			return nil
		}
		if committed > 0 {
			b.Reset()
		}
		delay := b.NextBackOff()
		c.logger.Ctx(ctx).Error("Top-up consumer failed, restarting",
			zap.Duration("restart_in", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// consume reads from r until an error and reports how many messages it
// committed.
func (c *TopUpConsumer) consume(ctx context.Context, r MessageReader) (int, error) {
	defer r.Close()
	committed := 0
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			return committed, fmt.Errorf("fetching top-up: %w", err)
		}
		if err := c.Handle(ctx, msg); err != nil {
			return committed, err
		}
		if err := r.CommitMessages(ctx, msg); err != nil {
			return committed, fmt.Errorf("committing offset %d: %w", msg.Offset, err)
		}
		committed++
	}
}

// Handle applies one message. Malformed top-ups return nil so they are
// committed.
func (c *TopUpConsumer) Handle(ctx context.Context, msg kafka.Message) error {
	var t wallet.TopUp
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		c.logger.Ctx(ctx).Warn("Discarding undecodable top-up",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}
	if err := t.Validate(); err != nil {
		c.logger.Ctx(ctx).Warn("Discarding invalid top-up",
			zap.String("payment_id", t.PaymentID),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	tx, err := backoff.Retry(ctx, func() (wallet.Transaction, error) {
		tx, err := c.wallet.ApplyTopUp(ctx, t)
		if errors.Is(err, wallet.ErrInvalidTopUp) || errors.Is(err, wallet.ErrInvalidAmount) {
			return tx, backoff.Permanent(err)
		}
		return tx, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.tries))
	if err != nil {
		if errors.Is(err, wallet.ErrInvalidTopUp) || errors.Is(err, wallet.ErrInvalidAmount) {
			c.logger.Ctx(ctx).Warn("Discarding rejected top-up",
				zap.String("payment_id", t.PaymentID),
				zap.Error(err),
			)
			return nil
		}
		c.logger.Ctx(ctx).Error("Applying top-up failed",
			zap.String("payment_id", t.PaymentID),
			zap.String("user_id", t.UserID),
			zap.Error(err),
		)
		return fmt.Errorf("applying top-up %s: %w", t.PaymentID, err)
	}

	c.logger.Ctx(ctx).Info("Top-up credited",
		zap.String("payment_id", t.PaymentID),
		zap.String("user_id", t.UserID),
		zap.String("transaction_id", tx.ID),
		zap.Int64("balance_after", tx.BalanceAfter),
	)
	return nil
}
