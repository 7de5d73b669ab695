package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	brokerkafka "github.com/tournevent/shipbroker/internal/events/kafka"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/internal/wallet"
)

// queueReader serves a fixed list of messages, then blocks until ctx ends.
type queueReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *queueReader) open() brokerkafka.MessageReader { return r }

func (r *queueReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type flakyWallet struct {
	failures int
	calls    int
	next     brokerkafka.TopUpApplier
}

func (w *flakyWallet) ApplyTopUp(ctx context.Context, t wallet.TopUp) (wallet.Transaction, error) {
	w.calls++
	if w.calls <= w.failures {
		return wallet.Transaction{}, errors.New("connection reset")
	}
	return w.next.ApplyTopUp(ctx, t)
}

func newLedger() *wallet.Ledger {
	return wallet.NewLedger(memory.NewWalletStore(), otelzap.New(zap.NewNop()))
}

func msg(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "shipbroker.topups", Offset: offset, Value: []byte(value)}
}

func TestTopUpConsumer_CreditsOncePerPayment(t *testing.T) {
	ledger := newLedger()
	reader := &queueReader{msgs: []kafka.Message{
		msg(1, `{"payment_id":"pay_1","user_id":"u1","amount":50000}`),
		msg(2, `not json`),
		msg(3, `{"payment_id":"pay_1","user_id":"u1","amount":50000}`),
		msg(4, `{"payment_id":"","user_id":"u1","amount":100}`),
		msg(5, `{"payment_id":"pay_2","user_id":"u1","amount":2500}`),
	}}
	consumer := brokerkafka.NewTopUpConsumerWithReader(reader.open, ledger, otelzap.New(zap.NewNop()),
		brokerkafka.ConsumerConfig{Backoff: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.commits())
	balance, err := ledger.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(52500), balance)
	assert.True(t, reader.closed)
}

func TestTopUpConsumer_RetriesTransientFailures(t *testing.T) {
	ledger := newLedger()
	w := &flakyWallet{failures: 2, next: ledger}
	consumer := brokerkafka.NewTopUpConsumerWithReader((&queueReader{}).open, w, otelzap.New(zap.NewNop()),
		brokerkafka.ConsumerConfig{Backoff: time.Millisecond, MaxAttempts: 4})

	err := consumer.Handle(context.Background(), msg(7, `{"payment_id":"pay_9","user_id":"u2","amount":1000}`))

	require.NoError(t, err)
	assert.Equal(t, 3, w.calls)
	balance, err := ledger.Balance(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestTopUpConsumer_HandleFailsWhenRetriesRunOut(t *testing.T) {
	w := &flakyWallet{failures: 10, next: newLedger()}
	consumer := brokerkafka.NewTopUpConsumerWithReader((&queueReader{}).open, w, otelzap.New(zap.NewNop()),
		brokerkafka.ConsumerConfig{Backoff: time.Millisecond, MaxAttempts: 3})

	err := consumer.Handle(context.Background(), msg(1, `{"payment_id":"pay_3","user_id":"u3","amount":1000}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pay_3")
	assert.Equal(t, 3, w.calls)
}

// groupBroker hands every new reader the messages not yet committed, like a
// consumer group rejoining at its committed offset.
type groupBroker struct {
	mu      sync.Mutex
	pending []kafka.Message
	opens   int
	readers []*queueReader
}

func (b *groupBroker) open() brokerkafka.MessageReader {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	var msgs []kafka.Message
	for _, m := range b.pending {
		if !b.committedLocked(m.Offset) {
			msgs = append(msgs, m)
		}
	}
	r := &queueReader{msgs: msgs}
	b.readers = append(b.readers, r)
	return r
}

func (b *groupBroker) committedLocked(offset int64) bool {
	for _, r := range b.readers {
		for _, c := range r.commits() {
			if c == offset {
				return true
			}
		}
	}
	return false
}

func (b *groupBroker) stats() (opens int, committed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.committedLocked(1)
}

func TestTopUpConsumer_RestartsAndRedeliversAfterExhaustedRetries(t *testing.T) {
	ledger := newLedger()
	w := &flakyWallet{failures: 3, next: ledger}
	broker := &groupBroker{pending: []kafka.Message{msg(1, `{"payment_id":"pay_4","user_id":"u4","amount":1500}`)}}
	consumer := brokerkafka.NewTopUpConsumerWithReader(broker.open, w, otelzap.New(zap.NewNop()),
		brokerkafka.ConsumerConfig{Backoff: time.Millisecond, MaxAttempts: 3, RestartDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, committed := broker.stats()
		return committed
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	opens, _ := broker.stats()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 4, w.calls)
	balance, err := ledger.Balance(context.Background(), "u4")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
}
