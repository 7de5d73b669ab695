package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tournevent/shipbroker/internal/events"
	brokerkafka "github.com/tournevent/shipbroker/internal/events/kafka"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := brokerkafka.NewPublisherWithWriter(w)
	ev := events.New(events.OrderBooked, "order-1", map[string]string{"tracking_id": "AWB1"})

	require.NoError(t, p.Publish(context.Background(), events.TopicOrders, ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, events.TopicOrders, msg.Topic)
	assert.Equal(t, "order-1", string(msg.Key))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event-type", Value: []byte(events.OrderBooked)})

	var decoded events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.JSONEq(t, `{"tracking_id":"AWB1"}`, string(decoded.Payload))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := brokerkafka.NewPublisherWithWriter(w)

	err := p.Publish(context.Background(), events.TopicWallet, events.New(events.WalletDebited, "u1", nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
}
