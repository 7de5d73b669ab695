// Package events defines the domain events published for downstream
// notification and reporting consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicOrders = "shipbroker.orders"
	TopicWallet = "shipbroker.wallet"
	TopicTopUps = "shipbroker.topups"
)

// Event types.
const (
	OrderPlaced        = "order.placed"
	OrderBooked        = "order.booked"
	OrderBookingFailed = "order.booking_failed"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"
	WalletCredited     = "wallet.credited"
	WalletDebited      = "wallet.debited"
)

// Event is the envelope written to the broker. Key selects the partition so
// events for one order or wallet stay ordered.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a fresh id. Payloads that cannot be marshalled
// are replaced by null.
func New(eventType, key string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}
}

//go:generate mockgen -destination=../mocks/mock_publisher.go -package=mocks . Publisher

// Publisher delivers events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, Event) error { return nil }

var _ Publisher = Nop{}
