package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Account is a user's wallet. Balance is in minor currency units (paise) and
// always equals the signed sum of the account's transactions.
type Account struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	Kind           Kind              `json:"kind"`
	Amount         int64             `json:"amount"`
	BalanceAfter   int64             `json:"balance_after"`
	Description    string            `json:"description"`
	OrderRef       string            `json:"order_ref,omitempty"`
	TrackingRef    string            `json:"tracking_ref,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Signed returns the amount with the sign it contributes to the balance.
func (t Transaction) Signed() int64 {
	if t.Kind == KindDebit {
		return -t.Amount
	}
	return t.Amount
}

// TopUp is a verified payment-gateway event crediting a wallet. Amount is in
// minor units.
type TopUp struct {
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method,omitempty"`
	Gateway    string    `json:"gateway,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Validate checks the event carries what a credit needs.
func (t TopUp) Validate() error {
	switch {
	case t.PaymentID == "":
		return ErrInvalidTopUp
	case t.UserID == "":
		return ErrInvalidTopUp
	case t.Amount <= 0:
		return ErrInvalidAmount
	}
	return nil
}

// ToMinor converts a currency amount to minor units, rounding half away from zero.
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor converts minor units to a currency amount.
func FromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

// FormatMinor renders minor units with two decimals, e.g. 1250 as "12.50".
func FormatMinor(v int64) string {
	return FromMinor(v).StringFixed(2)
}
