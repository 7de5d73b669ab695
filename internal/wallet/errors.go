package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is matched by every *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateTransaction is returned by a Store when the idempotency key
	// was already applied. The original transaction is returned alongside it.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInvalidTopUp indicates a malformed top-up event.
	ErrInvalidTopUp = errors.New("invalid top-up")
)

// InsufficientFundsError reports how far a debit exceeded the balance.
type InsufficientFundsError struct {
	UserID    string
	Balance   int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, required %s, short by %s",
		FormatMinor(e.Balance), FormatMinor(e.Requested), FormatMinor(e.Shortfall()))
}

// Shortfall is the amount missing, in minor units.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Requested <= e.Balance {
		return 0
	}
	return e.Requested - e.Balance
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
