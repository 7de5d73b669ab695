package wallet

import (
	"context"
)

// Store persists accounts and their transactions. Apply is the only way a
// balance changes.
type Store interface {
	// Apply appends tx and moves the balance in one atomic step, creating the
	// account if needed. A debit larger than the balance fails with
	// *InsufficientFundsError. When tx.IdempotencyKey was already used for the
	// account the stored transaction is returned with ErrDuplicateTransaction.
	// The returned transaction has BalanceAfter set.
	Apply(ctx context.Context, tx Transaction) (Transaction, error)

	// Account returns the account, creating an empty one on first reference.
	Account(ctx context.Context, userID string) (Account, error)

	// Transactions lists the newest transactions first. limit <= 0 means all.
	Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
}
