// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tournevent/shipbroker/internal/wallet"
)

// WalletStore is an in-memory wallet.Store. Each account has its own lock so
// that different accounts never contend.
type WalletStore struct {
	mu       sync.Mutex
	accounts map[string]*walletAccount
	now      func() time.Time
}

type walletAccount struct {
	mu      sync.Mutex
	account wallet.Account
	txs     []wallet.Transaction
	keys    map[string]int // idempotency key -> index in txs
}

// NewWalletStore creates an empty store.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		accounts: make(map[string]*walletAccount),
		now:      time.Now,
	}
}

func (s *WalletStore) get(userID string) *walletAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		now := s.now().UTC()
		a = &walletAccount{
			account: wallet.Account{UserID: userID, CreatedAt: now, UpdatedAt: now},
			keys:    make(map[string]int),
		}
		s.accounts[userID] = a
	}
	return a
}

// Apply implements wallet.Store.
func (s *WalletStore) Apply(ctx context.Context, tx wallet.Transaction) (wallet.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return wallet.Transaction{}, err
	}
	a := s.get(tx.UserID)
	a.mu.Lock()
	defer a.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if i, ok := a.keys[tx.IdempotencyKey]; ok {
			return copyTx(a.txs[i]), wallet.ErrDuplicateTransaction
		}
	}
	if tx.Kind == wallet.KindDebit && a.account.Balance < tx.Amount {
		return wallet.Transaction{}, &wallet.InsufficientFundsError{
			UserID:    tx.UserID,
			Balance:   a.account.Balance,
			Requested: tx.Amount,
		}
	}

	a.account.Balance += tx.Signed()
	a.account.Version++
	a.account.UpdatedAt = s.now().UTC()
	tx.BalanceAfter = a.account.Balance
	tx = copyTx(tx)
	a.txs = append(a.txs, tx)
	if tx.IdempotencyKey != "" {
		a.keys[tx.IdempotencyKey] = len(a.txs) - 1
	}
	return copyTx(tx), nil
}

// Account implements wallet.Store.
func (s *WalletStore) Account(ctx context.Context, userID string) (wallet.Account, error) {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.account, nil
}

// Transactions implements wallet.Store.
func (s *WalletStore) Transactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.txs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]wallet.Transaction, 0, n)
	for i := len(a.txs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, copyTx(a.txs[i]))
	}
	return out, nil
}

func copyTx(tx wallet.Transaction) wallet.Transaction {
	if tx.Metadata != nil {
		md := make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			md[k] = v
		}
		tx.Metadata = md
	}
	return tx
}

var _ wallet.Store = (*WalletStore)(nil)
