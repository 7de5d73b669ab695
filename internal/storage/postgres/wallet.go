package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tournevent/shipbroker/internal/wallet"
)

// WalletStore is a wallet.Store where each Apply runs in one transaction
// holding the account row lock.
type WalletStore struct {
	db *pgxpool.Pool
}

// NewWalletStore creates a store on pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{db: pool}
}

const txColumns = `id, user_id, kind, amount, balance_after, description, order_ref, tracking_ref, COALESCE(idempotency_key, ''), metadata, created_at`

// Apply implements wallet.Store.
func (s *WalletStore) Apply(ctx context.Context, t wallet.Transaction) (wallet.Transaction, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return wallet.Transaction{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := ensureAccount(ctx, tx, t.UserID); err != nil {
		return wallet.Transaction{}, err
	}

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM wallet_accounts WHERE user_id = $1 FOR UPDATE`, t.UserID).Scan(&balance)
	if err != nil {
		return wallet.Transaction{}, fmt.Errorf("lock account: %w", err)
	}

	if t.IdempotencyKey != "" {
		prev, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT `+txColumns+` FROM wallet_transactions WHERE user_id = $1 AND idempotency_key = $2`,
			t.UserID, t.IdempotencyKey))
		switch {
		case err == nil:
			return prev, wallet.ErrDuplicateTransaction
		case !errors.Is(err, pgx.ErrNoRows):
			return wallet.Transaction{}, fmt.Errorf("select transaction: %w", err)
		}
	}

	if t.Kind == wallet.KindDebit && balance < t.Amount {
		return wallet.Transaction{}, &wallet.InsufficientFundsError{
			UserID:    t.UserID,
			Balance:   balance,
			Requested: t.Amount,
		}
	}

	t.BalanceAfter = balance + t.Signed()
	var md []byte
	if len(t.Metadata) > 0 {
		if md, err = json.Marshal(t.Metadata); err != nil {
			return wallet.Transaction{}, fmt.Errorf("encoding metadata: %w", err)
		}
	}
	_, err = tx.Exec(ctx, `INSERT INTO wallet_transactions
		(id, user_id, kind, amount, balance_after, description, order_ref, tracking_ref, idempotency_key, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.UserID, string(t.Kind), t.Amount, t.BalanceAfter, t.Description,
		t.OrderRef, t.TrackingRef, nullIfEmpty(t.IdempotencyKey), md, t.CreatedAt)
	if err != nil {
		return wallet.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE wallet_accounts SET balance = $2, version = version + 1, updated_at = $3 WHERE user_id = $1`,
		t.UserID, t.BalanceAfter, time.Now().UTC())
	if err != nil {
		return wallet.Transaction{}, fmt.Errorf("update balance: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wallet.Transaction{}, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func ensureAccount(ctx context.Context, q execer, userID string) error {
	_, err := q.Exec(ctx, `INSERT INTO wallet_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Account implements wallet.Store.
func (s *WalletStore) Account(ctx context.Context, userID string) (wallet.Account, error) {
	if err := ensureAccount(ctx, s.db, userID); err != nil {
		return wallet.Account{}, err
	}
	a := wallet.Account{UserID: userID}
	err := s.db.QueryRow(ctx,
		`SELECT balance, version, created_at, updated_at FROM wallet_accounts WHERE user_id = $1`, userID,
	).Scan(&a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return wallet.Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// Transactions implements wallet.Store.
func (s *WalletStore) Transactions(ctx context.Context, userID string, limit int) ([]wallet.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []wallet.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (wallet.Transaction, error) {
	var (
		t    wallet.Transaction
		kind string
		md   []byte
	)
	err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.BalanceAfter, &t.Description,
		&t.OrderRef, &t.TrackingRef, &t.IdempotencyKey, &md, &t.CreatedAt)
	if err != nil {
		return wallet.Transaction{}, err
	}
	t.Kind = wallet.Kind(kind)
	if len(md) > 0 {
		if err := json.Unmarshal(md, &t.Metadata); err != nil {
			return wallet.Transaction{}, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

var _ wallet.Store = (*WalletStore)(nil)
