package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tournevent/shipbroker/internal/orders"
)

// OrderStore keeps each order as a JSONB document. The indexed columns are
// copies of document fields used for lookups and filtering.
type OrderStore struct {
	db *pgxpool.Pool
}

// NewOrderStore creates a store on pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{db: pool}
}

const orderColumns = `id, order_number, user_id, tracking_id, status, booking_state, payment_status, version, created_at, updated_at, doc`

func orderArgs(o *orders.Order) ([]any, error) {
	doc, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encoding order %s: %w", o.ID, err)
	}
	return []any{
		o.ID, o.OrderNumber, o.UserID, nullIfEmpty(o.TrackingID),
		string(o.Status), string(o.Booking.State), string(o.Payment.Status),
		o.Version, o.CreatedAt, o.UpdatedAt, doc,
	}, nil
}

// Create implements orders.Store.
func (s *OrderStore) Create(ctx context.Context, o *orders.Order) error {
	c := o.Clone()
	c.Version = 1
	args, err := orderArgs(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return orders.ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get implements orders.Store.
func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	return s.getBy(ctx, s.db, "id", id, false)
}

// FindByNumber implements orders.Store.
func (s *OrderStore) FindByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return s.getBy(ctx, s.db, "order_number", number, false)
}

// FindByTrackingID implements orders.Store.
func (s *OrderStore) FindByTrackingID(ctx context.Context, trackingID string) (*orders.Order, error) {
	return s.getBy(ctx, s.db, "tracking_id", trackingID, false)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *OrderStore) getBy(ctx context.Context, q querier, column, value string, lock bool) (*orders.Order, error) {
	query := `SELECT doc, version FROM orders WHERE ` + column + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		doc     []byte
		version int64
	)
	if err := q.QueryRow(ctx, query, value).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order by %s: %w", column, err)
	}
	return decodeOrder(doc, version)
}

func decodeOrder(doc []byte, version int64) (*orders.Order, error) {
	var o orders.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decoding order: %w", err)
	}
	o.Version = version
	return &o, nil
}

// Update implements orders.Store. The row is locked for the duration of fn.
func (s *OrderStore) Update(ctx context.Context, id string, fn func(o *orders.Order) error) (*orders.Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	o, err := s.getBy(ctx, tx, "id", id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.ID = id
	o.Version++

	args, err := orderArgs(o)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `UPDATE orders SET order_number=$2, user_id=$3, tracking_id=$4, status=$5,
		booking_state=$6, payment_status=$7, version=$8, created_at=$9, updated_at=$10, doc=$11 WHERE id=$1`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, orders.ErrDuplicateOrder
		}
		return nil, fmt.Errorf("update order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return o.Clone(), nil
}

// Delete implements orders.Store.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

// List implements orders.Store.
func (s *OrderStore) List(ctx context.Context, f orders.Filter) ([]*orders.Order, error) {
	query, args := listQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o, err := decodeOrder(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

func listQuery(f orders.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", string(f.PaymentStatus))
	}
	if f.HasTracking {
		where = append(where, "tracking_id IS NOT NULL")
	}
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		add("status = ANY($%d)", vals)
	}
	if len(f.BookingStates) > 0 {
		vals := make([]string, len(f.BookingStates))
		for i, st := range f.BookingStates {
			vals[i] = string(st)
		}
		add("booking_state = ANY($%d)", vals)
	}

	var b strings.Builder
	b.WriteString("SELECT doc, version FROM orders")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

var _ orders.Store = (*OrderStore)(nil)
