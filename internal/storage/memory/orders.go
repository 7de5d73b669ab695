package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tournevent/shipbroker/internal/orders"
)

// OrderStore is an in-memory orders.Store. Documents are cloned on the way in
// and out so callers never share state with the store.
type OrderStore struct {
	mu       sync.RWMutex
	byID     map[string]*orders.Order
	byNumber map[string]string
	byAWB    map[string]string
}

// NewOrderStore creates an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		byID:     make(map[string]*orders.Order),
		byNumber: make(map[string]string),
		byAWB:    make(map[string]string),
	}
}

// Create implements orders.Store.
func (s *OrderStore) Create(ctx context.Context, o *orders.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[o.ID]; ok {
		return orders.ErrDuplicateOrder
	}
	if _, ok := s.byNumber[o.OrderNumber]; ok {
		return orders.ErrDuplicateOrder
	}
	c := o.Clone()
	c.Version = 1
	s.byID[c.ID] = c
	s.byNumber[c.OrderNumber] = c.ID
	if c.TrackingID != "" {
		s.byAWB[c.TrackingID] = c.ID
	}
	return nil
}

// Get implements orders.Store.
func (s *OrderStore) Get(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// FindByNumber implements orders.Store.
func (s *OrderStore) FindByNumber(ctx context.Context, number string) (*orders.Order, error) {
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

// FindByTrackingID implements orders.Store.
func (s *OrderStore) FindByTrackingID(ctx context.Context, trackingID string) (*orders.Order, error) {
	s.mu.RLock()
	id, ok := s.byAWB[trackingID]
	s.mu.RUnlock()
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return s.Get(ctx, id)
}

// Update implements orders.Store. fn runs under the store lock.
func (s *OrderStore) Update(ctx context.Context, id string, fn func(o *orders.Order) error) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	if next.OrderNumber != cur.OrderNumber {
		delete(s.byNumber, cur.OrderNumber)
		s.byNumber[next.OrderNumber] = id
	}
	if next.TrackingID != cur.TrackingID {
		delete(s.byAWB, cur.TrackingID)
		if next.TrackingID != "" {
			s.byAWB[next.TrackingID] = id
		}
	}
	s.byID[id] = next
	return next.Clone(), nil
}

// Delete implements orders.Store.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return orders.ErrOrderNotFound
	}
	delete(s.byID, id)
	delete(s.byNumber, o.OrderNumber)
	if o.TrackingID != "" {
		delete(s.byAWB, o.TrackingID)
	}
	return nil
}

// List implements orders.Store.
func (s *OrderStore) List(ctx context.Context, f orders.Filter) ([]*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]*orders.Order, 0)
	for _, o := range s.byID {
		if f.Match(o) {
			matched = append(matched, o.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].OrderNumber > matched[j].OrderNumber
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*orders.Order{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

var _ orders.Store = (*OrderStore)(nil)
