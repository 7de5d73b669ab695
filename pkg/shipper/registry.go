package shipper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry manages registered delivery partners.
type Registry struct {
	shippers map[string]Shipper
	mu       sync.RWMutex
}

// NewRegistry creates a new shipper registry.
func NewRegistry() *Registry {
	return &Registry{
		shippers: make(map[string]Shipper),
	}
}

// Register adds a shipper to the registry. Registration happens at startup only.
func (r *Registry) Register(s Shipper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shippers[s.Name()] = s
}

// Get returns a shipper by name.
func (r *Registry) Get(name string) (Shipper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shippers[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownProvider, name, strings.Join(r.namesLocked(), ", "))
}

// Has reports whether name is a registered partner.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// All returns all registered shippers ordered by name.
func (r *Registry) All() []Shipper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Shipper, 0, len(r.shippers))
	for _, name := range r.namesLocked() {
		result = append(result, r.shippers[name])
	}
	return result
}

// Names returns the sorted names of all registered shippers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.shippers))
	for name := range r.shippers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered shippers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shippers)
}

// QuoteAll fetches quotes from the given partners (all when empty) in parallel.
// Errors from individual partners are collected but don't fail the entire request.
func (r *Registry) QuoteAll(ctx context.Context, req *QuoteRequest, partners []string) ([]*Quote, []error) {
	if len(partners) == 0 {
		partners = r.Names()
	}
	if len(partners) == 0 {
		return nil, []error{ErrUnknownProvider}
	}

	results := make([]*Quote, 0, len(partners))
	errs := make([]error, 0)
	mu := &sync.Mutex{}

	g, ctx := errgroup.WithContext(ctx)

	for _, name := range partners {
		g.Go(func() error {
			s, err := r.Get(name)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}

			quote, err := s.QuoteRate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil // Don't fail the group, continue with other partners
			}
			results = append(results, quote)
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Selected.Pricing.Total.LessThan(results[j].Selected.Pricing.Total)
	})
	return results, errs
}
