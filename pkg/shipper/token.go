package shipper

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTokenExpiryBuffer is how long before expiry a cached token is refreshed.
const DefaultTokenExpiryBuffer = 5 * time.Minute

// Token is a partner credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenFetcher obtains a fresh token from the partner.
type TokenFetcher func(ctx context.Context) (Token, error)

type tokenState int

const (
	tokenEmpty tokenState = iota
	tokenValid
	tokenRefreshing
)

// TokenCache caches one partner token. Concurrent callers that find the token
// stale share a single fetch.
type TokenCache struct {
	fetch  TokenFetcher
	buffer time.Duration
	now    func() time.Time

	mu    sync.Mutex
	state tokenState
	token Token

	group singleflight.Group
}

// NewTokenCache creates a cache that refreshes buffer before expiry.
func NewTokenCache(fetch TokenFetcher, buffer time.Duration) *TokenCache {
	if buffer <= 0 {
		buffer = DefaultTokenExpiryBuffer
	}
	return &TokenCache{
		fetch:  fetch,
		buffer: buffer,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (c *TokenCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns a fresh token value, fetching one if the cache is empty or the
// cached token is within the expiry buffer.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.state == tokenValid && c.now().Add(c.buffer).Before(c.token.ExpiresAt) {
		value := c.token.Value
		c.mu.Unlock()
		return value, nil
	}
	c.state = tokenRefreshing
	c.mu.Unlock()

	// The shared fetch must not be cut short by whichever caller arrived first.
	fetchCtx := context.WithoutCancel(ctx)

	v, err, _ := c.group.Do("token", func() (any, error) {
		// A fetch that finished between our check and Do already refreshed the cache.
		c.mu.Lock()
		if c.state == tokenValid && c.now().Add(c.buffer).Before(c.token.ExpiresAt) {
			value := c.token.Value
			c.mu.Unlock()
			return value, nil
		}
		c.mu.Unlock()

		tok, err := c.fetch(fetchCtx)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.state = tokenEmpty
			c.token = Token{}
			return nil, err
		}
		if tok.Value == "" {
			c.state = tokenEmpty
			return nil, errors.New("partner returned an empty token")
		}
		c.token = tok
		c.state = tokenValid
		return tok.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the partner answered 401.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = tokenEmpty
	c.token = Token{}
}

// Valid reports whether a usable token is cached.
func (c *TokenCache) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == tokenValid && c.now().Add(c.buffer).Before(c.token.ExpiresAt)
}
