package authclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const defaultCacheEntries = 10000

type cacheEntry struct {
	verdict Verdict
	until   time.Time
}

// CachingValidator fronts another Validator with a short-lived cache of
// positive verdicts keyed by the SHA-256 of the token. An entry never outlives
// the token it describes. Negative and degraded verdicts are not cached, so a
// recovered issuer is consulted again on the next request.
type CachingValidator struct {
	next       Validator
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    *Metrics

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// CacheOption configures a CachingValidator.
type CacheOption func(*CachingValidator)

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachingValidator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMaxEntries bounds the number of cached verdicts.
func WithMaxEntries(n int) CacheOption {
	return func(c *CachingValidator) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithCacheMetrics records cache hits into m.
func WithCacheMetrics(m *Metrics) CacheOption {
	return func(c *CachingValidator) { c.metrics = m }
}

// NewCachingValidator wraps next. A non-positive ttl disables caching and
// returns next unchanged.
func NewCachingValidator(next Validator, ttl time.Duration, opts ...CacheOption) Validator {
	if ttl <= 0 {
		return next
	}
	c := &CachingValidator{
		next:       next,
		ttl:        ttl,
		maxEntries: defaultCacheEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate implements Validator.
func (c *CachingValidator) Validate(ctx context.Context, token string) Verdict {
	key := cacheKey(token)
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(e.until) {
		c.metrics.outcome(OutcomeCacheHit)
		return e.verdict
	}

	v := c.next.Validate(ctx, token)
	if !v.Valid || v.ExpiresAt == nil {
		if ok {
			c.mu.Lock()
			delete(c.entries, key)
			c.mu.Unlock()
		}
		return v
	}

	until := now.Add(c.ttl)
	if v.ExpiresAt.Before(until) {
		until = *v.ExpiresAt
	}
	if !now.Before(until) {
		return v
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked(now)
	}
	if len(c.entries) < c.maxEntries {
		c.entries[key] = cacheEntry{verdict: v, until: until}
	}
	c.mu.Unlock()
	return v
}

// Len returns the number of cached verdicts, including expired ones not yet
// evicted.
func (c *CachingValidator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CachingValidator) evictExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.until) {
			delete(c.entries, k)
		}
	}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
