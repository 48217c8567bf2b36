package client

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a cached artifact stays valid.
const DefaultTTL = time.Hour

// CachedArtifact is one cache entry.
type CachedArtifact struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// CacheOption configures a ResultCache.
type CacheOption func(*ResultCache)

// WithTTL sets the entry lifetime. Panics if d <= 0.
func WithTTL(d time.Duration) CacheOption {
	if d <= 0 {
		panic("client: WithTTL duration must be positive")
	}
	return func(c *ResultCache) {
		c.ttl = d
	}
}

// WithClock sets the time source, for deterministic expiry in tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResultCache) {
		if now != nil {
			c.now = now
		}
	}
}

// ResultCache holds finished artifacts by key until they expire.
// TTL is the only eviction policy. It is safe for concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]CachedArtifact
	ttl     time.Duration
	now     func() time.Time
}

// NewResultCache creates an empty cache.
func NewResultCache(opts ...CacheOption) *ResultCache {
	c := &ResultCache{
		entries: make(map[string]CachedArtifact),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the entry lifetime.
func (c *ResultCache) TTL() time.Duration { return c.ttl }

// Put stores a copy of payload under key, replacing any previous entry.
func (c *ResultCache) Put(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CachedArtifact{
		Key:       key,
		Payload:   bytes.Clone(payload),
		CreatedAt: c.now(),
	}
}

// Get returns the entry for key. Expired entries are removed and
// reported absent.
func (c *ResultCache) Get(key string) (CachedArtifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return CachedArtifact{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		return CachedArtifact{}, false
	}
	e.Payload = bytes.Clone(e.Payload)
	return e, true
}

// Delete removes key and reports whether it was present.
func (c *ResultCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Sweep removes every expired entry and returns how many it removed.
func (c *ResultCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included until
// they are swept or looked up.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// StartSweeper calls Sweep every interval until ctx ends. The returned
// channel is closed once the goroutine has exited. Panics if interval <= 0.
func (c *ResultCache) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		panic("client: StartSweeper interval must be positive")
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
	return done
}

func (c *ResultCache) expired(e CachedArtifact, now time.Time) bool {
	return now.Sub(e.CreatedAt) > c.ttl
}
