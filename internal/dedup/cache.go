package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default retention and sweep settings.
const (
	DefaultRetention     = 3 * time.Hour
	DefaultSweepInterval = 300 * time.Second
)

// Cache remembers which identity keys have been enqueued, and when.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]time.Time)}
}

// TryInsert records key at time now. It returns false without modifying
// the cache if key is already present.
func (c *Cache) TryInsert(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = now
	return true
}

// Contains reports whether key is present.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// Sweep removes entries inserted more than maxAge before now and returns
// how many were removed.
func (c *Cache) Sweep(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, insertedAt := range c.entries {
		if insertedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SweeperOptions configures Run.
type SweeperOptions struct {
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Run sweeps expired entries every Interval until ctx is done.
func (c *Cache) Run(ctx context.Context, opts SweeperOptions) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(opts.Now(), opts.Retention); removed > 0 {
				opts.Logger.Debug("expired dedup entries",
					"removed", removed,
					"remaining", c.Len(),
				)
			}
		}
	}
}
