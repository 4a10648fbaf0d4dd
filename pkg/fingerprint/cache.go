package fingerprint

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// defaultMaxEntries bounds the cache when WithMaxEntries is not given.
const defaultMaxEntries = 64

// Entry is one memoized artifact keyed by the fingerprint of the dataset it
// was computed from.
type Entry struct {
	Key         string      `json:"key"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Payload     []byte      `json:"payload"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Store persists cache entries across sessions. Implementations skip
// undecodable entries on load rather than failing: the cache must degrade
// to a miss, never block recomputation.
type Store interface {
	SaveEntry(ctx context.Context, entry Entry) error
	LoadEntries(ctx context.Context) ([]Entry, error)
	DeleteEntry(ctx context.Context, key string) error
	ClearEntries(ctx context.Context) error
}

// Cache memoizes expensive derived artifacts, invalidated by dataset shape
// rather than wall-clock TTL alone. A lookup hits only when the entry is
// young enough AND its fingerprint still matches the freshly computed one.
//
// The entry map is replaced wholesale on every write (copy-then-swap) so
// concurrent readers never observe a partially updated entry.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	store  Store
	max    int
	now    func() time.Time
	logger *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithMaxEntries bounds the number of entries held. Beyond the bound the
// oldest-created entries are evicted first; access recency is not tracked.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.max = n
		}
	}
}

// WithClock overrides the time source, for age-based specs.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger overrides the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// NewCache creates a Cache backed by store. A nil store gives a memory-only
// cache. No IO happens until Load or the first write.
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		store:   store,
		max:     defaultMaxEntries,
		now:     time.Now,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Load hydrates the cache from its store. Entries beyond the capacity bound
// are dropped oldest-first, mirroring eviction. Safe to skip: an unhydrated
// cache simply misses.
func (c *Cache) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	loaded, err := c.store.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading cache entries: %w", err)
	}

	entries := make(map[string]Entry, len(loaded))
	for _, entry := range loaded {
		entries[entry.Key] = entry
	}
	c.trim(entries, nil)

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	return nil
}

// Get returns the cached payload for key when the entry is still usable:
// its age does not exceed maxAge (maxAge <= 0 disables the age bound) and
// its fingerprint equals current. A miss is not an error; it is the signal
// to recompute.
func (c *Cache) Get(_ context.Context, key string, current Fingerprint, maxAge time.Duration) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if maxAge > 0 && c.now().Sub(entry.CreatedAt) > maxAge {
		return nil, false
	}

	if !entry.Fingerprint.Equal(current) {
		return nil, false
	}

	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	return payload, true
}

// Set memoizes payload under key, stamped with the fingerprint it was
// computed from. The in-memory entry is installed even when persisting it
// fails, so the session still benefits; the persist error is returned for
// callers that care.
func (c *Cache) Set(ctx context.Context, key string, current Fingerprint, payload []byte) error {
	entry := Entry{
		Key:         key,
		Fingerprint: current,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   c.now().UTC(),
	}

	var evicted []string

	c.mu.Lock()
	next := make(map[string]Entry, len(c.entries)+1)
	for k, v := range c.entries {
		next[k] = v
	}
	next[entry.Key] = entry
	c.trim(next, &evicted)
	c.entries = next
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	for _, evictedKey := range evicted {
		if err := c.store.DeleteEntry(ctx, evictedKey); err != nil {
			c.logger.Debug("dropping evicted cache entry failed", "key", evictedKey, "error", err)
		}
	}

	if err := c.store.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("persisting cache entry: %w", err)
	}

	return nil
}

// Clear drops every entry, in memory and persisted.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	if err := c.store.ClearEntries(ctx); err != nil {
		return fmt.Errorf("clearing cache entries: %w", err)
	}

	return nil
}

// Len returns the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// trim evicts oldest-created entries until entries fits the bound, appending
// evicted keys to out when non-nil. FIFO by creation, not LRU: the cache
// does not track access recency.
func (c *Cache) trim(entries map[string]Entry, out *[]string) {
	if len(entries) <= c.max {
		return
	}

	ordered := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		ordered = append(ordered, entry)
	}
	slices.SortFunc(ordered, func(a, b Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	for _, entry := range ordered {
		if len(entries) <= c.max {
			break
		}
		delete(entries, entry.Key)
		if out != nil {
			*out = append(*out, entry.Key)
		}
	}
}
