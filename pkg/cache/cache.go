package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Entry is one cached research result.
type Entry struct {
	Key            string          `json:"key"`
	Data           json.RawMessage `json:"data"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastAccessedAt time.Time       `json:"lastAccessedAt"`
	HitCount       int64           `json:"hitCount"`
	ExpiresAt      time.Time       `json:"expiresAt"`
}

// Store is the persistence behind a Cache. Eviction and expiry policy live in
// the Cache; stores only keep entries ordered by last access.
type Store interface {
	// Load returns nil, nil when key is absent.
	Load(ctx context.Context, key string) (*Entry, error)
	// Save inserts or overwrites e and marks it most recently accessed.
	Save(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int, error)
	// EvictOldest removes the least recently accessed entry and returns its
	// key, or "" when the store is empty.
	EvictOldest(ctx context.Context) (string, error)
	// Sweep removes every entry that expired before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Recorder observes cache traffic.
type Recorder interface {
	CacheHit(kind Kind)
	CacheMiss(kind Kind)
	CacheEviction()
}

// Config tunes a Cache.
type Config struct {
	MaxEntries      int                    `mapstructure:"max_entries"`
	CleanupInterval time.Duration          `mapstructure:"cleanup_interval"`
	TTL             map[Kind]time.Duration `mapstructure:"ttl"`
}

// DefaultConfig returns the stock TTLs and capacity.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      1000,
		CleanupInterval: 10 * time.Minute,
		TTL: map[Kind]time.Duration{
			KindCompany:  24 * time.Hour,
			KindMarket:   12 * time.Hour,
			KindBulk:     24 * time.Hour,
			KindFreeForm: 6 * time.Hour,
		},
	}
}

// Stats is a snapshot of cache accounting.
type Stats struct {
	Entries     int     `json:"entries"`
	MaxEntries  int     `json:"maxEntries"`
	TotalHits   int64   `json:"totalHits"`
	TotalMisses int64   `json:"totalMisses"`
	Evictions   int64   `json:"evictions"`
	HitRate     float64 `json:"hitRate"`
}

// Cache fronts a Store with TTLs, capacity eviction and hit/miss accounting.
// Read-check-write sequences run under one lock, so concurrent lookups and
// writes of the same key never lose an update.
type Cache struct {
	Logger   *slog.Logger
	Recorder Recorder

	store Store
	cfg   Config
	now   func() time.Time

	mu        sync.Mutex
	hits      int64
	misses    int64
	evictions int64
}

// New returns a Cache over store. Zero fields of cfg take their defaults.
func New(store Store, cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	ttl := make(map[Kind]time.Duration, len(def.TTL))
	for k, v := range def.TTL {
		ttl[k] = v
	}
	for k, v := range cfg.TTL {
		if v > 0 {
			ttl[k] = v
		}
	}
	cfg.TTL = ttl
	return &Cache{
		Logger: slog.Default(),
		store:  store,
		cfg:    cfg,
		now:    time.Now,
	}
}

// TTLFor returns the configured lifetime of entries of kind.
func (c *Cache) TTLFor(kind Kind) time.Duration {
	if ttl, ok := c.cfg.TTL[kind]; ok {
		return ttl
	}
	return c.cfg.TTL[KindFreeForm]
}

// IsExpired reports whether e is past its expiry.
func (c *Cache) IsExpired(e *Entry) bool {
	return c.now().After(e.ExpiresAt)
}

// Get returns the live entry under key, or nil. Absent and expired entries
// are both misses.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	kind, _ := KindOf(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.store.Load(ctx, key)
	if err != nil {
		c.miss(kind)
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}
	if e == nil || c.IsExpired(e) {
		c.miss(kind)
		return nil, nil
	}

	e.HitCount++
	e.LastAccessedAt = c.now()
	if err := c.store.Save(ctx, e); err != nil {
		c.Logger.Warn("failed to record cache hit", "key", key, "error", err)
	}
	c.hits++
	if c.Recorder != nil {
		c.Recorder.CacheHit(kind)
	}
	return e, nil
}

func (c *Cache) miss(kind Kind) {
	c.misses++
	if c.Recorder != nil {
		c.Recorder.CacheMiss(kind)
	}
}

// Set stores data under key. A non-positive ttl selects the TTL of the key's
// kind. Inserting a new key into a full cache evicts the least recently
// accessed entries first.
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode cache data: %w", err)
	}
	if ttl <= 0 {
		kind, _ := KindOf(key)
		ttl = c.TTLFor(kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	existing, err := c.store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load cache entry: %w", err)
	}
	e := &Entry{Key: key, Data: raw, CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(ttl)}
	if existing != nil {
		e.CreatedAt = existing.CreatedAt
		e.HitCount = existing.HitCount
	} else if err := c.makeRoom(ctx); err != nil {
		return err
	}

	if err := c.store.Save(ctx, e); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (c *Cache) makeRoom(ctx context.Context) error {
	if c.cfg.MaxEntries <= 0 {
		return nil
	}
	for {
		n, err := c.store.Len(ctx)
		if err != nil {
			return fmt.Errorf("failed to count cache entries: %w", err)
		}
		if n < c.cfg.MaxEntries {
			return nil
		}
		key, err := c.store.EvictOldest(ctx)
		if err != nil {
			return fmt.Errorf("failed to evict cache entry: %w", err)
		}
		if key == "" {
			return nil
		}
		c.evictions++
		if c.Recorder != nil {
			c.Recorder.CacheEviction()
		}
		c.Logger.Debug("evicted cache entry", "key", key)
	}
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, key)
}

// Cleanup removes all expired entries and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.store.Sweep(ctx, c.now())
	if err != nil {
		return n, fmt.Errorf("failed to sweep cache: %w", err)
	}
	return n, nil
}

// Stats reports the current accounting.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.store.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count cache entries: %w", err)
	}
	s := Stats{
		Entries:     n,
		MaxEntries:  c.cfg.MaxEntries,
		TotalHits:   c.hits,
		TotalMisses: c.misses,
		Evictions:   c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s, nil
}

// RunCleanup sweeps expired entries every cleanup interval until ctx is done.
func (c *Cache) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				c.Logger.Error("cache cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				c.Logger.Info("cache cleanup", "removed", n)
			}
		}
	}
}
