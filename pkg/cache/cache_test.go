package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingRecorder struct {
	mu                    sync.Mutex
	hits, misses, evicted int
}

func (r *countingRecorder) CacheHit(Kind)  { r.mu.Lock(); r.hits++; r.mu.Unlock() }
func (r *countingRecorder) CacheMiss(Kind) { r.mu.Lock(); r.misses++; r.mu.Unlock() }
func (r *countingRecorder) CacheEviction() { r.mu.Lock(); r.evicted++; r.mu.Unlock() }

func newTestCache(t *testing.T, store Store, cfg Config) (*Cache, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := New(store, cfg)
	c.now = clk.now
	return c, clk
}

type payload struct {
	Report  string   `json:"report"`
	Sources []string `json:"sources"`
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), Config{})
	rec := &countingRecorder{}
	c.Recorder = rec

	key, err := BuildCacheKey(KindCompany, Params{CompanyName: "Acme Corp"})
	require.NoError(t, err)

	want := payload{Report: "# Acme", Sources: []string{"https://acme.example"}}
	require.NoError(t, c.Set(ctx, key, want, time.Minute))

	e, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, e)
	var got payload
	require.NoError(t, json.Unmarshal(e.Data, &got))
	assert.Equal(t, want, got)
	assert.Equal(t, int64(1), e.HitCount)

	clk.advance(time.Minute + time.Second)
	e, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = c.Get(ctx, "research:company-research:absent")
	require.NoError(t, err)
	assert.Nil(t, e)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(2), stats.TotalMisses)
	assert.InDelta(t, 1.0/3.0, stats.HitRate, 1e-9)
	assert.Equal(t, 1, rec.hits)
	assert.Equal(t, 2, rec.misses)

	// Expired entries stay until swept.
	assert.Equal(t, 1, stats.Entries)
}

func TestCacheDefaultTTLPerKind(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), Config{TTL: map[Kind]time.Duration{KindMarket: time.Hour}})

	assert.Equal(t, time.Hour, c.TTLFor(KindMarket))
	assert.Equal(t, 24*time.Hour, c.TTLFor(KindCompany))
	assert.Equal(t, 6*time.Hour, c.TTLFor(KindFreeForm))

	key, err := BuildCacheKey(KindMarket, Params{Market: "ev"})
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, key, "x", 0))

	e, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, clk.now().Add(time.Hour), e.ExpiresAt)
}

func TestCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), Config{MaxEntries: 2})
	rec := &countingRecorder{}
	c.Recorder = rec

	require.NoError(t, c.Set(ctx, "research:free-form-research:a", "a", time.Hour))
	clk.advance(time.Second)
	require.NoError(t, c.Set(ctx, "research:free-form-research:b", "b", time.Hour))
	clk.advance(time.Second)

	// Touch a so b becomes the oldest.
	e, err := c.Get(ctx, "research:free-form-research:a")
	require.NoError(t, err)
	require.NotNil(t, e)

	require.NoError(t, c.Set(ctx, "research:free-form-research:c", "c", time.Hour))

	e, err = c.Get(ctx, "research:free-form-research:b")
	require.NoError(t, err)
	assert.Nil(t, e)
	for _, k := range []string{"a", "c"} {
		e, err := c.Get(ctx, "research:free-form-research:"+k)
		require.NoError(t, err)
		assert.NotNil(t, e, k)
	}

	// Overwriting an existing key never evicts.
	require.NoError(t, c.Set(ctx, "research:free-form-research:c", "c2", time.Hour))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 1, rec.evicted)
}

func TestCacheCleanupAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(t, NewMemoryStore(), Config{})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("research:company-research:short%d", i), i, time.Minute))
	}
	require.NoError(t, c.Set(ctx, "research:company-research:long", "keep", time.Hour))

	clk.advance(2 * time.Minute)
	n, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ok, err := c.Invalidate(ctx, "research:company-research:long")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Invalidate(ctx, "research:company-research:long")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}

func TestCacheSetPreservesHitCount(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryStore(), Config{})
	key := "research:market-research:k"

	require.NoError(t, c.Set(ctx, key, 1, time.Hour))
	_, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, key, 2, time.Hour))

	e, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.HitCount)
	assert.JSONEq(t, "2", string(e.Data))
}

func TestCacheConcurrentAccounting(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, NewMemoryStore(), Config{})
	key := "research:company-research:hot"
	require.NoError(t, c.Set(ctx, key, "v", time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(ctx, key)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	e, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(51), e.HitCount)
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	c, _ := newTestCache(t, NewMemoryStore(), Config{CleanupInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunCleanup(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return")
	}
}
