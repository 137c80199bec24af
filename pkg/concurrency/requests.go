package concurrency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// DefaultDedupWindow is how long an in-flight request may be joined by
// identical callers.
const DefaultDedupWindow = 5 * time.Second

type call struct {
	key     string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	waiters int

	val any
	err error
}

func (c *call) settle(val any, err error) bool {
	settled := false
	c.once.Do(func() {
		c.val, c.err = val, err
		close(c.done)
		settled = true
	})
	return settled
}

// RequestManager deduplicates identical in-flight requests and cancels them
// by key prefix. Keys have the form "<endpoint>#<params digest>", so an
// endpoint name (or any leading part of it, such as a research id) is a
// valid abort prefix.
type RequestManager struct {
	Logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*call
	window  time.Duration
	now     func() time.Time
}

func NewRequestManager(window time.Duration) *RequestManager {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RequestManager{
		Logger:  slog.Default(),
		pending: make(map[string]*call),
		window:  window,
		now:     time.Now,
	}
}

// RequestKey derives the deterministic key of (endpoint, params). Params are
// JSON encoded, which orders map keys, so logically equal maps hash equally.
func RequestKey(endpoint string, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode request params: %w", err)
	}
	sum := sha256.Sum256(raw)
	return endpoint + "#" + hex.EncodeToString(sum[:8]), nil
}

// Do runs fn unless an identical request started within the dedup window is
// still in flight, in which case the caller shares that request's outcome.
// fn receives a context that is canceled by AbortRequests or when every
// waiter has given up.
func (m *RequestManager) Do(ctx context.Context, endpoint string, params any, fn func(ctx context.Context) (any, error)) (any, error) {
	key, err := RequestKey(endpoint, params)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	c, ok := m.pending[key]
	if ok && m.now().Sub(c.started) > m.window {
		ok = false
	}
	if !ok {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call{key: key, started: m.now(), cancel: cancel, done: make(chan struct{})}
		m.pending[key] = c
		go m.execute(callCtx, c, fn)
	} else {
		m.Logger.Debug("Joining in-flight request", "key", key)
	}
	c.waiters++
	m.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		m.leave(c)
		return nil, errs.Canceled(key, ctx.Err())
	}
}

func (m *RequestManager) execute(ctx context.Context, c *call, fn func(ctx context.Context) (any, error)) {
	defer c.cancel()
	val, err := fn(ctx)
	c.settle(val, errs.Canceled(c.key, err))
	m.forget(c)
}

// leave drops a waiter; the last waiter to leave cancels the request.
func (m *RequestManager) leave(c *call) {
	m.mu.Lock()
	c.waiters--
	last := c.waiters == 0
	if last && m.pending[c.key] == c {
		delete(m.pending, c.key)
	}
	m.mu.Unlock()
	if last {
		c.cancel()
		c.settle(nil, &errs.CancellationError{Key: c.key})
	}
}

func (m *RequestManager) forget(c *call) {
	m.mu.Lock()
	if m.pending[c.key] == c {
		delete(m.pending, c.key)
	}
	m.mu.Unlock()
}

// AbortRequests cancels every in-flight request whose key starts with prefix,
// or all of them when prefix is empty. Waiters receive a CancellationError.
// It returns the number of requests aborted.
func (m *RequestManager) AbortRequests(prefix string) int {
	m.mu.Lock()
	var victims []*call
	for key, c := range m.pending {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			victims = append(victims, c)
			delete(m.pending, key)
		}
	}
	m.mu.Unlock()

	for _, c := range victims {
		c.cancel()
		c.settle(nil, &errs.CancellationError{Key: c.key})
	}
	if len(victims) > 0 {
		m.Logger.Info("Aborted in-flight requests", "prefix", prefix, "count", len(victims))
	}
	return len(victims)
}

// Pending lists the keys of in-flight requests in sorted order.
func (m *RequestManager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Deduplicate is the typed form of RequestManager.Do.
func Deduplicate[T any](ctx context.Context, m *RequestManager, endpoint string, params any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := m.Do(ctx, endpoint, params, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("deduplicated request %s returned %T", endpoint, v)
	}
	return out, nil
}
