package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *clock) {
	t.Helper()
	cfg.CleanupInterval = 0
	l := NewLimiter(cfg)
	c := &clock{now: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	l.now = c.Now
	t.Cleanup(l.Stop)
	return l, c
}

func TestLimiter_BurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(1, 3))

	for i := range 3 {
		allowed, info := l.Allow("10.0.0.1", "/pipeline/pos", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2-i, info.Remaining)
	}

	allowed, info := l.Allow("10.0.0.1", "/pipeline/pos", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, time.Second, info.RetryAfter)
}

func TestLimiter_Refill(t *testing.T) {
	l, c := newTestLimiter(t, NewConfig(2, 1))

	allowed, _ := l.Allow("a", "/pipeline/logs", "GET")
	require.True(t, allowed)
	allowed, _ = l.Allow("a", "/pipeline/logs", "GET")
	require.False(t, allowed)

	c.Advance(500 * time.Millisecond)
	allowed, _ = l.Allow("a", "/pipeline/logs", "GET")
	assert.True(t, allowed)
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(1, 1))

	allowed, _ := l.Allow("a", "/x", "GET")
	require.True(t, allowed)
	allowed, _ = l.Allow("a", "/x", "GET")
	require.False(t, allowed)

	allowed, _ = l.Allow("b", "/x", "GET")
	assert.True(t, allowed)
}

func TestLimiter_WhitelistAndBlacklist(t *testing.T) {
	cfg := NewConfig(1, 1)
	cfg.Whitelist["trusted"] = true
	cfg.Blacklist["banned"] = true
	l, _ := newTestLimiter(t, cfg)

	for range 5 {
		allowed, _ := l.Allow("trusted", "/pipeline/run", "POST")
		assert.True(t, allowed)
	}
	allowed, _ := l.Allow("banned", "/health", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(0, 0))

	for range 100 {
		allowed, info := l.Allow("a", "/pipeline/run", "POST")
		require.True(t, allowed)
		assert.Zero(t, info.Limit)
	}
}

func TestLimiter_PipelineRunIsStricter(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(100, 100))

	for range 2 {
		allowed, _ := l.Allow("a", "/pipeline/run", "POST")
		require.True(t, allowed)
	}
	allowed, info := l.Allow("a", "/pipeline/run", "POST")
	assert.False(t, allowed)
	assert.Equal(t, 10*time.Second, info.RetryAfter)

	allowed, _ = l.Allow("a", "/pipeline/pos", "GET")
	assert.True(t, allowed)
}

func TestLimiter_ApprovePathsShareOneBucket(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(5, 10))

	denied := 0
	for i := range 40 {
		allowed, _ := l.Allow("10.0.0.1", fmt.Sprintf("/pipeline/approve/PO-%d", i), "POST")
		if !allowed {
			denied++
		}
	}
	assert.Equal(t, 30, denied)
	assert.Equal(t, 1, l.size())

	allowed, _ := l.Allow("10.0.0.2", "/pipeline/approve/PO-0", "POST")
	assert.True(t, allowed)
}

func TestLimiter_HealthIsUnlimited(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(1, 1))

	for range 20 {
		allowed, _ := l.Allow("a", "/health", "GET")
		require.True(t, allowed)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	cfg := NewConfig(1, 1)
	cfg.IdleTTL = time.Minute
	l, c := newTestLimiter(t, cfg)

	l.Allow("old", "/x", "GET")
	c.Advance(2 * time.Minute)
	l.Allow("new", "/x", "GET")
	require.Equal(t, 2, l.size())

	l.cleanupBuckets()
	assert.Equal(t, 1, l.size())
}

func TestLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(t, NewConfig(1, 50))

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("a", "/x", "GET"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, allowed.Load())
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()

	tests := []struct {
		name     string
		path     string
		method   string
		wantPath string
		wantRate rate.Limit
		wantNil  bool
	}{
		{name: "exact", path: "/pipeline/run", method: "POST", wantPath: "/pipeline/run", wantRate: configs[0].Rate},
		{name: "prefix", path: "/pipeline/approve/PO-1", method: "POST", wantPath: "/pipeline/approve/", wantRate: configs[2].Rate},
		{name: "method mismatch", path: "/pipeline/run", method: "GET", wantNil: true},
		{name: "health", path: "/health", method: "GET", wantPath: "/health", wantRate: 0},
		{name: "metrics", path: "/metrics", method: "GET", wantPath: "/metrics", wantRate: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, tt.wantRate, got.Rate)
		})
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := NewLimiter(NewConfig(1, 1))
	l.Stop()
	l.Stop()
}
