// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/socialhub/identity/internal/problem"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, *fakeClock) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Close)
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl.mu.Lock()
	rl.now = clock.Now
	rl.mu.Unlock()
	return rl, clock
}

func TestNewRateLimiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("defaults", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: -1, SustainedRate: 0})
		defer rl.Close()
		assert.Equal(t, DefaultBurstCapacity, rl.burstCapacity)
		assert.Equal(t, DefaultSustainedRate, rl.sustainedRate)
		assert.Equal(t, DefaultClientMaxAge, rl.clientMaxAge)
	})

	t.Run("custom values", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: 5, SustainedRate: 0.5})
		defer rl.Close()
		assert.Equal(t, 5, rl.burstCapacity)
		assert.Equal(t, 0.5, rl.sustainedRate)
	})

	t.Run("tiny rate is raised to the minimum", func(t *testing.T) {
		rl := NewRateLimiter(RateLimiterConfig{SustainedRate: 0.0001})
		defer rl.Close()
		assert.Equal(t, MinSustainedRate, rl.sustainedRate)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("allows up to burst then reports cooldown", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{BurstCapacity: 3, SustainedRate: 2})

		for i := 0; i < 3; i++ {
			ok, cooldown := rl.Allow("10.0.0.1")
			require.True(t, ok, "request %d", i)
			assert.Zero(t, cooldown)
		}
		ok, cooldown := rl.Allow("10.0.0.1")
		assert.False(t, ok)
		assert.Equal(t, int64(500), cooldown)
	})

	t.Run("refills over time up to burst", func(t *testing.T) {
		rl, clock := newTestLimiter(t, RateLimiterConfig{BurstCapacity: 2, SustainedRate: 1})

		rl.Allow("c")
		rl.Allow("c")
		ok, _ := rl.Allow("c")
		require.False(t, ok)

		clock.Advance(time.Second)
		ok, _ = rl.Allow("c")
		assert.True(t, ok)

		clock.Advance(time.Hour)
		for i := 0; i < 2; i++ {
			ok, _ = rl.Allow("c")
			assert.True(t, ok)
		}
		ok, _ = rl.Allow("c")
		assert.False(t, ok)
	})

	t.Run("clients are independent", func(t *testing.T) {
		rl, _ := newTestLimiter(t, RateLimiterConfig{BurstCapacity: 1, SustainedRate: 1})

		ok, _ := rl.Allow("a")
		assert.True(t, ok)
		ok, _ = rl.Allow("a")
		assert.False(t, ok)
		ok, _ = rl.Allow("b")
		assert.True(t, ok)
	})
}

func TestRateLimiter_Cleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	rl := NewRateLimiterWithRegistry(RateLimiterConfig{}, reg)
	defer rl.Close()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rl.mu.Lock()
	rl.now = clock.Now
	rl.mu.Unlock()

	rl.Allow("old")
	clock.Advance(2 * time.Hour)
	rl.Allow("fresh")
	require.Equal(t, 2, rl.ClientCount())

	rl.Cleanup(time.Hour)

	assert.Equal(t, 1, rl.ClientCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(rl.clientGauge))
}

func TestRateLimiter_CloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{CleanupInterval: time.Millisecond})
	rl.Close()
	rl.Close()
}

func TestRateLimiter_Concurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: 50, SustainedRate: MinSustainedRate})
	defer rl.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := rl.Allow("shared"); ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, RateLimiterConfig{BurstCapacity: 1, SustainedRate: 1})
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, do("192.0.2.1:1000").Code)

	// Same host, different port: same client.
	rec := do("192.0.2.1:2000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, problem.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, do("192.0.2.2:1000").Code)
}
