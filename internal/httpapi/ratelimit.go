// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/problem"
)

// Default rate limiting values.
const (
	// DefaultBurstCapacity is the number of requests a client can make in a
	// burst before it is limited.
	DefaultBurstCapacity = 20

	// DefaultSustainedRate is the refill rate in requests per second.
	DefaultSustainedRate = 1.0

	// MinSustainedRate keeps a misconfigured limiter from locking clients
	// out for good.
	MinSustainedRate = 0.01

	// DefaultCleanupInterval is how often idle clients are forgotten.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxAge is how long a client may stay idle before its
	// bucket is dropped.
	DefaultClientMaxAge = time.Hour
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// BurstCapacity defaults to DefaultBurstCapacity if zero or negative.
	BurstCapacity int

	// SustainedRate defaults to DefaultSustainedRate if zero or negative.
	SustainedRate float64

	CleanupInterval time.Duration
	ClientMaxAge    time.Duration
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter is a per-client token bucket limiter. It is safe for
// concurrent use.
//
// A background goroutine forgets idle clients. Call Close to stop it.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*bucket
	burstCapacity int
	sustainedRate float64
	clientMaxAge  time.Duration
	now           func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return newRateLimiter(cfg, nil)
}

// NewRateLimiterWithRegistry creates a rate limiter that reports the number
// of tracked clients as identity_ratelimit_clients.
func NewRateLimiterWithRegistry(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	return newRateLimiter(cfg, reg)
}

func newRateLimiter(cfg RateLimiterConfig, reg prometheus.Registerer) *RateLimiter {
	burst := cfg.BurstCapacity
	if burst <= 0 {
		burst = DefaultBurstCapacity
	}
	rate := cfg.SustainedRate
	if rate <= 0 {
		rate = DefaultSustainedRate
	}
	if rate < MinSustainedRate {
		rate = MinSustainedRate
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	maxAge := cfg.ClientMaxAge
	if maxAge <= 0 {
		maxAge = DefaultClientMaxAge
	}

	rl := &RateLimiter{
		clients:       make(map[string]*bucket),
		burstCapacity: burst,
		sustainedRate: rate,
		clientMaxAge:  maxAge,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
	if reg != nil {
		rl.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "identity_ratelimit_clients",
			Help: "Current number of clients tracked by the rate limiter",
		})
		reg.MustRegister(rl.clientGauge)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(interval)
	return rl
}

// Allow consumes a token for client. When none is left it returns false and
// the milliseconds until the next token.
func (rl *RateLimiter) Allow(client string) (allowed bool, cooldownMs int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[client]
	if !ok {
		b = &bucket{tokens: float64(rl.burstCapacity), lastCheck: now}
		rl.clients[client] = b
	}

	b.tokens += now.Sub(b.lastCheck).Seconds() * rl.sustainedRate
	if b.tokens > float64(rl.burstCapacity) {
		b.tokens = float64(rl.burstCapacity)
	}
	b.lastCheck = now

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	deficit := 1.0 - b.tokens
	return false, int64(deficit / rl.sustainedRate * 1000)
}

// ClientCount returns the number of tracked clients.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Cleanup forgets clients idle for longer than maxAge.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := rl.now().Add(-maxAge)
	for client, b := range rl.clients {
		if b.lastCheck.Before(threshold) {
			delete(rl.clients, client)
		}
	}
	if rl.clientGauge != nil {
		rl.clientGauge.Set(float64(len(rl.clients)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup(rl.clientMaxAge)
		}
	}
}

// Close stops the cleanup goroutine and waits for it. It is safe to call
// more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}

// Middleware rejects requests from clients that ran out of tokens with
// RATE_LIMITED. Clients are keyed by remote IP, so it belongs after
// middleware.RealIP when running behind a proxy.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, cooldown := rl.Allow(clientKey(r)); !ok {
			problem.WriteError(w, ErrRateLimited(cooldown))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrRateLimited creates the error returned to a throttled client.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(problem.CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("Too many requests. Please slow down.")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
