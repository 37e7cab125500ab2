// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package httpapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rate limit defaults. The general limiter admits 100 requests per client
// over a 15 minute window; the login limiter is far stricter.
const (
	DefaultRateLimitMax    = 100
	DefaultRateLimitWindow = 15 * time.Minute

	DefaultLoginRateLimitMax    = 5
	DefaultLoginRateLimitWindow = 30 * time.Minute

	// DefaultLimiterCleanupInterval is how often idle client buckets are purged.
	DefaultLimiterCleanupInterval = 5 * time.Minute

	// DefaultClientMaxIdle is how long a client bucket may sit untouched
	// before cleanup removes it.
	DefaultClientMaxIdle = time.Hour
)

// RateLimiterConfig holds configuration for a RateLimiter.
type RateLimiterConfig struct {
	// Max is the bucket capacity: the number of requests a client may burst.
	Max int
	// Window is the period over which a fully drained bucket refills.
	Window time.Duration
	// CleanupInterval is how often idle buckets are purged.
	CleanupInterval time.Duration
	// ClientMaxIdle is how long a bucket may go unused before removal.
	ClientMaxIdle time.Duration
	// ClientsGauge, if non-nil, tracks the number of tracked clients.
	ClientsGauge prometheus.Gauge
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.Max <= 0 {
		c.Max = DefaultRateLimitMax
	}
	if c.Window <= 0 {
		c.Window = DefaultRateLimitWindow
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultLimiterCleanupInterval
	}
	if c.ClientMaxIdle <= 0 {
		c.ClientMaxIdle = DefaultClientMaxIdle
	}
}

// clientBucket tracks token bucket state for a single client.
type clientBucket struct {
	tokens    float64
	lastCheck time.Time
}

// RateLimiter implements per-client token bucket rate limiting. Each client
// starts with a full bucket of cfg.Max tokens which refills continuously at
// cfg.Max tokens per cfg.Window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	cfg     RateLimiterConfig
	rate    float64 // tokens per second

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Callers must call Close to stop it.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	cfg.applyDefaults()

	rl := &RateLimiter{
		clients:  make(map[string]*clientBucket),
		cfg:      cfg,
		rate:     float64(cfg.Max) / cfg.Window.Seconds(),
		stopChan: make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow checks whether the client identified by key may proceed. When the
// request is denied it returns the number of seconds until a token becomes
// available, suitable for a Retry-After header.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	bucket, ok := rl.clients[key]
	if !ok {
		bucket = &clientBucket{
			tokens:    float64(rl.cfg.Max),
			lastCheck: now,
		}
		rl.clients[key] = bucket
		if rl.cfg.ClientsGauge != nil {
			rl.cfg.ClientsGauge.Set(float64(len(rl.clients)))
		}
	}

	elapsed := now.Sub(bucket.lastCheck).Seconds()
	bucket.tokens += elapsed * rl.rate
	if bucket.tokens > float64(rl.cfg.Max) {
		bucket.tokens = float64(rl.cfg.Max)
	}
	bucket.lastCheck = now

	if bucket.tokens < 1.0 {
		needed := 1.0 - bucket.tokens
		retryAfter := int(needed/rl.rate) + 1
		return false, retryAfter
	}

	bucket.tokens--
	return true, 0
}

// ClientCount returns the number of clients currently tracked.
func (rl *RateLimiter) ClientCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

// cleanup removes buckets that have been idle longer than ClientMaxIdle.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.ClientMaxIdle)
	for key, bucket := range rl.clients {
		if bucket.lastCheck.Before(cutoff) {
			delete(rl.clients, key)
		}
	}

	if rl.cfg.ClientsGauge != nil {
		rl.cfg.ClientsGauge.Set(float64(len(rl.clients)))
	}
}

// Close stops the cleanup goroutine and waits for it to exit.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
	rl.wg.Wait()
}
