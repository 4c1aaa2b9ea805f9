package safety

import (
	"sync"
	"time"

	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/config"
	"github.com/ajitpratap0/ibkr-mcp-gateway/internal/metrics"
)

// windowLimit is a sliding-window rate limit: at most max events inside the
// trailing window.
type windowLimit struct {
	max    int
	window time.Duration
	stamps []time.Time
}

// RateLimiter enforces per-class sliding-window limits. Unlike a token
// bucket there is no burst credit: the limiter keeps the actual timestamps
// of recent requests and prunes expired ones on every check.
type RateLimiter struct {
	mu      sync.Mutex
	limits  map[OpClass]*windowLimit
	nowFunc func() time.Time
}

// NewRateLimiter builds the limiter from the safety configuration.
func NewRateLimiter(cfg *config.SafetyConfig) *RateLimiter {
	return &RateLimiter{
		limits: map[OpClass]*windowLimit{
			ClassOrderPlacement: {max: cfg.MaxOrdersPerMinute, window: time.Minute},
			ClassQuoteRequest:   {max: cfg.MaxMarketDataRequestsPerMinute, window: time.Minute},
			ClassHistorical:     {max: cfg.MaxHistoricalRequestsPerMinute, window: time.Minute},
			ClassFuzzySearch: {
				max:    1,
				window: time.Duration(cfg.SymbolSearchRateLimitSeconds * float64(time.Second)),
			},
		},
		nowFunc: time.Now,
	}
}

// Allow records a request against class if it fits the window. When the
// window is full it returns false and the wait until the oldest stamp
// expires.
func (rl *RateLimiter) Allow(class OpClass) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limits[class]
	if !ok || lim.max <= 0 {
		return true, 0
	}

	now := rl.nowFunc()
	cutoff := now.Add(-lim.window)

	kept := lim.stamps[:0]
	for _, ts := range lim.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	lim.stamps = kept

	if len(lim.stamps) >= lim.max {
		retryAfter := lim.stamps[0].Add(lim.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		metrics.RateLimitRejections.WithLabelValues(string(class)).Inc()
		return false, retryAfter
	}

	lim.stamps = append(lim.stamps, now)
	return true, 0
}

// Pending returns how many requests currently occupy the class window.
func (rl *RateLimiter) Pending(class OpClass) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.limits[class]
	if !ok {
		return 0
	}
	cutoff := rl.nowFunc().Add(-lim.window)
	n := 0
	for _, ts := range lim.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
