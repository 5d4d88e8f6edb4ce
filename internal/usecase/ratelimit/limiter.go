// Package ratelimit implements per-client sliding-window admission
// control with temporary blacklisting.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// Defaults match the service's public limits.
const (
	DefaultWindow    = 60 * time.Second
	DefaultLimit     = 10
	DefaultBlacklist = 600 * time.Second
)

// Clock returns the current time. Injectable for deterministic tests.
type Clock func() time.Time

// TimerFunc schedules fn after d. Injectable for deterministic tests;
// defaults to time.AfterFunc.
type TimerFunc func(d time.Duration, fn func())

// Limiter tracks request timestamps per client within a trailing
// window and blacklists clients that exceed the limit. State is purely
// in-memory; it resets on restart by design.
type Limiter struct {
	window    time.Duration
	limit     int
	blacklist time.Duration
	now       Clock
	after     TimerFunc
	logger    *zap.Logger

	mu      sync.Mutex
	windows map[string][]time.Time
	banned  map[string]bool
}

// Config tunes the limiter. Zero fields take the defaults.
type Config struct {
	Window    time.Duration
	Limit     int
	Blacklist time.Duration
	Clock     Clock
	Timer     TimerFunc
	Logger    *zap.Logger
}

// New creates a rate limiter.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Blacklist <= 0 {
		cfg.Blacklist = DefaultBlacklist
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Timer == nil {
		cfg.Timer = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	l := &Limiter{
		window:    cfg.Window,
		limit:     cfg.Limit,
		blacklist: cfg.Blacklist,
		now:       cfg.Clock,
		after:     cfg.Timer,
		logger:    cfg.Logger,
		windows:   make(map[string][]time.Time),
		banned:    make(map[string]bool),
	}
	l.scheduleSweep()
	return l
}

// scheduleSweep arms a recurring prune of every client's window.
// Without it, entries for clients that never return would only be
// pruned on their own next request and the map would grow with each
// distinct client ID.
func (l *Limiter) scheduleSweep() {
	l.after(l.window, func() {
		l.mu.Lock()
		cutoff := l.now().Add(-l.window)
		for id, times := range l.windows {
			kept := pruneOlder(times, cutoff)
			if len(kept) == 0 {
				delete(l.windows, id)
			} else {
				l.windows[id] = kept
			}
		}
		l.mu.Unlock()
		l.scheduleSweep()
	})
}

// Admit records one request for clientID and reports whether it is
// allowed. Blacklisted clients are denied immediately without touching
// their window.
func (l *Limiter) Admit(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.banned[clientID] {
		metrics.RateLimitDeniedTotal.Inc()
		return false
	}

	now := l.now()
	recent := pruneOlder(l.windows[clientID], now.Add(-l.window))
	recent = append(recent, now)

	if len(recent) <= l.limit {
		l.windows[clientID] = recent
		return true
	}

	// Over threshold: blacklist and clear the window so counting starts
	// fresh after the ban expires.
	l.banned[clientID] = true
	delete(l.windows, clientID)
	metrics.RateLimitDeniedTotal.Inc()

	l.logger.Warn("Client blacklisted",
		zap.String("client", clientID),
		zap.Duration("for", l.blacklist),
	)

	// Expiry runs on a timer, not lazily: the client is unbanned even
	// if it never requests again.
	l.after(l.blacklist, func() {
		l.mu.Lock()
		delete(l.banned, clientID)
		l.mu.Unlock()
	})

	return false
}

// Blacklisted reports whether clientID is currently banned.
func (l *Limiter) Blacklisted(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.banned[clientID]
}

func pruneOlder(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
