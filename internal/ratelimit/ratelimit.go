// Package ratelimit implements brute-force dampening by (IP, user) counters
// with a sliding idle TTL (spec §4.4 Rate Limiter).
package ratelimit

import (
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// unbounded is passed as the LRU's size: 0 means no eviction by size,
// entries are only ever dropped by TTL expiry.
const unbounded = 0

const sweepInterval = 60 * time.Second

// Config holds the Limiter's thresholds, mirroring spec §6's config keys.
type Config struct {
	MaxIPAttempts   uint32
	MaxUserAttempts uint32
	UnbanDuration   time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIPAttempts:   100,
		MaxUserAttempts: 100,
		UnbanDuration:   900 * time.Second,
	}
}

// Limiter counts auth attempts per client IP and per username, each in its
// own idle-TTL cache (spec §4.4): any read or write refreshes a key's
// expiry, and golang-lru's expirable cache sweeps stale entries on its own
// background ticker, which doubles as the spec's "background sweeper".
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	byIP     *lru.LRU[string, uint32]
	byUser   *lru.LRU[string, uint32]
	logger   *slog.Logger
}

// New constructs a Limiter. Both caches are created with size 0
// (unbounded), so entries leave only by TTL expiry or ClearAuthAttempts.
func New(cfg Config, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:    cfg,
		byIP:   lru.NewLRU[string, uint32](unbounded, nil, cfg.UnbanDuration),
		byUser: lru.NewLRU[string, uint32](unbounded, nil, cfg.UnbanDuration),
		logger: logger,
	}
}

// RejectAuthAttempts atomically increments the IP and username counters,
// saturating at the uint32 max, and reports whether either cap was
// exceeded (spec §4.4).
func (l *Limiter) RejectAuthAttempts(ip, username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ipCount := incrSaturating(l.byIP, ip)
	userCount := incrSaturating(l.byUser, username)

	reject := false
	if ipCount > l.cfg.MaxIPAttempts {
		l.logger.Warn("rate limiter: ip attempt cap exceeded", "ip", ip, "count", ipCount)
		reject = true
	}
	if userCount > l.cfg.MaxUserAttempts {
		l.logger.Warn("rate limiter: user attempt cap exceeded", "user", username, "count", userCount)
		reject = true
	}
	return reject
}

// ClearAuthAttempts removes both keys, used after a successful
// authentication (spec §4.1 step 6).
func (l *Limiter) ClearAuthAttempts(ip, username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byIP.Remove(ip)
	l.byUser.Remove(username)
}

func incrSaturating(c *lru.LRU[string, uint32], key string) uint32 {
	cur, _ := c.Get(key) // the Add below refreshes the key's TTL.
	if cur == math.MaxUint32 {
		c.Add(key, cur)
		return cur
	}
	next := cur + 1
	c.Add(key, next)
	return next
}
