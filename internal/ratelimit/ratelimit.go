// Package ratelimit throttles API callers with one token bucket per client.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mbd888/podswap/internal/clock"
)

// SignerHeader carries the address of a signed request. Requests that
// claim a signer share one bucket per address.
const SignerHeader = "X-Swap-Address"

// Config configures rate limiting.
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	// Buckets idle for IdleTTL are dropped on the next sweep.
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig allows one request per second on average with bursts of 10.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		IdleTTL:           2 * time.Minute,
		CleanupInterval:   time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps a token bucket per key.
type Limiter struct {
	cfg   Config
	limit rate.Limit
	clock clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its idle-bucket sweeper.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	l := &Limiter{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		clock:   clock.System{},
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(c clock.Clock) *Limiter {
	l.clock = c
	return l
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) sweep() int {
	cutoff := l.clock.Now().Add(-l.cfg.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.cfg.BurstSize)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// RetryAfter is the whole number of seconds until one token refills.
func (l *Limiter) RetryAfter() int {
	return int(math.Ceil(60 / float64(l.cfg.RequestsPerMinute)))
}

func clientKey(c *gin.Context) string {
	if addr := c.GetHeader(SignerHeader); addr != "" {
		return "signer:" + strings.ToLower(addr[:min(42, len(addr))])
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects callers over their budget with 429. Signed requests
// are keyed by the claimed signer, others by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(clientKey(c)) {
			c.Next()
			return
		}
		retry := l.RetryAfter()
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limit_exceeded",
			"message":     "Too many requests. Please slow down.",
			"retry_after": retry,
		})
	}
}
