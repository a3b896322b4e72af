package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/podswap/internal/clock"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, cfg Config) (*Limiter, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	l := New(cfg).WithClock(clk)
	t.Cleanup(l.Stop)
	return l, clk
}

func TestAllowBurstThenRefill(t *testing.T) {
	l, clk := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("ip:1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("ip:1"))

	clk.Advance(time.Second)
	assert.True(t, l.Allow("ip:1"))
	assert.False(t, l.Allow("ip:1"))
}

func TestBucketsAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 2})

	l.Allow("a")
	l.Allow("a")
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l, clk := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1, IdleTTL: time.Minute})

	l.Allow("old")
	clk.Advance(45 * time.Second)
	l.Allow("fresh")
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, l.sweep())
	l.mu.Lock()
	_, kept := l.buckets["fresh"]
	l.mu.Unlock()
	assert.True(t, kept)
}

func TestNewFillsDefaults(t *testing.T) {
	l, _ := newLimiter(t, Config{})
	assert.Equal(t, DefaultConfig(), l.cfg)
	assert.Equal(t, 1, l.RetryAfter())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t, Config{RequestsPerMinute: 1, BurstSize: 1})

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(signer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if signer != "" {
			req.Header.Set(SignerHeader, signer)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("0x00000000000000000000000000000000000000A1").Code)

	w := do("0x00000000000000000000000000000000000000a1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "signer case must not split buckets")
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, do("0x00000000000000000000000000000000000000b2").Code)
	assert.Equal(t, http.StatusOK, do("").Code, "unsigned requests are keyed by IP")
}
