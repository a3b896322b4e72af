package auth

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/podswap/internal/clock"
)

const (
	HeaderAddress   = "X-Swap-Address"
	HeaderTimestamp = "X-Swap-Timestamp"
	HeaderSignature = "X-Swap-Signature"

	// ContextKeyCaller holds the verified caller address.
	ContextKeyCaller = "authCaller"

	// DefaultMaxSkew bounds how far a signed timestamp may drift from now.
	DefaultMaxSkew = 5 * time.Minute
)

// Verifier checks signed request headers.
type Verifier struct {
	clock   clock.Clock
	maxSkew time.Duration

	mu   sync.Mutex
	seen map[string]time.Time // canonical signature -> expiry
}

// NewVerifier creates a verifier using the system clock.
func NewVerifier() *Verifier {
	return &Verifier{
		clock:   clock.System{},
		maxSkew: DefaultMaxSkew,
		seen:    make(map[string]time.Time),
	}
}

// WithClock overrides the clock used for the skew window.
func (v *Verifier) WithClock(c clock.Clock) *Verifier {
	v.clock = c
	return v
}

// WithMaxSkew overrides the accepted timestamp window.
func (v *Verifier) WithMaxSkew(d time.Duration) *Verifier {
	v.maxSkew = d
	return v
}

// Verify returns the caller proven by the given header values and body.
func (v *Verifier) Verify(method, path, address, timestamp, signature string, body []byte) (common.Address, error) {
	if address == "" || timestamp == "" || signature == "" {
		return common.Address{}, ErrMissingHeaders
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, ErrSignerMismatch
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return common.Address{}, ErrStaleTimestamp
	}

	now := v.clock.Now()
	signedAt := time.Unix(ts, 0)
	if signedAt.Before(now.Add(-v.maxSkew)) || signedAt.After(now.Add(v.maxSkew)) {
		return common.Address{}, ErrStaleTimestamp
	}

	sig, err := parseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	caller := common.HexToAddress(address)
	got, err := recoverSigner(Message(method, path, ts, body), sig)
	if err != nil {
		return common.Address{}, err
	}
	if got != caller {
		return common.Address{}, fmt.Errorf("%w: expected %s, got %s", ErrSignerMismatch, caller.Hex(), got.Hex())
	}

	if !v.remember(hex.EncodeToString(sig), signedAt.Add(v.maxSkew), now) {
		return common.Address{}, ErrReplayed
	}
	return caller, nil
}

// remember records sig until expiry and reports whether it was new.
func (v *Verifier) remember(sig string, expiry, now time.Time) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	for s, exp := range v.seen {
		if now.After(exp) {
			delete(v.seen, s)
		}
	}
	if _, ok := v.seen[sig]; ok {
		return false
	}
	v.seen[sig] = expiry
	return true
}

// Middleware verifies signed headers when present and records the caller.
// Requests without headers pass through unauthenticated.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(HeaderSignature) == "" {
			c.Next()
			return
		}
		body, err := readBody(c.Request)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
					"error":   "request_too_large",
					"message": "Request body too large",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_body",
				"message": "Could not read request body",
			})
			return
		}
		caller, err := v.Verify(
			c.Request.Method,
			c.Request.URL.Path,
			c.GetHeader(HeaderAddress),
			c.GetHeader(HeaderTimestamp),
			c.GetHeader(HeaderSignature),
			body,
		)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}
		c.Set(ContextKeyCaller, caller)
		c.Next()
	}
}

// readBody drains the request body and replaces it with a fresh reader.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// RequireAuth rejects requests without a verified caller.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetCaller(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed request required. Include " + HeaderAddress + ", " + HeaderTimestamp + " and " + HeaderSignature + " headers.",
			})
			return
		}
		c.Next()
	}
}

// RequireOwnership requires the verified caller to match the :param address.
func RequireOwnership(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := GetCaller(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Signed request required.",
			})
			return
		}
		target := c.Param(param)
		if !common.IsHexAddress(target) || common.HexToAddress(target) != caller {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not own this address.",
			})
			return
		}
		c.Next()
	}
}

// SetCaller stores caller in the request context.
func SetCaller(c *gin.Context, caller common.Address) {
	c.Set(ContextKeyCaller, caller)
}

// GetCaller returns the verified caller, if any.
func GetCaller(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(ContextKeyCaller)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}

// IsAuthenticated reports whether the request carries a verified caller.
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetCaller(c)
	return ok
}
