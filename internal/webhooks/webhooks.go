// Package webhooks pushes swap lifecycle events to URLs registered by the
// swap parties.
//
// A subscription belongs to one address and receives the events of every
// swap in which that address is the proposer or the withdrawer. Payloads
// are signed with HMAC-SHA256 over the request body using the secret
// returned when the subscription was created.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/mbd888/podswap/internal/circuitbreaker"
	"github.com/mbd888/podswap/internal/metrics"
	"github.com/mbd888/podswap/internal/retry"
	"github.com/mbd888/podswap/internal/security"
	"github.com/mbd888/podswap/internal/swap"
)

// Delivery headers.
const (
	HeaderEvent     = "X-PodSwap-Event"
	HeaderDelivery  = "X-PodSwap-Delivery"
	HeaderTimestamp = "X-PodSwap-Timestamp"
	HeaderSignature = "X-PodSwap-Signature"
)

const (
	deliveryTimeout   = 30 * time.Second
	defaultAttempts   = 3
	defaultRetryDelay = 500 * time.Millisecond
	breakerThreshold  = 5
	breakerCooldown   = time.Minute
)

var ErrNotFound = errors.New("webhook not found")

// Subscription is a registered webhook.
type Subscription struct {
	ID          string           `json:"id"`
	Owner       common.Address   `json:"owner"`
	URL         string           `json:"url"`
	Secret      string           `json:"-"`
	Events      []swap.EventType `json:"events"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"createdAt"`
	LastError   string           `json:"lastError,omitempty"`
	LastErrorAt *time.Time       `json:"lastErrorAt,omitempty"`
}

// Wants reports whether the subscription receives events of type t. An
// empty event list means every type.
func (s *Subscription) Wants(t swap.EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByOwner(ctx context.Context, owner common.Address) ([]*Subscription, error)
	SetError(ctx context.Context, id, msg string, at time.Time) error
	ClearError(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, owner common.Address) error
}

// Delivery is the JSON body posted to a subscriber.
type Delivery struct {
	ID string `json:"id"`
	swap.Event
}

// Dispatcher is a swap.EventSink that posts events to the parties'
// webhooks. Each delivery runs in its own goroutine and is retried with
// backoff; endpoints that keep failing are skipped by a circuit breaker.
type Dispatcher struct {
	store        Store
	client       *http.Client
	breaker      *circuitbreaker.Breaker
	logger       *slog.Logger
	urlValidator func(string) error
	attempts     int
	retryDelay   time.Duration
	wg           sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets the delivery attempts and the base backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(d *Dispatcher) {
		d.attempts = attempts
		d.retryDelay = delay
	}
}

// WithURLValidator replaces the SSRF check applied before each delivery.
func WithURLValidator(fn func(string) error) Option {
	return func(d *Dispatcher) { d.urlValidator = fn }
}

// NewDispatcher creates a webhook dispatcher.
func NewDispatcher(store Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:        store,
		client:       &http.Client{Timeout: 10 * time.Second},
		breaker:      circuitbreaker.New("webhooks", breakerThreshold, breakerCooldown),
		logger:       logger,
		urlValidator: security.ValidateEndpointURL,
		attempts:     defaultAttempts,
		retryDelay:   defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish implements swap.EventSink. It returns once deliveries are queued.
func (d *Dispatcher) Publish(ctx context.Context, ev swap.Event) {
	if ev.Record != nil {
		ev.Record = ev.Record.Clone()
	}
	seen := make(map[common.Address]bool, 2)
	for _, party := range ev.Parties() {
		if seen[party] {
			continue
		}
		seen[party] = true

		subs, err := d.store.ListByOwner(ctx, party)
		if err != nil {
			d.logger.Warn("failed to load webhooks", "owner", party.Hex(), "error", err)
			continue
		}
		for _, sub := range subs {
			if !sub.Active || !sub.Wants(ev.Type) {
				continue
			}
			d.wg.Add(1)
			go func(sub *Subscription) {
				defer d.wg.Done()
				d.deliver(sub, Delivery{ID: uuid.NewString(), Event: ev})
			}(sub)
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(sub *Subscription, delivery Delivery) {
	if !d.breaker.Allow(sub.ID) {
		metrics.WebhookDeliveriesTotal.WithLabelValues("skipped").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	err := d.send(ctx, sub, delivery)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
		d.breaker.RecordFailure(sub.ID)
		d.logger.Warn("webhook delivery failed",
			"webhook", sub.ID, "event", delivery.Type, "swapId", delivery.SwapID.Hex(), "error", err)
		if serr := d.store.SetError(ctx, sub.ID, err.Error(), time.Now()); serr != nil {
			d.logger.Warn("failed to record webhook error", "webhook", sub.ID, "error", serr)
		}
		return
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	d.breaker.RecordSuccess(sub.ID)
	if sub.LastError != "" {
		if cerr := d.store.ClearError(ctx, sub.ID); cerr != nil {
			d.logger.Warn("failed to clear webhook error", "webhook", sub.ID, "error", cerr)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, delivery Delivery) error {
	if err := d.urlValidator(sub.URL); err != nil {
		return fmt.Errorf("url rejected: %w", err)
	}
	payload, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return retry.Backoff(d.attempts, d.retryDelay).Do(ctx, func(int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, string(delivery.Type))
		req.Header.Set(HeaderDelivery, delivery.ID)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(delivery.Timestamp.Unix(), 10))
		if sub.Secret != "" {
			req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("status %d", resp.StatusCode)
		default:
			return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
	})
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

var _ swap.EventSink = (*Dispatcher)(nil)
