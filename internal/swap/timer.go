package swap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mbd888/podswap/internal/clock"
	"github.com/mbd888/podswap/internal/metrics"
)

// Timer periodically finds OPEN swaps whose timelock has passed and sends
// one expiry notice per swap so proposers know a refund is available.
// It never moves assets.
type Timer struct {
	engines  map[string]*Engine
	store    Store
	clock    clock.Clock
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an expiry timer over the given engines.
func NewTimer(store Store, clk clock.Clock, logger *slog.Logger, engines ...*Engine) *Timer {
	byName := make(map[string]*Engine, len(engines))
	for _, e := range engines {
		byName[e.Name()] = e
	}
	return &Timer{
		engines:  byName,
		store:    store,
		clock:    clk,
		interval: 30 * time.Second,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}, 1),
	}
}

// WithInterval sets the polling interval.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeNotifyExpired(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeNotifyExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in swap expiry timer", "panic", fmt.Sprint(r))
		}
	}()
	t.notifyExpired(ctx)
}

// notifyExpired runs one pass and returns how many notices were sent.
func (t *Timer) notifyExpired(ctx context.Context) int {
	expired, err := t.store.ListOpenExpired(ctx, t.clock.Now(), t.batch)
	if err != nil {
		t.logger.Warn("failed to list expired swaps", "error", err)
		return 0
	}

	sent := 0
	for _, rec := range expired {
		eng, ok := t.engines[rec.Engine]
		if !ok {
			continue
		}
		if err := eng.NotifyExpired(ctx, rec); err != nil {
			metrics.SwapExpiryNoticesTotal.WithLabelValues(rec.Engine, "error").Inc()
			t.logger.Warn("failed to send swap expiry notice",
				"engine", rec.Engine, "swapId", rec.ID.Hex(), "error", err)
			continue
		}
		sent++
		metrics.SwapExpiryNoticesTotal.WithLabelValues(rec.Engine, "ok").Inc()
		t.logger.Info("swap refundable",
			"engine", rec.Engine,
			"swapId", rec.ID.Hex(),
			"proposer", rec.Proposer.Hex(),
			"timelock", rec.Timelock.Unix(),
		)
	}
	return sent
}
