package clock

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderReader is the subset of ethclient.Client used to read block time.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// DefaultBlockRefresh bounds how stale a cached block timestamp may be.
const DefaultBlockRefresh = 2 * time.Second

// Block reports the timestamp of the latest block header.
//
// Reads are cached for the refresh interval. When the RPC call fails the
// last good timestamp is returned; before the first successful read the
// fallback clock is used.
type Block struct {
	client   HeaderReader
	refresh  time.Duration
	timeout  time.Duration
	fallback Clock
	logger   *slog.Logger

	mu        sync.Mutex
	last      time.Time
	fetchedAt time.Time
	wall      func() time.Time
}

// NewBlock creates a block-timestamp clock backed by client.
func NewBlock(client HeaderReader, logger *slog.Logger) *Block {
	if logger == nil {
		logger = slog.Default()
	}
	return &Block{
		client:   client,
		refresh:  DefaultBlockRefresh,
		timeout:  5 * time.Second,
		fallback: System{},
		logger:   logger,
		wall:     time.Now,
	}
}

// WithRefresh sets the cache interval.
func (b *Block) WithRefresh(d time.Duration) *Block {
	b.refresh = d
	return b
}

// Now returns the latest known block timestamp.
func (b *Block) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.last.IsZero() && b.wall().Sub(b.fetchedAt) < b.refresh {
		return b.last
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil || header == nil {
		b.logger.Warn("block clock: header read failed", "error", err)
		if b.last.IsZero() {
			return b.fallback.Now()
		}
		return b.last
	}

	ts := time.Unix(int64(header.Time), 0).UTC() // #nosec G115 -- block timestamps fit in int64
	// Block time never goes backwards for callers even across reorgs.
	if ts.After(b.last) {
		b.last = ts
	}
	b.fetchedAt = b.wall()
	return b.last
}
