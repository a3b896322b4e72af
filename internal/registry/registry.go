// Package registry keeps the list of pod tokens the platform accepts in swaps.
//
// When the registry holds at least one asset, engines reject proposals for
// tokens that are not registered for their class. An empty registry
// accepts every token, which is how development mode runs.
package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/mbd888/podswap/internal/swap"
)

var (
	ErrAssetNotFound = errors.New("registry: asset not found")
	ErrAssetExists   = errors.New("registry: asset already registered")
	ErrInvalidAsset  = errors.New("registry: invalid asset")
)

// MaxDecimals bounds the display precision of a registered token.
const MaxDecimals = 36

// Asset is a registered pod token.
type Asset struct {
	Class     swap.AssetClass `json:"class"`
	Token     common.Address  `json:"token"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name,omitempty"`
	Decimals  int32           `json:"decimals"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Validate checks the asset fields.
func (a *Asset) Validate() error {
	if _, err := swap.ParseClass(string(a.Class)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if a.Token == (common.Address{}) {
		return fmt.Errorf("%w: token is the zero address", ErrInvalidAsset)
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidAsset)
	}
	if a.Decimals < 0 || a.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals must be between 0 and %d", ErrInvalidAsset, MaxDecimals)
	}
	if a.Class == swap.ClassERC721 && a.Decimals != 0 {
		return fmt.Errorf("%w: erc721 tokens have no decimals", ErrInvalidAsset)
	}
	return nil
}

// FormatAmount renders a base-unit amount with the token's decimals.
func (a *Asset) FormatAmount(amount *big.Int) string {
	if amount == nil {
		return ""
	}
	return decimal.NewFromBigInt(amount, -a.Decimals).String()
}

// ParseAmount converts a display amount like "1.5" into base units.
func (a *Asset) ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", s)
	}
	scaled := d.Shift(a.Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", s, a.Decimals)
	}
	return scaled.BigInt(), nil
}

// Store persists registered assets.
type Store interface {
	Add(ctx context.Context, a *Asset) error
	Get(ctx context.Context, class swap.AssetClass, token common.Address) (*Asset, error)
	List(ctx context.Context, class swap.AssetClass) ([]*Asset, error)
	Count(ctx context.Context) (int, error)
}

type assetKey struct {
	class swap.AssetClass
	token common.Address
}

// MemoryStore is a thread-safe in-memory asset store.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[assetKey]*Asset
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: make(map[assetKey]*Asset)}
}

func (m *MemoryStore) Add(ctx context.Context, a *Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := assetKey{a.Class, a.Token}
	if _, ok := m.assets[k]; ok {
		return ErrAssetExists
	}
	cp := *a
	m.assets[k] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, class swap.AssetClass, token common.Address) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assets[assetKey{class, token}]
	if !ok {
		return nil, ErrAssetNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, class swap.AssetClass) ([]*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Asset
	for _, a := range m.assets {
		if class != "" && a.Class != class {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Class != result[j].Class {
			return result[i].Class < result[j].Class
		}
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.assets), nil
}

// Registry answers registration queries for the swap engines.
type Registry struct {
	store Store
}

// New creates a registry over store.
func New(store Store) *Registry {
	return &Registry{store: store}
}

// Register validates and stores an asset.
func (r *Registry) Register(ctx context.Context, a *Asset) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return r.store.Add(ctx, a)
}

// Lookup returns the registered asset for class and token.
func (r *Registry) Lookup(ctx context.Context, class swap.AssetClass, token common.Address) (*Asset, error) {
	return r.store.Get(ctx, class, token)
}

// List returns registered assets, optionally filtered by class.
func (r *Registry) List(ctx context.Context, class swap.AssetClass) ([]*Asset, error) {
	return r.store.List(ctx, class)
}

// IsRegistered implements swap.AssetPolicy.
func (r *Registry) IsRegistered(ctx context.Context, class swap.AssetClass, token common.Address) (bool, error) {
	n, err := r.store.Count(ctx)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return true, nil
	}
	_, err = r.store.Get(ctx, class, token)
	if errors.Is(err, ErrAssetNotFound) {
		return false, nil
	}
	return err == nil, err
}

var (
	_ Store            = (*MemoryStore)(nil)
	_ swap.AssetPolicy = (*Registry)(nil)
)
