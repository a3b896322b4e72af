package swap

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/pagination"
)

// MemoryStore is an in-memory swap store for demo/development mode.
type MemoryStore struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory swap store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func recordKey(engine string, id common.Hash) string {
	return engine + "/" + id.Hex()
}

func (m *MemoryStore) Create(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey(r.Engine, r.ID)
	if _, ok := m.records[k]; ok {
		return ErrSwapExists
	}
	m.records[k] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, engine string, id common.Hash) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[recordKey(engine, id)]
	if !ok {
		return nil, ErrSwapNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Transition(ctx context.Context, engine string, id common.Hash, from, to State, mutate func(*Record)) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordKey(engine, id)]
	if !ok {
		return nil, ErrSwapNotFound
	}
	if r.State != from {
		return nil, ErrNotOpened
	}
	next := r.Clone()
	next.State = to
	if mutate != nil {
		mutate(next)
	}
	m.records[recordKey(engine, id)] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, engine string, addr common.Address, before *pagination.Cursor, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if engine != "" && r.Engine != engine {
			continue
		}
		if !before.After(r.pageKey()) {
			continue
		}
		if r.Proposer == addr || r.Withdrawer == addr {
			result = append(result, r.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return pagination.Precedes(result[i].pageKey(), result[j].pageKey())
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListOpenExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if r.State == StateOpen && r.NotifiedAt == nil && !r.Timelock.After(before) {
			result = append(result, r.Clone())
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) MarkNotified(ctx context.Context, engine string, id common.Hash, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordKey(engine, id)]
	if !ok {
		return ErrSwapNotFound
	}
	t := at
	r.NotifiedAt = &t
	return nil
}

var _ Store = (*MemoryStore)(nil)
