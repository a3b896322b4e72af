package swap

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a swap lifecycle notification.
type EventType string

const (
	EventCreated  EventType = "swap.created"
	EventClaimed  EventType = "swap.claimed"
	EventRefunded EventType = "swap.refunded"
	EventExpired  EventType = "swap.expired" // timelock passed, refund available
)

// Event is emitted after a swap changes state. Events are informational
// only and carry no authority.
type Event struct {
	Type      EventType   `json:"type"`
	Engine    string      `json:"engine"`
	SwapID    common.Hash `json:"swapId"`
	Record    *Record     `json:"swap"`
	Timestamp time.Time   `json:"timestamp"`
}

// Parties returns the addresses an event concerns.
func (e Event) Parties() []common.Address {
	if e.Record == nil {
		return nil
	}
	return []common.Address{e.Record.Proposer, e.Record.Withdrawer}
}

// EventSink receives swap events. Publish must not block the caller for
// long and its failures never affect the swap.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// EventStore keeps the per-swap event log.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListBySwap(ctx context.Context, engine string, id common.Hash) ([]Event, error)
}

// EventLog is a sink that appends every event to an EventStore.
type EventLog struct {
	store  EventStore
	logger *slog.Logger
}

// NewEventLog creates a sink backed by store.
func NewEventLog(store EventStore, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLog{store: store, logger: logger}
}

func (l *EventLog) Publish(ctx context.Context, ev Event) {
	if err := l.store.Append(ctx, ev); err != nil {
		l.logger.Warn("failed to append swap event",
			"type", ev.Type, "engine", ev.Engine, "swapId", ev.SwapID.Hex(), "error", err)
	}
}

// MemoryEventStore is an in-memory event log for development mode.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewMemoryEventStore creates an empty in-memory event log.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]Event)}
}

func (m *MemoryEventStore) Append(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Record != nil {
		ev.Record = ev.Record.Clone()
	}
	k := recordKey(ev.Engine, ev.SwapID)
	m.events[k] = append(m.events[k], ev)
	return nil
}

func (m *MemoryEventStore) ListBySwap(ctx context.Context, engine string, id common.Hash) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[recordKey(engine, id)]
	out := make([]Event, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
