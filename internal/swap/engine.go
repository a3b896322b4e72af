package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/clock"
	"github.com/mbd888/podswap/internal/metrics"
	"github.com/mbd888/podswap/internal/pagination"
	"github.com/mbd888/podswap/internal/traces"
)

// Engine names used as error prefixes and storage keys.
const (
	NameERC20   = "AtomicSwapERC20"
	NameERC721  = "AtomicSwapERC721"
	NameERC1155 = "AtomicSwapERC1155"
)

// DefaultListLimit caps ListByParty when the caller passes no limit.
const DefaultListLimit = 50

// Engine runs the HTLC state machine for one asset class.
type Engine struct {
	name     string
	transfer AssetTransfer
	store    Store
	clock    clock.Clock
	policy   AssetPolicy
	events   EventSink
	logger   *slog.Logger
	inflight sync.Map // swap ids with a proposal being created
}

// NewEngine creates an engine that escrows assets through transfer.
func NewEngine(name string, transfer AssetTransfer, store Store, clk clock.Clock) *Engine {
	return &Engine{
		name:     name,
		transfer: transfer,
		store:    store,
		clock:    clk,
		logger:   slog.Default(),
	}
}

// WithPolicy restricts proposals to tokens the policy accepts.
func (e *Engine) WithPolicy(p AssetPolicy) *Engine {
	e.policy = p
	return e
}

// WithEvents publishes lifecycle events to sink.
func (e *Engine) WithEvents(sink EventSink) *Engine {
	e.events = sink
	return e
}

// WithLogger sets the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// Name returns the engine name, e.g. "AtomicSwapERC20".
func (e *Engine) Name() string { return e.name }

// Class returns the asset class the engine moves.
func (e *Engine) Class() AssetClass { return e.transfer.Class() }

// Clock returns the time source timelocks are compared against.
func (e *Engine) Clock() clock.Clock { return e.clock }

func (e *Engine) fail(err error) error {
	return &EngineError{Engine: e.name, Err: err}
}

func (e *Engine) observe(op string, err error) {
	result := "ok"
	var te *TransferError
	switch {
	case err == nil:
	case errors.As(err, &te):
		result = "transfer_failed"
	default:
		result = "rejected"
	}
	metrics.SwapOperationsTotal.WithLabelValues(string(e.Class()), op, result).Inc()
}

// CreateProposal escrows the asset from caller and records an OPEN swap.
func (e *Engine) CreateProposal(ctx context.Context, caller common.Address, req ProposalRequest) (rec *Record, err error) {
	ctx, span := traces.StartSpan(ctx, "swap.create",
		traces.SwapID(req.ID), traces.SwapClass(string(e.Class())), traces.Caller(caller))
	defer func() {
		e.observe("create", err)
		traces.End(span, err)
	}()

	if err := e.validateProposal(ctx, caller, req); err != nil {
		return nil, e.fail(err)
	}

	// Reserve the id so a concurrent or re-entrant create for the same id
	// cannot escrow a second time.
	key := recordKey(e.name, req.ID)
	if _, busy := e.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil, e.fail(ErrSwapExists)
	}
	defer e.inflight.Delete(key)

	if _, err := e.store.Get(ctx, e.name, req.ID); err == nil {
		return nil, e.fail(ErrSwapExists)
	} else if !errors.Is(err, ErrSwapNotFound) {
		return nil, fmt.Errorf("%s: load swap: %w", e.name, err)
	}

	now := e.clock.Now()
	if !req.Timelock.After(now) {
		return nil, e.fail(ErrTimelockPassed)
	}
	timelock := ceilSecond(req.Timelock.UTC())

	asset := req.Asset.Copy()
	if err := e.transfer.Escrow(context.WithoutCancel(ctx), caller, asset); err != nil {
		if errors.Is(err, ErrTransferUnconfirmed) {
			metrics.SwapCompensationsTotal.WithLabelValues("escrow", "unconfirmed").Inc()
			e.logger.Error("CRITICAL: escrow submitted but unconfirmed, no swap recorded (requires manual resolution)",
				"engine", e.name, "swapId", req.ID.Hex(), "owner", caller.Hex(), "error", err)
		}
		return nil, e.fail(&TransferError{Op: "escrow", Err: err})
	}

	rec = &Record{
		ID:         req.ID,
		Engine:     e.name,
		Class:      e.Class(),
		Asset:      asset,
		Proposer:   caller,
		Withdrawer: req.Withdrawer,
		SecretHash: req.SecretHash,
		Timelock:   timelock,
		State:      StateOpen,
		CreatedAt:  now,
	}

	if err := e.store.Create(ctx, rec); err != nil {
		// Best-effort refund if store fails
		e.compensate(context.WithoutCancel(ctx), "create_refund", rec, caller)
		if errors.Is(err, ErrSwapExists) {
			return nil, e.fail(ErrSwapExists)
		}
		return nil, fmt.Errorf("%s: failed to create swap record: %w", e.name, err)
	}

	e.logger.Info("swap proposed",
		"engine", e.name, "swapId", rec.ID.Hex(),
		"proposer", rec.Proposer.Hex(), "withdrawer", rec.Withdrawer.Hex(),
		"timelock", rec.Timelock.Unix())
	e.publish(ctx, EventCreated, rec)
	return rec.Clone(), nil
}

// ceilSecond rounds t up to a whole second.
func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); r.Before(t) {
		return r.Add(time.Second)
	}
	return t
}

func (e *Engine) validateProposal(ctx context.Context, caller common.Address, req ProposalRequest) error {
	switch {
	case req.ID == (common.Hash{}):
		return fmt.Errorf("%w: swap id is zero", ErrInvalidProposal)
	case caller == (common.Address{}):
		return fmt.Errorf("%w: proposer is the zero address", ErrInvalidProposal)
	case req.Withdrawer == (common.Address{}):
		return fmt.Errorf("%w: withdrawer is the zero address", ErrInvalidProposal)
	case req.SecretHash == (common.Hash{}):
		return fmt.Errorf("%w: secret hash is zero", ErrInvalidProposal)
	}
	if err := e.transfer.Validate(req.Asset); err != nil {
		return err
	}
	if e.policy != nil {
		ok, err := e.policy.IsRegistered(ctx, e.Class(), req.Asset.Token)
		if err != nil {
			return fmt.Errorf("check asset registry: %w", err)
		}
		if !ok {
			return ErrAssetNotRegistered
		}
	}
	return nil
}

// ClaimFunds releases the escrowed asset to the withdrawer once the secret
// matching the stored hash is revealed. There is no time gate.
func (e *Engine) ClaimFunds(ctx context.Context, caller common.Address, id, secret common.Hash) (rec *Record, err error) {
	ctx, span := traces.StartSpan(ctx, "swap.claim",
		traces.SwapID(id), traces.SwapClass(string(e.Class())), traces.Caller(caller))
	defer func() {
		e.observe("claim", err)
		traces.End(span, err)
	}()

	cur, err := e.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != cur.Withdrawer {
		return nil, e.fail(ErrNotWithdrawer)
	}
	if SecretHash(secret, caller) != cur.SecretHash {
		return nil, e.fail(ErrInvalidSecret)
	}

	now := e.clock.Now()
	revealed := secret
	rec, err = e.settle(ctx, id, StateClaimed, func(r *Record) {
		r.Secret = &revealed
		r.ClosedAt = &now
	}, cur.Withdrawer)
	if err != nil {
		return nil, err
	}

	metrics.SwapSettleDuration.WithLabelValues(string(e.Class()), "claimed").Observe(now.Sub(rec.CreatedAt).Seconds())
	e.logger.Info("swap claimed", "engine", e.name, "swapId", id.Hex(), "withdrawer", rec.Withdrawer.Hex())
	e.publish(ctx, EventClaimed, rec)
	return rec, nil
}

// RefundFunds returns the escrowed asset to the proposer once the timelock
// has been reached.
func (e *Engine) RefundFunds(ctx context.Context, caller common.Address, id common.Hash) (rec *Record, err error) {
	ctx, span := traces.StartSpan(ctx, "swap.refund",
		traces.SwapID(id), traces.SwapClass(string(e.Class())), traces.Caller(caller))
	defer func() {
		e.observe("refund", err)
		traces.End(span, err)
	}()

	cur, err := e.loadOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != cur.Proposer {
		return nil, e.fail(ErrNotProposer)
	}
	now := e.clock.Now()
	if now.Before(cur.Timelock) {
		return nil, e.fail(ErrNotExpired)
	}

	rec, err = e.settle(ctx, id, StateRefunded, func(r *Record) {
		r.ClosedAt = &now
	}, cur.Proposer)
	if err != nil {
		return nil, err
	}

	metrics.SwapSettleDuration.WithLabelValues(string(e.Class()), "refunded").Observe(now.Sub(rec.CreatedAt).Seconds())
	e.logger.Info("swap refunded", "engine", e.name, "swapId", id.Hex(), "proposer", rec.Proposer.Hex())
	e.publish(ctx, EventRefunded, rec)
	return rec, nil
}

// loadOpen returns the record if it exists and is OPEN. Missing, claimed and
// refunded swaps all produce ErrNotOpened.
func (e *Engine) loadOpen(ctx context.Context, id common.Hash) (*Record, error) {
	rec, err := e.store.Get(ctx, e.name, id)
	if err != nil {
		if errors.Is(err, ErrSwapNotFound) {
			return nil, e.fail(ErrNotOpened)
		}
		return nil, fmt.Errorf("%s: load swap: %w", e.name, err)
	}
	if !rec.IsOpen() {
		return nil, e.fail(ErrNotOpened)
	}
	return rec, nil
}

// settle closes the swap in the store before moving the asset out of the
// vault, so any call that re-enters during the transfer sees a closed swap.
// The state change is undone only when the transfer definitely did not
// happen. An unconfirmed release leaves the swap closed.
func (e *Engine) settle(ctx context.Context, id common.Hash, to State, mutate func(*Record), recipient common.Address) (*Record, error) {
	rec, err := e.store.Transition(ctx, e.name, id, StateOpen, to, mutate)
	if err != nil {
		if errors.Is(err, ErrNotOpened) || errors.Is(err, ErrSwapNotFound) {
			return nil, e.fail(ErrNotOpened)
		}
		return nil, fmt.Errorf("%s: update swap: %w", e.name, err)
	}

	// A client disconnect must not abandon a release half way.
	if err := e.transfer.Release(context.WithoutCancel(ctx), recipient, rec.Asset); err != nil {
		if errors.Is(err, ErrTransferUnconfirmed) {
			metrics.SwapCompensationsTotal.WithLabelValues("reopen", "unconfirmed").Inc()
			e.logger.Error("CRITICAL: release submitted but unconfirmed, swap kept closed (requires manual resolution)",
				"engine", e.name, "swapId", id.Hex(), "state", to, "recipient", recipient.Hex(), "error", err)
			return nil, e.fail(&TransferError{Op: "release", Err: err})
		}
		e.reopen(context.WithoutCancel(ctx), rec, to)
		return nil, e.fail(&TransferError{Op: "release", Err: err})
	}
	return rec, nil
}

// reopen reverts a state change after a failed release.
func (e *Engine) reopen(ctx context.Context, rec *Record, from State) {
	_, err := e.store.Transition(ctx, e.name, rec.ID, from, StateOpen, func(r *Record) {
		r.Secret = nil
		r.ClosedAt = nil
	})
	if err != nil {
		metrics.SwapCompensationsTotal.WithLabelValues("reopen", "failed").Inc()
		e.logger.Error("CRITICAL: swap closed but asset still in vault (requires manual resolution)",
			"engine", e.name, "swapId", rec.ID.Hex(), "state", from, "error", err)
		return
	}
	metrics.SwapCompensationsTotal.WithLabelValues("reopen", "ok").Inc()
}

// compensate sends an escrowed asset back when its record could not be stored.
func (e *Engine) compensate(ctx context.Context, kind string, rec *Record, to common.Address) {
	if err := e.transfer.Release(ctx, to, rec.Asset); err != nil {
		metrics.SwapCompensationsTotal.WithLabelValues(kind, "failed").Inc()
		e.logger.Error("CRITICAL: asset escrowed without a swap record (requires manual resolution)",
			"engine", e.name, "swapId", rec.ID.Hex(), "owner", to.Hex(), "error", err)
		return
	}
	metrics.SwapCompensationsTotal.WithLabelValues(kind, "ok").Inc()
}

func (e *Engine) publish(ctx context.Context, typ EventType, rec *Record) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, Event{
		Type:      typ,
		Engine:    e.name,
		SwapID:    rec.ID,
		Record:    rec.Clone(),
		Timestamp: e.clock.Now(),
	})
}

// NotifyExpired emits a single expiry notice for an OPEN swap whose
// timelock has passed. It never moves the asset.
func (e *Engine) NotifyExpired(ctx context.Context, rec *Record) error {
	if rec.Engine != e.name || !rec.IsOpen() {
		return ErrNotOpened
	}
	now := e.clock.Now()
	if now.Before(rec.Timelock) {
		return ErrNotExpired
	}
	if err := e.store.MarkNotified(ctx, e.name, rec.ID, now); err != nil {
		return err
	}
	e.publish(ctx, EventExpired, rec)
	return nil
}

// GetSwap returns a snapshot of the swap record.
func (e *Engine) GetSwap(ctx context.Context, id common.Hash) (*Record, error) {
	rec, err := e.store.Get(ctx, e.name, id)
	if err != nil {
		if errors.Is(err, ErrSwapNotFound) {
			return nil, e.fail(ErrSwapNotFound)
		}
		return nil, err
	}
	return rec, nil
}

// ListByParty returns swaps of this engine where addr is proposer or
// withdrawer, starting after before.
func (e *Engine) ListByParty(ctx context.Context, addr common.Address, before *pagination.Cursor, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return e.store.ListByParty(ctx, e.name, addr, before, limit)
}
