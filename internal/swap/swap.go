// Package swap implements hash time-locked atomic swaps (HTLC) for pod tokens.
//
// One Engine exists per asset class (ERC20, ERC721, ERC1155). Every engine
// shares the same state machine:
//  1. Proposer creates a proposal → asset moved: proposer → vault, state OPEN
//  2. Withdrawer reveals the secret → asset moved: vault → withdrawer, state CLAIMED
//  3. Timelock passes without a claim → proposer refunds: vault → proposer, state REFUNDED
//
// A swap leaves OPEN exactly once. Records are never deleted and a swap id
// can never be reused.
package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/pagination"
)

var (
	ErrSwapExists         = errors.New("swap already exists")
	ErrNotOpened          = errors.New("swap is not opened")
	ErrNotWithdrawer      = errors.New("caller is not the withdrawer")
	ErrInvalidSecret      = errors.New("invalid secret key")
	ErrNotProposer        = errors.New("caller is not the proposer")
	ErrNotExpired         = errors.New("swap is not expired")
	ErrTimelockPassed     = errors.New("timelock must be in the future")
	ErrSwapNotFound       = errors.New("swap not found")
	ErrInvalidAsset       = errors.New("invalid asset")
	ErrInvalidProposal    = errors.New("invalid proposal")
	ErrAssetNotRegistered = errors.New("token is not registered")

	// ErrTransferUnconfirmed is wrapped by asset collaborators when a
	// transfer was submitted but its outcome is not known.
	ErrTransferUnconfirmed = errors.New("transfer submitted but not confirmed")
)

// State is the lifecycle state of a swap.
type State string

const (
	StateOpen     State = "open"     // Asset escrowed, awaiting claim or refund
	StateClaimed  State = "claimed"  // Secret revealed, asset sent to withdrawer
	StateRefunded State = "refunded" // Timelock passed, asset returned to proposer
)

// AssetClass identifies the token standard an engine moves.
type AssetClass string

const (
	ClassERC20   AssetClass = "erc20"
	ClassERC721  AssetClass = "erc721"
	ClassERC1155 AssetClass = "erc1155"
)

// ParseClass converts a route or config value to an AssetClass.
func ParseClass(s string) (AssetClass, error) {
	switch c := AssetClass(strings.ToLower(strings.TrimSpace(s))); c {
	case ClassERC20, ClassERC721, ClassERC1155:
		return c, nil
	}
	return "", fmt.Errorf("unknown asset class %q", s)
}

// Asset describes what a swap escrows. Which fields are meaningful depends
// on the class: ERC20 uses Amount, ERC721 uses TokenID, ERC1155 uses both.
type Asset struct {
	Token   common.Address
	TokenID *big.Int
	Amount  *big.Int
}

// Copy returns an asset that shares no big.Int values with a.
func (a Asset) Copy() Asset {
	cp := Asset{Token: a.Token}
	if a.TokenID != nil {
		cp.TokenID = new(big.Int).Set(a.TokenID)
	}
	if a.Amount != nil {
		cp.Amount = new(big.Int).Set(a.Amount)
	}
	return cp
}

type assetJSON struct {
	Token   common.Address `json:"token"`
	TokenID string         `json:"tokenId,omitempty"`
	Amount  string         `json:"amount,omitempty"`
}

// MarshalJSON encodes integers as decimal strings so 256-bit values survive
// JavaScript clients.
func (a Asset) MarshalJSON() ([]byte, error) {
	out := assetJSON{Token: a.Token}
	if a.TokenID != nil {
		out.TokenID = a.TokenID.String()
	}
	if a.Amount != nil {
		out.Amount = a.Amount.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts decimal or 0x-prefixed hex integers.
func (a *Asset) UnmarshalJSON(data []byte) error {
	var in assetJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.Token = in.Token
	a.TokenID, a.Amount = nil, nil
	if in.TokenID != "" {
		v, err := ParseUint256(in.TokenID)
		if err != nil {
			return fmt.Errorf("tokenId: %w", err)
		}
		a.TokenID = v
	}
	if in.Amount != "" {
		v, err := ParseUint256(in.Amount)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		a.Amount = v
	}
	return nil
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseUint256 parses a decimal or 0x-hex string into a value in [0, 2^256).
func ParseUint256(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || s == "" {
		return nil, errors.New("not an unsigned integer")
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, errors.New("out of uint256 range")
	}
	return v, nil
}

// Record is the persisted state of one swap.
type Record struct {
	ID         common.Hash    `json:"id"`
	Engine     string         `json:"engine"`
	Class      AssetClass     `json:"class"`
	Asset      Asset          `json:"asset"`
	Proposer   common.Address `json:"proposer"`
	Withdrawer common.Address `json:"withdrawer"`
	SecretHash common.Hash    `json:"secretHash"`
	Secret     *common.Hash   `json:"secret,omitempty"`
	Timelock   time.Time      `json:"timelock"`
	State      State          `json:"state"`
	CreatedAt  time.Time      `json:"createdAt"`
	ClosedAt   *time.Time     `json:"closedAt,omitempty"`
	NotifiedAt *time.Time     `json:"expiryNotifiedAt,omitempty"`
}

// IsOpen reports whether the swap still holds its asset in escrow.
func (r *Record) IsOpen() bool {
	return r.State == StateOpen
}

// pageKey is the record's position in party listings.
func (r *Record) pageKey() pagination.Cursor {
	return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID.Hex(), Scope: r.Engine}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Asset = r.Asset.Copy()
	if r.Secret != nil {
		s := *r.Secret
		cp.Secret = &s
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		cp.ClosedAt = &t
	}
	if r.NotifiedAt != nil {
		t := *r.NotifiedAt
		cp.NotifiedAt = &t
	}
	return &cp
}

// Store persists swap records. Records are keyed by (engine, id).
type Store interface {
	// Create inserts a new record. It returns ErrSwapExists if the key is taken.
	Create(ctx context.Context, r *Record) error
	// Get returns ErrSwapNotFound for unknown keys.
	Get(ctx context.Context, engine string, id common.Hash) (*Record, error)
	// Transition atomically moves a record from one state to another and
	// applies mutate to it. It returns ErrNotOpened if the stored state is
	// not from, and ErrSwapNotFound for unknown keys.
	Transition(ctx context.Context, engine string, id common.Hash, from, to State, mutate func(*Record)) (*Record, error)
	// ListByParty returns records where addr is proposer or withdrawer,
	// newest first by (created_at, id). An empty engine matches every
	// engine; a non-nil before skips records up to and including it.
	ListByParty(ctx context.Context, engine string, addr common.Address, before *pagination.Cursor, limit int) ([]*Record, error)
	// ListOpenExpired returns OPEN records with timelock <= before that have
	// not had an expiry notice recorded.
	ListOpenExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error)
	// MarkNotified records that the expiry notice for a swap was sent.
	MarkNotified(ctx context.Context, engine string, id common.Hash, at time.Time) error
}

// AssetTransfer moves one asset class into and out of the engine's vault.
// Implementations either move the whole asset or return an error and move
// nothing. The exception is an error wrapping ErrTransferUnconfirmed, which
// means the movement may or may not have happened.
type AssetTransfer interface {
	Class() AssetClass
	// Validate checks the asset shape for this class.
	Validate(a Asset) error
	// Escrow pulls the asset from owner into the vault. It requires a prior
	// allowance or approval granted by owner.
	Escrow(ctx context.Context, owner common.Address, a Asset) error
	// Release sends the asset from the vault to recipient.
	Release(ctx context.Context, recipient common.Address, a Asset) error
}

// AssetPolicy decides whether a token may be used for a class.
type AssetPolicy interface {
	IsRegistered(ctx context.Context, class AssetClass, token common.Address) (bool, error)
}

// ProposalRequest holds the parameters of createProposal.
type ProposalRequest struct {
	ID         common.Hash
	Asset      Asset
	Withdrawer common.Address
	SecretHash common.Hash
	// Timelock must be after the engine clock. It is stored rounded up to
	// the next whole second.
	Timelock   time.Time
}

// EngineError prefixes a swap failure with the name of the engine that
// produced it. errors.Is still matches the wrapped sentinel.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string { return e.Engine + ": " + e.Err.Error() }
func (e *EngineError) Unwrap() error { return e.Err }

// TransferError reports a rejected asset movement. The collaborator's
// reason is kept intact in Err.
type TransferError struct {
	Op  string // "escrow" or "release"
	Err error
}

func (e *TransferError) Error() string { return e.Op + " transfer failed: " + e.Err.Error() }
func (e *TransferError) Unwrap() error { return e.Err }
