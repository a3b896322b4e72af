// Package pods keeps an in-memory book of pod token balances for the three
// token standards the swap engines move.
//
// It enforces the same preconditions as the deployed contracts (balances,
// allowances, approvals) and is used in development mode and in tests.
package pods

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAddress          = errors.New("transfer to the zero address")
	ErrInvalidAmount        = errors.New("amount must be non-negative")
	ErrInsufficientBalance  = errors.New("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllow    = errors.New("ERC20: insufficient allowance")
	ErrNonexistentToken     = errors.New("ERC721: invalid token ID")
	ErrTokenExists          = errors.New("ERC721: token already minted")
	ErrIncorrectOwner       = errors.New("ERC721: transfer from incorrect owner")
	ErrNotOwnerNorApproved  = errors.New("ERC721: caller is not token owner or approved")
	ErrApproveToOwner       = errors.New("ERC721: approval to current owner")
	ErrMultiNotApproved     = errors.New("ERC1155: caller is not token owner or approved")
	ErrMultiInsufficientBal = errors.New("ERC1155: insufficient balance for transfer")
	ErrSelfApproval         = errors.New("setting approval status for self")
)

var zero common.Address

// Vault is the escrow account swap engines use against an in-memory ledger.
var Vault = common.HexToAddress("0x0000000000000000000000000000000000005afe")

func nonNegative(v *big.Int) bool {
	return v != nil && v.Sign() >= 0
}

// Ledger bundles one book per token standard.
type Ledger struct {
	ERC20   *FungibleBook
	ERC721  *NonFungibleBook
	ERC1155 *MultiTokenBook
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		ERC20:   NewFungibleBook(),
		ERC721:  NewNonFungibleBook(),
		ERC1155: NewMultiTokenBook(),
	}
}

// FungibleBook tracks ERC20 balances and allowances per token contract.
type FungibleBook struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int // token -> (owner, spender)
	supply     map[common.Address]*big.Int
}

// NewFungibleBook creates an empty ERC20 book.
func NewFungibleBook() *FungibleBook {
	return &FungibleBook{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[[2]common.Address]*big.Int),
		supply:     make(map[common.Address]*big.Int),
	}
}

func (b *FungibleBook) balance(token, owner common.Address) *big.Int {
	if m, ok := b.balances[token]; ok {
		if v, ok := m[owner]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *FungibleBook) setBalance(token, owner common.Address, v *big.Int) {
	m, ok := b.balances[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		b.balances[token] = m
	}
	m[owner] = v
}

// Mint credits amount of token to owner.
func (b *FungibleBook) Mint(token, to common.Address, amount *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if !nonNegative(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setBalance(token, to, new(big.Int).Add(b.balance(token, to), amount))
	s, ok := b.supply[token]
	if !ok {
		s = new(big.Int)
	}
	b.supply[token] = new(big.Int).Add(s, amount)
	return nil
}

// BalanceOf returns the owner's balance of token.
func (b *FungibleBook) BalanceOf(token, owner common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balance(token, owner))
}

// TotalSupply returns the minted supply of token.
func (b *FungibleBook) TotalSupply(token common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.supply[token]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// Approve sets spender's allowance over owner's token balance.
func (b *FungibleBook) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if spender == zero {
		return ErrZeroAddress
	}
	if !nonNegative(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.allowances[token]
	if !ok {
		m = make(map[[2]common.Address]*big.Int)
		b.allowances[token] = m
	}
	m[[2]common.Address{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still pull from owner.
func (b *FungibleBook) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.allowances[token]; ok {
		if v, ok := m[[2]common.Address{owner, spender}]; ok {
			return new(big.Int).Set(v)
		}
	}
	return new(big.Int)
}

// Transfer moves amount from from to to.
func (b *FungibleBook) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(token, from, to, amount)
}

// TransferFrom moves amount using spender's allowance unless spender is from.
func (b *FungibleBook) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !nonNegative(amount) {
		return ErrInvalidAmount
	}
	var remaining *big.Int
	if spender != from {
		allowed := new(big.Int)
		if m, ok := b.allowances[token]; ok {
			if v, ok := m[[2]common.Address{from, spender}]; ok {
				allowed = v
			}
		}
		if allowed.Cmp(amount) < 0 {
			return ErrInsufficientAllow
		}
		remaining = new(big.Int).Sub(allowed, amount)
	}
	if err := b.move(token, from, to, amount); err != nil {
		return err
	}
	if remaining != nil {
		b.allowances[token][[2]common.Address{from, spender}] = remaining
	}
	return nil
}

func (b *FungibleBook) move(token, from, to common.Address, amount *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if !nonNegative(amount) {
		return ErrInvalidAmount
	}
	bal := b.balance(token, from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	b.setBalance(token, from, new(big.Int).Sub(bal, amount))
	b.setBalance(token, to, new(big.Int).Add(b.balance(token, to), amount))
	return nil
}

type nftKey struct {
	token common.Address
	id    string
}

func keyOf(token common.Address, id *big.Int) nftKey {
	return nftKey{token: token, id: id.String()}
}

// NonFungibleBook tracks ERC721 ownership and approvals.
type NonFungibleBook struct {
	mu        sync.RWMutex
	owners    map[nftKey]common.Address
	approved  map[nftKey]common.Address
	operators map[common.Address]map[[2]common.Address]bool // token -> (owner, operator)
}

// NewNonFungibleBook creates an empty ERC721 book.
func NewNonFungibleBook() *NonFungibleBook {
	return &NonFungibleBook{
		owners:    make(map[nftKey]common.Address),
		approved:  make(map[nftKey]common.Address),
		operators: make(map[common.Address]map[[2]common.Address]bool),
	}
}

// Mint creates tokenID owned by to.
func (b *NonFungibleBook) Mint(token, to common.Address, tokenID *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if !nonNegative(tokenID) {
		return ErrNonexistentToken
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyOf(token, tokenID)
	if _, ok := b.owners[k]; ok {
		return ErrTokenExists
	}
	b.owners[k] = to
	return nil
}

// OwnerOf returns the current owner of tokenID.
func (b *NonFungibleBook) OwnerOf(token common.Address, tokenID *big.Int) (common.Address, error) {
	if tokenID == nil {
		return zero, ErrNonexistentToken
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	owner, ok := b.owners[keyOf(token, tokenID)]
	if !ok {
		return zero, ErrNonexistentToken
	}
	return owner, nil
}

// Approve lets to transfer tokenID. caller must be the owner or an operator.
func (b *NonFungibleBook) Approve(token, caller, to common.Address, tokenID *big.Int) error {
	if tokenID == nil {
		return ErrNonexistentToken
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyOf(token, tokenID)
	owner, ok := b.owners[k]
	if !ok {
		return ErrNonexistentToken
	}
	if to == owner {
		return ErrApproveToOwner
	}
	if caller != owner && !b.isOperator(token, owner, caller) {
		return ErrNotOwnerNorApproved
	}
	b.approved[k] = to
	return nil
}

// GetApproved returns the address approved for tokenID.
func (b *NonFungibleBook) GetApproved(token common.Address, tokenID *big.Int) common.Address {
	if tokenID == nil {
		return zero
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.approved[keyOf(token, tokenID)]
}

// SetApprovalForAll grants or revokes operator over all of owner's tokens.
func (b *NonFungibleBook) SetApprovalForAll(token, owner, operator common.Address, approved bool) error {
	if owner == operator {
		return ErrSelfApproval
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.operators[token]
	if !ok {
		m = make(map[[2]common.Address]bool)
		b.operators[token] = m
	}
	m[[2]common.Address{owner, operator}] = approved
	return nil
}

// IsApprovedForAll reports whether operator may move all of owner's tokens.
func (b *NonFungibleBook) IsApprovedForAll(token, owner, operator common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isOperator(token, owner, operator)
}

func (b *NonFungibleBook) isOperator(token, owner, operator common.Address) bool {
	if m, ok := b.operators[token]; ok {
		return m[[2]common.Address{owner, operator}]
	}
	return false
}

// TransferFrom moves tokenID from from to to on behalf of spender.
func (b *NonFungibleBook) TransferFrom(ctx context.Context, token, spender, from, to common.Address, tokenID *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if tokenID == nil {
		return ErrNonexistentToken
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyOf(token, tokenID)
	owner, ok := b.owners[k]
	if !ok {
		return ErrNonexistentToken
	}
	if spender != owner && b.approved[k] != spender && !b.isOperator(token, owner, spender) {
		return ErrNotOwnerNorApproved
	}
	if owner != from {
		return ErrIncorrectOwner
	}
	delete(b.approved, k)
	b.owners[k] = to
	return nil
}

// MultiTokenBook tracks ERC1155 balances and operator approvals.
type MultiTokenBook struct {
	mu        sync.RWMutex
	balances  map[nftKey]map[common.Address]*big.Int
	operators map[common.Address]map[[2]common.Address]bool
}

// NewMultiTokenBook creates an empty ERC1155 book.
func NewMultiTokenBook() *MultiTokenBook {
	return &MultiTokenBook{
		balances:  make(map[nftKey]map[common.Address]*big.Int),
		operators: make(map[common.Address]map[[2]common.Address]bool),
	}
}

func (b *MultiTokenBook) balance(k nftKey, owner common.Address) *big.Int {
	if m, ok := b.balances[k]; ok {
		if v, ok := m[owner]; ok {
			return v
		}
	}
	return new(big.Int)
}

func (b *MultiTokenBook) setBalance(k nftKey, owner common.Address, v *big.Int) {
	m, ok := b.balances[k]
	if !ok {
		m = make(map[common.Address]*big.Int)
		b.balances[k] = m
	}
	m[owner] = v
}

// Mint credits amount of id to to.
func (b *MultiTokenBook) Mint(token, to common.Address, id, amount *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if !nonNegative(id) || !nonNegative(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := keyOf(token, id)
	b.setBalance(k, to, new(big.Int).Add(b.balance(k, to), amount))
	return nil
}

// BalanceOf returns owner's balance of id.
func (b *MultiTokenBook) BalanceOf(token, owner common.Address, id *big.Int) *big.Int {
	if id == nil {
		return new(big.Int)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return new(big.Int).Set(b.balance(keyOf(token, id), owner))
}

// SetApprovalForAll grants or revokes operator over all of owner's ids.
func (b *MultiTokenBook) SetApprovalForAll(token, owner, operator common.Address, approved bool) error {
	if owner == operator {
		return ErrSelfApproval
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	m, ok := b.operators[token]
	if !ok {
		m = make(map[[2]common.Address]bool)
		b.operators[token] = m
	}
	m[[2]common.Address{owner, operator}] = approved
	return nil
}

// IsApprovedForAll reports whether operator may move owner's ids.
func (b *MultiTokenBook) IsApprovedForAll(token, owner, operator common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if m, ok := b.operators[token]; ok {
		return m[[2]common.Address{owner, operator}]
	}
	return false
}

// SafeTransferFrom moves amount of id from from to to on behalf of operator.
func (b *MultiTokenBook) SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error {
	if to == zero {
		return ErrZeroAddress
	}
	if !nonNegative(id) || !nonNegative(amount) {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if operator != from {
		m := b.operators[token]
		if m == nil || !m[[2]common.Address{from, operator}] {
			return ErrMultiNotApproved
		}
	}
	k := keyOf(token, id)
	bal := b.balance(k, from)
	if bal.Cmp(amount) < 0 {
		return ErrMultiInsufficientBal
	}
	b.setBalance(k, from, new(big.Int).Sub(bal, amount))
	b.setBalance(k, to, new(big.Int).Add(b.balance(k, to), amount))
	return nil
}
