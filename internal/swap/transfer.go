package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/clock"
)

// ERC20Token moves fungible pod tokens. TransferFrom requires that from
// granted spender an allowance of at least amount.
type ERC20Token interface {
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
}

// ERC721Token moves non-fungible pod tokens. TransferFrom requires spender
// to be the owner, the approved address for tokenID, or an operator.
type ERC721Token interface {
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, tokenID *big.Int) error
}

// ERC1155Token moves semi-fungible pod tokens. SafeTransferFrom requires
// operator to be from or an approved operator of from.
type ERC1155Token interface {
	SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// FungibleTransfer escrows ERC20 amounts in the vault.
type FungibleTransfer struct {
	tokens ERC20Token
	vault  common.Address
}

// NewFungibleTransfer creates an ERC20 adapter holding escrow at vault.
func NewFungibleTransfer(tokens ERC20Token, vault common.Address) *FungibleTransfer {
	return &FungibleTransfer{tokens: tokens, vault: vault}
}

func (f *FungibleTransfer) Class() AssetClass { return ClassERC20 }

func (f *FungibleTransfer) Validate(a Asset) error {
	if a.Token == (common.Address{}) {
		return fmt.Errorf("%w: token is the zero address", ErrInvalidAsset)
	}
	if !positive(a.Amount) {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAsset)
	}
	if a.TokenID != nil {
		return fmt.Errorf("%w: erc20 assets have no token id", ErrInvalidAsset)
	}
	return nil
}

func (f *FungibleTransfer) Escrow(ctx context.Context, owner common.Address, a Asset) error {
	return f.tokens.TransferFrom(ctx, a.Token, f.vault, owner, f.vault, a.Amount)
}

func (f *FungibleTransfer) Release(ctx context.Context, recipient common.Address, a Asset) error {
	return f.tokens.Transfer(ctx, a.Token, f.vault, recipient, a.Amount)
}

// SingleAssetTransfer escrows one ERC721 token in the vault.
type SingleAssetTransfer struct {
	tokens ERC721Token
	vault  common.Address
}

// NewSingleAssetTransfer creates an ERC721 adapter holding escrow at vault.
func NewSingleAssetTransfer(tokens ERC721Token, vault common.Address) *SingleAssetTransfer {
	return &SingleAssetTransfer{tokens: tokens, vault: vault}
}

func (s *SingleAssetTransfer) Class() AssetClass { return ClassERC721 }

func (s *SingleAssetTransfer) Validate(a Asset) error {
	if a.Token == (common.Address{}) {
		return fmt.Errorf("%w: token is the zero address", ErrInvalidAsset)
	}
	if a.TokenID == nil || a.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id is required", ErrInvalidAsset)
	}
	if a.Amount != nil && a.Amount.Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("%w: erc721 amount must be 1", ErrInvalidAsset)
	}
	return nil
}

func (s *SingleAssetTransfer) Escrow(ctx context.Context, owner common.Address, a Asset) error {
	return s.tokens.TransferFrom(ctx, a.Token, s.vault, owner, s.vault, a.TokenID)
}

func (s *SingleAssetTransfer) Release(ctx context.Context, recipient common.Address, a Asset) error {
	return s.tokens.TransferFrom(ctx, a.Token, s.vault, s.vault, recipient, a.TokenID)
}

// SemiFungibleTransfer escrows an ERC1155 id and amount in the vault.
type SemiFungibleTransfer struct {
	tokens ERC1155Token
	vault  common.Address
}

// NewSemiFungibleTransfer creates an ERC1155 adapter holding escrow at vault.
func NewSemiFungibleTransfer(tokens ERC1155Token, vault common.Address) *SemiFungibleTransfer {
	return &SemiFungibleTransfer{tokens: tokens, vault: vault}
}

func (s *SemiFungibleTransfer) Class() AssetClass { return ClassERC1155 }

func (s *SemiFungibleTransfer) Validate(a Asset) error {
	if a.Token == (common.Address{}) {
		return fmt.Errorf("%w: token is the zero address", ErrInvalidAsset)
	}
	if a.TokenID == nil || a.TokenID.Sign() < 0 {
		return fmt.Errorf("%w: token id is required", ErrInvalidAsset)
	}
	if !positive(a.Amount) {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAsset)
	}
	return nil
}

func (s *SemiFungibleTransfer) Escrow(ctx context.Context, owner common.Address, a Asset) error {
	return s.tokens.SafeTransferFrom(ctx, a.Token, s.vault, owner, s.vault, a.TokenID, a.Amount)
}

func (s *SemiFungibleTransfer) Release(ctx context.Context, recipient common.Address, a Asset) error {
	return s.tokens.SafeTransferFrom(ctx, a.Token, s.vault, s.vault, recipient, a.TokenID, a.Amount)
}

// NewFungibleEngine creates the ERC20 swap engine.
func NewFungibleEngine(tokens ERC20Token, vault common.Address, store Store, clk clock.Clock) *Engine {
	return NewEngine(NameERC20, NewFungibleTransfer(tokens, vault), store, clk)
}

// NewSingleAssetEngine creates the ERC721 swap engine.
func NewSingleAssetEngine(tokens ERC721Token, vault common.Address, store Store, clk clock.Clock) *Engine {
	return NewEngine(NameERC721, NewSingleAssetTransfer(tokens, vault), store, clk)
}

// NewSemiFungibleEngine creates the ERC1155 swap engine.
func NewSemiFungibleEngine(tokens ERC1155Token, vault common.Address, store Store, clk clock.Clock) *Engine {
	return NewEngine(NameERC1155, NewSemiFungibleTransfer(tokens, vault), store, clk)
}
