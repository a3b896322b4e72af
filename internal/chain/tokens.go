package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mbd888/podswap/internal/swap"
)

// FungibleTokens moves ERC20 pod tokens with the operator key.
type FungibleTokens struct{ op *Operator }

// TransferFrom pulls amount from an owner who approved the operator.
func (f *FungibleTokens) TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if err := f.op.requireOperator(spender); err != nil {
		return err
	}
	_, err := f.op.send(ctx, token, "transferFrom", f.op.token, from, to, amount)
	return err
}

// Transfer sends amount out of the operator's own balance.
func (f *FungibleTokens) Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	if err := f.op.requireOperator(from); err != nil {
		return err
	}
	_, err := f.op.send(ctx, token, "transfer", f.op.token, to, amount)
	return err
}

// BalanceOf returns the ERC20 balance of owner.
func (f *FungibleTokens) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return f.op.uint256(ctx, token, f.op.token, "balanceOf", owner)
}

// Allowance returns how much spender may pull from owner.
func (f *FungibleTokens) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return f.op.uint256(ctx, token, f.op.token, "allowance", owner, spender)
}

// NonFungibleTokens moves ERC721 pod tokens with the operator key.
type NonFungibleTokens struct{ op *Operator }

func (n *NonFungibleTokens) TransferFrom(ctx context.Context, token, spender, from, to common.Address, tokenID *big.Int) error {
	if err := n.op.requireOperator(spender); err != nil {
		return err
	}
	_, err := n.op.send(ctx, token, "transferFrom", n.op.token, from, to, tokenID)
	return err
}

// OwnerOf returns the current owner of tokenID.
func (n *NonFungibleTokens) OwnerOf(ctx context.Context, token common.Address, tokenID *big.Int) (common.Address, error) {
	values, err := n.op.call(ctx, token, n.op.token, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf returned %T", values[0])
	}
	return owner, nil
}

// MultiTokens moves ERC1155 pod tokens with the operator key.
type MultiTokens struct{ op *Operator }

func (m *MultiTokens) SafeTransferFrom(ctx context.Context, token, operator, from, to common.Address, id, amount *big.Int) error {
	if err := m.op.requireOperator(operator); err != nil {
		return err
	}
	_, err := m.op.send(ctx, token, "safeTransferFrom", m.op.multi, from, to, id, amount, []byte{})
	return err
}

// BalanceOf returns owner's balance of token id.
func (m *MultiTokens) BalanceOf(ctx context.Context, token, owner common.Address, id *big.Int) (*big.Int, error) {
	return m.op.uint256(ctx, token, m.op.multi, "balanceOf", owner, id)
}

func (o *Operator) uint256(ctx context.Context, contract common.Address, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	values, err := o.call(ctx, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

var (
	_ swap.ERC20Token   = (*FungibleTokens)(nil)
	_ swap.ERC721Token  = (*NonFungibleTokens)(nil)
	_ swap.ERC1155Token = (*MultiTokens)(nil)
)
