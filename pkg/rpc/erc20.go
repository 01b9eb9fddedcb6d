package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ERC20Client reads balances and decimals of a token contract.
type ERC20Client struct {
	contract
}

// NewERC20Client binds the bundled ERC-20 ABI to token.
func NewERC20Client(caller Caller, token common.Address) (*ERC20Client, error) {
	parsed, err := erc20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &ERC20Client{contract: contract{caller: caller, address: token, abi: parsed}}, nil
}

// BalanceOf returns the token balance held by owner.
func (c *ERC20Client) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	out, err := c.call(ctx, methodBalanceOf, owner)
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output %T", methodBalanceOf, out[0])
	}
	v, overflow := uint256.FromBig(n)
	if overflow {
		return nil, fmt.Errorf("%s output %s overflows uint256", methodBalanceOf, n)
	}
	return v, nil
}

// Decimals returns the token's decimals().
func (c *ERC20Client) Decimals(ctx context.Context) (uint8, error) {
	out, err := c.call(ctx, methodDecimals)
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %s output %T", methodDecimals, out[0])
	}
	return d, nil
}
