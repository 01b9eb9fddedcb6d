package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Caller is the subset of *gethrpc.Client the adapters use.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	BatchCallContext(ctx context.Context, b []gethrpc.BatchElem) error
}

// errEmptyResult is returned when eth_call yields no data, e.g. no code at the address.
var errEmptyResult = errors.New("empty eth_call result")

// contract binds an ABI to an address and performs read-only calls against "latest".
type contract struct {
	caller  Caller
	address common.Address
	abi     abi.ABI
}

func callArgs(to common.Address, data []byte) map[string]interface{} {
	return map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
}

// pack encodes a call; the error is a programming error (bad args for the ABI).
func (c *contract) pack(method string, args ...interface{}) ([]byte, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return input, nil
}

func (c *contract) unpack(method string, out hexutil.Bytes) ([]interface{}, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, errEmptyResult)
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", method, errEmptyResult)
	}
	return values, nil
}

// call performs one eth_call and returns the decoded outputs.
func (c *contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.pack(method, args...)
	if err != nil {
		return nil, err
	}
	var out hexutil.Bytes
	if err := c.caller.CallContext(ctx, &out, "eth_call", callArgs(c.address, input), "latest"); err != nil {
		return nil, err
	}
	return c.unpack(method, out)
}

// batchElem prepares an eth_call for a JSON-RPC batch; the result lands in the returned buffer.
func (c *contract) batchElem(method string, args ...interface{}) (gethrpc.BatchElem, *hexutil.Bytes, error) {
	input, err := c.pack(method, args...)
	if err != nil {
		return gethrpc.BatchElem{}, nil, err
	}
	out := new(hexutil.Bytes)
	return gethrpc.BatchElem{
		Method: "eth_call",
		Args:   []interface{}{callArgs(c.address, input), "latest"},
		Result: out,
	}, out, nil
}
