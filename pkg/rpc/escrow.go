package rpc

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

// EscrowClient reads deposits from the escrow contract. It is the translation
// boundary between the contract's ABI structures and deposits.Deposit.
type EscrowClient struct {
	contract
	now func() time.Time
}

var _ deposits.Source = (*EscrowClient)(nil)

// NewEscrowClient binds the escrow ABI to address.
func NewEscrowClient(caller Caller, address common.Address, escrowABI abi.ABI) *EscrowClient {
	return &EscrowClient{
		contract: contract{caller: caller, address: address, abi: escrowABI},
		now:      time.Now,
	}
}

// Count returns depositCounter().
func (e *EscrowClient) Count(ctx context.Context) (uint64, error) {
	out, err := e.call(ctx, methodDepositCounter)
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("unexpected %s output %v", methodDepositCounter, out[0])
	}
	return n.Uint64(), nil
}

// GetDeposit returns deposits.ErrNotFound when the escrow reverts with DepositNotFound
// or hands back an empty deposit.
func (e *EscrowClient) GetDeposit(ctx context.Context, id deposits.ID) (deposits.Deposit, error) {
	out, err := e.call(ctx, methodGetDeposit, idArg(id))
	if err != nil {
		if isDepositNotFound(err) {
			return deposits.Deposit{}, deposits.ErrNotFound
		}
		return deposits.Deposit{}, err
	}
	return decodeDeposit(id, out[0], e.now())
}

// GetDeposits fetches ids in a single JSON-RPC batch.
func (e *EscrowClient) GetDeposits(ctx context.Context, ids []deposits.ID) ([]deposits.Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	elems := make([]gethrpc.BatchElem, len(ids))
	outs := make([]*hexutil.Bytes, len(ids))
	for i, id := range ids {
		elem, out, err := e.batchElem(methodGetDeposit, idArg(id))
		if err != nil {
			return nil, err
		}
		elems[i], outs[i] = elem, out
	}

	if err := e.caller.BatchCallContext(ctx, elems); err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]deposits.Result, len(ids))
	for i, id := range ids {
		results[i].ID = id
		if elems[i].Error != nil {
			if isDepositNotFound(elems[i].Error) {
				results[i].Err = deposits.ErrNotFound
			} else {
				results[i].Err = elems[i].Error
			}
			continue
		}
		values, err := e.unpack(methodGetDeposit, *outs[i])
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Deposit, results[i].Err = decodeDeposit(id, values[0], now)
	}
	return results, nil
}

// GetCategoryKeys returns getDepositPaymentMethods(id).
func (e *EscrowClient) GetCategoryKeys(ctx context.Context, id deposits.ID) ([]common.Hash, error) {
	out, err := e.call(ctx, methodPaymentMethods, idArg(id))
	if err != nil {
		if isDepositNotFound(err) {
			return nil, deposits.ErrNotFound
		}
		return nil, err
	}
	switch keys := out[0].(type) {
	case [][32]byte:
		hashes := make([]common.Hash, len(keys))
		for i, k := range keys {
			hashes[i] = common.Hash(k)
		}
		return hashes, nil
	case []common.Hash:
		return keys, nil
	default:
		return nil, fmt.Errorf("unexpected %s output %T", methodPaymentMethods, out[0])
	}
}

func idArg(id deposits.ID) *big.Int {
	return new(big.Int).SetUint64(uint64(id))
}

// decodeDeposit reads the fields the engine needs from the ABI-generated struct.
// Escrow versions that wrap the deposit in a view struct expose it as "Deposit".
func decodeDeposit(id deposits.ID, raw interface{}, fetchedAt time.Time) (deposits.Deposit, error) {
	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return deposits.Deposit{}, fmt.Errorf("deposit %d: unexpected output %T", id, raw)
	}
	if inner := rv.FieldByName("Deposit"); inner.IsValid() && inner.Kind() == reflect.Struct {
		rv = inner
	}

	token, err := structField[common.Address](rv, "Token")
	if err != nil {
		return deposits.Deposit{}, fmt.Errorf("deposit %d: %w", id, err)
	}
	accepting, err := structField[bool](rv, "AcceptingIntents")
	if err != nil {
		return deposits.Deposit{}, fmt.Errorf("deposit %d: %w", id, err)
	}
	remaining, err := structField[*big.Int](rv, "RemainingDeposits")
	if err != nil {
		return deposits.Deposit{}, fmt.Errorf("deposit %d: %w", id, err)
	}

	// Older escrows answer unknown ids with a zero struct instead of reverting.
	if token == (common.Address{}) {
		return deposits.Deposit{}, deposits.ErrNotFound
	}

	balance := new(uint256.Int)
	if remaining != nil {
		var overflow bool
		balance, overflow = uint256.FromBig(remaining)
		if overflow || remaining.Sign() < 0 {
			return deposits.Deposit{}, fmt.Errorf("deposit %d: remaining balance %s out of range", id, remaining)
		}
	}

	return deposits.Deposit{
		ID:               id,
		Token:            token,
		RemainingBalance: balance,
		AcceptingIntents: accepting,
		FetchedAt:        fetchedAt,
	}, nil
}

func structField[T any](rv reflect.Value, name string) (T, error) {
	var zero T
	f := rv.FieldByName(name)
	if !f.IsValid() {
		return zero, fmt.Errorf("field %s missing from abi output", name)
	}
	v, ok := f.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("field %s has type %s", name, f.Type())
	}
	return v, nil
}
