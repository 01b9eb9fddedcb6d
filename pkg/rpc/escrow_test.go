package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

var (
	testEscrow = common.HexToAddress("0x2f121CDDCA6d652f35e8B3E560f9760898888888")
	testUSDC   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

type testRange struct {
	Min *big.Int
	Max *big.Int
}

// testDeposit mirrors the getDeposit tuple so the server can ABI-encode it.
type testDeposit struct {
	Depositor               common.Address
	Delegate                common.Address
	Token                   common.Address
	IntentAmountRange       testRange
	AcceptingIntents        bool
	RemainingDeposits       *big.Int
	OutstandingIntentAmount *big.Int
	IntentGuardian          common.Address
	RetainOnEmpty           bool
}

func newTestDeposit(token common.Address, accepting bool, remaining int64) testDeposit {
	return testDeposit{
		Depositor:               common.HexToAddress("0x01"),
		Token:                   token,
		IntentAmountRange:       testRange{Min: big.NewInt(1), Max: big.NewInt(100)},
		AcceptingIntents:        accepting,
		RemainingDeposits:       big.NewInt(remaining),
		OutstandingIntentAmount: big.NewInt(0),
	}
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// fakeEscrow is a JSON-RPC endpoint answering eth_call for the escrow ABI.
type fakeEscrow struct {
	t        *testing.T
	abi      abi.ABI
	count    int64
	deposits map[uint64]testDeposit
	keys     map[uint64][][32]byte
	// failing ids answer with a generic server error.
	failing map[uint64]bool
	calls   atomic.Int64
	batches atomic.Int64
}

func newFakeEscrow(t *testing.T) *fakeEscrow {
	parsed, err := EscrowABI("")
	require.NoError(t, err)
	return &fakeEscrow{
		t:        t,
		abi:      parsed,
		deposits: map[uint64]testDeposit{},
		keys:     map[uint64][][32]byte{},
		failing:  map[uint64]bool{},
	}
}

func (f *fakeEscrow) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&raw))
	w.Header().Set("Content-Type", "application/json")

	if len(raw) > 0 && raw[0] == '[' {
		f.batches.Add(1)
		var reqs []rpcRequest
		require.NoError(f.t, json.Unmarshal(raw, &reqs))
		resps := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			resps[i] = f.handle(req)
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}

	var req rpcRequest
	require.NoError(f.t, json.Unmarshal(raw, &req))
	_ = json.NewEncoder(w).Encode(f.handle(req))
}

func (f *fakeEscrow) handle(req rpcRequest) rpcResponse {
	f.calls.Add(1)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if req.Method != "eth_call" {
		resp.Error = &rpcError{Code: -32601, Message: "method not found"}
		return resp
	}
	var call struct {
		To   common.Address `json:"to"`
		Data hexutil.Bytes  `json:"data"`
	}
	require.NoError(f.t, json.Unmarshal(req.Params[0], &call))
	assert.Equal(f.t, testEscrow, call.To)

	method, err := f.abi.MethodById(call.Data[:4])
	require.NoError(f.t, err)
	args, err := method.Inputs.Unpack(call.Data[4:])
	require.NoError(f.t, err)

	var out []byte
	switch method.Name {
	case methodDepositCounter:
		out, err = method.Outputs.Pack(big.NewInt(f.count))
	case methodGetDeposit:
		id := args[0].(*big.Int).Uint64()
		if f.failing[id] {
			resp.Error = &rpcError{Code: -32000, Message: "header not found"}
			return resp
		}
		d, ok := f.deposits[id]
		if !ok {
			resp.Error = &rpcError{Code: 3, Message: "execution reverted", Data: hexutil.Encode(notFoundSelector)}
			return resp
		}
		out, err = method.Outputs.Pack(d)
	case methodPaymentMethods:
		id := args[0].(*big.Int).Uint64()
		keys := f.keys[id]
		if keys == nil {
			keys = [][32]byte{}
		}
		out, err = method.Outputs.Pack(keys)
	}
	require.NoError(f.t, err)
	resp.Result = hexutil.Encode(out)
	return resp
}

func newTestEscrowClient(t *testing.T, f *fakeEscrow) *EscrowClient {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	client, _, err := Dial(context.Background(), Opts{Endpoints: []string{srv.URL}, RPS: 1000})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return NewEscrowClient(client, testEscrow, f.abi)
}

func TestEscrowClient_Count(t *testing.T) {
	f := newFakeEscrow(t)
	f.count = 42
	c := newTestEscrowClient(t, f)

	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)
}

func TestEscrowClient_GetDeposit(t *testing.T) {
	f := newFakeEscrow(t)
	f.deposits[7] = newTestDeposit(testUSDC, true, 1_500_000)
	c := newTestEscrowClient(t, f)

	d, err := c.GetDeposit(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, deposits.ID(7), d.ID)
	assert.Equal(t, testUSDC, d.Token)
	assert.True(t, d.AcceptingIntents)
	assert.Equal(t, "1500000", d.Balance().Dec())
	assert.False(t, d.FetchedAt.IsZero())
	assert.False(t, d.KeysLoaded)
}

func TestEscrowClient_GetDeposit_NotFound(t *testing.T) {
	f := newFakeEscrow(t)
	f.deposits[1] = newTestDeposit(common.Address{}, false, 0)
	c := newTestEscrowClient(t, f)

	_, err := c.GetDeposit(context.Background(), 0)
	assert.ErrorIs(t, err, deposits.ErrNotFound)

	// zero-token deposit is treated as missing
	_, err = c.GetDeposit(context.Background(), 1)
	assert.ErrorIs(t, err, deposits.ErrNotFound)
}

func TestEscrowClient_GetDeposits_Batch(t *testing.T) {
	f := newFakeEscrow(t)
	f.deposits[0] = newTestDeposit(testUSDC, true, 10)
	f.deposits[2] = newTestDeposit(testUSDC, false, 0)
	f.failing[3] = true
	c := newTestEscrowClient(t, f)

	results, err := c.GetDeposits(context.Background(), []deposits.ID{0, 1, 2, 3})
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, int64(1), f.batches.Load())

	assert.NoError(t, results[0].Err)
	assert.Equal(t, "10", results[0].Deposit.Balance().Dec())

	assert.ErrorIs(t, results[1].Err, deposits.ErrNotFound)

	assert.NoError(t, results[2].Err)
	assert.False(t, results[2].Deposit.Active())

	require.Error(t, results[3].Err)
	assert.False(t, deposits.IsNotFound(results[3].Err))
	assert.Equal(t, deposits.ID(3), results[3].ID)
}

func TestEscrowClient_GetCategoryKeys(t *testing.T) {
	f := newFakeEscrow(t)
	venmo := common.HexToHash("0x90262a3db0edd0be2369c6b28f9e8511ec0bac7136cefbada0880602f87e7268")
	f.keys[5] = [][32]byte{venmo}
	c := newTestEscrowClient(t, f)

	keys, err := c.GetCategoryKeys(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{venmo}, keys)

	keys, err = c.GetCategoryKeys(context.Background(), 6)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestIsDepositNotFound(t *testing.T) {
	assert.False(t, isDepositNotFound(nil))
	assert.False(t, isDepositNotFound(assert.AnError))
	assert.True(t, isDepositNotFound(&testDataError{data: hexutil.Encode(append(notFoundSelector, 0, 0))}))
	assert.False(t, isDepositNotFound(&testDataError{data: "0xdeadbeef"}))
	assert.True(t, isDepositNotFound(&testDataError{msg: "execution reverted: DepositNotFound()"}))
}

type testDataError struct {
	msg  string
	data string
}

func (e *testDataError) Error() string {
	if e.msg == "" {
		return "execution reverted"
	}
	return e.msg
}

func (e *testDataError) ErrorData() interface{} { return e.data }

func TestEscrowABI_MissingMethod(t *testing.T) {
	path := t.TempDir() + "/abi.json"
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"function","name":"depositCounter","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`), 0o600))
	_, err := EscrowABI(path)
	assert.ErrorContains(t, err, "missing method")
}
