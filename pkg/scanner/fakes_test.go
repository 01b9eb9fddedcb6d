package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zkp2p/slack-liquidity-bot/pkg/cache"
	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

var (
	asset = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	other = common.HexToAddress("0x4200000000000000000000000000000000000006")
	venmo = common.HexToHash("0x90262a3db0edd0be2369c6b28f9e8511ec0bac7136cefbada0880602f87e7268")
)

type sourceDeposit struct {
	token     common.Address
	balance   uint64
	accepting bool
	keys      []common.Hash
}

// fakeSource is an in-memory escrow with call counters.
type fakeSource struct {
	mu       sync.Mutex
	count    uint64
	countErr error
	deposits map[deposits.ID]sourceDeposit
	failing  map[deposits.ID]error

	countCalls int
	getCalls   map[deposits.ID]int
	batchCalls int
	keyCalls   map[deposits.ID]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		deposits: map[deposits.ID]sourceDeposit{},
		failing:  map[deposits.ID]error{},
		getCalls: map[deposits.ID]int{},
		keyCalls: map[deposits.ID]int{},
	}
}

func (f *fakeSource) set(id deposits.ID, d sourceDeposit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[id] = d
	if uint64(id) >= f.count {
		f.count = uint64(id) + 1
	}
}

func (f *fakeSource) totalGets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.getCalls {
		n += c
	}
	return n
}

func (f *fakeSource) totalKeyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.keyCalls {
		n += c
	}
	return n
}

func (f *fakeSource) Count(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls++
	return f.count, f.countErr
}

func (f *fakeSource) get(id deposits.ID) (deposits.Deposit, error) {
	f.getCalls[id]++
	if err := f.failing[id]; err != nil {
		return deposits.Deposit{}, err
	}
	d, ok := f.deposits[id]
	if !ok {
		return deposits.Deposit{}, deposits.ErrNotFound
	}
	return deposits.Deposit{
		ID:               id,
		Token:            d.token,
		RemainingBalance: uint256.NewInt(d.balance),
		AcceptingIntents: d.accepting,
		FetchedAt:        time.Now(),
	}, nil
}

func (f *fakeSource) GetDeposit(_ context.Context, id deposits.ID) (deposits.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakeSource) GetDeposits(_ context.Context, ids []deposits.ID) ([]deposits.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := make([]deposits.Result, len(ids))
	for i, id := range ids {
		d, err := f.get(id)
		out[i] = deposits.Result{ID: id, Deposit: d, Err: err}
	}
	return out, nil
}

func (f *fakeSource) GetCategoryKeys(_ context.Context, id deposits.ID) ([]common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyCalls[id]++
	d, ok := f.deposits[id]
	if !ok {
		return nil, deposits.ErrNotFound
	}
	return append([]common.Hash(nil), d.keys...), nil
}

// memStore is an in-memory cache.Store.
type memStore struct {
	mu      sync.Mutex
	snap    cache.Snapshot
	saves   int
	saveErr error
}

func newMemStore() *memStore { return &memStore{snap: cache.Empty()} }

func (m *memStore) Load(context.Context) cache.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := cache.Snapshot{
		ActiveIDs: append([]deposits.ID{}, m.snap.ActiveIDs...),
		Entries:   make(map[deposits.ID]deposits.Deposit, len(m.snap.Entries)),
	}
	for k, v := range m.snap.Entries {
		out.Entries[k] = v
	}
	return out
}

func (m *memStore) Save(_ context.Context, snap cache.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.snap = snap
	return nil
}

// lockingStore adds a cache.Locker that is always held elsewhere.
type lockingStore struct {
	*memStore
}

func (lockingStore) Lock(context.Context) (func(), error) {
	return nil, cache.ErrLocked
}

var errRPC = errors.New("429 too many requests")
