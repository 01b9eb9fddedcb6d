package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

var usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

func testSnapshot(now time.Time) Snapshot {
	balance, _ := uint256.FromDecimal("12345678901234567")
	return Snapshot{
		ActiveIDs: []deposits.ID{0, 4},
		Entries: map[deposits.ID]deposits.Deposit{
			0: {ID: 0, Token: usdc, RemainingBalance: balance, AcceptingIntents: true, KeysLoaded: true,
				CategoryKeys: []common.Hash{common.HexToHash("0x01")}, FetchedAt: now},
			2: {ID: 2, Token: usdc, RemainingBalance: uint256.NewInt(0), FetchedAt: now},
			4: {ID: 4, Token: usdc, RemainingBalance: uint256.NewInt(7), AcceptingIntents: true, FetchedAt: now},
		},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "data", "active.json"), filepath.Join(dir, "data", "cache.json"), zaptest.NewLogger(t))
	now := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, store.Save(context.Background(), testSnapshot(now)))

	got := store.Load(context.Background())
	assert.Equal(t, []deposits.ID{0, 4}, got.ActiveIDs)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, "12345678901234567", got.Entries[0].Balance().Dec())
	assert.True(t, got.Entries[0].KeysLoaded)
	assert.Equal(t, now, got.Entries[0].FetchedAt)

	raw, err := os.ReadFile(filepath.Join(dir, "data", "active.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[0, 4]`, string(raw))

	// no temp files left behind
	files, err := os.ReadDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFileStore_ColdStart(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"), zaptest.NewLogger(t))

	got := store.Load(context.Background())
	assert.NotNil(t, got.ActiveIDs)
	assert.NotNil(t, got.Entries)
	assert.Empty(t, got.ActiveIDs)
	assert.Empty(t, got.Entries)
}

func TestFileStore_CorruptFallsBackAndLogs(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "a.json")
	data := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(active, []byte(`[1, 3`), 0o600))
	require.NoError(t, os.WriteFile(data, []byte(`{"1":{"id":1,"token":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","remainingBalance":"5","acceptingIntents":true}}`), 0o600))

	core, logs := observer.New(zap.WarnLevel)
	store := NewFileStore(active, data, zap.New(core))

	got := store.Load(context.Background())
	assert.Empty(t, got.ActiveIDs)
	assert.Len(t, got.Entries, 1, "the readable artifact is still used")

	entries := logs.FilterMessage("Active id cache unreadable, starting empty").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], deposits.ErrCorruptCache.Error())
}

func TestSnapshot_LookupAndPrune(t *testing.T) {
	now := time.Now()
	snap := testSnapshot(now.Add(-2 * time.Hour))
	snap.Entries[4] = deposits.Deposit{ID: 4, Token: usdc, AcceptingIntents: true, FetchedAt: now}

	_, ok := snap.Lookup(0, now, time.Hour)
	assert.False(t, ok, "expired entries are absent")
	d, ok := snap.Lookup(4, now, time.Hour)
	require.True(t, ok)
	assert.Equal(t, deposits.ID(4), d.ID)
	_, ok = snap.Lookup(9, now, time.Hour)
	assert.False(t, ok)

	removed := snap.Prune(now, time.Hour, 4)
	assert.Equal(t, 3, removed, "two expired, one beyond count")
	assert.Empty(t, snap.Entries)
	assert.Equal(t, []deposits.ID{0}, snap.ActiveIDs)
}

func TestDecodeEntries_KeyIsAuthoritative(t *testing.T) {
	entries, err := decodeEntries([]byte(`{"3":{"id":9,"token":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","remainingBalance":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, deposits.ID(3), entries[3].ID)

	_, err = decodeEntries([]byte(`{"3":{"remainingBalance":"abc"}}`))
	assert.ErrorIs(t, err, deposits.ErrCorruptCache)
}

func TestFileLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	first := &FileLock{Path: path, TTL: time.Minute}
	second := &FileLock{Path: path, TTL: time.Minute}

	unlock, err := first.Lock(context.Background())
	require.NoError(t, err)

	_, err = second.Lock(context.Background())
	assert.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	unlock, err = second.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestFileLock_StaleIsTakenOver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	unlock, err := (&FileLock{Path: path, TTL: time.Minute}).Lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestFileLock_TakeOverSparesReplacedLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.lock")
	lock := &FileLock{Path: path, TTL: time.Minute}

	require.NoError(t, os.WriteFile(path, []byte(`{"pid":1}`), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
	stale, err := os.Stat(path)
	require.NoError(t, err)

	// another process took the stale lock over and wrote its own
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte(`{"pid":2}`), 0o600))

	assert.False(t, lock.takeOver(stale, time.Minute))
	bz, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"pid":2}`, string(bz))

	_, err = lock.Lock(context.Background())
	assert.ErrorIs(t, err, ErrLocked)

	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWithLock(t *testing.T) {
	dir := t.TempDir()
	store := WithLock(
		NewFileStore(filepath.Join(dir, "active.json"), filepath.Join(dir, "data.json"), zaptest.NewLogger(t)),
		&FileLock{Path: filepath.Join(dir, "scan.lock")},
	)
	locker, ok := store.(Locker)
	require.True(t, ok)

	unlock, err := locker.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()
	assert.Empty(t, store.Load(context.Background()).ActiveIDs)
}

type fakeKV struct {
	mu     sync.Mutex
	values map[string][]byte
	getErr error
	setErr error

	extends int
}

func newFakeKV() *fakeKV { return &fakeKV{values: map[string][]byte{}} }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) SetAll(_ context.Context, values map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	for k, v := range values {
		f.values[k] = v
	}
	return nil
}

func (f *fakeKV) AcquireLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.values[key]; held {
		return false, nil
	}
	f.values[key] = []byte(token)
	return true, nil
}

func (f *fakeKV) ExtendLock(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extends++
	return string(f.values[key]) == token, nil
}

func (f *fakeKV) extendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extends
}

func (f *fakeKV) ReleaseLock(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if string(f.values[key]) == token {
		delete(f.values, key)
	}
	return nil
}

func TestRedisStore_RoundTrip(t *testing.T) {
	kv := newFakeKV()
	store := NewRedisStore(kv, "liquidity", zaptest.NewLogger(t))
	now := time.UnixMilli(1_700_000_000_000)

	assert.Empty(t, store.Load(context.Background()).Entries)

	require.NoError(t, store.Save(context.Background(), testSnapshot(now)))
	assert.Contains(t, kv.values, "liquidity:active_ids")
	assert.Contains(t, kv.values, "liquidity:deposits")

	got := store.Load(context.Background())
	assert.Equal(t, []deposits.ID{0, 4}, got.ActiveIDs)
	assert.Len(t, got.Entries, 3)
}

func TestRedisStore_Failures(t *testing.T) {
	kv := newFakeKV()
	store := NewRedisStore(kv, "liquidity", zaptest.NewLogger(t))

	kv.getErr = errors.New("connection refused")
	got := store.Load(context.Background())
	assert.Empty(t, got.ActiveIDs)

	kv.setErr = errors.New("READONLY")
	assert.ErrorContains(t, store.Save(context.Background(), Empty()), "READONLY")
}

func TestRedisStore_Lock(t *testing.T) {
	kv := newFakeKV()
	store := NewRedisStore(kv, "liquidity", zaptest.NewLogger(t))

	unlock, err := store.Lock(context.Background())
	require.NoError(t, err)

	_, err = store.Lock(context.Background())
	assert.ErrorIs(t, err, ErrLocked)

	unlock()
	unlock, err = store.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestRedisStore_LockIsRefreshedWhileHeld(t *testing.T) {
	kv := newFakeKV()
	store := NewRedisStore(kv, "liquidity", zaptest.NewLogger(t))
	store.lockTTL = 30 * time.Millisecond

	unlock, err := store.Lock(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return kv.extendCalls() >= 2 }, time.Second, 5*time.Millisecond)

	unlock()
	calls := kv.extendCalls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, kv.extendCalls())
	assert.NotContains(t, kv.values, "liquidity:scan.lock")
}

func TestRedisStore_LockLostStopsRefreshing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	kv := newFakeKV()
	store := NewRedisStore(kv, "liquidity", zap.New(core))
	store.lockTTL = 30 * time.Millisecond

	unlock, err := store.Lock(context.Background())
	require.NoError(t, err)
	defer unlock()

	kv.mu.Lock()
	kv.values["liquidity:scan.lock"] = []byte("someone-else")
	kv.mu.Unlock()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Scan lock lost before the scan finished").Len() == 1
	}, time.Second, 5*time.Millisecond)
}
