package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/redis"
)

// KV is the slice of the redis client a RedisStore needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetAll(ctx context.Context, values map[string][]byte) error
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

var _ KV = (*redis.Client)(nil)

// RedisStore keeps the same two documents as FileStore under prefixed keys so
// several replicas can share one cache.
type RedisStore struct {
	kv        KV
	activeKey string
	dataKey   string
	lockKey   string
	lockTTL   time.Duration
	logger    *zap.Logger
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
)

// NewRedisStore returns a store keyed under prefix.
func NewRedisStore(kv KV, prefix string, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		kv:        kv,
		activeKey: redis.Key(prefix, "active_ids"),
		dataKey:   redis.Key(prefix, "deposits"),
		lockKey:   redis.Key(prefix, "scan.lock"),
		lockTTL:   DefaultLockTTL,
		logger:    logger,
	}
}

func (s *RedisStore) Load(ctx context.Context) Snapshot {
	snap := Empty()

	if bz, ok := s.read(ctx, s.activeKey); ok {
		ids, err := decodeActive(bz)
		if err != nil {
			s.logger.Warn("Active id cache unreadable, starting empty", zap.String("key", s.activeKey), zap.Error(err))
		} else {
			snap.ActiveIDs = ids
		}
	}

	if bz, ok := s.read(ctx, s.dataKey); ok {
		entries, err := decodeEntries(bz)
		if err != nil {
			s.logger.Warn("Deposit cache unreadable, starting empty", zap.String("key", s.dataKey), zap.Error(err))
		} else {
			snap.Entries = entries
		}
	}

	return snap
}

func (s *RedisStore) read(ctx context.Context, key string) ([]byte, bool) {
	bz, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache key unreadable, starting empty", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		s.logger.Info("No cache key, cold start", zap.String("key", key))
		return nil, false
	}
	return bz, true
}

// Save writes both documents in one MULTI/EXEC.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	active, err := encodeActive(snap.ActiveIDs)
	if err != nil {
		return fmt.Errorf("encode active ids: %w", err)
	}
	entries, err := encodeEntries(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode deposit cache: %w", err)
	}
	if err := s.kv.SetAll(ctx, map[string][]byte{s.activeKey: active, s.dataKey: entries}); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

// Lock takes the shared scan lock with SET NX PX.
func (s *RedisStore) Lock(ctx context.Context) (func(), error) {
	token := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	ok, err := s.kv.AcquireLock(ctx, s.lockKey, token, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire scan lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return s.hold(token), nil
}

// hold refreshes the lock every third of its TTL until the returned unlock is called.
func (s *RedisStore) hold(token string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(s.lockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				held, err := s.kv.ExtendLock(ctx, s.lockKey, token, s.lockTTL)
				cancel()
				switch {
				case err != nil:
					s.logger.Warn("Failed to refresh scan lock", zap.String("key", s.lockKey), zap.Error(err))
				case !held:
					s.logger.Warn("Scan lock lost before the scan finished", zap.String("key", s.lockKey))
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
			// the scan context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := s.kv.ReleaseLock(ctx, s.lockKey, token); err != nil {
				s.logger.Warn("Failed to release scan lock", zap.String("key", s.lockKey), zap.Error(err))
			}
		})
	}
}
