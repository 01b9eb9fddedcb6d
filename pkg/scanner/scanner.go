// Package scanner reconciles the escrow's deposits with the persisted cache and
// produces the current active set.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/cache"
	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
	"github.com/zkp2p/slack-liquidity-bot/pkg/fetcher"
	"github.com/zkp2p/slack-liquidity-bot/pkg/retry"
)

// Options tune a scan.
type Options struct {
	// Asset is the token whose deposits need category keys.
	Asset common.Address
	// TTL bounds how long a cached deposit is trusted.
	TTL time.Duration
	// RevalidateActive refetches every previously-active deposit regardless of TTL.
	RevalidateActive bool
	// BatchRPC fetches each group with a single JSON-RPC batch.
	BatchRPC bool
	// CountRetry governs retries of the deposit count.
	CountRetry retry.Config
	Now        func() time.Time
}

// Stats counts how each id was resolved.
type Stats struct {
	CacheHits   int `json:"cacheHits"`
	Fetched     int `json:"fetched"`
	NotFound    int `json:"notFound"`
	Failed      int `json:"failed"`
	Fallbacks   int `json:"fallbacks"`
	KeyFetches  int `json:"keyFetches"`
	Revalidated int `json:"revalidated"`
}

// Result is the outcome of a scan.
type Result struct {
	Count     uint64             `json:"count"`
	ActiveIDs []deposits.ID      `json:"activeIds"`
	Active    []deposits.Deposit `json:"active"`
	Stats     Stats              `json:"stats"`
	StartedAt time.Time          `json:"startedAt"`
	Duration  time.Duration      `json:"duration"`
	// Persisted is false when the new snapshot could not be saved.
	Persisted bool `json:"persisted"`
}

// Engine runs scans. Concurrent calls to Scan are rejected with ErrScanInProgress.
type Engine struct {
	source  deposits.Source
	store   cache.Store
	fetcher *fetcher.Fetcher
	opts    Options
	logger  *zap.Logger

	running sync.Mutex
}

// New returns an Engine.
func New(source deposits.Source, store cache.Store, f *fetcher.Fetcher, opts Options, logger *zap.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CountRetry.MaxRetries == 0 {
		opts.CountRetry = retry.DefaultConfig()
	}
	return &Engine{
		source:  source,
		store:   store,
		fetcher: f,
		opts:    opts,
		logger:  logger,
	}
}

// Scan enumerates 0..count-1, resolves each id from cache or source, persists the
// merged snapshot and returns the active deposits in ID order.
func (e *Engine) Scan(ctx context.Context) (*Result, error) {
	if !e.running.TryLock() {
		return nil, deposits.ErrScanInProgress
	}
	defer e.running.Unlock()

	if locker, ok := e.store.(cache.Locker); ok {
		unlock, err := locker.Lock(ctx)
		if errors.Is(err, cache.ErrLocked) {
			return nil, fmt.Errorf("%w: %v", deposits.ErrScanInProgress, err)
		}
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	started := e.opts.Now()
	prev := e.store.Load(ctx)

	count, err := e.count(ctx)
	if err != nil {
		return nil, err
	}

	e.warnShrink(prev, count)

	now := e.opts.Now()
	s := &scan{
		engine:   e,
		prev:     prev,
		now:      now,
		resolved: make(map[deposits.ID]deposits.Deposit, count),
		fetched:  xsync.NewMap[deposits.ID, deposits.Deposit](),
	}

	toFetch := s.partition(count)

	e.logger.Info("Scanning deposits",
		zap.Uint64("count", count),
		zap.Int("cached", s.stats.CacheHits),
		zap.Int("toFetch", len(toFetch)),
		zap.Int("revalidate", s.stats.Revalidated))

	fstats, err := s.fetch(ctx, toFetch)
	if err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	s.stats.Fetched = fstats.Fetched
	s.stats.NotFound = fstats.NotFound
	s.stats.Failed = fstats.Failed
	s.stats.KeyFetches = int(s.keyFetches.Load())

	s.fetched.Range(func(id deposits.ID, d deposits.Deposit) bool {
		s.resolved[id] = d
		return true
	})

	// a failed id keeps its previous entry while that entry is still fresh
	var expired []deposits.ID
	for _, id := range fstats.FailedIDs {
		if d, ok := prev.Lookup(id, now, e.opts.TTL); ok {
			s.resolved[id] = d
			s.stats.Fallbacks++
		} else if _, ok := prev.Entries[id]; ok {
			expired = append(expired, id)
		}
	}

	res := s.merge(count, started)

	next := cache.Snapshot{ActiveIDs: append([]deposits.ID(nil), res.ActiveIDs...), Entries: s.resolved}
	pruned := next.Prune(now, e.opts.TTL, count)
	// expired entries of failed ids stay on disk for their category keys; Lookup still treats them as absent
	for _, id := range expired {
		next.Entries[id] = prev.Entries[id]
	}
	if err := e.store.Save(ctx, next); err != nil {
		e.logger.Error("Failed to persist scan snapshot, previous cache left in place", zap.Error(err))
	} else {
		res.Persisted = true
	}
	res.Duration = e.opts.Now().Sub(started)

	e.logger.Info("Scan complete",
		zap.Uint64("count", count),
		zap.Int("active", len(res.ActiveIDs)),
		zap.Int("cacheHits", res.Stats.CacheHits),
		zap.Int("fetched", res.Stats.Fetched),
		zap.Int("notFound", res.Stats.NotFound),
		zap.Int("failed", res.Stats.Failed),
		zap.Int("fallbacks", res.Stats.Fallbacks),
		zap.Int("keyFetches", res.Stats.KeyFetches),
		zap.Int("pruned", pruned),
		zap.Bool("persisted", res.Persisted),
		zap.Duration("duration", res.Duration))

	return res, nil
}

func (e *Engine) count(ctx context.Context) (uint64, error) {
	var count uint64
	err := retry.WithBackoff(ctx, e.opts.CountRetry, e.logger, "depositCounter", func() error {
		n, err := e.source.Count(ctx)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to read deposit count, aborting scan", zap.Error(err))
		return 0, fmt.Errorf("%w: %v", deposits.ErrSourceUnavailable, err)
	}
	return count, nil
}

// warnShrink logs when the cache knows ids the source no longer reports.
func (e *Engine) warnShrink(prev cache.Snapshot, count uint64) {
	beyond := map[deposits.ID]struct{}{}
	for _, id := range prev.ActiveIDs {
		if uint64(id) >= count {
			beyond[id] = struct{}{}
		}
	}
	for id := range prev.Entries {
		if uint64(id) >= count {
			beyond[id] = struct{}{}
		}
	}
	if len(beyond) > 0 {
		e.logger.Warn("Deposit count shrank below cached ids, dropping them",
			zap.Uint64("count", count),
			zap.Int("dropped", len(beyond)))
	}
}

// scan carries the state of one Scan call.
type scan struct {
	engine     *Engine
	prev       cache.Snapshot
	now        time.Time
	stats      Stats
	resolved   map[deposits.ID]deposits.Deposit
	fetched    *xsync.Map[deposits.ID, deposits.Deposit]
	keyFetches atomic.Int64
}

// partition resolves fresh ids from cache and returns the ones that need a fetch.
func (s *scan) partition(count uint64) []deposits.ID {
	opts := s.engine.opts
	prevActive := make(map[deposits.ID]struct{}, len(s.prev.ActiveIDs))
	for _, id := range s.prev.ActiveIDs {
		prevActive[id] = struct{}{}
	}

	var toFetch []deposits.ID
	for i := uint64(0); i < count; i++ {
		id := deposits.ID(i)
		d, fresh := s.prev.Lookup(id, s.now, opts.TTL)
		_, wasActive := prevActive[id]
		switch {
		case fresh && wasActive && opts.RevalidateActive:
			s.stats.Revalidated++
			toFetch = append(toFetch, id)
		case fresh:
			s.resolved[id] = d
			s.stats.CacheHits++
		default:
			toFetch = append(toFetch, id)
		}
	}
	return toFetch
}

func (s *scan) fetch(ctx context.Context, ids []deposits.ID) (fetcher.Stats, error) {
	if len(ids) == 0 {
		return fetcher.Stats{}, nil
	}
	if s.engine.opts.BatchRPC {
		return s.engine.fetcher.RunBatches(ctx, ids, s.fetchBatch)
	}
	return s.engine.fetcher.Run(ctx, ids, s.fetchOne)
}

func (s *scan) fetchOne(ctx context.Context, id deposits.ID) error {
	d, err := s.engine.source.GetDeposit(ctx, id)
	if err != nil {
		return err
	}
	d.ID = id
	d.FetchedAt = s.engine.opts.Now()
	if err := s.attachKeys(ctx, &d); err != nil {
		return err
	}
	s.fetched.Store(id, d)
	return nil
}

func (s *scan) fetchBatch(ctx context.Context, ids []deposits.ID) ([]error, error) {
	results, err := s.engine.source.GetDeposits(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[deposits.ID]deposits.Result, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	errs := make([]error, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			errs[i] = errors.New("missing from batch response")
			continue
		}
		if r.Err != nil {
			errs[i] = r.Err
			continue
		}
		d := r.Deposit
		d.ID = id
		d.FetchedAt = s.engine.opts.Now()
		if err := s.attachKeys(ctx, &d); err != nil {
			errs[i] = err
			continue
		}
		s.fetched.Store(id, d)
	}
	return errs, nil
}

// attachKeys loads category keys for deposits that can contribute to a report.
// Keys never change once a deposit exists, so a previous snapshot's keys are reused.
func (s *scan) attachKeys(ctx context.Context, d *deposits.Deposit) error {
	if old, ok := s.prev.Entries[d.ID]; ok && old.KeysLoaded && old.Token == d.Token {
		d.CategoryKeys = old.CategoryKeys
		d.KeysLoaded = true
		return nil
	}
	if d.Token != s.engine.opts.Asset || !d.AcceptingIntents {
		return nil
	}
	keys, err := s.engine.source.GetCategoryKeys(ctx, d.ID)
	s.keyFetches.Add(1)
	if err != nil {
		return fmt.Errorf("category keys: %w", err)
	}
	d.CategoryKeys = keys
	d.KeysLoaded = true
	return nil
}

func (s *scan) merge(count uint64, started time.Time) *Result {
	active := make([]deposits.ID, 0)
	for id, d := range s.resolved {
		if d.Active() {
			active = append(active, id)
		}
	}
	active = deposits.SortIDs(active)

	activeDeposits := make([]deposits.Deposit, len(active))
	for i, id := range active {
		activeDeposits[i] = s.resolved[id]
	}

	return &Result{
		Count:     count,
		ActiveIDs: active,
		Active:    activeDeposits,
		Stats:     s.stats,
		StartedAt: started,
	}
}
