// Package fetcher runs per-deposit requests in rate-limited groups: at most
// BatchSize requests are outstanding and consecutive groups are separated by Delay.
package fetcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
)

// FetchFunc fetches one id. ErrNotFound is a silent skip; any other error fails the id.
type FetchFunc func(ctx context.Context, id deposits.ID) error

// BatchFunc fetches a whole group in one round trip. errs must be index-aligned with
// ids; a non-nil err fails every member of the group.
type BatchFunc func(ctx context.Context, ids []deposits.ID) (errs []error, err error)

// Stats summarises one Run.
type Stats struct {
	Requested int
	Fetched   int
	NotFound  int
	Failed    int
	// Skipped ids were never attempted because ctx ended.
	Skipped   int
	Groups    int
	FailedIDs []deposits.ID
	Elapsed   time.Duration
}

// Fetcher owns a worker pool sized to the batch size.
type Fetcher struct {
	batchSize int
	delay     time.Duration
	logger    *zap.Logger
	pool      pond.Pool
	sleep     func(ctx context.Context, d time.Duration) error
}

// New returns a Fetcher; batchSize below 1 is treated as 1 and a negative delay as 0.
func New(batchSize int, delay time.Duration, logger *zap.Logger) *Fetcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if delay < 0 {
		delay = 0
	}
	return &Fetcher{
		batchSize: batchSize,
		delay:     delay,
		logger:    logger,
		pool:      pond.NewPool(batchSize, pond.WithQueueSize(batchSize)),
		sleep:     sleepCtx,
	}
}

// BatchSize returns the maximum number of outstanding requests.
func (f *Fetcher) BatchSize() int { return f.batchSize }

// Close stops the worker pool after running tasks finish.
func (f *Fetcher) Close() {
	f.pool.StopAndWait()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// groups partitions ids into consecutive slices of at most size.
func groups(ids []deposits.ID, size int) [][]deposits.ID {
	out := make([][]deposits.ID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}

// tally collects per-id outcomes from concurrent tasks.
type tally struct {
	fetched  atomic.Int64
	notFound atomic.Int64
	mu       sync.Mutex
	failed   []deposits.ID
}

func (f *Fetcher) record(t *tally, id deposits.ID, err error) {
	switch {
	case err == nil:
		t.fetched.Add(1)
	case deposits.IsNotFound(err):
		t.notFound.Add(1)
	default:
		f.logger.Warn("Deposit fetch failed, skipping until next scan",
			zap.Uint64("depositId", uint64(id)),
			zap.Error(err))
		t.mu.Lock()
		t.failed = append(t.failed, id)
		t.mu.Unlock()
	}
}

func (t *tally) stats(requested, skipped, groups int, started time.Time) Stats {
	failed := append([]deposits.ID(nil), t.failed...)
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return Stats{
		Requested: requested,
		Fetched:   int(t.fetched.Load()),
		NotFound:  int(t.notFound.Load()),
		Failed:    len(failed),
		Skipped:   skipped,
		Groups:    groups,
		FailedIDs: failed,
		Elapsed:   time.Since(started),
	}
}

// Run calls fn for every id. Each group runs concurrently on the pool and is
// awaited in full before the delay and the next group. The returned error is
// only ever ctx.Err(); per-id failures are reported in Stats.
func (f *Fetcher) Run(ctx context.Context, ids []deposits.ID, fn FetchFunc) (Stats, error) {
	started := time.Now()
	t := &tally{}
	parts := groups(ids, f.batchSize)

	for i, part := range parts {
		if i > 0 {
			if err := f.sleep(ctx, f.delay); err != nil {
				return t.stats(len(ids), remaining(parts[i:]), i, started), err
			}
		}
		if err := ctx.Err(); err != nil {
			return t.stats(len(ids), remaining(parts[i:]), i, started), err
		}

		group := f.pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		for _, id := range part {
			id := id
			group.Submit(func() {
				if err := groupCtx.Err(); err != nil {
					f.record(t, id, &deposits.TransientFetchError{ID: id, Err: err})
					return
				}
				err := fn(groupCtx, id)
				if err != nil && !deposits.IsNotFound(err) {
					err = &deposits.TransientFetchError{ID: id, Err: err}
				}
				f.record(t, id, err)
			})
		}
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			f.logger.Warn("Fetch group encountered error", zap.Int("group", i), zap.Error(err))
		}

		f.logger.Debug("Fetch group done",
			zap.Int("group", i+1),
			zap.Int("groups", len(parts)),
			zap.Int("size", len(part)))
	}

	return t.stats(len(ids), 0, len(parts), started), nil
}

// RunBatches is Run with one BatchFunc call per group instead of one call per id.
func (f *Fetcher) RunBatches(ctx context.Context, ids []deposits.ID, fn BatchFunc) (Stats, error) {
	started := time.Now()
	t := &tally{}
	parts := groups(ids, f.batchSize)

	for i, part := range parts {
		if i > 0 {
			if err := f.sleep(ctx, f.delay); err != nil {
				return t.stats(len(ids), remaining(parts[i:]), i, started), err
			}
		}
		if err := ctx.Err(); err != nil {
			return t.stats(len(ids), remaining(parts[i:]), i, started), err
		}

		errs, err := fn(ctx, part)
		for j, id := range part {
			itemErr := err
			if itemErr == nil && j < len(errs) {
				itemErr = errs[j]
			}
			if itemErr == nil && j >= len(errs) {
				itemErr = errors.New("missing result in batch response")
			}
			if itemErr != nil && !deposits.IsNotFound(itemErr) {
				itemErr = &deposits.TransientFetchError{ID: id, Err: itemErr}
			}
			f.record(t, id, itemErr)
		}
	}

	return t.stats(len(ids), 0, len(parts), started), nil
}

func remaining(parts [][]deposits.ID) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}
