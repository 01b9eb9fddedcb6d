// Package reporter runs the report cycle: scan, aggregate, publish, deliver.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/categories"
	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
	"github.com/zkp2p/slack-liquidity-bot/pkg/redis"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/scanner"
)

// Scanner produces the active deposits.
type Scanner interface {
	Scan(ctx context.Context) (*scanner.Result, error)
}

// Publisher fans reports out to live subscribers and keeps a history.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{})
	XAdd(ctx context.Context, stream string, values map[string]interface{}) string
}

// Deliverer sends reports to chat platforms.
type Deliverer interface {
	Deliver(ctx context.Context, r *report.Report) error
	DeliverFailure(ctx context.Context, cause error) error
}

// Options configure report building and publishing.
type Options struct {
	Report report.Options
	// Prefix namespaces the redis channel and stream.
	Prefix string
}

// Reporter owns the latest report. Publisher and Deliverer are optional.
type Reporter struct {
	scanner   Scanner
	table     *categories.Table
	publisher Publisher
	deliverer Deliverer
	opts      Options
	logger    *zap.Logger

	latest   atomic.Pointer[report.Report]
	lastScan atomic.Pointer[scanner.Result]
}

// New returns a Reporter.
func New(s Scanner, table *categories.Table, publisher Publisher, deliverer Deliverer, opts Options, logger *zap.Logger) *Reporter {
	opts.Report.Logger = logger
	return &Reporter{
		scanner:   s,
		table:     table,
		publisher: publisher,
		deliverer: deliverer,
		opts:      opts,
		logger:    logger,
	}
}

// Generate scans and builds a report, stores it as the latest and publishes it.
func (r *Reporter) Generate(ctx context.Context) (*report.Report, error) {
	res, err := r.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	r.lastScan.Store(res)

	rep := report.Build(res.Active, r.table, r.opts.Report)
	rep.Count = res.Count
	r.latest.Store(rep)
	r.publish(ctx, rep)

	r.logger.Info("Report generated",
		zap.Int("platforms", len(rep.Entries)),
		zap.Int("deposits", rep.ActiveDeposits),
		zap.Uint64("count", rep.Count))
	return rep, nil
}

// Run generates a report and delivers it. When the scan fails a failure message
// is delivered instead and the scan error is returned.
func (r *Reporter) Run(ctx context.Context) (*report.Report, error) {
	started := time.Now()
	rep, err := r.Generate(ctx)
	if err != nil {
		if errors.Is(err, deposits.ErrScanInProgress) {
			r.logger.Warn("Report skipped, a scan is already running")
			return nil, err
		}
		r.logger.Error("Report cycle failed", zap.Error(err))
		if r.deliverer != nil {
			if derr := r.deliverer.DeliverFailure(ctx, err); derr != nil {
				r.logger.Error("Failed to deliver failure notice", zap.Error(derr))
			}
		}
		return nil, err
	}

	if r.deliverer != nil {
		if err := r.deliverer.Deliver(ctx, rep); err != nil {
			// delivery failures are logged per notifier; the report itself is good
			r.logger.Warn("Report delivered partially", zap.Error(err))
		}
	}

	r.logger.Info("Report cycle done", zap.Duration("elapsed", time.Since(started)))
	return rep, nil
}

// Latest returns the most recent report, nil before the first one.
func (r *Reporter) Latest() *report.Report {
	return r.latest.Load()
}

// LastScan returns the result behind the latest report.
func (r *Reporter) LastScan() *scanner.Result {
	return r.lastScan.Load()
}

// Channel is the redis channel reports are published on.
func (r *Reporter) Channel() string {
	return redis.ReportChannel(r.opts.Prefix, r.opts.Report.Symbol)
}

// Stream is the redis stream that keeps the report history.
func (r *Reporter) Stream() string {
	return redis.ReportStream(r.opts.Prefix, r.opts.Report.Symbol)
}

func (r *Reporter) publish(ctx context.Context, rep *report.Report) {
	if r.publisher == nil {
		return
	}
	bz, err := json.Marshal(rep)
	if err != nil {
		r.logger.Warn("Failed to encode report for publishing", zap.Error(err))
		return
	}
	r.publisher.Publish(ctx, r.Channel(), string(bz))
	r.publisher.XAdd(ctx, r.Stream(), map[string]interface{}{
		"report": string(bz),
	})
}
