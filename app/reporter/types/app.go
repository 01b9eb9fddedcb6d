package types

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/config"
	"github.com/zkp2p/slack-liquidity-bot/pkg/fetcher"
	"github.com/zkp2p/slack-liquidity-bot/pkg/logging"
	"github.com/zkp2p/slack-liquidity-bot/pkg/redis"
	"github.com/zkp2p/slack-liquidity-bot/pkg/reporter"
)

// BalanceReader reads the asset balance of an address.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
}

// RunTimeout bounds a single scheduled report cycle.
const RunTimeout = 30 * time.Minute

type App struct {
	Config *config.Config

	// Report cycle: scan, aggregate, publish, deliver
	Reporter *reporter.Reporter
	// Asset balance reads for /holdings
	Holdings BalanceReader

	// Owned resources closed on Stop; nil in tests
	RPCClient *gethrpc.Client
	Fetcher   *fetcher.Fetcher

	// Redis Client (optional; report stream and websocket fan-out)
	RedisClient *redis.Client

	// Zap Logger
	Logger *zap.Logger

	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server

	cron *cron.Cron
}

// Schedule registers the report cycle on the configured cron spec. Runs never
// overlap; a tick that fires while a run is in progress is skipped.
func (a *App) Schedule(ctx context.Context) error {
	cl := logging.CronLogger(a.Logger)
	a.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := a.cron.AddFunc(a.Config.CronSpec, func() { a.RunReport(ctx) })
	if err != nil {
		return err
	}
	a.Logger.Info("Report schedule registered", zap.String("spec", a.Config.CronSpec))
	return nil
}

// RunReport runs one report cycle. Errors are logged and delivered by the reporter.
func (a *App) RunReport(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, RunTimeout)
	defer cancel()
	_, _ = a.Reporter.Run(runCtx)
}

// Start starts the scheduler and the HTTP server and blocks until ctx is canceled.
func (a *App) Start(ctx context.Context) {
	if a.cron == nil {
		if err := a.Schedule(ctx); err != nil {
			a.Logger.Fatal("Unable to schedule report", zap.Error(err))
		}
	}
	a.cron.Start()

	if a.Config.RunOnStart {
		go a.RunReport(ctx)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	a.Stop()
}

// Stop waits for a running report, shuts the server down and releases resources.
func (a *App) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-shutdownCtx.Done():
			a.Logger.Warn("Report still running at shutdown")
		}
	}

	if a.Server != nil {
		_ = a.Server.Shutdown(shutdownCtx)
	}

	a.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Close releases the rpc client, the worker pool and redis.
func (a *App) Close() {
	if a.Fetcher != nil {
		a.Fetcher.Close()
	}
	if a.RPCClient != nil {
		a.RPCClient.Close()
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}
}
