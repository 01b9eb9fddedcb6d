package reporterapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/app/reporter/types"
	"github.com/zkp2p/slack-liquidity-bot/pkg/cache"
	"github.com/zkp2p/slack-liquidity-bot/pkg/categories"
	"github.com/zkp2p/slack-liquidity-bot/pkg/config"
	"github.com/zkp2p/slack-liquidity-bot/pkg/fetcher"
	"github.com/zkp2p/slack-liquidity-bot/pkg/notify"
	"github.com/zkp2p/slack-liquidity-bot/pkg/redis"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/reporter"
	"github.com/zkp2p/slack-liquidity-bot/pkg/retry"
	"github.com/zkp2p/slack-liquidity-bot/pkg/rpc"
	"github.com/zkp2p/slack-liquidity-bot/pkg/scanner"
)

// Initialize wires the report cycle from cfg. The HTTP server is created by
// NewServer; the CLI uses the app without one.
func Initialize(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*types.App, error) {
	client, _, err := rpc.Dial(ctx, rpc.Opts{
		Endpoints:       cfg.RPC.URLs,
		Timeout:         cfg.RPC.Timeout,
		RPS:             cfg.RPC.RPS,
		Burst:           cfg.RPC.Burst,
		BreakerFailures: cfg.RPC.BreakerFailures,
		BreakerCooldown: cfg.RPC.BreakerCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}

	escrowABI, err := rpc.EscrowABI(cfg.EscrowABIPath)
	if err != nil {
		client.Close()
		return nil, err
	}
	source := rpc.NewEscrowClient(client, cfg.EscrowAddress, escrowABI)

	holdings, err := rpc.NewERC20Client(client, cfg.AssetAddress)
	if err != nil {
		client.Close()
		return nil, err
	}

	table, err := loadTable(cfg.CategoryTablePath)
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Info("Category table loaded", zap.Int("keys", table.Len()), zap.Strings("categories", table.Names()))

	// Redis is optional unless it backs the cache
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, redis.Options{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err != nil {
			if cfg.CacheBackend == config.BackendRedis {
				client.Close()
				return nil, fmt.Errorf("redis cache backend: %w", err)
			}
			logger.Warn("Failed to initialize Redis client - report stream and websocket will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized")
		}
	} else {
		logger.Info("Redis disabled - report stream and websocket will not be available")
	}

	var store cache.Store
	switch cfg.CacheBackend {
	case config.BackendRedis:
		store = cache.NewRedisStore(redisClient, cfg.Redis.Prefix, logger)
	default:
		store = cache.WithLock(
			cache.NewFileStore(cfg.ActiveIDsPath, cfg.DataCachePath, logger),
			&cache.FileLock{Path: cfg.LockPath},
		)
	}

	f := fetcher.New(cfg.BatchSize, cfg.BatchDelay, logger)

	countRetry := retry.DefaultConfig()
	countRetry.MaxRetries = cfg.CountRetries
	engine := scanner.New(source, store, f, scanner.Options{
		Asset:            cfg.AssetAddress,
		TTL:              cfg.CacheTTL,
		RevalidateActive: cfg.RevalidateActive,
		BatchRPC:         cfg.BatchRPC,
		CountRetry:       countRetry,
	}, logger)

	var publisher reporter.Publisher
	if redisClient != nil {
		publisher = redisClient
	}
	var deliverer reporter.Deliverer
	if dispatcher := newDispatcher(cfg, logger); dispatcher.Len() > 0 {
		deliverer = dispatcher
	} else {
		logger.Warn("No Slack token or Discord webhook configured, reports will not be delivered")
	}

	rep := reporter.New(engine, table, publisher, deliverer, reporter.Options{
		Report: report.Options{
			Asset:    cfg.AssetAddress,
			Symbol:   cfg.AssetSymbol,
			Decimals: cfg.AssetDecimals,
		},
		Prefix: cfg.Redis.Prefix,
	}, logger)

	return &types.App{
		Config:      cfg,
		Reporter:    rep,
		Holdings:    holdings,
		RPCClient:   client,
		Fetcher:     f,
		RedisClient: redisClient,
		Logger:      logger,
	}, nil
}

func loadTable(path string) (*categories.Table, error) {
	if path == "" {
		return categories.Default()
	}
	return categories.Load(path)
}

func newDispatcher(cfg *config.Config, logger *zap.Logger) *notify.Dispatcher {
	hc := &http.Client{Timeout: 15 * time.Second}
	var notifiers []notify.Notifier
	if s := notify.NewSlack(notify.SlackConfig{
		Token:      cfg.Slack.BotToken,
		Channel:    cfg.Slack.ChannelID,
		HTTPClient: hc,
	}); s != nil {
		notifiers = append(notifiers, s)
	}
	if d := notify.NewDiscord(cfg.DiscordWebhookURL, hc); d != nil {
		notifiers = append(notifiers, d)
	}
	return notify.NewDispatcher(logger, retry.DefaultConfig(), notifiers...)
}
