// Package config loads the service configuration from .env, the environment,
// an optional yaml file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/zkp2p/slack-liquidity-bot/pkg/utils"
)

// Production addresses on Base.
const (
	DefaultEscrowAddress = "0x2f121CDDCA6d652f35e8B3E560f9760898888888"
	DefaultAssetAddress  = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	DefaultSlackChannel  = "C097Z17A64C"
)

// Cache backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// RPC configures the JSON-RPC transport.
type RPC struct {
	URLs            []string
	RPS             int
	Burst           int
	Timeout         time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Redis configures the optional redis client.
type Redis struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	Prefix   string
}

// Slack configures the bot.
type Slack struct {
	BotToken      string
	ChannelID     string
	SigningSecret string
}

// Config is the full service configuration.
type Config struct {
	RPC RPC

	EscrowAddress common.Address
	EscrowABIPath string
	AssetAddress  common.Address
	AssetSymbol   string
	AssetDecimals int32

	BatchSize        int
	BatchDelay       time.Duration
	BatchRPC         bool
	CacheTTL         time.Duration
	RevalidateActive bool
	CountRetries     int

	CacheBackend      string
	ActiveIDsPath     string
	DataCachePath     string
	LockPath          string
	CategoryTablePath string

	CronSpec   string
	RunOnStart bool
	Addr       string

	Redis             Redis
	Slack             Slack
	DiscordWebhookURL string

	AdminToken       string
	SessionSecret    string
	MonitoredAddress string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("rpc_urls", "https://mainnet.base.org")
	v.SetDefault("rpc_rps", 10)
	v.SetDefault("rpc_burst", 20)
	v.SetDefault("rpc_timeout", "15s")
	v.SetDefault("rpc_breaker_failures", 3)
	v.SetDefault("rpc_breaker_cooldown", "5s")

	v.SetDefault("escrow_address", DefaultEscrowAddress)
	v.SetDefault("escrow_abi_path", "")
	v.SetDefault("asset_address", DefaultAssetAddress)
	v.SetDefault("asset_symbol", "USDC")
	v.SetDefault("asset_decimals", 6)

	v.SetDefault("batch_size", 10)
	v.SetDefault("batch_delay", "200ms")
	v.SetDefault("scan_batch_rpc", false)
	v.SetDefault("cache_ttl", "24h")
	v.SetDefault("revalidate_active", true)
	v.SetDefault("count_retries", 3)

	v.SetDefault("cache_backend", BackendFile)
	v.SetDefault("active_ids_path", "data/activeDeposits.json")
	v.SetDefault("data_cache_path", "data/depositCache.json")
	v.SetDefault("lock_path", "data/scan.lock")
	v.SetDefault("category_table_path", "")

	v.SetDefault("cron_spec", "0 0 * * * *")
	v.SetDefault("run_on_start", false)
	v.SetDefault("addr", ":3000")

	v.SetDefault("redis_enabled", false)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", "6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "liquidity")

	v.SetDefault("slack_bot_token", "")
	v.SetDefault("slack_channel_id", DefaultSlackChannel)
	v.SetDefault("slack_signing_secret", "")
	v.SetDefault("discord_webhook_url", "")

	v.SetDefault("admin_token", "")
	v.SetDefault("session_secret", "")
	v.SetDefault("monitored_address", "")
}

// New reads .env (a missing file is fine), then builds the configuration from a
// fresh viper instance. configFile may be empty. Flags that were set on the
// command line override everything else; "batch-size" binds to batch_size.
func New(configFile string, flags ...*pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	for _, set := range flags {
		if err := BindFlags(v, set); err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return Load(v)
}

// BindFlags binds every flag of set to the viper key with dashes turned into underscores.
func BindFlags(v *viper.Viper, set *pflag.FlagSet) error {
	var err error
	set.VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})
	return err
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	urls := utils.SplitList(v.GetString("rpc_urls"))
	// BASE_RPC_URL is the name used by older deployments.
	if legacy := strings.TrimSpace(v.GetString("base_rpc_url")); legacy != "" {
		urls = utils.Dedup(append([]string{legacy}, urls...))
	}

	batchDelay, err := duration(v, "batch_delay")
	if err != nil {
		return nil, err
	}
	// RATE_LIMIT_DELAY_MS is the name used by older deployments.
	if ms := strings.TrimSpace(v.GetString("rate_limit_delay_ms")); ms != "" {
		if d, ok := utils.ParseDuration(ms); ok {
			batchDelay = d
		}
	}

	cfg := &Config{
		RPC: RPC{
			URLs:            urls,
			RPS:             v.GetInt("rpc_rps"),
			Burst:           v.GetInt("rpc_burst"),
			BreakerFailures: v.GetInt("rpc_breaker_failures"),
		},
		EscrowABIPath:     v.GetString("escrow_abi_path"),
		AssetSymbol:       v.GetString("asset_symbol"),
		AssetDecimals:     v.GetInt32("asset_decimals"),
		BatchSize:         v.GetInt("batch_size"),
		BatchDelay:        batchDelay,
		BatchRPC:          v.GetBool("scan_batch_rpc"),
		RevalidateActive:  v.GetBool("revalidate_active"),
		CountRetries:      v.GetInt("count_retries"),
		CacheBackend:      strings.ToLower(strings.TrimSpace(v.GetString("cache_backend"))),
		ActiveIDsPath:     v.GetString("active_ids_path"),
		DataCachePath:     v.GetString("data_cache_path"),
		LockPath:          v.GetString("lock_path"),
		CategoryTablePath: v.GetString("category_table_path"),
		CronSpec:          v.GetString("cron_spec"),
		RunOnStart:        v.GetBool("run_on_start"),
		Addr:              v.GetString("addr"),
		Redis: Redis{
			Enabled:  v.GetBool("redis_enabled"),
			Host:     v.GetString("redis_host"),
			Port:     v.GetString("redis_port"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
			Prefix:   v.GetString("redis_prefix"),
		},
		Slack: Slack{
			BotToken:      v.GetString("slack_bot_token"),
			ChannelID:     v.GetString("slack_channel_id"),
			SigningSecret: v.GetString("slack_signing_secret"),
		},
		DiscordWebhookURL: v.GetString("discord_webhook_url"),
		AdminToken:        v.GetString("admin_token"),
		SessionSecret:     v.GetString("session_secret"),
		MonitoredAddress:  strings.TrimSpace(v.GetString("monitored_address")),
	}

	if cfg.RPC.Timeout, err = duration(v, "rpc_timeout"); err != nil {
		return nil, err
	}
	if cfg.RPC.BreakerCooldown, err = duration(v, "rpc_breaker_cooldown"); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = duration(v, "cache_ttl"); err != nil {
		return nil, err
	}
	if cfg.EscrowAddress, err = address(v, "escrow_address"); err != nil {
		return nil, err
	}
	if cfg.AssetAddress, err = address(v, "asset_address"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.RPC.URLs) == 0 {
		errs = append(errs, errors.New("rpc_urls: at least one endpoint is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.BatchDelay < 0 {
		errs = append(errs, fmt.Errorf("batch_delay must not be negative, got %s", c.BatchDelay))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache_ttl must be positive, got %s", c.CacheTTL))
	}
	if c.AssetDecimals <= 0 || c.AssetDecimals > 77 {
		errs = append(errs, fmt.Errorf("asset_decimals out of range: %d", c.AssetDecimals))
	}
	if c.CountRetries < 1 {
		errs = append(errs, fmt.Errorf("count_retries must be at least 1, got %d", c.CountRetries))
	}
	switch c.CacheBackend {
	case BackendFile:
	case BackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("cache_backend=redis requires redis_enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache_backend %q", c.CacheBackend))
	}
	if c.MonitoredAddress != "" && !common.IsHexAddress(c.MonitoredAddress) {
		errs = append(errs, fmt.Errorf("monitored_address is not an address: %q", c.MonitoredAddress))
	}
	return errors.Join(errs...)
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, ok := utils.ParseDuration(raw)
	if !ok {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func address(v *viper.Viper, key string) (common.Address, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, raw)
	}
	return common.HexToAddress(raw), nil
}
