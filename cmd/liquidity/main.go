package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/config"
	"github.com/zkp2p/slack-liquidity-bot/pkg/logging"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	rootCmd  = &cobra.Command{
		Use:   "liquidity",
		Short: "💰 Escrow liquidity reporter",
		Long: `liquidity scans the escrow's deposits, totals the remaining USDC by payment
platform and reports it to Slack and Discord.`,
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "yaml config file (env and .env are always read)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(holdingsCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(_ *cobra.Command, _ []string) error {
	if logLevel != "" {
		// logging.New reads the level from the environment
		if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
			return err
		}
	}
	return nil
}

// setup loads the configuration, letting cmd's flags override it, and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
