package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	app "github.com/zkp2p/slack-liquidity-bot/app/reporter"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hourly reporter and its HTTP API",
		Long: `Run the report on the cron schedule, serve the HTTP API (report, scan trigger,
Slack slash command, websocket stream) and stop on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.Initialize(ctx, cfg, logger)
			if err != nil {
				logger.Error("Unable to initialize", zap.Error(err))
				return err
			}
			if err := app.NewServer(a); err != nil {
				a.Close()
				return err
			}
			if err := a.Schedule(ctx); err != nil {
				a.Close()
				return err
			}

			a.Start(ctx)
			return nil
		},
	}

	cmd.Flags().String("addr", ":3000", "HTTP listen address")
	cmd.Flags().String("cron-spec", "0 0 * * * *", "report schedule (cron with seconds)")
	cmd.Flags().Bool("run-on-start", false, "run a report immediately")

	return cmd
}
