package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	app "github.com/zkp2p/slack-liquidity-bot/app/reporter"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/scanner"
)

func scanCmd() *cobra.Command {
	var (
		asJSON  bool
		deliver bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the escrow once and print the report",
		Long: `Run a single scan, print the liquidity report and exit. Exits non-zero when the
deposit count cannot be read. With --deliver the report also goes to Slack and Discord.`,
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
				return err
			}
			defer a.Close()

			var rep *report.Report
			if deliver {
				rep, err = a.Reporter.Run(ctx)
			} else {
				rep, err = a.Reporter.Generate(ctx)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Report *report.Report  `json:"report"`
					Scan   *scanner.Result `json:"scan"`
				}{rep, a.Reporter.LastScan()})
			}
			printReport(out, rep, a.Reporter.LastScan())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report and scan stats as JSON")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "also deliver the report to Slack and Discord")
	cmd.Flags().Int("batch-size", 10, "maximum concurrent deposit reads")
	cmd.Flags().Bool("scan-batch-rpc", false, "read each group with one JSON-RPC batch")
	cmd.Flags().String("cache-backend", "file", "cache backend (file, redis)")

	return cmd
}
