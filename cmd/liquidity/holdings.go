package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	app "github.com/zkp2p/slack-liquidity-bot/app/reporter"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
)

func holdingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "holdings [address]",
		Short: "Print the asset balance of an address",
		Long:  `Print the asset balance of address, or of MONITORED_ADDRESS when none is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			raw := cfg.MonitoredAddress
			if len(args) == 1 {
				raw = args[0]
			}
			if raw == "" {
				return fmt.Errorf("no address given and MONITORED_ADDRESS is not set")
			}
			if !common.IsHexAddress(raw) {
				return fmt.Errorf("invalid address %q", raw)
			}
			owner := common.HexToAddress(raw)

			a, err := app.Initialize(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			balance, err := a.Holdings.BalanceOf(ctx, owner)
			if err != nil {
				return fmt.Errorf("balance of %s: %w", owner.Hex(), err)
			}
			amount := report.FormatAmount(report.Units(balance.ToBig(), cfg.AssetDecimals))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", labelStyle.Render(owner.Hex()), amount, cfg.AssetSymbol)
			return nil
		},
	}
}
