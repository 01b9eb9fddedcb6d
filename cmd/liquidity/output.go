package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/scanner"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// printReport writes the report as a table followed by the scan summary.
func printReport(out io.Writer, rep *report.Report, res *scanner.Result) {
	fmt.Fprintln(out, titleStyle.Render(report.Title))
	fmt.Fprintln(out)

	if len(rep.Entries) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No active liquidity"))
	} else {
		symbol := rep.Symbol
		if symbol == "" {
			symbol = "Amount"
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\n", headerStyle.Render("Platform"), headerStyle.Render(symbol))
		fmt.Fprintf(w, "%s\t%s\n", strings.Repeat("-", 16), strings.Repeat("-", 18))
		for _, e := range rep.Entries {
			fmt.Fprintf(w, "%s\t%18s\n", e.Name, report.FormatAmount(e.Amount))
		}
		_ = w.Flush()
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, mutedStyle.Render("*"+rep.Disclaimer))

	if res == nil {
		return
	}
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf(
		"%d deposits, %d active, %d cache hits, %d fetched, %d failed in %s",
		res.Count, rep.ActiveDeposits, res.Stats.CacheHits, res.Stats.Fetched, res.Stats.Failed,
		res.Duration.Round(time.Millisecond))))
	if !res.Persisted {
		fmt.Fprintln(out, warnStyle.Render("cache was not saved; the next scan starts from the previous snapshot"))
	}
}
