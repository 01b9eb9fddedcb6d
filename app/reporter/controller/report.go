package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
	"github.com/zkp2p/slack-liquidity-bot/pkg/redis"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
	"github.com/zkp2p/slack-liquidity-bot/pkg/scanner"
)

const (
	defaultHistory = 24
	maxHistory     = redis.DefaultStreamMaxLen
)

// ScanResponse is returned by POST /scan.
type ScanResponse struct {
	Report *report.Report  `json:"report"`
	Scan   *scanner.Result `json:"scan"`
}

// HandleReport returns the latest report.
func (c *Controller) HandleReport(w http.ResponseWriter, r *http.Request) {
	latest := c.App.Reporter.Latest()
	if latest == nil {
		writeError(w, http.StatusNotFound, "no report generated yet")
		return
	}
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(latest.Text()))
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// HandleReportHistory returns the most recent published reports, newest first.
func (c *Controller) HandleReportHistory(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		writeError(w, http.StatusServiceUnavailable, "report history not available (Redis disabled)")
		return
	}

	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}

	msgs, err := c.App.RedisClient.XLatest(r.Context(), c.App.Reporter.Stream(), int64(limit))
	if err != nil {
		c.App.Logger.Error("Failed to read report history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read report history")
		return
	}

	out := make([]report.Report, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["report"].(string)
		var rep report.Report
		if err := json.Unmarshal([]byte(raw), &rep); err != nil {
			c.App.Logger.Warn("Skipping unreadable history entry", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		out = append(out, rep)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": out})
}

// HandleScan runs a report cycle now. With deliver=true the report is also sent
// to the configured chat platforms.
func (c *Controller) HandleScan(w http.ResponseWriter, r *http.Request) {
	var (
		rep *report.Report
		err error
	)
	if r.URL.Query().Get("deliver") == "true" {
		rep, err = c.App.Reporter.Run(r.Context())
	} else {
		rep, err = c.App.Reporter.Generate(r.Context())
	}

	switch {
	case errors.Is(err, deposits.ErrScanInProgress):
		writeError(w, http.StatusConflict, "a scan is already running")
	case errors.Is(err, deposits.ErrSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		c.App.Logger.Error("Triggered scan failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, ScanResponse{Report: rep, Scan: c.App.Reporter.LastScan()})
	}
}
