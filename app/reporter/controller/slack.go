package controller

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zkp2p/slack-liquidity-bot/pkg/deposits"
	"github.com/zkp2p/slack-liquidity-bot/pkg/notify"
	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
)

const (
	// slackMaxSkew is how far a request timestamp may drift from now.
	slackMaxSkew = 5 * time.Minute
	maxFormBytes = 64 << 10
	commandTTL   = 10 * time.Minute
)

var (
	errStaleRequest = errors.New("request timestamp outside the allowed window")
	errBadSignature = errors.New("signature mismatch")
)

// VerifySlackSignature checks a v0 request signature: hex HMAC-SHA256 of
// "v0:<timestamp>:<body>" keyed with the signing secret.
func VerifySlackSignature(secret, timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp %q", timestamp)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew > slackMaxSkew || skew < -slackMaxSkew {
		return errStaleRequest
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "v0:%s:", timestamp)
	_, _ = mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errBadSignature
	}
	return nil
}

// HandleSlackCommand acknowledges /liquidity right away and posts the report to
// the command's response_url once it is ready.
func (c *Controller) HandleSlackCommand(w http.ResponseWriter, r *http.Request) {
	if c.SigningSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "slash commands not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	err = VerifySlackSignature(c.SigningSecret,
		r.Header.Get("X-Slack-Request-Timestamp"),
		r.Header.Get("X-Slack-Signature"),
		body, c.now())
	if err != nil {
		c.App.Logger.Warn("Rejected slash command", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	responseURL := form.Get("response_url")
	if responseURL == "" {
		writeError(w, http.StatusBadRequest, "response_url is required")
		return
	}

	c.App.Logger.Info("Slash command received",
		zap.String("command", form.Get("command")),
		zap.String("user", form.Get("user_name")),
		zap.String("channel", form.Get("channel_id")))

	// cached answers the last report without scanning
	cached := strings.TrimSpace(form.Get("text")) == "cached"
	go c.answerCommand(responseURL, cached)

	writeJSON(w, http.StatusOK, notify.SlackMessage{
		ResponseType: "ephemeral",
		Text:         "🔄 Generating liquidity report...",
	})
}

func (c *Controller) answerCommand(responseURL string, cached bool) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTTL)
	defer cancel()

	var (
		rep *report.Report
		err error
	)
	if cached {
		rep = c.App.Reporter.Latest()
	}
	if rep == nil {
		rep, err = c.App.Reporter.Generate(ctx)
	}
	// an overlapping scan still leaves a report to answer with
	if errors.Is(err, deposits.ErrScanInProgress) {
		if latest := c.App.Reporter.Latest(); latest != nil {
			rep, err = latest, nil
		}
	}

	msg := notify.SlackMessage{ResponseType: "ephemeral", Text: notify.FailureText(err)}
	if err == nil {
		msg = notify.ReportResponse(rep)
	}
	if err := notify.Respond(ctx, c.HTTPClient, responseURL, msg); err != nil {
		c.App.Logger.Error("Failed to answer slash command", zap.Error(err))
	}
}
