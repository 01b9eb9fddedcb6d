package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
)

// DefaultSlackAPI is the Slack Web API base URL.
const DefaultSlackAPI = "https://slack.com/api"

// SlackAPIError is an ok=false answer from the Web API.
type SlackAPIError struct {
	Code string
}

func (e *SlackAPIError) Error() string {
	return "slack api: " + e.Code
}

// SlackConfig configures a Slack notifier.
type SlackConfig struct {
	Token   string
	Channel string
	// BaseURL overrides DefaultSlackAPI.
	BaseURL    string
	HTTPClient *http.Client
}

// Slack posts reports with chat.postMessage.
type Slack struct {
	token   string
	channel string
	baseURL string
	client  *http.Client
}

var _ Notifier = (*Slack)(nil)

// NewSlack returns nil when no bot token is configured.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Token == "" {
		return nil
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSlackAPI
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{token: cfg.Token, channel: cfg.Channel, baseURL: cfg.BaseURL, client: cfg.HTTPClient}
}

// SlackMessage is the chat.postMessage payload; also used for response_url replies.
type SlackMessage struct {
	Channel      string              `json:"channel,omitempty"`
	Text         string              `json:"text"`
	Blocks       []report.SlackBlock `json:"blocks,omitempty"`
	UnfurlLinks  bool                `json:"unfurl_links"`
	ResponseType string              `json:"response_type,omitempty"`
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) SendReport(ctx context.Context, r *report.Report) error {
	return s.post(ctx, SlackMessage{
		Channel: s.channel,
		Text:    r.FallbackText(),
		Blocks:  r.SlackBlocks(),
	})
}

func (s *Slack) SendFailure(ctx context.Context, cause error) error {
	return s.post(ctx, SlackMessage{
		Channel: s.channel,
		Text:    FailureText(cause),
	})
}

func (s *Slack) post(ctx context.Context, msg SlackMessage) error {
	body, err := postJSON(ctx, s.client, s.baseURL+"/chat.postMessage",
		map[string]string{"Authorization": "Bearer " + s.token}, msg)
	if err != nil {
		return err
	}
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode slack response: %w", err)
	}
	if !out.OK {
		return &SlackAPIError{Code: out.Error}
	}
	return nil
}

// FailureText is the message sent when a report could not be produced.
func FailureText(cause error) string {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	return "❌ *" + report.Title + " Error*\n\n" + cause.Error()
}

// Respond answers a slash command through its response_url.
func Respond(ctx context.Context, client *http.Client, responseURL string, msg SlackMessage) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	_, err := postJSON(ctx, client, responseURL, nil, msg)
	return err
}

// ReportResponse is the slash command answer for r.
func ReportResponse(r *report.Report) SlackMessage {
	return SlackMessage{
		ResponseType: "in_channel",
		Text:         symbolOr(r.Symbol, "USDC") + " Totals by Verifier",
		Blocks: append([]report.SlackBlock{{
			Type: "section",
			Text: &report.SlackText{Type: "mrkdwn", Text: "🔄 *" + symbolOr(r.Symbol, "USDC") + " Totals by Verifier:*"},
		}}, r.SlackBlocks()...),
	}
}

func symbolOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
