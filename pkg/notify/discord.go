package notify

import (
	"context"
	"net/http"
	"time"

	"github.com/zkp2p/slack-liquidity-bot/pkg/report"
)

const discordRed = 0xE74C3C

// Discord posts embeds to a webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

var _ Notifier = (*Discord)(nil)

// NewDiscord returns nil when no webhook is configured.
func NewDiscord(webhookURL string, client *http.Client) *Discord {
	if webhookURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discord{webhookURL: webhookURL, client: client}
}

type discordPayload struct {
	Embeds []report.DiscordEmbed `json:"embeds"`
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) SendReport(ctx context.Context, r *report.Report) error {
	_, err := postJSON(ctx, d.client, d.webhookURL, nil, discordPayload{Embeds: []report.DiscordEmbed{r.DiscordEmbed()}})
	return err
}

func (d *Discord) SendFailure(ctx context.Context, cause error) error {
	desc := "unknown error"
	if cause != nil {
		desc = cause.Error()
	}
	embed := report.DiscordEmbed{
		Title:       "❌ " + report.Title + " Error",
		Description: desc,
		Color:       discordRed,
		Fields:      []report.DiscordField{},
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	_, err := postJSON(ctx, d.client, d.webhookURL, nil, discordPayload{Embeds: []report.DiscordEmbed{embed}})
	return err
}
