package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// discordBlue is the embed accent color.
const discordBlue = 0x0099FF

// Title heads every delivered report.
const Title = "Hourly Liquidity Report"

// SlackText is a Slack text object.
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackBlock is a Slack Block Kit block.
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// DiscordField is one inline field of an embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordFooter is the footer of an embed.
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordEmbed is a Discord rich embed.
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields"`
	Footer      DiscordFooter  `json:"footer"`
	Timestamp   string         `json:"timestamp"`
}

// FormatAmount inserts thousands separators into a fixed-point decimal string.
func FormatAmount(amount string) string {
	neg := strings.HasPrefix(amount, "-")
	amount = strings.TrimPrefix(amount, "-")
	whole, frac, hasFrac := strings.Cut(amount, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// SlackBlocks renders one section per platform followed by the disclaimer.
func (r *Report) SlackBlocks() []SlackBlock {
	blocks := make([]SlackBlock, 0, len(r.Entries)+2)
	if len(r.Entries) == 0 {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: "No active liquidity"},
		})
	}
	for _, e := range r.Entries {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s*: %s", e.Name, FormatAmount(e.Amount))},
		})
	}
	return append(blocks,
		SlackBlock{Type: "divider"},
		SlackBlock{
			Type:     "context",
			Elements: []SlackText{{Type: "mrkdwn", Text: "_*" + r.Disclaimer + "_"}},
		},
	)
}

// DiscordEmbed renders the report as a webhook embed.
func (r *Report) DiscordEmbed() DiscordEmbed {
	fields := make([]DiscordField, 0, len(r.Entries))
	for _, e := range r.Entries {
		fields = append(fields, DiscordField{Name: e.Name, Value: "$" + FormatAmount(e.Amount), Inline: true})
	}
	embed := DiscordEmbed{
		Title:     "💰 " + Title,
		Color:     discordBlue,
		Fields:    fields,
		Footer:    DiscordFooter{Text: "*" + r.Disclaimer},
		Timestamp: r.GeneratedAt.Format(time.RFC3339),
	}
	if len(fields) == 0 {
		embed.Description = "No active liquidity"
	}
	return embed
}

// Text renders an aligned plain-text table.
func (r *Report) Text() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	symbol := r.Symbol
	if symbol == "" {
		symbol = "amount"
	}
	fmt.Fprintf(w, "Platform\t%s\t\n", symbol)
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%s\t%s\t\n", e.Name, FormatAmount(e.Amount))
	}
	_ = w.Flush()
	if len(r.Entries) == 0 {
		b.WriteString("No active liquidity\n")
	}
	b.WriteString("*" + r.Disclaimer + "\n")
	return b.String()
}

// FallbackText is the plain notification text for clients without blocks.
func (r *Report) FallbackText() string {
	return Title
}
