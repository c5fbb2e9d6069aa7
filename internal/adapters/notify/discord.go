package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/okian/kicker/internal/domain/notice"
)

// Discord posts notifications through a Discord channel webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
	lang    notice.Language
}

// NewDiscord parses a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}. A nil client uses the
// session default.
func NewDiscord(webhookURL string, lang notice.Language, client *http.Client) (*Discord, error) {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	if client != nil {
		s.Client = client
	}
	return &Discord{session: s, id: id, token: token, lang: lang}, nil
}

func parseDiscordWebhook(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if n := len(parts); n >= 3 && parts[n-3] == "webhooks" && parts[n-2] != "" && parts[n-1] != "" {
		return parts[n-2], parts[n-1], nil
	}
	return "", "", fmt.Errorf("discord webhook url %q: want .../webhooks/{id}/{token}", raw)
}

// Name implements Notifier.
func (d *Discord) Name() string { return "discord" }

// Notify implements Notifier.
func (d *Discord) Notify(ctx context.Context, n notice.Notification) error {
	_, err := d.session.WebhookExecute(d.id, d.token, false,
		&discordgo.WebhookParams{Content: n.Text(d.lang)},
		discordgo.WithContext(ctx),
	)
	return err
}
