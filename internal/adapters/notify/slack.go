package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nlopes/slack"

	"github.com/okian/kicker/internal/domain/notice"
)

// Slack posts notifications to a Slack incoming webhook.
type Slack struct {
	url    string
	lang   notice.Language
	client *http.Client
}

// NewSlack validates webhookURL. A nil client uses a zero http.Client.
func NewSlack(webhookURL string, lang notice.Language, client *http.Client) (*Slack, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("slack webhook url %q is not absolute", webhookURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Slack{url: webhookURL, lang: lang, client: client}, nil
}

// Name implements Notifier.
func (s *Slack) Name() string { return "slack" }

// Notify implements Notifier. The webhook call takes no context, so the
// deadline of ctx becomes the client timeout.
func (s *Slack) Notify(ctx context.Context, n notice.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client := s.client
	if deadline, ok := ctx.Deadline(); ok {
		var err error
		if client, err = withTimeout(s.client, time.Until(deadline)); err != nil {
			return err
		}
	}
	return slack.PostWebhookCustomHTTP(s.url, client, &slack.WebhookMessage{Text: n.Text(s.lang)})
}

// withTimeout returns a copy of base limited to remaining. A zero Timeout
// means none to http.Client, so an exhausted budget fails outright.
func withTimeout(base *http.Client, remaining time.Duration) (*http.Client, error) {
	if remaining <= 0 {
		return nil, context.DeadlineExceeded
	}
	c := *base
	if c.Timeout == 0 || remaining < c.Timeout {
		c.Timeout = remaining
	}
	return &c, nil
}
