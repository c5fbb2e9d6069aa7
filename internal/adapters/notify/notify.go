// Package notify delivers match notifications to chat webhooks and the log.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/pkg/logger"
	"github.com/okian/kicker/pkg/metrics"
)

// Notifier delivers one notification.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n notice.Notification) error
}

// Log writes notifications to a logger.
type Log struct {
	lang   notice.Language
	logger logger.Logger
}

// NewLog returns a notifier logging at info level. A nil logger uses the
// global one.
func NewLog(lang notice.Language, l logger.Logger) *Log {
	if l == nil {
		l = logger.Named("notify")
	}
	return &Log{lang: lang, logger: l}
}

// Name implements Notifier.
func (l *Log) Name() string { return "log" }

// Notify implements Notifier.
func (l *Log) Notify(ctx context.Context, n notice.Notification) error {
	l.logger.Info(ctx, n.Text(l.lang),
		logger.Int64("match_id", n.MatchID),
		logger.String("outcome", n.Outcome.String()),
	)
	return nil
}

// Multi fans a notification out to several notifiers. Every target is tried;
// the failures are joined.
type Multi struct {
	targets []Notifier
}

// NewMulti returns a fan-out over targets. Nil targets are skipped.
func NewMulti(targets ...Notifier) *Multi {
	m := &Multi{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Name implements Notifier.
func (m *Multi) Name() string { return "multi" }

// Len returns the number of targets.
func (m *Multi) Len() int { return len(m.targets) }

// Notify implements Notifier.
func (m *Multi) Notify(ctx context.Context, n notice.Notification) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Notify(ctx, n); err != nil {
			metrics.RecordNotificationFailed(t.Name())
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
			continue
		}
		metrics.RecordNotificationSent(t.Name())
	}
	return errors.Join(errs...)
}
