// Package config defines service configuration and how it is loaded.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/internal/domain/rating"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// APIToken, when set, is required as a bearer token on mutating routes.
	APIToken string `koanf:"api_token"`

	// StoreDriver selects the backend: memory, sqlite, postgres or bolt.
	StoreDriver    string `koanf:"store_driver"`
	SQLitePath     string `koanf:"sqlite_path"`
	SQLitePoolSize int    `koanf:"sqlite_pool_size"`
	PostgresDSN    string `koanf:"postgres_dsn"`
	BoltPath       string `koanf:"bolt_path"`
	// StoreTimeoutMS bounds every store call.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// Rating environment. A zero RatingBeta follows RatingSigma/2.
	RatingMu        float64 `koanf:"rating_mu"`
	RatingSigma     float64 `koanf:"rating_sigma"`
	RatingBeta      float64 `koanf:"rating_beta"`
	RatingTau       float64 `koanf:"rating_tau"`
	DrawProbability float64 `koanf:"draw_probability"`
	MinUncertainty  float64 `koanf:"min_uncertainty"`

	// DedupeSize sets the size of the submission id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Notifications.
	NotifyQueueSize   int    `koanf:"notify_queue_size"`
	NotifyWorkerCount int    `koanf:"notify_worker_count"`
	NotifyTimeoutMS   int    `koanf:"notify_timeout_ms"`
	NotifyLanguage    string `koanf:"notify_language"`
	DiscordWebhookURL string `koanf:"discord_webhook_url"`
	SlackWebhookURL   string `koanf:"slack_webhook_url"`

	// MaxListLimit caps GET /matches?limit.
	MaxListLimit int `koanf:"max_list_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		StoreDriver:       DriverSQLite,
		SQLitePath:        "kicker.db",
		SQLitePoolSize:    4,
		BoltPath:          "kicker.bolt",
		StoreTimeoutMS:    5000,
		RatingMu:          rating.DefaultMu,
		RatingSigma:       rating.DefaultSigma,
		RatingTau:         rating.DefaultTau,
		DrawProbability:   rating.DefaultDrawProbability,
		MinUncertainty:    rating.DefaultMinUncertainty,
		DedupeSize:        50_000,
		NotifyQueueSize:   1024,
		NotifyWorkerCount: 2,
		NotifyTimeoutMS:   5000,
		NotifyLanguage:    string(notice.English),
		MaxListLimit:      100,
	}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Addr) == "" {
		return invalid("addr must not be empty")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return invalid("postgres_dsn is required for the postgres driver")
		}
	case DriverBolt:
		if c.BoltPath == "" {
			return invalid("bolt_path is required for the bolt driver")
		}
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}
	if c.StoreTimeoutMS <= 0 {
		return invalid("store_timeout_ms must be positive")
	}
	if err := c.Env().Validate(); err != nil {
		return invalid("rating: %v", err)
	}
	if _, err := notice.ParseLanguage(c.NotifyLanguage); err != nil {
		return invalid("%v", err)
	}
	if c.NotifyQueueSize <= 0 || c.NotifyWorkerCount <= 0 || c.NotifyTimeoutMS <= 0 {
		return invalid("notify_queue_size, notify_worker_count and notify_timeout_ms must be positive")
	}
	if c.MaxListLimit <= 0 {
		return invalid("max_list_limit must be positive")
	}
	return nil
}

// Env returns the rating environment described by the config.
func (c *Config) Env() rating.Env {
	env := rating.Env{
		Mu:              c.RatingMu,
		Sigma:           c.RatingSigma,
		Beta:            c.RatingBeta,
		Tau:             c.RatingTau,
		DrawProbability: c.DrawProbability,
		MinUncertainty:  c.MinUncertainty,
	}
	if env.Beta == 0 {
		env.Beta = env.Sigma / 2
	}
	return env
}

// Language returns the notification language. Call Validate first.
func (c *Config) Language() notice.Language {
	lang, _ := notice.ParseLanguage(c.NotifyLanguage)
	return lang
}

// StoreTimeout returns store_timeout_ms as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// NotifyTimeout returns notify_timeout_ms as a duration.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutMS) * time.Millisecond
}
