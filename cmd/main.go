package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/kicker/internal/adapters/http/api"
	"github.com/okian/kicker/internal/adapters/http/site"
	"github.com/okian/kicker/internal/adapters/http/swagger"
	"github.com/okian/kicker/internal/adapters/mq/worker"
	"github.com/okian/kicker/internal/adapters/notify"
	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/adapters/repository/boltstore"
	"github.com/okian/kicker/internal/adapters/repository/pgstore"
	"github.com/okian/kicker/internal/adapters/repository/sqlitestore"
	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/config"
	"github.com/okian/kicker/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "kicker stopped with an error", logger.Error(err))
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	notifier, err := buildNotifier(cfg, log)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("notifier: %w", err)
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithEnv(cfg.Env()),
		app.WithNotifier(notifier),
		app.WithWorkerCount(cfg.NotifyWorkerCount),
		app.WithQueueSize(cfg.NotifyQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithStoreTimeout(cfg.StoreTimeout()),
		app.WithNotifyTimeout(cfg.NotifyTimeout()),
		app.WithMaxListLimit(cfg.MaxListLimit),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, cfg, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var errs []error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		if err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("service stop: %w", err))
	}

	log.Info(ctx, "server stopped")
	return errors.Join(errs...)
}

// openStore opens the configured backend wrapped with store metrics.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	var (
		store repository.Store
		err   error
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = repository.NewMemoryStore()
	case config.DriverSQLite:
		store, err = sqlitestore.Open(ctx, sqlitestore.Config{Path: cfg.SQLitePath, PoolSize: cfg.SQLitePoolSize})
	case config.DriverPostgres:
		store, err = pgstore.Open(ctx, pgstore.Config{DSN: cfg.PostgresDSN})
	case config.DriverBolt:
		store, err = boltstore.Open(ctx, boltstore.Config{Path: cfg.BoltPath})
	default:
		return nil, fmt.Errorf("%w: %q", repository.ErrUnknownDriver, cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}
	return repository.Instrument(store), nil
}

// buildNotifier fans out to the configured webhooks and always to the log.
func buildNotifier(cfg *config.Config, log logger.Logger) (worker.Notifier, error) {
	lang := cfg.Language()
	client := &http.Client{Timeout: cfg.NotifyTimeout()}
	targets := []notify.Notifier{notify.NewLog(lang, log.Named("notify"))}

	if cfg.DiscordWebhookURL != "" {
		d, err := notify.NewDiscord(cfg.DiscordWebhookURL, lang, client)
		if err != nil {
			return nil, err
		}
		targets = append(targets, d)
	}
	if cfg.SlackWebhookURL != "" {
		s, err := notify.NewSlack(cfg.SlackWebhookURL, lang, client)
		if err != nil {
			return nil, err
		}
		targets = append(targets, s)
	}
	if len(targets) == 1 {
		return targets[0], nil
	}
	return notify.NewMulti(targets...), nil
}

// newMux registers the API, the docs and the landing page.
func newMux(ctx context.Context, svc *app.Service, cfg *config.Config, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc,
		api.WithVersion(version),
		api.WithAPIToken(cfg.APIToken),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)
	site.Register(ctx, mux)
	return mux
}
