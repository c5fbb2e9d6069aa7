// Package service orchestrates player registration and match submission on
// top of a store, the rating engine and the notification pipeline. It
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/okian/kicker/internal/adapters/mq/queue"
	"github.com/okian/kicker/internal/adapters/mq/worker"
	"github.com/okian/kicker/internal/adapters/notify"
	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/domain/dedupe"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
	"github.com/okian/kicker/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultWorkerCount   = 2
	defaultQueueSize     = 1024
	defaultDedupeSize    = 50000
	defaultStoreTimeout  = 5 * time.Second
	defaultNotifyTimeout = 5 * time.Second
	defaultMaxListLimit  = 100

	// MaxSubmissionIDLength bounds client supplied idempotency keys.
	MaxSubmissionIDLength = 128
)

// PlayerRef names a player by id or, when ID is zero, by name.
type PlayerRef struct {
	ID   int64
	Name string
}

func (r PlayerRef) String() string {
	if r.ID > 0 {
		return fmt.Sprintf("#%d", r.ID)
	}
	return fmt.Sprintf("%q", r.Name)
}

// Submission is one reported match.
type Submission struct {
	TeamA        [rating.TeamSize]PlayerRef
	TeamB        [rating.TeamSize]PlayerRef
	Outcome      rating.Outcome
	SubmissionID string
}

// Result is a recorded match. Duplicate is set when the submission id had
// already been recorded and nothing was written.
type Result struct {
	Match     model.Match
	Duplicate bool
}

// Preview is the predicted outcome of a prospective pairing.
type Preview struct {
	TeamA      [rating.TeamSize]model.Player
	TeamB      [rating.TeamSize]model.Player
	Prediction rating.Prediction
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	engine   *rating.Engine
	deduper  dedupe.Deduper
	queue    queue.Queue
	notifier worker.Notifier
	pool     *worker.Pool

	// Configuration
	env           rating.Env
	workerCount   int
	queueSize     int
	dedupeSize    int
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	maxListLimit  int

	// State
	started bool
	stopped bool // the store is closed; the service cannot start again
	stopCh  chan struct{}
	cancel  context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		env:           rating.NewEnv(),
		workerCount:   defaultWorkerCount,
		queueSize:     defaultQueueSize,
		dedupeSize:    defaultDedupeSize,
		storeTimeout:  defaultStoreTimeout,
		notifyTimeout: defaultNotifyTimeout,
		maxListLimit:  defaultMaxListLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the configuration and starts the notification workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}

	engine, err := rating.NewEngine(s.env)
	if err != nil {
		return fmt.Errorf("rating engine: %w", err)
	}
	s.engine = engine

	if s.store == nil {
		s.store = repository.Instrument(repository.NewMemoryStore())
		s.logger.Warn(ctx, "no store configured, ratings will not survive a restart")
	}
	if s.notifier == nil {
		s.notifier = notify.NewLog(notice.English, nil)
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.NewInMemoryQueue(
		queue.WithCapacity(s.queueSize),
		queue.WithBufferSize(s.queueSize),
	)

	// Background work outlives the start request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.stopCh = make(chan struct{})

	s.pool = worker.NewPool(s.workerCount, s.queue, s.notifier, worker.WithTimeout(s.notifyTimeout))
	s.pool.Start(runCtx)

	if metrics.Enabled() {
		go s.refreshGauges(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.String("store", s.store.Backend()),
		logger.String("notifier", s.notifier.Name()),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop drains pending notifications and closes the store. A stopped
// service cannot be started again.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping rating service...")

	close(s.stopCh)
	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("notification workers: %w", err))
	}
	s.cancel()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "rating service stopped")
	return errors.Join(errs...)
}

// refreshGauges keeps the size and runtime gauges current.
func (s *Service) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		s.updateGauges(ctx)
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) updateGauges(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if c, err := s.store.Counts(sctx); err == nil {
		metrics.UpdatePlayersTotal(c.Players)
		metrics.UpdateMatchesTotal(c.Matches)
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	metrics.UpdateSystemMemoryUsage(mem.HeapAlloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// storeCtx bounds a single store call.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Env returns the rating environment in use.
func (s *Service) Env() rating.Env { return s.env }

// Register creates a player with the default rating.
func (s *Service) Register(ctx context.Context, name string) (model.Player, error) {
	if err := s.ready(); err != nil {
		return model.Player{}, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.store.Register(sctx, name, s.env.Default())
	if err != nil {
		return model.Player{}, err
	}
	metrics.RecordPlayerRegistered()
	s.logger.Info(ctx, "player registered", logger.Int64("player_id", p.ID), logger.String("name", p.Name))
	return p, nil
}

// Player resolves a reference to a stored player.
func (s *Service) Player(ctx context.Context, ref PlayerRef) (model.Player, error) {
	if err := s.ready(); err != nil {
		return model.Player{}, err
	}
	return s.resolve(ctx, ref)
}

func (s *Service) resolve(ctx context.Context, ref PlayerRef) (model.Player, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	switch {
	case ref.ID > 0:
		return s.store.FindByID(sctx, ref.ID)
	case strings.TrimSpace(ref.Name) != "":
		p, err := s.store.FindByName(sctx, ref.Name)
		if errors.Is(err, model.ErrAmbiguousMatch) {
			metrics.RecordAmbiguousLookup()
			s.logger.Error(ctx, "name lookup matched several players", logger.String("name", ref.Name), logger.Error(err))
		}
		return p, err
	default:
		return model.Player{}, fmt.Errorf("%w: player reference needs an id or a name", rating.ErrInvalidInput)
	}
}

func (s *Service) resolveAll(ctx context.Context, refs [model.Slots]PlayerRef) ([model.Slots]model.Player, error) {
	var players [model.Slots]model.Player
	for i, ref := range refs {
		p, err := s.resolve(ctx, ref)
		if err != nil {
			return players, fmt.Errorf("player %s: %w", ref, err)
		}
		players[i] = p
	}
	var ids [model.Slots]int64
	for i, p := range players {
		ids[i] = p.ID
	}
	if err := model.DistinctIDs(ids); err != nil {
		return players, err
	}
	return players, nil
}

// Players lists every player by id.
func (s *Service) Players(ctx context.Context) ([]model.Player, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.ListPlayers(sctx)
}

// Match returns one ledger entry.
func (s *Service) Match(ctx context.Context, id int64) (model.Match, error) {
	if err := s.ready(); err != nil {
		return model.Match{}, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.GetMatch(sctx, id)
}

// Matches returns a ledger page and the cursor for the next one, zero when
// the page is the last. The limit is clamped to the configured maximum.
func (s *Service) Matches(ctx context.Context, f model.MatchFilter) ([]model.Match, int64, error) {
	if err := s.ready(); err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > s.maxListLimit {
		f.Limit = s.maxListLimit
	}
	if f.After < 0 {
		f.After = 0
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	ms, err := s.store.ListMatches(sctx, f)
	if err != nil {
		return nil, 0, err
	}
	var next int64
	if len(ms) == f.Limit {
		next = ms[len(ms)-1].ID
	}
	return ms, next, nil
}

// Preview predicts a pairing without recording anything.
func (s *Service) Preview(ctx context.Context, a, b [rating.TeamSize]PlayerRef) (Preview, error) {
	if err := s.ready(); err != nil {
		return Preview{}, err
	}
	ps, err := s.resolveAll(ctx, [model.Slots]PlayerRef{a[0], a[1], b[0], b[1]})
	if err != nil {
		return Preview{}, err
	}
	pred, err := s.engine.Predict(
		rating.Team{ps[0].Rating, ps[1].Rating},
		rating.Team{ps[2].Rating, ps[3].Rating},
	)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		TeamA:      [rating.TeamSize]model.Player{ps[0], ps[1]},
		TeamB:      [rating.TeamSize]model.Player{ps[2], ps[3]},
		Prediction: pred,
	}, nil
}

// Submit rates and records one match. With a submission id the call is
// idempotent: a repeat returns the recorded match as a duplicate.
func (s *Service) Submit(ctx context.Context, sub Submission) (res Result, err error) {
	if err := s.ready(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordSubmissionLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			metrics.RecordSubmissionRejected(rejectReason(err))
		}
	}()

	if !sub.Outcome.Valid() {
		return Result{}, fmt.Errorf("%w: %d", rating.ErrInvalidOutcome, int(sub.Outcome))
	}
	sid := strings.TrimSpace(sub.SubmissionID)
	if len(sid) > MaxSubmissionIDLength {
		return Result{}, fmt.Errorf("%w: submission id longer than %d", rating.ErrInvalidInput, MaxSubmissionIDLength)
	}

	players, err := s.resolveAll(ctx, [model.Slots]PlayerRef{sub.TeamA[0], sub.TeamA[1], sub.TeamB[0], sub.TeamB[1]})
	if err != nil {
		return Result{}, err
	}

	if sid != "" {
		if dup, ok, err := s.replay(ctx, sid); ok || err != nil {
			return dup, err
		}
	}

	var ids [model.Slots]int64
	for i, p := range players {
		ids[i] = p.ID
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	m, err := s.store.Submit(sctx, ids, s.compute(sub.Outcome, sid))
	if err != nil {
		if sid != "" && errors.Is(err, model.ErrDuplicateSubmission) {
			if existing, gerr := s.store.MatchBySubmission(sctx, sid); gerr == nil {
				s.deduper.Remember(ctx, sid, existing.ID)
				metrics.RecordSubmissionDuplicate()
				return Result{Match: existing, Duplicate: true}, nil
			}
		}
		if sid != "" {
			s.deduper.Unrecord(ctx, sid)
		}
		return Result{}, err
	}
	if sid != "" {
		s.deduper.Remember(ctx, sid, m.ID)
	}

	metrics.RecordMatchRecorded(m.Outcome.String())
	s.logger.Info(ctx, "match recorded",
		logger.Int64("match_id", m.ID),
		logger.String("outcome", m.Outcome.String()),
		logger.String("submission_id", sid),
	)

	if !s.queue.Enqueue(ctx, notice.FromMatch(m)) {
		metrics.RecordNotificationDropped()
		s.logger.Warn(ctx, "notification queue full, dropping notification", logger.Int64("match_id", m.ID))
	}
	return Result{Match: m}, nil
}

// replay answers a submission id that has been seen before. ok reports
// whether the caller should stop; otherwise the id is now claimed and the
// caller must record the match.
func (s *Service) replay(ctx context.Context, sid string) (Result, bool, error) {
	if s.deduper.SeenAndRecord(ctx, sid) {
		matchID, done := s.deduper.Lookup(ctx, sid)
		if !done {
			return Result{}, true, fmt.Errorf("submission %q: %w", sid, ErrInFlight)
		}
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()
		m, err := s.store.GetMatch(sctx, matchID)
		if err != nil {
			return Result{}, true, err
		}
		metrics.RecordSubmissionDuplicate()
		return Result{Match: m, Duplicate: true}, true, nil
	}

	// Not cached: the id may still be in the ledger from before a restart.
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	m, err := s.store.MatchBySubmission(sctx, sid)
	switch {
	case err == nil:
		s.deduper.Remember(ctx, sid, m.ID)
		metrics.RecordSubmissionDuplicate()
		return Result{Match: m, Duplicate: true}, true, nil
	case errors.Is(err, model.ErrNotFound):
		return Result{}, false, nil
	default:
		s.deduper.Unrecord(ctx, sid)
		return Result{}, true, err
	}
}

// compute is the rating step run inside the store transaction.
func (s *Service) compute(outcome rating.Outcome, sid string) model.ComputeFunc {
	return func(ps [model.Slots]model.Player) (model.Draft, error) {
		a, b, err := s.engine.Rate(
			rating.Team{ps[0].Rating, ps[1].Rating},
			rating.Team{ps[2].Rating, ps[3].Rating},
			outcome,
		)
		if err != nil {
			return model.Draft{}, err
		}
		return model.Draft{
			Outcome:      outcome,
			PostMatch:    [model.Slots]rating.Rating{a[0], a[1], b[0], b[1]},
			SubmissionID: sid,
		}, nil
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, rating.ErrInvalidOutcome):
		return "invalid_outcome"
	case errors.Is(err, rating.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInFlight):
		return "in_flight"
	case errors.Is(err, model.ErrAmbiguousMatch):
		return "ambiguous"
	case errors.Is(err, model.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"env": map[string]float64{
			"mu":               s.env.Mu,
			"sigma":            s.env.Sigma,
			"beta":             s.env.Beta,
			"tau":              s.env.Tau,
			"draw_probability": s.env.DrawProbability,
			"min_uncertainty":  s.env.MinUncertainty,
		},
	}
	if !s.started {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()
	stats["store"] = s.store.Backend()
	stats["notifier"] = s.notifier.Name()
	stats["queueLength"] = s.queue.Len(ctx)
	stats["dedupeEntries"] = s.deduper.Size()
	if c, err := s.store.Counts(ctx); err == nil {
		stats["totalPlayers"] = c.Players
		stats["totalMatches"] = c.Matches
		metrics.UpdatePlayersTotal(c.Players)
		metrics.UpdateMatchesTotal(c.Matches)
	} else {
		stats["storeError"] = err.Error()
	}
	return stats
}
