package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/metrics"
)

// instrumented records latency and failure metrics around any Store.
type instrumented struct {
	Store
	backend string
}

// Instrument wraps s so that every operation feeds the store metrics.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{Store: s, backend: s.Backend()}
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(i.backend, op, float64(time.Since(start).Microseconds())/1000)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrConflict):
		metrics.RecordStoreConflict()
	case errors.Is(err, model.ErrStoreUnavailable):
		metrics.RecordStoreError(i.backend, op)
		metrics.RecordErrorByComponent("store", "unavailable")
	}
}

func (i *instrumented) Register(ctx context.Context, name string, r rating.Rating) (model.Player, error) {
	start := time.Now()
	p, err := i.Store.Register(ctx, name, r)
	i.observe("register", start, err)
	return p, err
}

func (i *instrumented) FindByName(ctx context.Context, name string) (model.Player, error) {
	start := time.Now()
	p, err := i.Store.FindByName(ctx, name)
	i.observe("find_by_name", start, err)
	return p, err
}

func (i *instrumented) FindByID(ctx context.Context, id int64) (model.Player, error) {
	start := time.Now()
	p, err := i.Store.FindByID(ctx, id)
	i.observe("find_by_id", start, err)
	return p, err
}

func (i *instrumented) UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) error {
	start := time.Now()
	err := i.Store.UpdateRating(ctx, id, expected, next)
	i.observe("update_rating", start, err)
	return err
}

func (i *instrumented) ListPlayers(ctx context.Context) ([]model.Player, error) {
	start := time.Now()
	ps, err := i.Store.ListPlayers(ctx)
	i.observe("list_players", start, err)
	return ps, err
}

func (i *instrumented) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	start := time.Now()
	m, err := i.Store.GetMatch(ctx, id)
	i.observe("get_match", start, err)
	return m, err
}

func (i *instrumented) MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error) {
	start := time.Now()
	m, err := i.Store.MatchBySubmission(ctx, submissionID)
	i.observe("match_by_submission", start, err)
	return m, err
}

func (i *instrumented) ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error) {
	start := time.Now()
	ms, err := i.Store.ListMatches(ctx, filter)
	i.observe("list_matches", start, err)
	return ms, err
}

func (i *instrumented) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error) {
	start := time.Now()
	m, err := i.Store.Submit(ctx, ids, compute)
	i.observe("submit", start, err)
	return m, err
}

func (i *instrumented) Counts(ctx context.Context) (Counts, error) {
	start := time.Now()
	c, err := i.Store.Counts(ctx)
	i.observe("counts", start, err)
	return c, err
}
