// Package storetest is the behavioural contract every repository.Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) repository.Store

// Run executes the contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s repository.Store)
	}{
		{"RegisterAndFind", testRegisterAndFind},
		{"DuplicateName", testDuplicateName},
		{"NotFound", testNotFound},
		{"UpdateRating", testUpdateRating},
		{"ListPlayers", testListPlayers},
		{"Submit", testSubmit},
		{"SubmitRollsBack", testSubmitRollsBack},
		{"SubmitRejectsBadInput", testSubmitRejectsBadInput},
		{"DuplicateSubmission", testDuplicateSubmission},
		{"ListMatches", testListMatches},
		{"ConcurrentSubmissions", testConcurrentSubmissions},
		{"ConcurrentSharedPlayer", testConcurrentSharedPlayer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

var start = rating.Rating{Mean: rating.DefaultMu, Uncertainty: rating.DefaultSigma}

func engine(t *testing.T) *rating.Engine {
	t.Helper()
	e, err := rating.NewEngine(rating.NewEnv())
	require.NoError(t, err)
	return e
}

// rate is the compute step the service uses, without the service.
func rate(e *rating.Engine, outcome rating.Outcome, submissionID string) model.ComputeFunc {
	return func(ps [model.Slots]model.Player) (model.Draft, error) {
		a := rating.Team{ps[0].Rating, ps[1].Rating}
		b := rating.Team{ps[2].Rating, ps[3].Rating}
		na, nb, err := e.Rate(a, b, outcome)
		if err != nil {
			return model.Draft{}, err
		}
		return model.Draft{
			Outcome:      outcome,
			PostMatch:    [model.Slots]rating.Rating{na[0], na[1], nb[0], nb[1]},
			SubmissionID: submissionID,
		}, nil
	}
}

func register(t *testing.T, s repository.Store, names ...string) []model.Player {
	t.Helper()
	out := make([]model.Player, 0, len(names))
	for _, n := range names {
		p, err := s.Register(context.Background(), n, start)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func four(ps []model.Player) [model.Slots]int64 {
	return [model.Slots]int64{ps[0].ID, ps[1].ID, ps[2].ID, ps[3].ID}
}

func testRegisterAndFind(t *testing.T, s repository.Store) {
	ctx := context.Background()
	p, err := s.Register(ctx, "  Anna ", start)
	require.NoError(t, err)
	require.Positive(t, p.ID)
	require.Equal(t, "Anna", p.Name)
	require.Equal(t, start, p.Rating)
	require.Zero(t, p.Matches)
	require.False(t, p.CreatedAt.IsZero())

	byID, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, byID.ID)
	require.Equal(t, "Anna", byID.Name)
	require.Equal(t, start, byID.Rating)
	require.True(t, p.CreatedAt.Equal(byID.CreatedAt))

	byName, err := s.FindByName(ctx, "ANNA")
	require.NoError(t, err)
	require.Equal(t, p.ID, byName.ID)

	_, err = s.FindByName(ctx, "Ann")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Register(ctx, "   ", start)
	require.ErrorIs(t, err, rating.ErrInvalidInput)
}

func testDuplicateName(t *testing.T, s repository.Store) {
	ctx := context.Background()
	register(t, s, "Bas")
	_, err := s.Register(ctx, "bAS", start)
	require.ErrorIs(t, err, model.ErrDuplicateName)

	players, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, players, 1)
}

func testNotFound(t *testing.T, s repository.Store) {
	ctx := context.Background()
	_, err := s.FindByID(ctx, 999)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetMatch(ctx, 999)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.MatchBySubmission(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
	err = s.UpdateRating(ctx, 999, start, start)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testUpdateRating(t *testing.T, s repository.Store) {
	ctx := context.Background()
	p := register(t, s, "Cor")[0]
	next := rating.Rating{Mean: 27.5, Uncertainty: 6.25}

	require.NoError(t, s.UpdateRating(ctx, p.ID, start, next))
	got, err := s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, next, got.Rating)

	// The stored rating is no longer the expected prior.
	err = s.UpdateRating(ctx, p.ID, start, rating.Rating{Mean: 1, Uncertainty: 1})
	require.ErrorIs(t, err, model.ErrConflict)
	got, err = s.FindByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, next, got.Rating)

	err = s.UpdateRating(ctx, p.ID, next, rating.Rating{Mean: 1, Uncertainty: 0})
	require.ErrorIs(t, err, rating.ErrInvalidInput)
}

func testListPlayers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	register(t, s, "d", "b", "c", "a")
	players, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, players, 4)
	for i := 1; i < len(players); i++ {
		require.Less(t, players[i-1].ID, players[i].ID)
	}
	require.Equal(t, "d", players[0].Name)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, repository.Counts{Players: 4}, counts)
}

func testSubmit(t *testing.T, s repository.Store) {
	ctx := context.Background()
	e := engine(t)
	ps := register(t, s, "a1", "a2", "b1", "b2")

	m, err := s.Submit(ctx, four(ps), rate(e, rating.TeamAWins, "sub-1"))
	require.NoError(t, err)
	require.Positive(t, m.ID)
	require.Equal(t, rating.TeamAWins, m.Outcome)
	require.Equal(t, "sub-1", m.SubmissionID)
	require.Equal(t, model.Participant{PlayerID: ps[0].ID, Name: "a1"}, m.TeamA[0])
	require.Equal(t, model.Participant{PlayerID: ps[3].ID, Name: "b2"}, m.TeamB[1])
	for i := range m.PreMatch {
		require.Equal(t, start, m.PreMatch[i])
	}
	require.Greater(t, m.PostMatch[0].Mean, start.Mean)
	require.Less(t, m.PostMatch[2].Mean, start.Mean)

	for i, p := range ps {
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, m.PostMatch[i], got.Rating, "slot %d", i)
		require.Equal(t, 1, got.Matches)
	}

	stored, err := s.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	requireSameMatch(t, m, stored)

	bySub, err := s.MatchBySubmission(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, m.ID, bySub.ID)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, repository.Counts{Players: 4, Matches: 1}, counts)
}

func testSubmitRollsBack(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ps := register(t, s, "a1", "a2", "b1", "b2")
	boom := errors.New("boom")

	_, err := s.Submit(ctx, four(ps), func([model.Slots]model.Player) (model.Draft, error) {
		return model.Draft{}, boom
	})
	require.Equal(t, boom, err)
	require.NotErrorIs(t, err, model.ErrStoreUnavailable)

	// A draft with an unusable rating must not be persisted either.
	_, err = s.Submit(ctx, four(ps), func(in [model.Slots]model.Player) (model.Draft, error) {
		d := model.Draft{Outcome: rating.Draw}
		for i := range d.PostMatch {
			d.PostMatch[i] = in[i].Rating
		}
		d.PostMatch[3].Uncertainty = -1
		return d, nil
	})
	require.ErrorIs(t, err, rating.ErrInvalidInput)

	for _, p := range ps {
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, start, got.Rating)
		require.Zero(t, got.Matches)
	}
	matches, err := s.ListMatches(ctx, model.MatchFilter{})
	require.NoError(t, err)
	require.Empty(t, matches)
}

func testSubmitRejectsBadInput(t *testing.T, s repository.Store) {
	ctx := context.Background()
	e := engine(t)
	ps := register(t, s, "a1", "a2", "b1")

	called := false
	compute := func(in [model.Slots]model.Player) (model.Draft, error) {
		called = true
		return rate(e, rating.Draw, "")(in)
	}

	_, err := s.Submit(ctx, [model.Slots]int64{ps[0].ID, ps[1].ID, ps[2].ID, 999}, compute)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.Submit(ctx, [model.Slots]int64{ps[0].ID, ps[1].ID, ps[2].ID, ps[0].ID}, compute)
	require.ErrorIs(t, err, rating.ErrInvalidInput)
	require.False(t, called)

	for _, p := range ps {
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, start, got.Rating)
	}
}

func testDuplicateSubmission(t *testing.T, s repository.Store) {
	ctx := context.Background()
	e := engine(t)
	ps := register(t, s, "a1", "a2", "b1", "b2")

	first, err := s.Submit(ctx, four(ps), rate(e, rating.TeamBWins, "same"))
	require.NoError(t, err)
	_, err = s.Submit(ctx, four(ps), rate(e, rating.TeamBWins, "same"))
	require.ErrorIs(t, err, model.ErrDuplicateSubmission)

	got, err := s.FindByID(ctx, ps[2].ID)
	require.NoError(t, err)
	require.Equal(t, first.PostMatch[2], got.Rating)
	require.Equal(t, 1, got.Matches)
}

func testListMatches(t *testing.T, s repository.Store) {
	ctx := context.Background()
	e := engine(t)
	ps := register(t, s, "p1", "p2", "p3", "p4", "p5")

	var ids []int64
	pairings := [][model.Slots]int64{
		{ps[0].ID, ps[1].ID, ps[2].ID, ps[3].ID},
		{ps[4].ID, ps[1].ID, ps[2].ID, ps[3].ID},
		{ps[0].ID, ps[4].ID, ps[2].ID, ps[3].ID},
	}
	for i, pairing := range pairings {
		m, err := s.Submit(ctx, pairing, rate(e, rating.TeamAWins, fmt.Sprintf("list-%d", i)))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}
	require.Less(t, ids[0], ids[1])
	require.Less(t, ids[1], ids[2])

	all, err := s.ListMatches(ctx, model.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, m := range all {
		require.Equal(t, ids[i], m.ID)
	}

	page, err := s.ListMatches(ctx, model.MatchFilter{After: ids[0], Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, ids[1], page[0].ID)

	withP5, err := s.ListMatches(ctx, model.MatchFilter{PlayerID: ps[4].ID})
	require.NoError(t, err)
	require.Len(t, withP5, 2)
	require.Equal(t, ids[1], withP5[0].ID)
	require.Equal(t, ids[2], withP5[1].ID)

	// Slot 0 of the second match is p5 and its pre-match rating is p5's prior.
	require.Equal(t, start, withP5[0].PreMatch[0])
	// p2 played in the first two matches; its second snapshot starts where
	// the first one ended.
	require.Equal(t, all[0].PostMatch[1], all[1].PreMatch[1])

	p5, err := s.FindByID(ctx, ps[4].ID)
	require.NoError(t, err)
	require.Equal(t, 2, p5.Matches)
}

func testConcurrentSubmissions(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ps := register(t, s, "a1", "a2", "b1", "b2")
	ids := four(ps)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(ctx, ids, func(in [model.Slots]model.Player) (model.Draft, error) {
				d := model.Draft{Outcome: rating.TeamAWins}
				for j := range d.PostMatch {
					d.PostMatch[j] = rating.Rating{Mean: in[j].Rating.Mean + 1, Uncertainty: in[j].Rating.Uncertainty}
				}
				return d, nil
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Each submission saw the previous one's result: no lost updates.
	for _, p := range ps {
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, start.Mean+n, got.Rating.Mean)
		require.Equal(t, n, got.Matches)
	}
	matches, err := s.ListMatches(ctx, model.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, matches, n)
	for i := 1; i < len(matches); i++ {
		require.Equal(t, matches[i-1].PostMatch, matches[i].PreMatch)
	}
}

// bump raises every mean by one.
func bump(in [model.Slots]model.Player) (model.Draft, error) {
	d := model.Draft{Outcome: rating.TeamAWins}
	for j := range d.PostMatch {
		d.PostMatch[j] = rating.Rating{Mean: in[j].Rating.Mean + 1, Uncertainty: in[j].Rating.Uncertainty}
	}
	return d, nil
}

func testConcurrentSharedPlayer(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ps := register(t, s, "shared", "b", "c", "d", "e", "f", "g")
	shared := ps[0]
	first := [model.Slots]int64{shared.ID, ps[1].ID, ps[2].ID, ps[3].ID}
	// The shared player sits in a different slot and the ids are not in
	// ascending order, so row locks are taken in a different order.
	second := [model.Slots]int64{ps[6].ID, ps[5].ID, ps[4].ID, shared.ID}

	const rounds = 8
	var wg sync.WaitGroup
	errs := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		for _, ids := range [][model.Slots]int64{first, second} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Submit(ctx, ids, bump)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.FindByID(ctx, shared.ID)
	require.NoError(t, err)
	require.Equal(t, start.Mean+2*rounds, got.Rating.Mean)
	require.Equal(t, 2*rounds, got.Matches)
	for _, p := range ps[1:] {
		got, err := s.FindByID(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, start.Mean+rounds, got.Rating.Mean)
		require.Equal(t, rounds, got.Matches)
	}

	// The shared player's history is one unbroken chain.
	history, err := s.ListMatches(ctx, model.MatchFilter{PlayerID: shared.ID})
	require.NoError(t, err)
	require.Len(t, history, 2*rounds)
	slot := func(m model.Match) int {
		for i, id := range m.PlayerIDs() {
			if id == shared.ID {
				return i
			}
		}
		t.Fatalf("match %d does not involve player %d", m.ID, shared.ID)
		return -1
	}
	prev := start
	for _, m := range history {
		i := slot(m)
		require.Equal(t, prev, m.PreMatch[i])
		prev = m.PostMatch[i]
	}
}

func requireSameMatch(t *testing.T, want, got model.Match) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.TeamA, got.TeamA)
	require.Equal(t, want.TeamB, got.TeamB)
	require.Equal(t, want.Outcome, got.Outcome)
	require.Equal(t, want.PreMatch, got.PreMatch)
	require.Equal(t, want.PostMatch, got.PostMatch)
	require.Equal(t, want.SubmissionID, got.SubmissionID)
	require.True(t, want.PlayedAt.Equal(got.PlayedAt), "played_at %s != %s", want.PlayedAt, got.PlayedAt)
}
