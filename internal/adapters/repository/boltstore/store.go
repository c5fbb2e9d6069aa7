// Package boltstore is a repository.Store on a single BoltDB file.
//
// Bolt allows one read-write transaction at a time, which serialises
// submissions; each one reads, rates and writes inside a single Update.
package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
)

const backend = "bolt"

var (
	bucketPlayers       = []byte("players")
	bucketPlayerNames   = []byte("player_names")
	bucketMatches       = []byte("matches")
	bucketSubmissions   = []byte("submissions")
	bucketPlayerMatches = []byte("player_matches")
)

// Config holds the parameters for opening a store.
type Config struct {
	Path string
	// LockTimeout bounds the wait for the file lock. Defaults to 1s.
	LockTimeout time.Duration
	Now         func() time.Time
}

// Store implements repository.Store on BoltDB.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open opens or creates the database file and its buckets.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltstore: path is required")
	}
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPlayers, bucketPlayerNames, bucketMatches, bucketSubmissions, bucketPlayerMatches} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: %w", err)
	}

	logger.Named("boltstore").Info(ctx, "bolt store opened", logger.String("path", cfg.Path))
	return &Store{db: db, now: now}, nil
}

// Backend implements repository.Store.
func (s *Store) Backend() string { return backend }

// Close releases the file lock.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) view(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return repository.Classify(backend, op, err)
	}
	return repository.Classify(backend, op, s.db.View(fn))
}

func (s *Store) update(ctx context.Context, op string, fn func(tx *bolt.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return repository.Classify(backend, op, err)
	}
	return repository.Classify(backend, op, s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		// Waiting for the writer lock may have outlived the caller.
		return ctx.Err()
	}))
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func getPlayer(tx *bolt.Tx, id int64) (model.Player, error) {
	raw := tx.Bucket(bucketPlayers).Get(itob(id))
	if raw == nil {
		return model.Player{}, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
	}
	var rec playerRecord
	if err := decMode.Unmarshal(raw, &rec); err != nil {
		return model.Player{}, fmt.Errorf("decoding player %d: %w", id, err)
	}
	return model.Player{
		ID:        id,
		Name:      rec.Name,
		Rating:    rating.Rating{Mean: rec.Mean, Uncertainty: rec.Uncertainty},
		Matches:   rec.Matches,
		CreatedAt: fromNanos(rec.CreatedAt),
		UpdatedAt: fromNanos(rec.UpdatedAt),
	}, nil
}

func putPlayer(tx *bolt.Tx, p model.Player) error {
	raw, err := encMode.Marshal(playerRecord{
		Name:        p.Name,
		Mean:        p.Rating.Mean,
		Uncertainty: p.Rating.Uncertainty,
		Matches:     p.Matches,
		CreatedAt:   p.CreatedAt.UnixNano(),
		UpdatedAt:   p.UpdatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encoding player %d: %w", p.ID, err)
	}
	return tx.Bucket(bucketPlayers).Put(itob(p.ID), raw)
}

func getMatch(tx *bolt.Tx, id int64) (model.Match, error) {
	raw := tx.Bucket(bucketMatches).Get(itob(id))
	if raw == nil {
		return model.Match{}, fmt.Errorf("match %d: %w", id, model.ErrNotFound)
	}
	return decodeMatch(id, raw)
}

func decodeMatch(id int64, raw []byte) (model.Match, error) {
	var rec matchRecord
	if err := decMode.Unmarshal(raw, &rec); err != nil {
		return model.Match{}, fmt.Errorf("decoding match %d: %w", id, err)
	}
	outcome, err := rating.ParseOutcome(rec.Outcome)
	if err != nil {
		return model.Match{}, fmt.Errorf("match %d: %w", id, err)
	}
	m := model.Match{
		ID:           id,
		Outcome:      outcome,
		PlayedAt:     fromNanos(rec.PlayedAt),
		SubmissionID: rec.SubmissionID,
	}
	for i, slot := range rec.Slots {
		part := model.Participant{PlayerID: slot.PlayerID, Name: slot.Name}
		if i < rating.TeamSize {
			m.TeamA[i] = part
		} else {
			m.TeamB[i-rating.TeamSize] = part
		}
		m.PreMatch[i] = rating.Rating{Mean: slot.MeanBefore, Uncertainty: slot.UncertaintyBefore}
		m.PostMatch[i] = rating.Rating{Mean: slot.MeanAfter, Uncertainty: slot.UncertaintyAfter}
	}
	return m, nil
}

func encodeMatch(m model.Match) ([]byte, error) {
	rec := matchRecord{
		Outcome:      m.Outcome.String(),
		PlayedAt:     m.PlayedAt.UnixNano(),
		SubmissionID: m.SubmissionID,
	}
	ids, names := m.PlayerIDs(), m.Names()
	for i := range rec.Slots {
		rec.Slots[i] = slotRecord{
			PlayerID:          ids[i],
			Name:              names[i],
			MeanBefore:        m.PreMatch[i].Mean,
			UncertaintyBefore: m.PreMatch[i].Uncertainty,
			MeanAfter:         m.PostMatch[i].Mean,
			UncertaintyAfter:  m.PostMatch[i].Uncertainty,
		}
	}
	return encMode.Marshal(rec)
}

// Register implements repository.PlayerStore.
func (s *Store) Register(ctx context.Context, name string, r rating.Rating) (model.Player, error) {
	name, err := model.CleanName(name)
	if err != nil {
		return model.Player{}, err
	}
	if !r.Valid() {
		return model.Player{}, fmt.Errorf("%w: starting rating %s", rating.ErrInvalidInput, r)
	}
	var p model.Player
	err = s.update(ctx, "register", func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketPlayerNames)
		key := []byte(model.NameKey(name))
		if names.Get(key) != nil {
			return fmt.Errorf("%w: %q", model.ErrDuplicateName, name)
		}
		seq, err := tx.Bucket(bucketPlayers).NextSequence()
		if err != nil {
			return err
		}
		now := fromNanos(s.now().UnixNano())
		p = model.Player{ID: int64(seq), Name: name, Rating: r, CreatedAt: now, UpdatedAt: now}
		if err := putPlayer(tx, p); err != nil {
			return err
		}
		return names.Put(key, itob(p.ID))
	})
	if err != nil {
		return model.Player{}, err
	}
	return p, nil
}

// FindByName implements repository.PlayerStore.
func (s *Store) FindByName(ctx context.Context, name string) (model.Player, error) {
	var p model.Player
	err := s.view(ctx, "find_by_name", func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPlayerNames).Get([]byte(model.NameKey(name)))
		if raw == nil {
			return fmt.Errorf("player %q: %w", name, model.ErrNotFound)
		}
		var err error
		p, err = getPlayer(tx, btoi(raw))
		return err
	})
	return p, err
}

// FindByID implements repository.PlayerStore.
func (s *Store) FindByID(ctx context.Context, id int64) (model.Player, error) {
	var p model.Player
	err := s.view(ctx, "find_by_id", func(tx *bolt.Tx) error {
		var err error
		p, err = getPlayer(tx, id)
		return err
	})
	return p, err
}

// UpdateRating implements repository.PlayerStore.
func (s *Store) UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) error {
	if !next.Valid() {
		return fmt.Errorf("%w: rating %s", rating.ErrInvalidInput, next)
	}
	return s.update(ctx, "update_rating", func(tx *bolt.Tx) error {
		p, err := getPlayer(tx, id)
		if err != nil {
			return err
		}
		if p.Rating != expected {
			return fmt.Errorf("player %d: %w", id, model.ErrConflict)
		}
		p.Rating = next
		p.UpdatedAt = s.now()
		return putPlayer(tx, p)
	})
}

// ListPlayers implements repository.PlayerStore.
func (s *Store) ListPlayers(ctx context.Context) ([]model.Player, error) {
	out := make([]model.Player, 0)
	err := s.view(ctx, "list_players", func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlayers).ForEach(func(k, _ []byte) error {
			p, err := getPlayer(tx, btoi(k))
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMatch implements repository.MatchLedger.
func (s *Store) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	var m model.Match
	err := s.view(ctx, "get_match", func(tx *bolt.Tx) error {
		var err error
		m, err = getMatch(tx, id)
		return err
	})
	return m, err
}

// MatchBySubmission implements repository.MatchLedger.
func (s *Store) MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error) {
	var m model.Match
	err := s.view(ctx, "match_by_submission", func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSubmissions).Get([]byte(submissionID))
		if raw == nil || submissionID == "" {
			return fmt.Errorf("submission %q: %w", submissionID, model.ErrNotFound)
		}
		var err error
		m, err = getMatch(tx, btoi(raw))
		return err
	})
	return m, err
}

// ListMatches implements repository.MatchLedger.
func (s *Store) ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error) {
	out := make([]model.Match, 0)
	full := func() bool { return f.Limit > 0 && len(out) >= f.Limit }

	err := s.view(ctx, "list_matches", func(tx *bolt.Tx) error {
		if f.PlayerID > 0 {
			prefix := itob(f.PlayerID)
			c := tx.Bucket(bucketPlayerMatches).Cursor()
			for k, _ := c.Seek(pairKey(f.PlayerID, f.After+1)); k != nil && bytes.HasPrefix(k, prefix) && !full(); k, _ = c.Next() {
				m, err := getMatch(tx, btoi(k[8:]))
				if err != nil {
					return err
				}
				out = append(out, m)
			}
			return nil
		}
		c := tx.Bucket(bucketMatches).Cursor()
		for k, v := c.Seek(itob(f.After + 1)); k != nil && !full(); k, v = c.Next() {
			m, err := decodeMatch(btoi(k), v)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Submit implements repository.Store.
func (s *Store) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error) {
	if err := model.DistinctIDs(ids); err != nil {
		return model.Match{}, err
	}
	var (
		m          model.Match
		computeErr error
	)
	err := s.update(ctx, "submit", func(tx *bolt.Tx) error {
		var players [model.Slots]model.Player
		for i, id := range ids {
			p, err := getPlayer(tx, id)
			if err != nil {
				return err
			}
			players[i] = p
		}

		draft, err := compute(players)
		if err != nil {
			computeErr = err
			return err
		}
		if err := draft.Validate(); err != nil {
			return err
		}

		subs := tx.Bucket(bucketSubmissions)
		if draft.SubmissionID != "" && subs.Get([]byte(draft.SubmissionID)) != nil {
			return fmt.Errorf("submission %q: %w", draft.SubmissionID, model.ErrDuplicateSubmission)
		}

		matches := tx.Bucket(bucketMatches)
		seq, err := matches.NextSequence()
		if err != nil {
			return err
		}
		now := fromNanos(s.now().UnixNano())
		m = model.NewMatch(int64(seq), players, draft, now)

		raw, err := encodeMatch(m)
		if err != nil {
			return fmt.Errorf("encoding match: %w", err)
		}
		if err := matches.Put(itob(m.ID), raw); err != nil {
			return err
		}
		if m.SubmissionID != "" {
			if err := subs.Put([]byte(m.SubmissionID), itob(m.ID)); err != nil {
				return err
			}
		}
		index := tx.Bucket(bucketPlayerMatches)
		for _, p := range model.Apply(players, draft, now) {
			if err := putPlayer(tx, p); err != nil {
				return err
			}
			if err := index.Put(pairKey(p.ID, m.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if computeErr != nil {
		return model.Match{}, computeErr
	}
	if err != nil {
		return model.Match{}, err
	}
	return m, nil
}

// Counts implements repository.Store.
func (s *Store) Counts(ctx context.Context) (repository.Counts, error) {
	var c repository.Counts
	err := s.view(ctx, "counts", func(tx *bolt.Tx) error {
		c.Players = tx.Bucket(bucketPlayers).Stats().KeyN
		c.Matches = tx.Bucket(bucketMatches).Stats().KeyN
		return nil
	})
	return c, err
}
