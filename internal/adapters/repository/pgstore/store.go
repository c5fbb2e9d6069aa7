// Package pgstore is a repository.Store on PostgreSQL.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
)

const (
	backend     = "postgres"
	pingTimeout = 5 * time.Second

	uniqueViolation = "23505"
)

//go:embed schema.sql
var schema string

// Config holds the parameters for connecting a store.
type Config struct {
	DSN string
	Now func() time.Time
}

// Store implements repository.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Open connects, checks the server is reachable and applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgstore: dsn is required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: applying schema: %w", err)
	}

	logger.Named("pgstore").Info(ctx, "postgres store opened")
	return &Store{pool: pool, now: now}, nil
}

// Backend implements repository.Store.
func (s *Store) Backend() string { return backend }

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "players_name_key_uniq":
			return fmt.Errorf("%w: %s", model.ErrDuplicateName, pgErr.Detail)
		case "matches_submission_id_uniq":
			return fmt.Errorf("%w: %s", model.ErrDuplicateSubmission, pgErr.Detail)
		}
	}
	return repository.Classify(backend, op, err)
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

const playerColumns = `id, name, mean, uncertainty, matches, created_at, updated_at`

func scanPlayer(row pgx.Row) (model.Player, error) {
	var p model.Player
	var created, updated int64
	err := row.Scan(&p.ID, &p.Name, &p.Rating.Mean, &p.Rating.Uncertainty, &p.Matches, &created, &updated)
	if err != nil {
		return model.Player{}, err
	}
	p.CreatedAt, p.UpdatedAt = fromNanos(created), fromNanos(updated)
	return p, nil
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
	now := s.now().UnixNano()
	p, err := scanPlayer(s.pool.QueryRow(ctx, `
		INSERT INTO players (name, name_key, mean, uncertainty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+playerColumns,
		name, model.NameKey(name), r.Mean, r.Uncertainty, now,
	))
	if err != nil {
		return model.Player{}, s.fail("register", err)
	}
	return p, nil
}

// FindByName implements repository.PlayerStore.
func (s *Store) FindByName(ctx context.Context, name string) (model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players WHERE name_key = $1 LIMIT 2`, model.NameKey(name))
	if err != nil {
		return model.Player{}, s.fail("find_by_name", err)
	}
	defer rows.Close()

	found := make([]model.Player, 0, 1)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return model.Player{}, s.fail("find_by_name", err)
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return model.Player{}, s.fail("find_by_name", err)
	}
	switch len(found) {
	case 0:
		return model.Player{}, fmt.Errorf("player %q: %w", name, model.ErrNotFound)
	case 1:
		return found[0], nil
	default:
		return model.Player{}, fmt.Errorf("player %q: %w", name, model.ErrAmbiguousMatch)
	}
}

// FindByID implements repository.PlayerStore.
func (s *Store) FindByID(ctx context.Context, id int64) (model.Player, error) {
	p, err := scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Player{}, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Player{}, s.fail("find_by_id", err)
	}
	return p, nil
}

// UpdateRating implements repository.PlayerStore.
func (s *Store) UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) error {
	if !next.Valid() {
		return fmt.Errorf("%w: rating %s", rating.ErrInvalidInput, next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE players SET mean = $1, uncertainty = $2, updated_at = $3
		WHERE id = $4 AND mean = $5 AND uncertainty = $6`,
		next.Mean, next.Uncertainty, s.now().UnixNano(), id, expected.Mean, expected.Uncertainty,
	)
	if err != nil {
		return s.fail("update_rating", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("player %d: %w", id, model.ErrConflict)
}

// ListPlayers implements repository.PlayerStore.
func (s *Store) ListPlayers(ctx context.Context) ([]model.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players ORDER BY id`)
	if err != nil {
		return nil, s.fail("list_players", err)
	}
	defer rows.Close()

	out := make([]model.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, s.fail("list_players", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("list_players", err)
	}
	return out, nil
}

// matchRows selects the four slots of each matching match, ordered so that a
// match's slots are consecutive.
const matchRows = `
	SELECT m.id, m.outcome, COALESCE(m.submission_id, ''), m.played_at,
	       mp.slot, mp.player_id, mp.name,
	       mp.mean_before, mp.uncertainty_before, mp.mean_after, mp.uncertainty_after
	FROM matches m
	JOIN match_players mp ON mp.match_id = m.id
	WHERE m.id IN (%s)
	ORDER BY m.id, mp.slot`

func (s *Store) queryMatches(ctx context.Context, op, ids string, args ...any) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(matchRows, ids), args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	out := make([]model.Match, 0)
	for rows.Next() {
		var (
			id, playedAt, playerID int64
			outcome, sid, name     string
			slot                   int
			before, after          rating.Rating
		)
		if err := rows.Scan(&id, &outcome, &sid, &playedAt, &slot, &playerID, &name,
			&before.Mean, &before.Uncertainty, &after.Mean, &after.Uncertainty); err != nil {
			return nil, s.fail(op, err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			o, err := rating.ParseOutcome(outcome)
			if err != nil {
				return nil, fmt.Errorf("match %d: %w", id, err)
			}
			out = append(out, model.Match{ID: id, Outcome: o, PlayedAt: fromNanos(playedAt), SubmissionID: sid})
		}
		m := &out[len(out)-1]
		part := model.Participant{PlayerID: playerID, Name: name}
		if slot < rating.TeamSize {
			m.TeamA[slot] = part
		} else {
			m.TeamB[slot-rating.TeamSize] = part
		}
		m.PreMatch[slot] = before
		m.PostMatch[slot] = after
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) oneMatch(ctx context.Context, op, ids string, arg any, what string) (model.Match, error) {
	ms, err := s.queryMatches(ctx, op, ids, arg)
	if err != nil {
		return model.Match{}, err
	}
	if len(ms) == 0 {
		return model.Match{}, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return ms[0], nil
}

// GetMatch implements repository.MatchLedger.
func (s *Store) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	return s.oneMatch(ctx, "get_match", `$1`, id, fmt.Sprintf("match %d", id))
}

// MatchBySubmission implements repository.MatchLedger.
func (s *Store) MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error) {
	return s.oneMatch(ctx, "match_by_submission",
		`SELECT id FROM matches WHERE submission_id = $1`, submissionID,
		fmt.Sprintf("submission %q", submissionID))
}

// ListMatches implements repository.MatchLedger.
func (s *Store) ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error) {
	limit := any(nil) // LIMIT NULL is unlimited
	if f.Limit > 0 {
		limit = f.Limit
	}
	if f.PlayerID > 0 {
		return s.queryMatches(ctx, "list_matches", `
			SELECT match_id FROM match_players
			WHERE player_id = $1 AND match_id > $2
			ORDER BY match_id LIMIT $3`, f.PlayerID, f.After, limit)
	}
	return s.queryMatches(ctx, "list_matches", `
		SELECT id FROM matches WHERE id > $1 ORDER BY id LIMIT $2`, f.After, limit)
}

// Submit implements repository.Store. The four player rows are locked in id
// order so that concurrent submissions sharing players cannot deadlock.
func (s *Store) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (m model.Match, err error) {
	if err := model.DistinctIDs(ids); err != nil {
		return model.Match{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return model.Match{}, s.fail("submit", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids[:])
	if err != nil {
		return model.Match{}, s.fail("submit", err)
	}
	locked := make(map[int64]model.Player, model.Slots)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			rows.Close()
			return model.Match{}, s.fail("submit", err)
		}
		locked[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.Match{}, s.fail("submit", err)
	}

	var players [model.Slots]model.Player
	for i, id := range ids {
		p, ok := locked[id]
		if !ok {
			return model.Match{}, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
		}
		players[i] = p
	}

	draft, err := compute(players)
	if err != nil {
		return model.Match{}, err
	}
	if err := draft.Validate(); err != nil {
		return model.Match{}, err
	}

	now := fromNanos(s.now().UnixNano())
	var matchID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO matches (outcome, submission_id, played_at)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id`,
		draft.Outcome.String(), draft.SubmissionID, now.UnixNano(),
	).Scan(&matchID)
	if err != nil {
		return model.Match{}, s.fail("submit", err)
	}
	m = model.NewMatch(matchID, players, draft, now)

	batch := &pgx.Batch{}
	names := m.Names()
	for slot, p := range model.Apply(players, draft, now) {
		batch.Queue(`
			INSERT INTO match_players (match_id, slot, player_id, name,
				mean_before, uncertainty_before, mean_after, uncertainty_after)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ID, slot, p.ID, names[slot],
			m.PreMatch[slot].Mean, m.PreMatch[slot].Uncertainty, p.Rating.Mean, p.Rating.Uncertainty)
		batch.Queue(`
			UPDATE players SET mean = $1, uncertainty = $2, matches = $3, updated_at = $4
			WHERE id = $5`,
			p.Rating.Mean, p.Rating.Uncertainty, p.Matches, p.UpdatedAt.UnixNano(), p.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return model.Match{}, s.fail("submit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Match{}, s.fail("submit", err)
	}
	return m, nil
}

// Counts implements repository.Store.
func (s *Store) Counts(ctx context.Context) (repository.Counts, error) {
	var c repository.Counts
	err := s.pool.QueryRow(ctx, `SELECT (SELECT count(*) FROM players), (SELECT count(*) FROM matches)`).
		Scan(&c.Players, &c.Matches)
	if err != nil {
		return repository.Counts{}, s.fail("counts", err)
	}
	return c, nil
}
