// Package sqlitestore is a repository.Store on a local SQLite file.
//
// Connections come from a fixed-size zombiezen pool with WAL journaling.
// Submissions run in BEGIN IMMEDIATE transactions, which take the database
// write lock up front, so two submissions never interleave their
// read-compute-write cycles.
package sqlitestore

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/okian/kicker/internal/adapters/repository"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
)

const backend = "sqlite"

// pragmas applied to every connection before the schema.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. It is created if missing.
	Path string
	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Store implements repository.Store on SQLite.
type Store struct {
	pool *sqlitex.Pool
	path string
	now  func() time.Time
	log  logger.Logger
}

var _ repository.Store = (*Store)(nil)

// Open creates the pool and makes sure the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = max(runtime.NumCPU(), 4)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, path: cfg.Path, now: now, log: logger.Named("sqlitestore")}

	// Take one connection so schema errors surface at startup.
	conn, err := s.take(ctx, "open")
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	s.pool.Put(conn)

	s.log.Info(ctx, "sqlite store opened", logger.String("path", cfg.Path), logger.Int("pool_size", size))
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Backend implements repository.Store.
func (s *Store) Backend() string { return backend }

// Close closes every pooled connection.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) take(ctx context.Context, op string) (*sqlite.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, repository.Classify(backend, op, err)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, repository.Classify(backend, op, err)
	}
	return conn, nil
}

// fail maps SQLite result codes onto the store error kinds.
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if sqlite.ErrCode(err) == sqlite.ResultConstraintUnique {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "players.name_key"):
			return fmt.Errorf("%s: %w", op, model.ErrDuplicateName)
		case strings.Contains(msg, "matches.submission_id"):
			return fmt.Errorf("%s: %w", op, model.ErrDuplicateSubmission)
		}
	}
	return repository.Classify(backend, op, err)
}

const playerColumns = `id, name, mean, uncertainty, matches, created_at, updated_at`

func scanPlayer(stmt *sqlite.Stmt) model.Player {
	return model.Player{
		ID:   stmt.ColumnInt64(0),
		Name: stmt.ColumnText(1),
		Rating: rating.Rating{
			Mean:        stmt.ColumnFloat(2),
			Uncertainty: stmt.ColumnFloat(3),
		},
		Matches:   stmt.ColumnInt(4),
		CreatedAt: fromNanos(stmt.ColumnInt64(5)),
		UpdatedAt: fromNanos(stmt.ColumnInt64(6)),
	}
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Register implements repository.PlayerStore.
func (s *Store) Register(ctx context.Context, name string, r rating.Rating) (model.Player, error) {
	name, err := model.CleanName(name)
	if err != nil {
		return model.Player{}, err
	}
	if !r.Valid() {
		return model.Player{}, fmt.Errorf("%w: starting rating %s", rating.ErrInvalidInput, r)
	}
	conn, err := s.take(ctx, "register")
	if err != nil {
		return model.Player{}, err
	}
	defer s.pool.Put(conn)

	now := s.now()
	err = sqlitex.Execute(conn,
		`INSERT INTO players (name, name_key, mean, uncertainty, matches, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{name, model.NameKey(name), r.Mean, r.Uncertainty, now.UnixNano(), now.UnixNano()}})
	if err != nil {
		return model.Player{}, fail("register", err)
	}
	return model.Player{
		ID:        conn.LastInsertRowID(),
		Name:      name,
		Rating:    r,
		CreatedAt: fromNanos(now.UnixNano()),
		UpdatedAt: fromNanos(now.UnixNano()),
	}, nil
}

// FindByName implements repository.PlayerStore.
func (s *Store) FindByName(ctx context.Context, name string) (model.Player, error) {
	conn, err := s.take(ctx, "find_by_name")
	if err != nil {
		return model.Player{}, err
	}
	defer s.pool.Put(conn)

	var found []model.Player
	err = sqlitex.Execute(conn,
		`SELECT `+playerColumns+` FROM players WHERE name_key = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{model.NameKey(name)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = append(found, scanPlayer(stmt))
				return nil
			},
		})
	if err != nil {
		return model.Player{}, fail("find_by_name", err)
	}
	switch len(found) {
	case 0:
		return model.Player{}, fmt.Errorf("player %q: %w", name, model.ErrNotFound)
	case 1:
		return found[0], nil
	}
	return model.Player{}, fmt.Errorf("player %q matched %d rows: %w", name, len(found), model.ErrAmbiguousMatch)
}

// FindByID implements repository.PlayerStore.
func (s *Store) FindByID(ctx context.Context, id int64) (model.Player, error) {
	conn, err := s.take(ctx, "find_by_id")
	if err != nil {
		return model.Player{}, err
	}
	defer s.pool.Put(conn)
	p, err := playerByID(conn, id)
	return p, fail("find_by_id", err)
}

func playerByID(conn *sqlite.Conn, id int64) (model.Player, error) {
	var (
		p     model.Player
		found bool
	)
	err := sqlitex.Execute(conn,
		`SELECT `+playerColumns+` FROM players WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p, found = scanPlayer(stmt), true
				return nil
			},
		})
	if err != nil {
		return model.Player{}, err
	}
	if !found {
		return model.Player{}, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
	}
	return p, nil
}

// UpdateRating implements repository.PlayerStore.
func (s *Store) UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) (err error) {
	if !next.Valid() {
		return fmt.Errorf("%w: rating %s", rating.ErrInvalidInput, next)
	}
	conn, err := s.take(ctx, "update_rating")
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fail("update_rating", err)
	}
	defer end(&err)

	err = sqlitex.Execute(conn,
		`UPDATE players SET mean = ?, uncertainty = ?, updated_at = ?
		 WHERE id = ? AND mean = ? AND uncertainty = ?`,
		&sqlitex.ExecOptions{Args: []any{next.Mean, next.Uncertainty, s.now().UnixNano(), id, expected.Mean, expected.Uncertainty}})
	if err != nil {
		return fail("update_rating", err)
	}
	if conn.Changes() == 1 {
		return nil
	}
	if _, err = playerByID(conn, id); err != nil {
		return fail("update_rating", err)
	}
	return fmt.Errorf("player %d: %w", id, model.ErrConflict)
}

// ListPlayers implements repository.PlayerStore.
func (s *Store) ListPlayers(ctx context.Context) ([]model.Player, error) {
	conn, err := s.take(ctx, "list_players")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	out := make([]model.Player, 0)
	err = sqlitex.Execute(conn, `SELECT `+playerColumns+` FROM players ORDER BY id`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, scanPlayer(stmt))
			return nil
		}})
	if err != nil {
		return nil, fail("list_players", err)
	}
	return out, nil
}

// matchQuery selects matches joined with their four slots. The inner
// query decides which matches qualify; %s is its WHERE/LIMIT tail.
const matchQuery = `
SELECT m.id, m.outcome, COALESCE(m.submission_id, ''), m.played_at,
       mp.slot, mp.player_id, mp.name,
       mp.mean_before, mp.uncertainty_before, mp.mean_after, mp.uncertainty_after
FROM (SELECT id, outcome, submission_id, played_at FROM matches %s) m
JOIN match_players mp ON mp.match_id = m.id
ORDER BY m.id, mp.slot`

func (s *Store) queryMatches(conn *sqlite.Conn, tail string, args ...any) ([]model.Match, error) {
	out := make([]model.Match, 0)
	var parseErr error
	err := sqlitex.Execute(conn, fmt.Sprintf(matchQuery, tail), &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt64(0)
			if len(out) == 0 || out[len(out)-1].ID != id {
				outcome, err := rating.ParseOutcome(stmt.ColumnText(1))
				if err != nil {
					parseErr = err
					return err
				}
				out = append(out, model.Match{
					ID:           id,
					Outcome:      outcome,
					SubmissionID: stmt.ColumnText(2),
					PlayedAt:     fromNanos(stmt.ColumnInt64(3)),
				})
			}
			m := &out[len(out)-1]
			slot := stmt.ColumnInt(4)
			if slot < 0 || slot >= model.Slots {
				parseErr = fmt.Errorf("match %d has slot %d", id, slot)
				return parseErr
			}
			part := model.Participant{PlayerID: stmt.ColumnInt64(5), Name: stmt.ColumnText(6)}
			if slot < rating.TeamSize {
				m.TeamA[slot] = part
			} else {
				m.TeamB[slot-rating.TeamSize] = part
			}
			m.PreMatch[slot] = rating.Rating{Mean: stmt.ColumnFloat(7), Uncertainty: stmt.ColumnFloat(8)}
			m.PostMatch[slot] = rating.Rating{Mean: stmt.ColumnFloat(9), Uncertainty: stmt.ColumnFloat(10)}
			return nil
		},
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, err
}

// GetMatch implements repository.MatchLedger.
func (s *Store) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	conn, err := s.take(ctx, "get_match")
	if err != nil {
		return model.Match{}, err
	}
	defer s.pool.Put(conn)

	ms, err := s.queryMatches(conn, `WHERE id = ?`, id)
	if err != nil {
		return model.Match{}, fail("get_match", err)
	}
	if len(ms) == 0 {
		return model.Match{}, fmt.Errorf("match %d: %w", id, model.ErrNotFound)
	}
	return ms[0], nil
}

// MatchBySubmission implements repository.MatchLedger.
func (s *Store) MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error) {
	conn, err := s.take(ctx, "match_by_submission")
	if err != nil {
		return model.Match{}, err
	}
	defer s.pool.Put(conn)

	ms, err := s.queryMatches(conn, `WHERE submission_id = ?`, submissionID)
	if err != nil {
		return model.Match{}, fail("match_by_submission", err)
	}
	if len(ms) == 0 {
		return model.Match{}, fmt.Errorf("submission %q: %w", submissionID, model.ErrNotFound)
	}
	return ms[0], nil
}

// ListMatches implements repository.MatchLedger.
func (s *Store) ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error) {
	conn, err := s.take(ctx, "list_matches")
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	limit := int64(-1) // SQLite: no limit
	if f.Limit > 0 {
		limit = int64(f.Limit)
	}
	ms, err := s.queryMatches(conn,
		`WHERE id > ? AND (? = 0 OR id IN (SELECT match_id FROM match_players WHERE player_id = ?))
		 ORDER BY id LIMIT ?`,
		f.After, f.PlayerID, f.PlayerID, limit)
	if err != nil {
		return nil, fail("list_matches", err)
	}
	return ms, nil
}

// Submit implements repository.Store.
func (s *Store) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (m model.Match, err error) {
	if err := model.DistinctIDs(ids); err != nil {
		return model.Match{}, err
	}
	conn, err := s.take(ctx, "submit")
	if err != nil {
		return model.Match{}, err
	}
	defer s.pool.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return model.Match{}, fail("submit", err)
	}
	defer end(&err)

	var players [model.Slots]model.Player
	for i, id := range ids {
		if players[i], err = playerByID(conn, id); err != nil {
			return model.Match{}, fail("submit", err)
		}
	}

	draft, err := compute(players)
	if err != nil {
		return model.Match{}, err
	}
	if err = draft.Validate(); err != nil {
		return model.Match{}, err
	}

	now := s.now()
	var sub any
	if draft.SubmissionID != "" {
		sub = draft.SubmissionID
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO matches (outcome, submission_id, played_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{draft.Outcome.String(), sub, now.UnixNano()}})
	if err != nil {
		return model.Match{}, fail("submit", err)
	}
	m = model.NewMatch(conn.LastInsertRowID(), players, draft, fromNanos(now.UnixNano()))

	for slot, p := range model.Apply(players, draft, now) {
		err = sqlitex.Execute(conn,
			`INSERT INTO match_players (match_id, slot, player_id, name,
			     mean_before, uncertainty_before, mean_after, uncertainty_after)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				m.ID, slot, p.ID, p.Name,
				m.PreMatch[slot].Mean, m.PreMatch[slot].Uncertainty,
				m.PostMatch[slot].Mean, m.PostMatch[slot].Uncertainty,
			}})
		if err != nil {
			return model.Match{}, fail("submit", err)
		}
		err = sqlitex.Execute(conn,
			`UPDATE players SET mean = ?, uncertainty = ?, matches = ?, updated_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{p.Rating.Mean, p.Rating.Uncertainty, p.Matches, now.UnixNano(), p.ID}})
		if err != nil {
			return model.Match{}, fail("submit", err)
		}
	}
	return m, nil
}

// Counts implements repository.Store.
func (s *Store) Counts(ctx context.Context) (repository.Counts, error) {
	conn, err := s.take(ctx, "counts")
	if err != nil {
		return repository.Counts{}, err
	}
	defer s.pool.Put(conn)

	var c repository.Counts
	err = sqlitex.Execute(conn,
		`SELECT (SELECT COUNT(*) FROM players), (SELECT COUNT(*) FROM matches)`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			c.Players = stmt.ColumnInt(0)
			c.Matches = stmt.ColumnInt(1)
			return nil
		}})
	if err != nil {
		return repository.Counts{}, fail("counts", err)
	}
	return c, nil
}
