package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// MemoryStore is a process-local Store guarded by a single mutex. Every
// submission holds the write lock for its whole read-compute-write cycle,
// so overlapping submissions serialise.
type MemoryStore struct {
	mu           sync.RWMutex
	players      []model.Player // index = id-1
	byName       map[string]int64
	matches      []model.Match // index = id-1
	bySubmission map[string]int64
	now          func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byName:       make(map[string]int64),
		bySubmission: make(map[string]int64),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend implements Store.
func (s *MemoryStore) Backend() string { return "memory" }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Register implements PlayerStore.
func (s *MemoryStore) Register(ctx context.Context, name string, r rating.Rating) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, Classify(s.Backend(), "register", err)
	}
	name, err := model.CleanName(name)
	if err != nil {
		return model.Player{}, err
	}
	if !r.Valid() {
		return model.Player{}, fmt.Errorf("%w: starting rating %s", rating.ErrInvalidInput, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.NameKey(name)
	if _, exists := s.byName[key]; exists {
		return model.Player{}, fmt.Errorf("%w: %q", model.ErrDuplicateName, name)
	}
	now := s.now()
	p := model.Player{
		ID:        int64(len(s.players) + 1),
		Name:      name,
		Rating:    r,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.players = append(s.players, p)
	s.byName[key] = p.ID
	return p, nil
}

// FindByName implements PlayerStore.
func (s *MemoryStore) FindByName(ctx context.Context, name string) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, Classify(s.Backend(), "find_by_name", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[model.NameKey(name)]
	if !ok {
		return model.Player{}, fmt.Errorf("player %q: %w", name, model.ErrNotFound)
	}
	return s.players[id-1], nil
}

// FindByID implements PlayerStore.
func (s *MemoryStore) FindByID(ctx context.Context, id int64) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, Classify(s.Backend(), "find_by_id", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player(id)
}

// player must be called with s.mu held.
func (s *MemoryStore) player(id int64) (model.Player, error) {
	if id <= 0 || id > int64(len(s.players)) {
		return model.Player{}, fmt.Errorf("player %d: %w", id, model.ErrNotFound)
	}
	return s.players[id-1], nil
}

// UpdateRating implements PlayerStore.
func (s *MemoryStore) UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) error {
	if err := ctx.Err(); err != nil {
		return Classify(s.Backend(), "update_rating", err)
	}
	if !next.Valid() {
		return fmt.Errorf("%w: rating %s", rating.ErrInvalidInput, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.player(id)
	if err != nil {
		return err
	}
	if p.Rating != expected {
		return fmt.Errorf("player %d: %w", id, model.ErrConflict)
	}
	p.Rating = next
	p.UpdatedAt = s.now()
	s.players[id-1] = p
	return nil
}

// ListPlayers implements PlayerStore.
func (s *MemoryStore) ListPlayers(ctx context.Context) ([]model.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(s.Backend(), "list_players", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Player, len(s.players))
	copy(out, s.players)
	return out, nil
}

// GetMatch implements MatchLedger.
func (s *MemoryStore) GetMatch(ctx context.Context, id int64) (model.Match, error) {
	if err := ctx.Err(); err != nil {
		return model.Match{}, Classify(s.Backend(), "get_match", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id <= 0 || id > int64(len(s.matches)) {
		return model.Match{}, fmt.Errorf("match %d: %w", id, model.ErrNotFound)
	}
	return s.matches[id-1], nil
}

// MatchBySubmission implements MatchLedger.
func (s *MemoryStore) MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error) {
	if err := ctx.Err(); err != nil {
		return model.Match{}, Classify(s.Backend(), "match_by_submission", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubmission[submissionID]
	if !ok || submissionID == "" {
		return model.Match{}, fmt.Errorf("submission %q: %w", submissionID, model.ErrNotFound)
	}
	return s.matches[id-1], nil
}

// ListMatches implements MatchLedger.
func (s *MemoryStore) ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, Classify(s.Backend(), "list_matches", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if filter.After > 0 {
		start = int(min(filter.After, int64(len(s.matches))))
	}
	out := make([]model.Match, 0)
	for _, m := range s.matches[start:] {
		if !filter.Accepts(m) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Submit implements Store.
func (s *MemoryStore) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error) {
	if err := model.DistinctIDs(ids); err != nil {
		return model.Match{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Match{}, Classify(s.Backend(), "submit", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var players [model.Slots]model.Player
	for i, id := range ids {
		p, err := s.player(id)
		if err != nil {
			return model.Match{}, err
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
	if draft.SubmissionID != "" {
		if _, exists := s.bySubmission[draft.SubmissionID]; exists {
			return model.Match{}, fmt.Errorf("submission %q: %w", draft.SubmissionID, model.ErrDuplicateSubmission)
		}
	}
	// The lock was held across compute; a cancelled caller gets nothing.
	if err := ctx.Err(); err != nil {
		return model.Match{}, Classify(s.Backend(), "submit", err)
	}

	now := s.now()
	m := model.NewMatch(int64(len(s.matches)+1), players, draft, now)
	for _, p := range model.Apply(players, draft, now) {
		s.players[p.ID-1] = p
	}
	s.matches = append(s.matches, m)
	if m.SubmissionID != "" {
		s.bySubmission[m.SubmissionID] = m.ID
	}
	return m, nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(ctx context.Context) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, Classify(s.Backend(), "counts", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{Players: len(s.players), Matches: len(s.matches)}, nil
}
