// Package repository defines the player store and match ledger contract and
// its in-memory implementation. Durable backends live in sub-packages.
package repository

import (
	"context"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// PlayerStore holds registered players and their current ratings.
type PlayerStore interface {
	// Register creates a player with the given starting rating.
	// Returns model.ErrDuplicateName if the name exists in any casing.
	Register(ctx context.Context, name string, r rating.Rating) (model.Player, error)

	// FindByName looks a player up by exact, case-insensitive name.
	// Returns model.ErrNotFound, or model.ErrAmbiguousMatch if the backend
	// ever yields more than one row.
	FindByName(ctx context.Context, name string) (model.Player, error)

	// FindByID returns model.ErrNotFound for unknown ids.
	FindByID(ctx context.Context, id int64) (model.Player, error)

	// UpdateRating replaces the rating of id if it still equals expected.
	// Returns model.ErrConflict when it does not.
	UpdateRating(ctx context.Context, id int64, expected, next rating.Rating) error

	// ListPlayers returns all players ordered by id.
	ListPlayers(ctx context.Context) ([]model.Player, error)
}

// MatchLedger is the append-only match history.
type MatchLedger interface {
	// GetMatch returns model.ErrNotFound for unknown ids.
	GetMatch(ctx context.Context, id int64) (model.Match, error)

	// MatchBySubmission finds the match recorded under a client submission
	// id. Returns model.ErrNotFound when there is none.
	MatchBySubmission(ctx context.Context, submissionID string) (model.Match, error)

	// ListMatches returns matches in insertion order.
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error)
}

// Counts is a cheap size summary of a store.
type Counts struct {
	Players int
	Matches int
}

// Store is the full persistence contract used by the service.
type Store interface {
	PlayerStore
	MatchLedger

	// Submit reads the four players inside one transaction, calls compute
	// with them in slot order, writes the four posterior ratings and appends
	// the match. Either everything commits or nothing does. A non-nil error
	// from compute is returned unchanged.
	Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error)

	Counts(ctx context.Context) (Counts, error)

	// Backend names the implementation, e.g. "memory" or "sqlite".
	Backend() string

	Close() error
}
