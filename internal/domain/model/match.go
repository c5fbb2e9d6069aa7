package model

import (
	"fmt"
	"time"

	"github.com/okian/kicker/internal/domain/rating"
)

// Slots is the number of players in a match. Slot order is A1, A2, B1, B2.
const Slots = 2 * rating.TeamSize

// Participant identifies a player inside a match record. Name is the
// display name at the time the match was played.
type Participant struct {
	PlayerID int64
	Name     string
}

// Match is an immutable ledger entry.
type Match struct {
	ID           int64
	TeamA        [rating.TeamSize]Participant
	TeamB        [rating.TeamSize]Participant
	Outcome      rating.Outcome
	PreMatch     [Slots]rating.Rating
	PostMatch    [Slots]rating.Rating
	PlayedAt     time.Time
	SubmissionID string
}

// PlayerIDs returns the participant ids in slot order.
func (m Match) PlayerIDs() [Slots]int64 {
	return [Slots]int64{m.TeamA[0].PlayerID, m.TeamA[1].PlayerID, m.TeamB[0].PlayerID, m.TeamB[1].PlayerID}
}

// Names returns the participant names in slot order.
func (m Match) Names() [Slots]string {
	return [Slots]string{m.TeamA[0].Name, m.TeamA[1].Name, m.TeamB[0].Name, m.TeamB[1].Name}
}

// Involves reports whether the player took part in the match.
func (m Match) Involves(playerID int64) bool {
	for _, id := range m.PlayerIDs() {
		if id == playerID {
			return true
		}
	}
	return false
}

// Draft is what the rating step hands back to a store during an atomic
// submission: the outcome and the four posterior ratings in slot order.
type Draft struct {
	Outcome      rating.Outcome
	PostMatch    [Slots]rating.Rating
	SubmissionID string
}

// Validate checks the draft before a store persists it.
func (d Draft) Validate() error {
	if !d.Outcome.Valid() {
		return fmt.Errorf("%w: %d", rating.ErrInvalidOutcome, int(d.Outcome))
	}
	for i, r := range d.PostMatch {
		if !r.Valid() {
			return fmt.Errorf("%w: posterior rating %d is %s", rating.ErrInvalidInput, i, r)
		}
	}
	return nil
}

// ComputeFunc turns the four locked players, in slot order, into a Draft.
type ComputeFunc func(players [Slots]Player) (Draft, error)

// NewMatch assembles a ledger entry from the locked players and the draft.
func NewMatch(id int64, players [Slots]Player, d Draft, at time.Time) Match {
	m := Match{
		ID:           id,
		Outcome:      d.Outcome,
		PostMatch:    d.PostMatch,
		PlayedAt:     at,
		SubmissionID: d.SubmissionID,
	}
	for i, p := range players {
		part := Participant{PlayerID: p.ID, Name: p.Name}
		if i < rating.TeamSize {
			m.TeamA[i] = part
		} else {
			m.TeamB[i-rating.TeamSize] = part
		}
		m.PreMatch[i] = p.Rating
	}
	return m
}

// Apply returns the players with their posterior ratings and match counts.
func Apply(players [Slots]Player, d Draft, at time.Time) [Slots]Player {
	for i := range players {
		players[i].Rating = d.PostMatch[i]
		players[i].Matches++
		players[i].UpdatedAt = at
	}
	return players
}

// DistinctIDs fails unless all four player ids are different and positive.
func DistinctIDs(ids [Slots]int64) error {
	for i, id := range ids {
		if id <= 0 {
			return fmt.Errorf("%w: player id %d in slot %d", rating.ErrInvalidInput, id, i)
		}
		for j := 0; j < i; j++ {
			if ids[j] == id {
				return fmt.Errorf("%w: player %d appears twice", rating.ErrInvalidInput, id)
			}
		}
	}
	return nil
}

// MatchFilter narrows a ledger listing. Zero values mean no restriction.
type MatchFilter struct {
	PlayerID int64 // only matches involving this player
	After    int64 // only matches with ID > After
	Limit    int   // at most Limit matches
}

// Accepts reports whether m passes the id filters (not the limit).
func (f MatchFilter) Accepts(m Match) bool {
	if f.After > 0 && m.ID <= f.After {
		return false
	}
	if f.PlayerID > 0 && !m.Involves(f.PlayerID) {
		return false
	}
	return true
}
