// Package types contains the JSON views served by the HTTP API.
package types

import (
	"time"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// Player is the public view of a player.
type Player struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Mean         float64   `json:"mean"`
	Uncertainty  float64   `json:"uncertainty"`
	Conservative float64   `json:"conservative"`
	Matches      int       `json:"matches"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPlayer renders p.
func NewPlayer(p model.Player) Player {
	return Player{
		ID:           p.ID,
		Name:         p.Name,
		Mean:         p.Rating.Mean,
		Uncertainty:  p.Rating.Uncertainty,
		Conservative: p.Rating.Conservative(),
		Matches:      p.Matches,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// NewPlayers renders a player list.
func NewPlayers(ps []model.Player) []Player {
	out := make([]Player, 0, len(ps))
	for _, p := range ps {
		out = append(out, NewPlayer(p))
	}
	return out
}

// Participant is one slot of a match with its rating snapshot.
type Participant struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Before rating.Rating `json:"before"`
	After  rating.Rating `json:"after"`
}

// Match is the public view of a ledger entry.
type Match struct {
	ID           int64         `json:"id"`
	TeamA        []Participant `json:"team_a"`
	TeamB        []Participant `json:"team_b"`
	Outcome      string        `json:"outcome"`
	Result       int           `json:"result"` // 1 team A, 2 team B, 0 draw
	PlayedAt     time.Time     `json:"played_at"`
	SubmissionID string        `json:"submission_id,omitempty"`
	Duplicate    bool          `json:"duplicate,omitempty"`
}

// NewMatch renders m.
func NewMatch(m model.Match) Match {
	out := Match{
		ID:           m.ID,
		TeamA:        make([]Participant, 0, rating.TeamSize),
		TeamB:        make([]Participant, 0, rating.TeamSize),
		Outcome:      m.Outcome.String(),
		Result:       m.Outcome.Code(),
		PlayedAt:     m.PlayedAt,
		SubmissionID: m.SubmissionID,
	}
	for i, p := range m.TeamA {
		out.TeamA = append(out.TeamA, Participant{ID: p.PlayerID, Name: p.Name, Before: m.PreMatch[i], After: m.PostMatch[i]})
	}
	for i, p := range m.TeamB {
		j := rating.TeamSize + i
		out.TeamB = append(out.TeamB, Participant{ID: p.PlayerID, Name: p.Name, Before: m.PreMatch[j], After: m.PostMatch[j]})
	}
	return out
}

// NewMatches renders a ledger page.
func NewMatches(ms []model.Match) []Match {
	out := make([]Match, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMatch(m))
	}
	return out
}

// MatchPage is a ledger listing with the cursor for the next page.
type MatchPage struct {
	Matches []Match `json:"matches"`
	Next    int64   `json:"next,omitempty"`
}

// Preview is the predicted outcome of a pairing.
type Preview struct {
	TeamA      []Player          `json:"team_a"`
	TeamB      []Player          `json:"team_b"`
	Prediction rating.Prediction `json:"prediction"`
}
