// Package notice projects recorded matches into chat announcements.
package notice

import (
	"fmt"
	"strings"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/rating"
)

// Language selects the announcement wording.
type Language string

// Supported languages.
const (
	English Language = "en"
	Dutch   Language = "nl"
)

// ParseLanguage maps a config value to a Language. Empty means English.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case "", English:
		return English, nil
	case Dutch:
		return Dutch, nil
	}
	return "", fmt.Errorf("unknown notification language %q", s)
}

// Notification is the data handed to chat notifiers after a commit.
type Notification struct {
	MatchID int64
	TeamA   [rating.TeamSize]string
	TeamB   [rating.TeamSize]string
	Outcome rating.Outcome
}

// FromMatch builds the notification for m.
func FromMatch(m model.Match) Notification {
	return Notification{
		MatchID: m.ID,
		TeamA:   [rating.TeamSize]string{m.TeamA[0].Name, m.TeamA[1].Name},
		TeamB:   [rating.TeamSize]string{m.TeamB[0].Name, m.TeamB[1].Name},
		Outcome: m.Outcome,
	}
}

type phrases struct {
	and, won, drew string
}

var wording = map[Language]phrases{
	English: {and: "and", won: "won against", drew: "drew with"},
	Dutch:   {and: "en", won: "hebben gewonnen tegen", drew: "hebben gelijk gespeeld tegen"},
}

// Text renders the announcement. The winning team is named first; a draw
// keeps submission order.
func (n Notification) Text(lang Language) string {
	w, ok := wording[lang]
	if !ok {
		w = wording[English]
	}
	first, second, verb := n.TeamA, n.TeamB, w.won
	switch n.Outcome {
	case rating.TeamBWins:
		first, second = n.TeamB, n.TeamA
	case rating.Draw:
		verb = w.drew
	}
	return fmt.Sprintf("%s %s %s %s %s %s %s",
		first[0], w.and, first[1], verb, second[0], w.and, second[1])
}
