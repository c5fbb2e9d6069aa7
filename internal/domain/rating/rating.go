// Package rating implements the 2-vs-2 team skill rating engine.
//
// A player's skill is a Gaussian belief (mean, uncertainty). After a match
// the engine conditions the four beliefs on the observed team outcome using
// truncated-Gaussian moment matching. The package touches no storage and
// holds no mutable state; an Engine is safe for concurrent use.
package rating

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TeamSize is the number of players on each side of a match.
const TeamSize = 2

// Rating is a player's belief distribution over skill.
type Rating struct {
	Mean        float64 `json:"mean"`
	Uncertainty float64 `json:"uncertainty"`
}

// Variance returns Uncertainty squared.
func (r Rating) Variance() float64 { return r.Uncertainty * r.Uncertainty }

// Conservative returns the lower-bound skill estimate mean - 3*uncertainty.
func (r Rating) Conservative() float64 { return r.Mean - 3*r.Uncertainty }

// Valid reports whether r has a finite mean and a finite, positive uncertainty.
func (r Rating) Valid() bool {
	return !math.IsNaN(r.Mean) && !math.IsInf(r.Mean, 0) &&
		!math.IsNaN(r.Uncertainty) && !math.IsInf(r.Uncertainty, 0) &&
		r.Uncertainty > 0
}

func (r Rating) String() string {
	return fmt.Sprintf("N(%.4f, %.4f)", r.Mean, r.Uncertainty)
}

// Team is the fixed-size rating pair of one side.
type Team [TeamSize]Rating

func (t Team) meanSum() float64 {
	return t[0].Mean + t[1].Mean
}

func (t Team) varianceSum() float64 {
	return t[0].Variance() + t[1].Variance()
}

// Outcome is the observed result of a match from team A's point of view.
type Outcome int

// Outcome values. The zero value is not a valid outcome.
const (
	OutcomeUnknown Outcome = iota
	TeamAWins
	TeamBWins
	Draw
)

// Valid reports whether o is one of the three match outcomes.
func (o Outcome) Valid() bool {
	return o == TeamAWins || o == TeamBWins || o == Draw
}

// Mirror returns the same outcome seen from team B's side.
func (o Outcome) Mirror() Outcome {
	switch o {
	case TeamAWins:
		return TeamBWins
	case TeamBWins:
		return TeamAWins
	default:
		return o
	}
}

// Code returns the legacy numeric result code: 1 team A, 2 team B, 0 draw.
func (o Outcome) Code() int {
	switch o {
	case TeamAWins:
		return 1
	case TeamBWins:
		return 2
	default:
		return 0
	}
}

func (o Outcome) String() string {
	switch o {
	case TeamAWins:
		return "team_a"
	case TeamBWins:
		return "team_b"
	case Draw:
		return "draw"
	default:
		return "unknown"
	}
}

// ParseOutcome parses a tag ("team_a", "team_b", "draw" and a few aliases)
// or a legacy numeric code ("1", "2", "0").
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "team_a", "team_a_wins", "a", "1":
		return TeamAWins, nil
	case "team_b", "team_b_wins", "b", "2":
		return TeamBWins, nil
	case "draw", "0":
		return Draw, nil
	}
	return OutcomeUnknown, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// OutcomeFromCode maps a legacy numeric result code to an Outcome.
func OutcomeFromCode(code int) (Outcome, error) {
	switch code {
	case 1:
		return TeamAWins, nil
	case 2:
		return TeamBWins, nil
	case 0:
		return Draw, nil
	}
	return OutcomeUnknown, fmt.Errorf("%w: code %d", ErrInvalidOutcome, code)
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOutcome, int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := ParseOutcome(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// UnmarshalJSON accepts either a tag string or a numeric result code.
func (o *Outcome) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return fmt.Errorf("%w: missing", ErrInvalidOutcome)
	}
	if strings.HasPrefix(s, `"`) {
		var tag string
		if err := json.Unmarshal(b, &tag); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
		}
		return o.UnmarshalText([]byte(tag))
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOutcome, s)
	}
	v, err := OutcomeFromCode(code)
	if err != nil {
		return err
	}
	*o = v
	return nil
}
