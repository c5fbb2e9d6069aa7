package simulate

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/internal/domain/types"
)

// ratingTolerance absorbs float formatting on the wire.
const ratingTolerance = 1e-9

// verifyLedger checks the ledger entries of the simulated players against
// what the runner saw: every recorded submission appears exactly once, each
// player's ratings form an unbroken chain from registration to its current
// rating, and match counts agree. It returns the number of entries checked.
func verifyLedger(players []simPlayer, final map[int64]types.Player, plans []plan, results []outcome, ledger []types.Match) (int, error) {
	ours := make(map[int64]bool, len(players))
	last := make(map[int64]rating.Rating, len(players))
	for _, p := range players {
		ours[p.ID] = true
		last[p.ID] = rating.Rating{Mean: p.Mean, Uncertainty: p.Uncertainty}
	}
	planned := make(map[string]bool, len(plans))
	for _, p := range plans {
		planned[p.req.SubmissionID] = true
	}

	var entries []types.Match
	for _, m := range ledger {
		if slices.ContainsFunc(participants(m), func(p types.Participant) bool { return ours[p.ID] }) {
			entries = append(entries, m)
		}
	}
	slices.SortFunc(entries, func(a, b types.Match) int { return cmp.Compare(a.ID, b.ID) })

	bySubmission := make(map[string]types.Match, len(entries))
	for _, m := range entries {
		if !planned[m.SubmissionID] {
			return 0, fmt.Errorf("%w: match %d has unknown submission id %q", ErrInconsistent, m.ID, m.SubmissionID)
		}
		if prev, dup := bySubmission[m.SubmissionID]; dup {
			return 0, fmt.Errorf("%w: submission %q recorded as matches %d and %d", ErrInconsistent, m.SubmissionID, prev.ID, m.ID)
		}
		bySubmission[m.SubmissionID] = m
	}
	for i, r := range results {
		if !r.recorded {
			continue
		}
		sid := plans[i].req.SubmissionID
		m, ok := bySubmission[sid]
		if !ok {
			return 0, fmt.Errorf("%w: submission %q missing from the ledger", ErrInconsistent, sid)
		}
		if m.ID != r.match.ID {
			return 0, fmt.Errorf("%w: submission %q answered match %d but the ledger has %d", ErrInconsistent, sid, r.match.ID, m.ID)
		}
	}

	counts := make(map[int64]int, len(players))
	for _, m := range entries {
		for _, part := range participants(m) {
			if !ours[part.ID] {
				return 0, fmt.Errorf("%w: match %d mixes in player %d", ErrInconsistent, m.ID, part.ID)
			}
			if prev := last[part.ID]; !sameRating(prev, part.Before) {
				return 0, fmt.Errorf("%w: match %d player %d starts from %s, previous rating was %s",
					ErrInconsistent, m.ID, part.ID, part.Before, prev)
			}
			last[part.ID] = part.After
			counts[part.ID]++
		}
	}

	for id, cur := range final {
		got := rating.Rating{Mean: cur.Mean, Uncertainty: cur.Uncertainty}
		if !sameRating(last[id], got) {
			return 0, fmt.Errorf("%w: player %d is rated %s, the ledger ends at %s", ErrInconsistent, id, got, last[id])
		}
		if cur.Matches != counts[id] {
			return 0, fmt.Errorf("%w: player %d counts %d matches, the ledger has %d", ErrInconsistent, id, cur.Matches, counts[id])
		}
	}
	return len(entries), nil
}

func participants(m types.Match) []types.Participant {
	return slices.Concat(m.TeamA, m.TeamB)
}

func sameRating(a, b rating.Rating) bool {
	return math.Abs(a.Mean-b.Mean) <= ratingTolerance && math.Abs(a.Uncertainty-b.Uncertainty) <= ratingTolerance
}
