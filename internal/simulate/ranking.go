package simulate

import (
	"cmp"
	"context"
	"slices"

	"github.com/okian/kicker/internal/domain/types"
	"github.com/okian/kicker/pkg/logger"
)

// standing pairs a player's final rating with its hidden skill.
type standing struct {
	Player types.Player
	Skill  float64
}

// rankStandings orders the simulated players by conservative rating, best
// first, ties by id.
func rankStandings(players []simPlayer, final map[int64]types.Player) []standing {
	out := make([]standing, 0, len(players))
	for _, p := range players {
		cur, ok := final[p.ID]
		if !ok {
			cur = p.Player
		}
		out = append(out, standing{Player: cur, Skill: p.Skill})
	}
	slices.SortFunc(out, func(a, b standing) int {
		if c := cmp.Compare(b.Player.Conservative, a.Player.Conservative); c != 0 {
			return c
		}
		return cmp.Compare(a.Player.ID, b.Player.ID)
	})
	return out
}

// skillAgreement is the fraction of pairs in st ordered the same way by
// rating and by hidden skill.
func skillAgreement(st []standing) float64 {
	var pairs, concordant int
	for i := range st {
		for j := i + 1; j < len(st); j++ {
			pairs++
			if st[i].Skill >= st[j].Skill {
				concordant++
			}
		}
	}
	if pairs == 0 {
		return 0
	}
	return float64(concordant) / float64(pairs)
}

// displayStandings logs the best top standings.
func displayStandings(ctx context.Context, log logger.Logger, st []standing, top int) {
	top = min(top, len(st))
	for i := range top {
		s := st[i]
		log.Info(ctx, "standing",
			logger.Int("rank", i+1),
			logger.String("name", s.Player.Name),
			logger.Float64("conservative", s.Player.Conservative),
			logger.Float64("mean", s.Player.Mean),
			logger.Float64("uncertainty", s.Player.Uncertainty),
			logger.Float64("hiddenSkill", s.Skill),
			logger.Int("matches", s.Player.Matches),
		)
	}
}
