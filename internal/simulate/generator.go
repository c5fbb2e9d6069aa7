package simulate

import (
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/okian/kicker/internal/domain/types"
)

// Constants for the hidden skill model.
const (
	skillMean       = 25.0
	skillSpread     = 8.0
	performanceBeta = 25.0 / 6
)

// simPlayer is a registered player with the skill the simulator plays it at.
type simPlayer struct {
	types.Player
	Skill float64
}

// plan is one submission the runner will send.
type plan struct {
	req    SubmitRequest
	replay bool
}

type generator struct {
	rng *rand.Rand
}

func newGenerator(seed uint64) *generator {
	return &generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// skill draws a hidden skill for a new player.
func (g *generator) skill() float64 {
	return skillMean + g.rng.NormFloat64()*skillSpread
}

// plans builds n matches between distinct players. Each player performs
// around its hidden skill; the better team sum wins unless the match is
// drawn.
func (g *generator) plans(players []simPlayer, n int, replays, drawRate float64) []plan {
	out := make([]plan, 0, n)
	for range n {
		pick := g.rng.Perm(len(players))[:4]
		a1, a2, b1, b2 := players[pick[0]], players[pick[1]], players[pick[2]], players[pick[3]]

		req := SubmitRequest{
			TeamA:        [2]int64{a1.ID, a2.ID},
			TeamB:        [2]int64{b1.ID, b2.ID},
			SubmissionID: uuid.NewString(),
		}
		perfA := g.perform(a1) + g.perform(a2)
		perfB := g.perform(b1) + g.perform(b2)
		switch {
		case g.rng.Float64() < drawRate:
			req.Outcome = "draw"
		case perfA >= perfB:
			req.Outcome = "team_a"
		default:
			req.Outcome = "team_b"
		}
		out = append(out, plan{req: req, replay: g.rng.Float64() < replays})
	}
	return out
}

func (g *generator) perform(p simPlayer) float64 {
	return p.Skill + g.rng.NormFloat64()*performanceBeta
}
