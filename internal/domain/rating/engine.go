package rating

import (
	"fmt"
	"math"
)

// Engine applies match outcomes to team ratings under a fixed Env.
type Engine struct {
	env        Env
	drawMargin float64
}

// NewEngine constructs an Engine. It fails when env is unusable.
func NewEngine(env Env) (*Engine, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &Engine{env: env, drawMargin: env.DrawMargin()}, nil
}

// Env returns the engine's model constants.
func (e *Engine) Env() Env { return e.env }

// Update is the slice form of Rate. Each team must hold exactly two ratings.
func (e *Engine) Update(teamA, teamB []Rating, outcome Outcome) ([]Rating, []Rating, error) {
	if len(teamA) != TeamSize || len(teamB) != TeamSize {
		return nil, nil, fmt.Errorf("%w: teams need %d ratings each, got %d and %d",
			ErrInvalidInput, TeamSize, len(teamA), len(teamB))
	}
	a, b, err := e.Rate(Team{teamA[0], teamA[1]}, Team{teamB[0], teamB[1]}, outcome)
	if err != nil {
		return nil, nil, err
	}
	return a[:], b[:], nil
}

// Rate returns the posterior ratings of both teams given the outcome.
// Slot order is preserved.
func (e *Engine) Rate(a, b Team, outcome Outcome) (Team, Team, error) {
	if !outcome.Valid() {
		return Team{}, Team{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, int(outcome))
	}
	if err := validTeams(a, b); err != nil {
		return Team{}, Team{}, err
	}

	a, b = e.withDynamics(a), e.withDynamics(b)

	// A draw between teams of identical players leaves ratings unchanged.
	if outcome == Draw && sameTeam(a, b) {
		return a, b, nil
	}

	c := e.spread(a, b)
	eps := e.drawMargin / c

	switch outcome {
	case TeamAWins:
		t := (a.meanSum() - b.meanSum()) / c
		v, w := vWin(t, eps), wWin(t, eps)
		return e.shift(a, c, v, w), e.shift(b, c, -v, w), nil
	case TeamBWins:
		t := (b.meanSum() - a.meanSum()) / c
		v, w := vWin(t, eps), wWin(t, eps)
		return e.shift(a, c, -v, w), e.shift(b, c, v, w), nil
	default:
		t := (a.meanSum() - b.meanSum()) / c
		v, w := vDraw(t, eps), wDraw(t, eps)
		return e.shift(a, c, v, w), e.shift(b, c, -v, w), nil
	}
}

// sameTeam reports whether a and b hold the same ratings in either order.
func sameTeam(a, b Team) bool {
	return (a[0] == b[0] && a[1] == b[1]) || (a[0] == b[1] && a[1] == b[0])
}

// Prediction is the model's view of a match before it is played.
type Prediction struct {
	TeamAWins float64 `json:"team_a_wins"`
	TeamBWins float64 `json:"team_b_wins"`
	Draw      float64 `json:"draw"`
	// Quality is the TrueSkill match quality in (0, 1]; higher means more even.
	Quality float64 `json:"quality"`
}

// Predict returns outcome probabilities and match quality for a pairing.
func (e *Engine) Predict(a, b Team) (Prediction, error) {
	if err := validTeams(a, b); err != nil {
		return Prediction{}, err
	}
	a, b = e.withDynamics(a), e.withDynamics(b)
	c := e.spread(a, b)
	delta := a.meanSum() - b.meanSum()

	pa := cdf((delta - e.drawMargin) / c)
	pb := cdf((-delta - e.drawMargin) / c)
	pd := math.Max(0, 1-pa-pb)

	beta2 := e.env.Beta * e.env.Beta
	quality := math.Sqrt(playersPerMatch*beta2/(c*c)) * math.Exp(-(delta*delta)/(2*c*c))

	return Prediction{TeamAWins: pa, TeamBWins: pb, Draw: pd, Quality: quality}, nil
}

// spread is the standard deviation of the team performance difference:
// both team sums of per-player sigma^2 + beta^2.
func (e *Engine) spread(a, b Team) float64 {
	beta2 := e.env.Beta * e.env.Beta
	varA := a.varianceSum() + TeamSize*beta2
	varB := b.varianceSum() + TeamSize*beta2
	return math.Sqrt(varA + varB)
}

func (e *Engine) withDynamics(t Team) Team {
	if e.env.Tau == 0 {
		return t
	}
	tau2 := e.env.Tau * e.env.Tau
	for i := range t {
		t[i].Uncertainty = math.Sqrt(t[i].Variance() + tau2)
	}
	return t
}

// shift moves each player's mean by sigma^2/c * v and scales the variance by
// 1 - sigma^2/c^2 * w, flooring the result at MinUncertainty.
func (e *Engine) shift(t Team, c, v, w float64) Team {
	var out Team
	for i, r := range t {
		variance := r.Variance()
		mean := r.Mean + variance/c*v
		next := variance * (1 - variance/(c*c)*w)
		sigma := math.Sqrt(math.Max(next, 0))
		if !(sigma >= e.env.MinUncertainty) {
			sigma = e.env.MinUncertainty
		}
		out[i] = Rating{Mean: mean, Uncertainty: sigma}
	}
	return out
}

func validTeams(a, b Team) error {
	for i, r := range append(a[:], b[:]...) {
		if !r.Valid() {
			return fmt.Errorf("%w: rating %d is %s", ErrInvalidInput, i, r)
		}
	}
	return nil
}
