package rating

import (
	"fmt"
	"math"
)

// Default environment values.
const (
	DefaultMu              = 25.0
	DefaultSigma           = DefaultMu / 3
	DefaultBeta            = DefaultSigma / 2
	DefaultDrawProbability = 0.10
	DefaultMinUncertainty  = 0.01
	DefaultTau             = 0.0
)

// playersPerMatch is the number of performance variables combined in the
// team difference.
const playersPerMatch = 2 * TeamSize

// Env holds the model constants shared by every rating update.
type Env struct {
	// Mu and Sigma define the prior of a new player.
	Mu    float64
	Sigma float64
	// Beta is the skill class width: the performance noise of one player.
	Beta float64
	// Tau is additive dynamics noise applied to each prior before updating.
	Tau float64
	// DrawProbability is the configured share of drawn matches between
	// evenly matched teams.
	DrawProbability float64
	// MinUncertainty floors every posterior uncertainty.
	MinUncertainty float64
}

// Option applies a configuration option to the Env.
type Option func(*Env)

// WithMu sets the prior mean of new players.
func WithMu(mu float64) Option {
	return func(e *Env) {
		e.Mu = mu
	}
}

// WithSigma sets the prior uncertainty of new players.
func WithSigma(sigma float64) Option {
	return func(e *Env) {
		if sigma > 0 {
			e.Sigma = sigma
		}
	}
}

// WithBeta sets the skill class width.
func WithBeta(beta float64) Option {
	return func(e *Env) {
		if beta > 0 {
			e.Beta = beta
		}
	}
}

// WithTau sets the dynamics noise.
func WithTau(tau float64) Option {
	return func(e *Env) {
		if tau >= 0 {
			e.Tau = tau
		}
	}
}

// WithDrawProbability sets the draw probability used for the draw margin.
func WithDrawProbability(p float64) Option {
	return func(e *Env) {
		if p >= 0 && p < 1 {
			e.DrawProbability = p
		}
	}
}

// WithMinUncertainty sets the uncertainty floor.
func WithMinUncertainty(floor float64) Option {
	return func(e *Env) {
		if floor > 0 {
			e.MinUncertainty = floor
		}
	}
}

// NewEnv builds an Env from the defaults and options. When Sigma is
// overridden and Beta is not, Beta follows Sigma/2.
func NewEnv(opts ...Option) Env {
	e := Env{
		Mu:              DefaultMu,
		Sigma:           DefaultSigma,
		Tau:             DefaultTau,
		DrawProbability: DefaultDrawProbability,
		MinUncertainty:  DefaultMinUncertainty,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.Beta <= 0 {
		e.Beta = e.Sigma / 2
	}
	return e
}

// Default returns the prior rating for a newly registered player.
func (e Env) Default() Rating {
	return Rating{Mean: e.Mu, Uncertainty: e.Sigma}
}

// DrawMargin converts the draw probability into a performance-difference
// margin for a match with four players.
func (e Env) DrawMargin() float64 {
	return ppf((e.DrawProbability+1)/2) * math.Sqrt(playersPerMatch) * e.Beta
}

// Validate checks the constants for values the engine cannot work with.
func (e Env) Validate() error {
	switch {
	case math.IsNaN(e.Mu) || math.IsInf(e.Mu, 0):
		return fmt.Errorf("%w: mu must be finite", ErrInvalidInput)
	case !(e.Sigma > 0) || math.IsInf(e.Sigma, 0):
		return fmt.Errorf("%w: sigma must be positive", ErrInvalidInput)
	case !(e.Beta > 0) || math.IsInf(e.Beta, 0):
		return fmt.Errorf("%w: beta must be positive", ErrInvalidInput)
	case !(e.Tau >= 0) || math.IsInf(e.Tau, 0):
		return fmt.Errorf("%w: tau must be non-negative", ErrInvalidInput)
	case !(e.DrawProbability >= 0) || e.DrawProbability >= 1:
		return fmt.Errorf("%w: draw probability must be in [0, 1)", ErrInvalidInput)
	case !(e.MinUncertainty > 0):
		return fmt.Errorf("%w: min uncertainty must be positive", ErrInvalidInput)
	}
	return nil
}
