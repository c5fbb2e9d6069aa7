package rating_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/kicker/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func newEngine(opts ...rating.Option) *rating.Engine {
	e, err := rating.NewEngine(rating.NewEnv(opts...))
	if err != nil {
		panic(err)
	}
	return e
}

func TestEngine_FreshPlayers(t *testing.T) {
	Convey("Given four fresh players", t, func() {
		e := newEngine()
		def := e.Env().Default()
		a := rating.Team{def, def}
		b := rating.Team{def, def}

		Convey("When team A wins", func() {
			na, nb, err := e.Rate(a, b, rating.TeamAWins)
			So(err, ShouldBeNil)

			Convey("Then winners gain and losers drop by the same amount", func() {
				for i := range na {
					So(na[i].Mean, ShouldAlmostEqual, 28.108141, 1e-5)
					So(nb[i].Mean, ShouldAlmostEqual, 21.891859, 1e-5)
				}
			})

			Convey("And every uncertainty shrinks", func() {
				for i := range na {
					So(na[i].Uncertainty, ShouldAlmostEqual, 7.773986, 1e-5)
					So(nb[i].Uncertainty, ShouldAlmostEqual, 7.773986, 1e-5)
					So(na[i].Uncertainty, ShouldBeLessThan, def.Uncertainty)
				}
			})
		})

		Convey("When the match is a draw", func() {
			na, nb, err := e.Rate(a, b, rating.Draw)

			Convey("Then the ratings are unchanged", func() {
				So(err, ShouldBeNil)
				So(na, ShouldResemble, a)
				So(nb, ShouldResemble, b)
			})
		})
	})
}

func TestEngine_DrawBetweenEqualSums(t *testing.T) {
	Convey("Given teams whose mean and variance sums tie but whose players differ", t, func() {
		e := newEngine()
		a := rating.Team{{Mean: 20, Uncertainty: 5}, {Mean: 30, Uncertainty: 5}}
		b := rating.Team{{Mean: 25, Uncertainty: 5}, {Mean: 25, Uncertainty: 5}}

		Convey("When they draw", func() {
			na, nb, err := e.Rate(a, b, rating.Draw)

			Convey("Then the draw is still informative", func() {
				So(err, ShouldBeNil)
				for i := range na {
					So(na[i].Uncertainty, ShouldBeLessThan, 5)
					So(nb[i].Uncertainty, ShouldBeLessThan, 5)
				}
			})

			Convey("And a tiny change in one uncertainty moves the result only slightly", func() {
				b2 := b
				b2[1].Uncertainty = 5.000001
				ma, _, err := e.Rate(a, b2, rating.Draw)
				So(err, ShouldBeNil)
				So(ma[0].Uncertainty, ShouldAlmostEqual, na[0].Uncertainty, 1e-5)
			})
		})
	})

	Convey("Given teams holding the same players in swapped slots", t, func() {
		e := newEngine()
		x, y := rating.Rating{Mean: 22, Uncertainty: 4}, rating.Rating{Mean: 28, Uncertainty: 6}

		Convey("When they draw", func() {
			na, nb, err := e.Rate(rating.Team{x, y}, rating.Team{y, x}, rating.Draw)

			Convey("Then nothing changes", func() {
				So(err, ShouldBeNil)
				So(na, ShouldResemble, rating.Team{x, y})
				So(nb, ShouldResemble, rating.Team{y, x})
			})
		})
	})
}

func TestEngine_Symmetry(t *testing.T) {
	Convey("Given uneven teams", t, func() {
		e := newEngine()
		a := rating.Team{{Mean: 31.2, Uncertainty: 4.1}, {Mean: 22.7, Uncertainty: 6.3}}
		b := rating.Team{{Mean: 27.9, Uncertainty: 2.2}, {Mean: 18.4, Uncertainty: 8.0}}

		for _, outcome := range []rating.Outcome{rating.TeamAWins, rating.TeamBWins, rating.Draw} {
			Convey("When rating "+outcome.String()+" and its mirror", func() {
				na, nb, err := e.Rate(a, b, outcome)
				So(err, ShouldBeNil)
				mb, ma, err := e.Rate(b, a, outcome.Mirror())
				So(err, ShouldBeNil)

				Convey("Then both calls agree slot for slot", func() {
					So(ma, ShouldResemble, na)
					So(mb, ShouldResemble, nb)
				})
			})
		}
	})
}

func TestEngine_Properties(t *testing.T) {
	Convey("Given a spread of team pairings", t, func() {
		e := newEngine()
		means := []float64{-40, 0, 12.5, 25, 37, 80}
		sigmas := []float64{0.02, 0.5, 3, 8.333, 20}

		Convey("Then every posterior uncertainty stays positive and winners never lose confidence", func() {
			for _, m1 := range means {
				for _, m2 := range means {
					for _, s1 := range sigmas {
						for _, s2 := range sigmas {
							a := rating.Team{{Mean: m1, Uncertainty: s1}, {Mean: m1 / 2, Uncertainty: s2}}
							b := rating.Team{{Mean: m2, Uncertainty: s2}, {Mean: m2 / 3, Uncertainty: s1}}
							for _, o := range []rating.Outcome{rating.TeamAWins, rating.TeamBWins, rating.Draw} {
								na, nb, err := e.Rate(a, b, o)
								So(err, ShouldBeNil)
								for i := 0; i < rating.TeamSize; i++ {
									So(na[i].Uncertainty, ShouldBeGreaterThan, 0)
									So(nb[i].Uncertainty, ShouldBeGreaterThan, 0)
									So(math.IsNaN(na[i].Mean), ShouldBeFalse)
									So(math.IsNaN(nb[i].Mean), ShouldBeFalse)
								}
								if o == rating.TeamAWins {
									for i := range na {
										So(na[i].Uncertainty, ShouldBeLessThanOrEqualTo, a[i].Uncertainty)
										So(na[i].Mean, ShouldBeGreaterThanOrEqualTo, a[i].Mean)
									}
								}
								if o == rating.TeamBWins {
									for i := range nb {
										So(nb[i].Uncertainty, ShouldBeLessThanOrEqualTo, b[i].Uncertainty)
										So(nb[i].Mean, ShouldBeGreaterThanOrEqualTo, b[i].Mean)
									}
								}
							}
						}
					}
				}
			}
		})

		Convey("When a heavy underdog wins", func() {
			a := rating.Team{{Mean: 0, Uncertainty: 8}, {Mean: 0, Uncertainty: 8}}
			b := rating.Team{{Mean: 500, Uncertainty: 1}, {Mean: 500, Uncertainty: 1}}
			na, nb, err := e.Rate(a, b, rating.TeamAWins)

			Convey("Then the update stays finite", func() {
				So(err, ShouldBeNil)
				So(math.IsInf(na[0].Mean, 0), ShouldBeFalse)
				So(na[0].Mean, ShouldBeGreaterThan, 0)
				So(nb[0].Mean, ShouldBeLessThan, 500)
			})
		})

		Convey("When a favourite draws", func() {
			a := rating.Team{{Mean: 35, Uncertainty: 3}, {Mean: 35, Uncertainty: 3}}
			b := rating.Team{{Mean: 20, Uncertainty: 3}, {Mean: 20, Uncertainty: 3}}
			na, nb, err := e.Rate(a, b, rating.Draw)

			Convey("Then the teams are pulled towards each other", func() {
				So(err, ShouldBeNil)
				So(na[0].Mean, ShouldBeLessThan, 35)
				So(nb[0].Mean, ShouldBeGreaterThan, 20)
			})
		})
	})
}

func TestEngine_UncertaintyFloor(t *testing.T) {
	Convey("Given an engine with a high uncertainty floor", t, func() {
		e := newEngine(rating.WithMinUncertainty(2))
		a := rating.Team{{Mean: 25, Uncertainty: 2.01}, {Mean: 25, Uncertainty: 2.01}}
		b := rating.Team{{Mean: 25, Uncertainty: 2.01}, {Mean: 25, Uncertainty: 2.01}}

		Convey("When a decisive result would shrink below it", func() {
			na, nb, err := e.Rate(a, b, rating.TeamBWins)

			Convey("Then the uncertainty is clamped", func() {
				So(err, ShouldBeNil)
				So(na[0].Uncertainty, ShouldEqual, 2)
				So(nb[1].Uncertainty, ShouldEqual, 2)
			})
		})
	})
}

func TestEngine_Dynamics(t *testing.T) {
	Convey("Given an engine with dynamics noise", t, func() {
		e := newEngine(rating.WithTau(rating.DefaultSigma / 100))
		def := e.Env().Default()

		Convey("When identical teams draw", func() {
			na, _, err := e.Rate(rating.Team{def, def}, rating.Team{def, def}, rating.Draw)

			Convey("Then only the dynamics noise is applied", func() {
				So(err, ShouldBeNil)
				So(na[0].Mean, ShouldEqual, def.Mean)
				So(na[0].Uncertainty, ShouldBeGreaterThan, def.Uncertainty)
			})
		})
	})
}

func TestEngine_InvalidInput(t *testing.T) {
	Convey("Given an engine", t, func() {
		e := newEngine()
		ok := rating.Rating{Mean: 25, Uncertainty: 8}

		Convey("When a team has the wrong size", func() {
			_, _, err := e.Update([]rating.Rating{ok}, []rating.Rating{ok, ok}, rating.TeamAWins)

			Convey("Then it fails with invalid input", func() {
				So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When an uncertainty is not positive", func() {
			for _, sigma := range []float64{0, -1, math.NaN(), math.Inf(1)} {
				bad := rating.Rating{Mean: 25, Uncertainty: sigma}
				_, _, err := e.Update([]rating.Rating{ok, bad}, []rating.Rating{ok, ok}, rating.Draw)
				So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)
			}
		})

		Convey("When the outcome is unknown", func() {
			_, _, err := e.Update([]rating.Rating{ok, ok}, []rating.Rating{ok, ok}, rating.Outcome(9))

			Convey("Then it fails with invalid outcome", func() {
				So(errors.Is(err, rating.ErrInvalidOutcome), ShouldBeTrue)
			})
		})

		Convey("When the slice form succeeds", func() {
			na, nb, err := e.Update([]rating.Rating{ok, ok}, []rating.Rating{ok, ok}, rating.TeamAWins)

			Convey("Then it returns two ratings per team", func() {
				So(err, ShouldBeNil)
				So(len(na), ShouldEqual, 2)
				So(len(nb), ShouldEqual, 2)
			})
		})
	})
}

func TestEngine_Predict(t *testing.T) {
	Convey("Given an engine", t, func() {
		e := newEngine()
		def := e.Env().Default()

		Convey("When predicting an even match", func() {
			p, err := e.Predict(rating.Team{def, def}, rating.Team{def, def})

			Convey("Then both sides are equally likely and probabilities sum to one", func() {
				So(err, ShouldBeNil)
				So(p.TeamAWins, ShouldAlmostEqual, p.TeamBWins, 1e-12)
				So(p.TeamAWins+p.TeamBWins+p.Draw, ShouldAlmostEqual, 1, 1e-12)
				So(p.Draw, ShouldBeGreaterThan, 0)
				So(p.Quality, ShouldBeGreaterThan, 0)
				So(p.Quality, ShouldBeLessThanOrEqualTo, 1)
			})
		})

		Convey("When one team is much stronger", func() {
			strong := rating.Rating{Mean: 40, Uncertainty: 2}
			p, err := e.Predict(rating.Team{strong, strong}, rating.Team{def, def})
			even, _ := e.Predict(rating.Team{def, def}, rating.Team{def, def})

			Convey("Then it is favoured and quality drops", func() {
				So(err, ShouldBeNil)
				So(p.TeamAWins, ShouldBeGreaterThan, p.TeamBWins)
				So(p.Quality, ShouldBeLessThan, even.Quality)
			})
		})
	})
}

func TestNewEngine_InvalidEnv(t *testing.T) {
	Convey("Given an env with an impossible draw probability", t, func() {
		env := rating.NewEnv()
		env.DrawProbability = 1

		Convey("Then the engine refuses it", func() {
			_, err := rating.NewEngine(env)
			So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)
		})
	})
}
