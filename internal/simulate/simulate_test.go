package simulate

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/kicker/internal/adapters/http/api"
	"github.com/okian/kicker/internal/adapters/repository"
	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/internal/domain/types"
	"github.com/okian/kicker/pkg/logger"
	"github.com/spf13/pflag"
	. "github.com/smartystreets/goconvey/convey"
)

// newServer runs the kicker API over a memory store.
func newServer(token string) (*httptest.Server, func()) {
	svc := app.New(
		app.WithStore(repository.NewMemoryStore()),
		app.WithLogger(logger.Discard()),
		app.WithMaxListLimit(25),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc, svc, api.WithAPIToken(token), api.WithLogger(logger.Discard())).Register(context.Background(), mux)
	srv := httptest.NewServer(mux)
	return srv, func() {
		srv.Close()
		_ = svc.Stop(context.Background())
	}
}

func testConfig(url string) *Config {
	return &Config{
		BaseURL:  url,
		Token:    "secret",
		Players:  8,
		Matches:  60,
		Workers:  6,
		Replays:  0.25,
		DrawRate: 0.1,
		Timeout:  5 * time.Second,
		Seed:     7,
		Top:      3,
	}
}

func TestRun(t *testing.T) {
	Convey("Given a running kicker server", t, func() {
		srv, stop := newServer("secret")
		defer stop()

		Convey("When the simulation runs", func() {
			stats, err := Run(context.Background(), testConfig(srv.URL))

			Convey("Then every match is recorded once and the ledger chains up", func() {
				So(err, ShouldBeNil)
				So(stats.PlayersRegistered, ShouldEqual, 8)
				So(stats.MatchesPlanned, ShouldEqual, 60)
				So(stats.MatchesRecorded, ShouldEqual, 60)
				So(stats.SubmitFailed, ShouldEqual, 0)
				So(stats.LedgerEntries, ShouldEqual, 60)
				So(stats.ReplaysMatched, ShouldEqual, stats.Replays)
				So(stats.Agreement, ShouldBeBetweenOrEqual, 0, 1)
			})

			Convey("And a second run on the same server stays consistent", func() {
				again, err := Run(context.Background(), testConfig(srv.URL))
				So(err, ShouldBeNil)
				So(again.LedgerEntries, ShouldEqual, 60)
			})
		})

		Convey("When the token is wrong", func() {
			cfg := testConfig(srv.URL)
			cfg.Token = "nope"
			_, err := Run(context.Background(), cfg)

			Convey("Then registration fails", func() {
				So(errors.Is(err, ErrUnexpectedStatus), ShouldBeTrue)
			})
		})
	})

	Convey("Given no server", t, func() {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Timeout = 200 * time.Millisecond
		_, err := Run(context.Background(), cfg)

		Convey("Then the health check fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestParseFlags(t *testing.T) {
	Convey("Given command line arguments", t, func() {
		var out bytes.Buffer

		Convey("When none are passed", func() {
			cfg, err := ParseFlags(nil, &out)

			Convey("Then defaults apply", func() {
				So(err, ShouldBeNil)
				So(cfg.BaseURL, ShouldEqual, DefaultBaseURL)
				So(cfg.Players, ShouldEqual, DefaultPlayers)
				So(cfg.Matches, ShouldEqual, DefaultMatches)
				So(cfg.Timeout, ShouldEqual, DefaultTimeout)
			})
		})

		Convey("When short and long flags are mixed", func() {
			cfg, err := ParseFlags([]string{"-p", "6", "--matches=10", "-w", "2", "--seed", "42", "--token", "t"}, &out)

			Convey("Then they are applied", func() {
				So(err, ShouldBeNil)
				So(cfg.Players, ShouldEqual, 6)
				So(cfg.Matches, ShouldEqual, 10)
				So(cfg.Workers, ShouldEqual, 2)
				So(cfg.Seed, ShouldEqual, 42)
				So(cfg.Token, ShouldEqual, "t")
			})
		})

		Convey("When help is requested", func() {
			_, err := ParseFlags([]string{"--help"}, &out)

			Convey("Then usage is printed", func() {
				So(errors.Is(err, pflag.ErrHelp), ShouldBeTrue)
				So(out.String(), ShouldContainSubstring, "Kicker match simulator")
			})
		})

		Convey("When the values are unusable", func() {
			_, errPlayers := ParseFlags([]string{"--players", "3"}, &out)
			_, errReplays := ParseFlags([]string{"--replays", "2"}, &out)

			Convey("Then the config is rejected", func() {
				So(errors.Is(errPlayers, ErrInvalidConfig), ShouldBeTrue)
				So(errors.Is(errReplays, ErrInvalidConfig), ShouldBeTrue)
			})
		})
	})
}

func TestGenerator(t *testing.T) {
	Convey("Given a seeded generator", t, func() {
		players := make([]simPlayer, 6)
		for i := range players {
			players[i] = simPlayer{Player: types.Player{ID: int64(i + 1)}, Skill: float64(20 + i)}
		}

		Convey("When matches are planned", func() {
			plans := newGenerator(1).plans(players, 50, 0.5, 0.2)
			same := newGenerator(1).plans(players, 50, 0.5, 0.2)

			Convey("Then every match has four distinct players and a valid outcome", func() {
				So(len(plans), ShouldEqual, 50)
				sids := map[string]bool{}
				for i, p := range plans {
					ids := map[int64]bool{p.req.TeamA[0]: true, p.req.TeamA[1]: true, p.req.TeamB[0]: true, p.req.TeamB[1]: true}
					So(len(ids), ShouldEqual, 4)
					_, err := rating.ParseOutcome(p.req.Outcome)
					So(err, ShouldBeNil)
					So(sids[p.req.SubmissionID], ShouldBeFalse)
					sids[p.req.SubmissionID] = true
					So(p.req.TeamA, ShouldResemble, same[i].req.TeamA)
					So(p.req.Outcome, ShouldEqual, same[i].req.Outcome)
				}
			})
		})
	})
}

func TestVerifyLedger(t *testing.T) {
	Convey("Given a two match ledger between four players", t, func() {
		start := rating.Rating{Mean: 25, Uncertainty: 8}
		mid := rating.Rating{Mean: 27, Uncertainty: 7}
		end := rating.Rating{Mean: 28, Uncertainty: 6}

		players := make([]simPlayer, 4)
		final := map[int64]types.Player{}
		for i := range players {
			id := int64(i + 1)
			players[i] = simPlayer{Player: types.Player{ID: id, Mean: start.Mean, Uncertainty: start.Uncertainty}}
			final[id] = types.Player{ID: id, Mean: end.Mean, Uncertainty: end.Uncertainty, Matches: 2}
		}
		slot := func(id int64, before, after rating.Rating) types.Participant {
			return types.Participant{ID: id, Before: before, After: after}
		}
		ledger := []types.Match{
			{ID: 1, SubmissionID: "s1",
				TeamA: []types.Participant{slot(1, start, mid), slot(2, start, mid)},
				TeamB: []types.Participant{slot(3, start, mid), slot(4, start, mid)}},
			{ID: 2, SubmissionID: "s2",
				TeamA: []types.Participant{slot(1, mid, end), slot(3, mid, end)},
				TeamB: []types.Participant{slot(2, mid, end), slot(4, mid, end)}},
		}
		plans := []plan{{req: SubmitRequest{SubmissionID: "s1"}}, {req: SubmitRequest{SubmissionID: "s2"}}}
		results := []outcome{{match: ledger[0], recorded: true}, {match: ledger[1], recorded: true}}

		Convey("When it is intact", func() {
			n, err := verifyLedger(players, final, plans, results, ledger)

			Convey("Then it verifies", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
			})
		})

		Convey("When a rating chain is broken", func() {
			ledger[1].TeamA[0].Before = start
			_, err := verifyLedger(players, final, plans, results, ledger)

			Convey("Then it is inconsistent", func() {
				So(errors.Is(err, ErrInconsistent), ShouldBeTrue)
			})
		})

		Convey("When a recorded submission is missing", func() {
			_, err := verifyLedger(players, final, plans, results, ledger[:1])

			Convey("Then it is inconsistent", func() {
				So(errors.Is(err, ErrInconsistent), ShouldBeTrue)
			})
		})

		Convey("When a match count disagrees", func() {
			p := final[2]
			p.Matches = 3
			final[2] = p
			_, err := verifyLedger(players, final, plans, results, ledger)

			Convey("Then it is inconsistent", func() {
				So(errors.Is(err, ErrInconsistent), ShouldBeTrue)
			})
		})
	})
}

func TestSkillAgreement(t *testing.T) {
	Convey("Given standings", t, func() {
		ordered := []standing{{Skill: 3}, {Skill: 2}, {Skill: 1}}
		reversed := []standing{{Skill: 1}, {Skill: 2}, {Skill: 3}}

		So(skillAgreement(ordered), ShouldEqual, 1)
		So(skillAgreement(reversed), ShouldEqual, 0)
		So(skillAgreement(nil), ShouldEqual, 0)
	})
}
