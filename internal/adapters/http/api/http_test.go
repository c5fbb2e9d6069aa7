package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/kicker/internal/adapters/http/api"
	"github.com/okian/kicker/internal/adapters/repository"
	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/types"
	"github.com/okian/kicker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func newHandler(svc *app.Service, opts ...api.ServerOption) http.Handler {
	mux := http.NewServeMux()
	opts = append([]api.ServerOption{api.WithLogger(logger.Discard())}, opts...)
	api.NewServer(svc, svc, opts...).Register(context.Background(), mux)
	return mux
}

func startedService() *app.Service {
	svc := app.New(
		app.WithStore(repository.NewMemoryStore()),
		app.WithLogger(logger.Discard()),
		app.WithWorkerCount(1),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func do(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	decode(w, &body)
	So(body.Message, ShouldNotBeEmpty)
	return body.Code
}

func seed(h http.Handler, names ...string) {
	for _, n := range names {
		w := do(h, http.MethodPost, "/players", `{"name":"`+n+`"}`)
		So(w.Code, ShouldEqual, http.StatusCreated)
	}
}

func TestPing(t *testing.T) {
	Convey("Given the API", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc, api.WithVersion("1.2.3"))

		Convey("When pinged", func() {
			w := do(h, http.MethodGet, "/ping", "")

			Convey("Then it answers pong with a version and a request id", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body map[string]any
				decode(w, &body)
				So(body["res"], ShouldEqual, "pong")
				So(body["version"], ShouldEqual, "1.2.3")
				So(body["time"], ShouldNotBeEmpty)
				So(w.Header().Get(api.RequestIDHeader), ShouldNotBeEmpty)
			})
		})

		Convey("When the caller supplies a request id", func() {
			w := do(h, http.MethodGet, "/ping", "", api.RequestIDHeader, "req-42")

			Convey("Then it is echoed back", func() {
				So(w.Header().Get(api.RequestIDHeader), ShouldEqual, "req-42")
			})
		})
	})
}

func TestPlayers(t *testing.T) {
	Convey("Given a running service", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc)

		Convey("When a player is registered", func() {
			w := do(h, http.MethodPost, "/players", `{"name":" Anna "}`)

			Convey("Then it is created with the default rating", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var p types.Player
				decode(w, &p)
				So(p.ID, ShouldBeGreaterThan, 0)
				So(p.Name, ShouldEqual, "Anna")
				So(p.Mean, ShouldAlmostEqual, 25.0, 1e-9)
				So(p.Uncertainty, ShouldAlmostEqual, 25.0/3, 1e-9)
				So(p.Matches, ShouldEqual, 0)
			})

			Convey("And the same name in another case is a conflict", func() {
				dup := do(h, http.MethodPost, "/players", `{"name":"ANNA"}`)
				So(dup.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(dup), ShouldEqual, "duplicate_name")
			})

			Convey("And it can be looked up by name and by id", func() {
				byName := do(h, http.MethodGet, "/players?name=anna", "")
				So(byName.Code, ShouldEqual, http.StatusOK)
				var p types.Player
				decode(byName, &p)
				So(p.Name, ShouldEqual, "Anna")

				byID := do(h, http.MethodGet, "/players/1", "")
				So(byID.Code, ShouldEqual, http.StatusOK)

				list := do(h, http.MethodGet, "/players", "")
				So(list.Code, ShouldEqual, http.StatusOK)
				var ps []types.Player
				decode(list, &ps)
				So(len(ps), ShouldEqual, 1)
			})
		})

		Convey("When the request is malformed", func() {
			blank := do(h, http.MethodPost, "/players", `{"name":"  "}`)
			garbage := do(h, http.MethodPost, "/players", `{"name":`)
			unknown := do(h, http.MethodPost, "/players", `{"nick":"x"}`)

			Convey("Then it is a bad request", func() {
				So(blank.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(blank), ShouldEqual, "invalid_input")
				So(garbage.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(garbage), ShouldEqual, "bad_request")
				So(unknown.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When a player does not exist", func() {
			missing := do(h, http.MethodGet, "/players/99", "")
			missingName := do(h, http.MethodGet, "/players?name=nobody", "")
			badID := do(h, http.MethodGet, "/players/abc", "")

			Convey("Then lookups map to 404 and a bad id to 400", func() {
				So(missing.Code, ShouldEqual, http.StatusNotFound)
				So(errorCode(missing), ShouldEqual, "not_found")
				So(missingName.Code, ShouldEqual, http.StatusNotFound)
				So(badID.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestMatches(t *testing.T) {
	Convey("Given four registered players", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc)
		seed(h, "Anna", "Bert", "Carl", "Dora")

		body := `{"team_a":["Anna",{"name":"bert"}],"team_b":[{"id":3},4],"outcome":"team_a","submission_id":"s-1"}`

		Convey("When team A wins", func() {
			w := do(h, http.MethodPost, "/matches", body)

			Convey("Then the match is recorded with updated ratings", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var m types.Match
				decode(w, &m)
				So(m.ID, ShouldEqual, 1)
				So(m.Outcome, ShouldEqual, "team_a")
				So(m.Result, ShouldEqual, 1)
				So(m.Duplicate, ShouldBeFalse)
				So(len(m.TeamA), ShouldEqual, 2)
				So(m.TeamA[1].Name, ShouldEqual, "Bert")
				So(m.TeamA[0].Before.Mean, ShouldAlmostEqual, 25.0, 1e-9)
				So(m.TeamA[0].After.Mean, ShouldAlmostEqual, 28.108141, 1e-4)
				So(m.TeamA[0].After.Uncertainty, ShouldAlmostEqual, 7.773986, 1e-4)
				So(m.TeamB[0].After.Mean, ShouldAlmostEqual, 21.891859, 1e-4)
			})

			Convey("And a replay of the submission id is a duplicate", func() {
				again := do(h, http.MethodPost, "/matches", body)
				So(again.Code, ShouldEqual, http.StatusOK)
				var m types.Match
				decode(again, &m)
				So(m.ID, ShouldEqual, 1)
				So(m.Duplicate, ShouldBeTrue)
			})

			Convey("And the ledger lists it", func() {
				list := do(h, http.MethodGet, "/matches", "")
				So(list.Code, ShouldEqual, http.StatusOK)
				var page types.MatchPage
				decode(list, &page)
				So(len(page.Matches), ShouldEqual, 1)
				So(page.Next, ShouldEqual, 0)

				one := do(h, http.MethodGet, "/matches/1", "")
				So(one.Code, ShouldEqual, http.StatusOK)

				mine := do(h, http.MethodGet, "/players/3/matches", "")
				So(mine.Code, ShouldEqual, http.StatusOK)
				decode(mine, &page)
				So(len(page.Matches), ShouldEqual, 1)

				p := do(h, http.MethodGet, "/players/1", "")
				var anna types.Player
				decode(p, &anna)
				So(anna.Matches, ShouldEqual, 1)
				So(anna.Mean, ShouldAlmostEqual, 28.108141, 1e-4)
			})
		})

		Convey("When several matches are paged", func() {
			for range 3 {
				w := do(h, http.MethodPost, "/matches", `{"team_a":[1,2],"team_b":[3,4],"outcome":"draw"}`)
				So(w.Code, ShouldEqual, http.StatusCreated)
			}
			first := do(h, http.MethodGet, "/matches?limit=2", "")
			var page types.MatchPage
			decode(first, &page)

			Convey("Then the cursor leads to the rest", func() {
				So(len(page.Matches), ShouldEqual, 2)
				So(page.Next, ShouldEqual, 2)

				rest := do(h, http.MethodGet, "/matches?limit=2&after=2", "")
				var tail types.MatchPage
				decode(rest, &tail)
				So(len(tail.Matches), ShouldEqual, 1)
				So(tail.Matches[0].ID, ShouldEqual, 3)
			})
		})

		Convey("When the submission is invalid", func() {
			outcome := do(h, http.MethodPost, "/matches", `{"team_a":[1,2],"team_b":[3,4],"outcome":"banana"}`)
			noOutcome := do(h, http.MethodPost, "/matches", `{"team_a":[1,2],"team_b":[3,4]}`)
			short := do(h, http.MethodPost, "/matches", `{"team_a":[1],"team_b":[3,4],"outcome":1}`)
			twice := do(h, http.MethodPost, "/matches", `{"team_a":[1,2],"team_b":[1,4],"outcome":2}`)
			stranger := do(h, http.MethodPost, "/matches", `{"team_a":[1,2],"team_b":[3,"Zed"],"outcome":0}`)

			Convey("Then each maps to its status and nothing is recorded", func() {
				So(outcome.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(outcome), ShouldEqual, "invalid_outcome")
				So(noOutcome.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(noOutcome), ShouldEqual, "invalid_outcome")
				So(short.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(short), ShouldEqual, "invalid_input")
				So(twice.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(twice), ShouldEqual, "invalid_input")
				So(stranger.Code, ShouldEqual, http.StatusNotFound)

				list := do(h, http.MethodGet, "/matches", "")
				var page types.MatchPage
				decode(list, &page)
				So(len(page.Matches), ShouldEqual, 0)
			})
		})

		Convey("When a match or a player ledger does not exist", func() {
			So(do(h, http.MethodGet, "/matches/7", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/players/9/matches", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(h, http.MethodGet, "/matches?limit=x", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestPreview(t *testing.T) {
	Convey("Given four fresh players", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc)
		seed(h, "Anna", "Bert", "Carl", "Dora")

		Convey("When an even pairing is previewed", func() {
			w := do(h, http.MethodGet, "/matches/preview?a=1&a=Bert&b=carl&b=4", "")

			Convey("Then both sides are equally likely", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var p types.Preview
				decode(w, &p)
				So(len(p.TeamA), ShouldEqual, 2)
				So(p.TeamB[0].Name, ShouldEqual, "Carl")
				So(p.Prediction.TeamAWins, ShouldAlmostEqual, p.Prediction.TeamBWins, 1e-9)
				So(p.Prediction.Quality, ShouldBeGreaterThan, 0)
				So(p.Prediction.Quality, ShouldBeLessThanOrEqualTo, 1)
			})

			Convey("And nothing is recorded", func() {
				var page types.MatchPage
				decode(do(h, http.MethodGet, "/matches", ""), &page)
				So(len(page.Matches), ShouldEqual, 0)
			})
		})

		Convey("When a team is incomplete", func() {
			w := do(h, http.MethodGet, "/matches/preview?a=1&a=2&b=3", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestAuth(t *testing.T) {
	Convey("Given an API with a token", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc, api.WithAPIToken("secret"))

		Convey("Then mutating routes require the bearer token", func() {
			none := do(h, http.MethodPost, "/players", `{"name":"Anna"}`)
			So(none.Code, ShouldEqual, http.StatusUnauthorized)
			So(errorCode(none), ShouldEqual, "unauthorized")

			wrong := do(h, http.MethodPost, "/players", `{"name":"Anna"}`, "Authorization", "Bearer nope")
			So(wrong.Code, ShouldEqual, http.StatusUnauthorized)

			ok := do(h, http.MethodPost, "/players", `{"name":"Anna"}`, "Authorization", "Bearer secret")
			So(ok.Code, ShouldEqual, http.StatusCreated)
		})

		Convey("And reads stay open", func() {
			So(do(h, http.MethodGet, "/players", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}

func TestServiceState(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := app.New(app.WithLogger(logger.Discard()))
		h := newHandler(svc)

		Convey("When a player is requested", func() {
			w := do(h, http.MethodGet, "/players", "")

			Convey("Then the API reports it unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(errorCode(w), ShouldEqual, "not_started")
			})
		})
	})

	Convey("Given a running service", t, func() {
		svc := startedService()
		defer func() { _ = svc.Stop(context.Background()) }()
		h := newHandler(svc)
		seed(h, "Anna")

		Convey("Then stats and metrics are served", func() {
			stats := do(h, http.MethodGet, "/stats", "")
			So(stats.Code, ShouldEqual, http.StatusOK)
			var body map[string]any
			decode(stats, &body)
			So(body["started"], ShouldEqual, true)
			So(body["totalPlayers"], ShouldEqual, float64(1))

			health := do(h, http.MethodGet, "/healthz", "")
			So(health.Code, ShouldEqual, http.StatusOK)
			So(health.Body.String(), ShouldContainSubstring, "kicker_ratings_")
		})

		Convey("And unknown methods are rejected", func() {
			So(do(h, http.MethodDelete, "/players", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}
