package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/kicker/internal/adapters/repository"
	service "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(_ context.Context, n notice.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, n.Text(notice.English))
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

// slowStore blocks lookups by id until the caller gives up.
type slowStore struct {
	repository.Store
}

func (s slowStore) FindByID(ctx context.Context, id int64) (model.Player, error) {
	<-ctx.Done()
	return model.Player{}, repository.Classify("slow", "find_by_id", ctx.Err())
}

// flakyStore fails the first submission.
type flakyStore struct {
	repository.Store
	once sync.Once
}

func (s *flakyStore) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error) {
	var failed bool
	s.once.Do(func() { failed = true })
	if failed {
		return model.Match{}, repository.Classify("flaky", "submit", errors.New("connection reset"))
	}
	return s.Store.Submit(ctx, ids, compute)
}

// gatedStore holds submissions until release is closed.
type gatedStore struct {
	repository.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Submit(ctx context.Context, ids [model.Slots]int64, compute model.ComputeFunc) (model.Match, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Submit(ctx, ids, compute)
}

func started(opts ...service.Option) *service.Service {
	svc := service.New(opts...)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func roster(svc *service.Service, names ...string) []model.Player {
	out := make([]model.Player, 0, len(names))
	for _, n := range names {
		p, err := svc.Register(context.Background(), n)
		So(err, ShouldBeNil)
		out = append(out, p)
	}
	return out
}

func byName(a1, a2, b1, b2 string, outcome rating.Outcome, sid string) service.Submission {
	return service.Submission{
		TeamA:        [2]service.PlayerRef{{Name: a1}, {Name: a2}},
		TeamB:        [2]service.PlayerRef{{Name: b1}, {Name: b2}},
		Outcome:      outcome,
		SubmissionID: sid,
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(1), service.WithQueueSize(8))

		Convey("Then it refuses work and reports basic stats before Start", func() {
			_, err := svc.Register(context.Background(), "Anna")
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started and stopped", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["store"], ShouldEqual, "memory")
			So(stats["totalPlayers"], ShouldEqual, 0)

			So(svc.Stop(context.Background()), ShouldBeNil)

			Convey("Then it is marked stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(svc.Stop(context.Background()), ShouldBeNil)
			})

			Convey("Then it refuses to start on the closed store", func() {
				So(errors.Is(svc.Start(context.Background()), service.ErrStopped), ShouldBeTrue)
				_, err := svc.Register(context.Background(), "Anna")
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When the rating environment is invalid", func() {
			env := rating.NewEnv()
			env.DrawProbability = 1
			bad := service.New(service.WithEnv(env))

			Convey("Then Start fails", func() {
				So(bad.Start(context.Background()), ShouldNotBeNil)
			})
		})
	})
}

func TestService_Players(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := started()
		defer svc.Stop(context.Background())
		ctx := context.Background()

		p, err := svc.Register(ctx, "  Anna ")
		So(err, ShouldBeNil)

		Convey("Then the player starts at the default rating", func() {
			So(p.Name, ShouldEqual, "Anna")
			So(p.Rating, ShouldResemble, rating.Rating{Mean: rating.DefaultMu, Uncertainty: rating.DefaultSigma})
		})

		Convey("When looked up by id and by name in another casing", func() {
			byID, err1 := svc.Player(ctx, service.PlayerRef{ID: p.ID})
			byName, err2 := svc.Player(ctx, service.PlayerRef{Name: "ANNA"})

			Convey("Then both resolve to the same player", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(byID.ID, ShouldEqual, p.ID)
				So(byName.ID, ShouldEqual, p.ID)
			})
		})

		Convey("When the name is reused or the reference is empty", func() {
			_, errDup := svc.Register(ctx, "anna")
			_, errRef := svc.Player(ctx, service.PlayerRef{})
			_, errMissing := svc.Player(ctx, service.PlayerRef{Name: "Bas"})

			Convey("Then the errors carry their kinds", func() {
				So(errors.Is(errDup, model.ErrDuplicateName), ShouldBeTrue)
				So(errors.Is(errRef, rating.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(errMissing, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given four fresh players", t, func() {
		rec := &recorder{}
		svc := started(service.WithNotifier(rec))
		defer svc.Stop(context.Background())
		ctx := context.Background()
		roster(svc, "Anna", "Bas", "Cor", "Dirk")

		Convey("When team A wins", func() {
			res, err := svc.Submit(ctx, byName("anna", "bas", "cor", "dirk", rating.TeamAWins, ""))
			So(err, ShouldBeNil)

			Convey("Then the four ratings move by the expected amounts", func() {
				So(res.Duplicate, ShouldBeFalse)
				So(res.Match.PostMatch[0].Mean, ShouldAlmostEqual, 28.108141, 1e-5)
				So(res.Match.PostMatch[1].Uncertainty, ShouldAlmostEqual, 7.773986, 1e-5)
				So(res.Match.PostMatch[2].Mean, ShouldAlmostEqual, 21.891859, 1e-5)

				dirk, err := svc.Player(ctx, service.PlayerRef{Name: "Dirk"})
				So(err, ShouldBeNil)
				So(dirk.Rating, ShouldResemble, res.Match.PostMatch[3])
				So(dirk.Matches, ShouldEqual, 1)
			})

			Convey("Then a notification names the winners first", func() {
				So(svc.Stop(context.Background()), ShouldBeNil)
				So(rec.all(), ShouldResemble, []string{"Anna and Bas won against Cor and Dirk"})
			})
		})

		Convey("When the same player appears twice", func() {
			_, err := svc.Submit(ctx, byName("Anna", "Bas", "Cor", "anna", rating.Draw, ""))

			Convey("Then the submission is invalid and nothing is recorded", func() {
				So(errors.Is(err, rating.ErrInvalidInput), ShouldBeTrue)
				ms, _, err := svc.Matches(ctx, model.MatchFilter{})
				So(err, ShouldBeNil)
				So(ms, ShouldBeEmpty)
			})
		})

		Convey("When a player is unknown or the outcome is missing", func() {
			_, errUnknown := svc.Submit(ctx, byName("Anna", "Bas", "Cor", "Eva", rating.Draw, ""))
			_, errOutcome := svc.Submit(ctx, byName("Anna", "Bas", "Cor", "Dirk", rating.OutcomeUnknown, ""))

			Convey("Then the errors carry their kinds", func() {
				So(errors.Is(errUnknown, model.ErrNotFound), ShouldBeTrue)
				So(errors.Is(errOutcome, rating.ErrInvalidOutcome), ShouldBeTrue)
			})
		})
	})
}

func TestService_Dedupe(t *testing.T) {
	Convey("Given four players and a store reopened by a new service", t, func() {
		store := repository.NewMemoryStore()
		svc := started(service.WithStore(store))
		ctx := context.Background()
		defer svc.Stop(ctx)
		roster(svc, "Anna", "Bas", "Cor", "Dirk")
		sub := byName("Anna", "Bas", "Cor", "Dirk", rating.TeamBWins, "retry-1")

		first, err := svc.Submit(ctx, sub)
		So(err, ShouldBeNil)

		Convey("When the submission is retried", func() {
			again, err := svc.Submit(ctx, sub)

			Convey("Then the recorded match is returned and nothing changes", func() {
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
				So(again.Match.ID, ShouldEqual, first.Match.ID)
				c, err := store.Counts(ctx)
				So(err, ShouldBeNil)
				So(c.Matches, ShouldEqual, 1)
			})
		})

		Convey("When a restarted service sees the id", func() {
			So(svc.Stop(ctx), ShouldBeNil)
			svc2 := started(service.WithStore(store))
			defer svc2.Stop(ctx)
			again, err := svc2.Submit(ctx, sub)

			Convey("Then the ledger still answers it as a duplicate", func() {
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
				So(again.Match.ID, ShouldEqual, first.Match.ID)
			})
		})
	})

	Convey("Given a store that fails the first submission", t, func() {
		svc := started(service.WithStore(&flakyStore{Store: repository.NewMemoryStore()}))
		defer svc.Stop(context.Background())
		ctx := context.Background()
		roster(svc, "Anna", "Bas", "Cor", "Dirk")
		sub := byName("Anna", "Bas", "Cor", "Dirk", rating.Draw, "retry-2")

		_, err := svc.Submit(ctx, sub)
		So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)

		Convey("When the client retries with the same id", func() {
			res, err := svc.Submit(ctx, sub)

			Convey("Then the id was released and the match is recorded", func() {
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeFalse)
				So(res.Match.SubmissionID, ShouldEqual, "retry-2")
			})
		})
	})
}

func TestService_InFlight(t *testing.T) {
	Convey("Given a submission held inside the store", t, func() {
		store := &gatedStore{Store: repository.NewMemoryStore(), entered: make(chan struct{}, 1), release: make(chan struct{})}
		svc := started(service.WithStore(store))
		defer svc.Stop(context.Background())
		ctx := context.Background()
		roster(svc, "Anna", "Bas", "Cor", "Dirk")
		sub := byName("Anna", "Bas", "Cor", "Dirk", rating.TeamAWins, "held-1")

		first := make(chan error, 1)
		go func() {
			_, err := svc.Submit(ctx, sub)
			first <- err
		}()
		<-store.entered

		Convey("When the same id arrives again", func() {
			_, err := svc.Submit(ctx, sub)
			close(store.release)

			Convey("Then it is rejected as in flight and the first one lands", func() {
				So(errors.Is(err, service.ErrInFlight), ShouldBeTrue)
				So(<-first, ShouldBeNil)

				res, err := svc.Submit(ctx, sub)
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeTrue)
			})
		})
	})
}

func TestService_Matches(t *testing.T) {
	Convey("Given three recorded matches", t, func() {
		svc := started(service.WithMaxListLimit(2))
		defer svc.Stop(context.Background())
		ctx := context.Background()
		ps := roster(svc, "Anna", "Bas", "Cor", "Dirk", "Eva")
		for _, sub := range []service.Submission{
			byName("Anna", "Bas", "Cor", "Dirk", rating.TeamAWins, ""),
			byName("Eva", "Bas", "Cor", "Dirk", rating.TeamBWins, ""),
			byName("Anna", "Bas", "Cor", "Dirk", rating.Draw, ""),
		} {
			_, err := svc.Submit(ctx, sub)
			So(err, ShouldBeNil)
		}

		Convey("When listing with a limit above the maximum", func() {
			page, next, err := svc.Matches(ctx, model.MatchFilter{Limit: 50})
			So(err, ShouldBeNil)

			Convey("Then the page is clamped and carries a cursor", func() {
				So(len(page), ShouldEqual, 2)
				So(next, ShouldEqual, page[1].ID)

				rest, next2, err := svc.Matches(ctx, model.MatchFilter{After: next})
				So(err, ShouldBeNil)
				So(len(rest), ShouldEqual, 1)
				So(next2, ShouldEqual, 0)
			})
		})

		Convey("When filtering by a player", func() {
			page, _, err := svc.Matches(ctx, model.MatchFilter{PlayerID: ps[4].ID})

			Convey("Then only their matches are listed", func() {
				So(err, ShouldBeNil)
				So(len(page), ShouldEqual, 1)
				So(page[0].Involves(ps[4].ID), ShouldBeTrue)
			})
		})
	})
}

func TestService_Preview(t *testing.T) {
	Convey("Given four fresh players", t, func() {
		svc := started()
		defer svc.Stop(context.Background())
		ps := roster(svc, "Anna", "Bas", "Cor", "Dirk")

		Convey("When previewing an even pairing", func() {
			pv, err := svc.Preview(context.Background(),
				[2]service.PlayerRef{{ID: ps[0].ID}, {Name: "bas"}},
				[2]service.PlayerRef{{ID: ps[2].ID}, {ID: ps[3].ID}},
			)

			Convey("Then both teams are equally likely to win", func() {
				So(err, ShouldBeNil)
				So(pv.TeamA[1].ID, ShouldEqual, ps[1].ID)
				So(pv.Prediction.TeamAWins, ShouldAlmostEqual, pv.Prediction.TeamBWins, 1e-12)
				So(pv.Prediction.TeamAWins+pv.Prediction.TeamBWins+pv.Prediction.Draw, ShouldAlmostEqual, 1, 1e-9)
			})
		})
	})
}

func TestService_StoreTimeout(t *testing.T) {
	Convey("Given a store that never answers", t, func() {
		svc := started(
			service.WithStore(slowStore{Store: repository.NewMemoryStore()}),
			service.WithStoreTimeout(20*time.Millisecond),
		)
		defer svc.Stop(context.Background())

		Convey("When a player is looked up", func() {
			_, err := svc.Player(context.Background(), service.PlayerRef{ID: 1})

			Convey("Then the store is reported unavailable", func() {
				So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
			})
		})
	})
}
