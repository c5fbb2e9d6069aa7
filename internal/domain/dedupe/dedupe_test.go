package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/kicker/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestSubmissionLifecycle(t *testing.T) {
	Convey("Given an empty deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10))
		So(d.Size(), ShouldEqual, 0)

		Convey("When a submission id is claimed", func() {
			first := d.SeenAndRecord(ctx, "sub-1")
			again := d.SeenAndRecord(ctx, "sub-1")
			matchID, done := d.Lookup(ctx, "sub-1")

			Convey("Then only the first claim wins and the id is in flight", func() {
				So(first, ShouldBeFalse)
				So(again, ShouldBeTrue)
				So(done, ShouldBeFalse)
				So(matchID, ShouldEqual, 0)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("And the match is recorded", func() {
				d.Remember(ctx, "sub-1", 42)
				matchID, done := d.Lookup(ctx, "sub-1")

				Convey("Then lookups answer with the match id", func() {
					So(done, ShouldBeTrue)
					So(matchID, ShouldEqual, 42)
					So(d.SeenAndRecord(ctx, "sub-1"), ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the submission fails", func() {
				d.Unrecord(ctx, "sub-1")

				Convey("Then the id can be claimed again", func() {
					So(d.Size(), ShouldEqual, 0)
					So(d.SeenAndRecord(ctx, "sub-1"), ShouldBeFalse)
				})
			})
		})

		Convey("When a match is remembered without a claim", func() {
			d.Remember(ctx, "restored", 7)
			matchID, done := d.Lookup(ctx, "restored")

			Convey("Then it is stored as completed", func() {
				So(done, ShouldBeTrue)
				So(matchID, ShouldEqual, 7)
				So(d.SeenAndRecord(ctx, "restored"), ShouldBeTrue)
			})
		})

		Convey("When unknown ids are looked up or released", func() {
			_, done := d.Lookup(ctx, "nope")
			d.Unrecord(ctx, "nope")

			Convey("Then nothing changes", func() {
				So(done, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestEviction(t *testing.T) {
	Convey("Given a deduper bounded to three ids", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for i := 1; i <= 3; i++ {
			d.Remember(ctx, fmt.Sprintf("sub-%d", i), int64(i))
		}

		Convey("When a fourth id is claimed", func() {
			So(d.SeenAndRecord(ctx, "sub-4"), ShouldBeFalse)

			Convey("Then the oldest id is forgotten", func() {
				So(d.Size(), ShouldEqual, 3)
				_, done := d.Lookup(ctx, "sub-1")
				So(done, ShouldBeFalse)
				id, done := d.Lookup(ctx, "sub-3")
				So(done, ShouldBeTrue)
				So(id, ShouldEqual, 3)
			})
		})

		Convey("When a known id is remembered again", func() {
			d.Remember(ctx, "sub-1", 11)

			Convey("Then it is updated in place", func() {
				So(d.Size(), ShouldEqual, 3)
				id, _ := d.Lookup(ctx, "sub-1")
				So(id, ShouldEqual, 11)
			})
		})
	})

	Convey("Given deduper sizes that disable the bound", t, func() {
		ctx := context.Background()
		for _, size := range []int{0, -5} {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(size))
			for i := range 500 {
				d.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", i))
			}
			So(d.Size(), ShouldEqual, 500)
		}
	})

	Convey("Given a deduper with default options", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		for i := range 1000 {
			d.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", i))
		}
		So(d.Size(), ShouldEqual, 1000)
	})
}

func TestConcurrentClaims(t *testing.T) {
	Convey("Given many goroutines retrying the same submissions", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()
		const ids, callers = 20, 8

		var (
			wg  sync.WaitGroup
			won atomic.Int64
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range ids {
					if !d.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", i)) {
						won.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each id is claimed exactly once", func() {
			So(won.Load(), ShouldEqual, ids)
			So(d.Size(), ShouldEqual, ids)
		})
	})
}
