package reliability_test

import (
	"context"
	"testing"
	"time"

	reliability "github.com/okian/sibyl/internal/domain/reliability"
	"github.com/okian/sibyl/internal/domain/signal"
	. "github.com/smartystreets/goconvey/convey"
)

func testTriple() reliability.Triple {
	return reliability.Triple{
		Source:     signal.SourceEnrichment,
		EntityKind: signal.KindOrganization,
		Kind:       signal.DomainMatch,
	}
}

func TestWeight(t *testing.T) {
	Convey("Given the Beta posterior", t, func() {
		Convey("Then the neutral prior means 0.5", func() {
			So(reliability.NewWeight().Mean(), ShouldEqual, 0.5)
		})

		Convey("Then acceptances pull the mean up and rejections down", func() {
			accepted := reliability.Weight{Alpha: 9, Beta: 1}
			rejected := reliability.Weight{Alpha: 1, Beta: 9}
			So(accepted.Mean(), ShouldAlmostEqual, 0.9, 1e-12)
			So(rejected.Mean(), ShouldAlmostEqual, 0.1, 1e-12)
		})
	})
}

func TestPriorFor(t *testing.T) {
	Convey("Given cold-start priors", t, func() {
		Convey("Then heuristic producers start neutral", func() {
			So(reliability.PriorFor(testTriple()), ShouldResemble, reliability.NewWeight())
		})

		Convey("Then user-source triples start trusted", func() {
			userTriple := reliability.Triple{
				Source:     signal.SourceUser,
				EntityKind: signal.KindOrganization,
				Kind:       signal.ExplicitLink,
			}
			w := reliability.PriorFor(userTriple)
			So(w.Mean(), ShouldBeGreaterThan, 0.98)
		})
	})
}

func TestModel(t *testing.T) {
	Convey("Given a model over a fresh store", t, func() {
		ctx := context.Background()
		store := reliability.NewMemStore()
		model := reliability.NewModel(store, reliability.WithSeed(42))
		triple := testTriple()

		Convey("When sampling an unseen triple", func() {
			Convey("Then draws stay inside [0,1]", func() {
				for i := 0; i < 100; i++ {
					v, err := model.Sample(ctx, triple)
					So(err, ShouldBeNil)
					So(v, ShouldBeGreaterThanOrEqualTo, 0)
					So(v, ShouldBeLessThanOrEqualTo, 1)
				}
			})
		})

		Convey("When a producer keeps getting rejected", func() {
			for i := 0; i < 10; i++ {
				So(model.RecordOutcome(ctx, triple, false), ShouldBeNil)
			}

			Convey("Then the posterior mean converges low", func() {
				mean, err := model.Mean(ctx, triple)
				So(err, ShouldBeNil)
				So(mean, ShouldBeLessThan, 0.2)
			})

			Convey("And an unrelated triple is untouched", func() {
				other := triple
				other.Kind = signal.AttendeeVote
				mean, err := model.Mean(ctx, other)
				So(err, ShouldBeNil)
				So(mean, ShouldEqual, 0.5)
			})
		})

		Convey("When a producer keeps getting confirmed", func() {
			for i := 0; i < 10; i++ {
				So(model.RecordOutcome(ctx, triple, true), ShouldBeNil)
			}

			Convey("Then the posterior mean converges high", func() {
				mean, err := model.Mean(ctx, triple)
				So(err, ShouldBeNil)
				So(mean, ShouldBeGreaterThan, 0.8)
			})
		})

		Convey("When sampling an untrained user-source triple", func() {
			userTriple := reliability.Triple{
				Source:     signal.SourceUser,
				EntityKind: signal.KindOrganization,
				Kind:       signal.ExplicitLink,
			}

			Convey("Then every draw reflects the trusted prior", func() {
				for i := 0; i < 200; i++ {
					v, err := model.Sample(ctx, userTriple)
					So(err, ShouldBeNil)
					So(v, ShouldBeGreaterThan, 0.85)
				}
			})

			Convey("And repeated corrections still erode the trust", func() {
				for i := 0; i < 200; i++ {
					So(model.RecordOutcome(ctx, userTriple, false), ShouldBeNil)
				}
				mean, err := model.Mean(ctx, userTriple)
				So(err, ShouldBeNil)
				So(mean, ShouldBeLessThan, 0.4)
			})
		})
	})
}

func TestMemStore(t *testing.T) {
	Convey("Given an in-memory reliability store", t, func() {
		ctx := context.Background()
		store := reliability.NewMemStore()
		triple := testTriple()

		Convey("When getting an unseen triple", func() {
			w, err := store.Get(ctx, triple)

			Convey("Then the neutral prior is created lazily", func() {
				So(err, ShouldBeNil)
				So(w.Alpha, ShouldEqual, 1)
				So(w.Beta, ShouldEqual, 1)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When getting an unseen user-source triple", func() {
			userTriple := triple
			userTriple.Source = signal.SourceUser
			userTriple.Kind = signal.ExplicitLink
			w, err := store.Get(ctx, userTriple)

			Convey("Then the trusted prior is created lazily", func() {
				So(err, ShouldBeNil)
				So(w, ShouldResemble, reliability.PriorFor(userTriple))
				So(w.Mean(), ShouldBeGreaterThan, 0.98)
			})
		})

		Convey("When updating outcomes", func() {
			w, err := store.Update(ctx, triple, true)
			So(err, ShouldBeNil)
			So(w.Alpha, ShouldEqual, 2)

			w, err = store.Update(ctx, triple, false)
			So(err, ShouldBeNil)
			So(w.Beta, ShouldEqual, 2)
			So(w.Updates, ShouldEqual, 2)
			So(w.UpdatedAt.IsZero(), ShouldBeFalse)
		})

		Convey("When sweeping stale triples", func() {
			_, err := store.Update(ctx, triple, false)
			So(err, ShouldBeNil)

			fresh := triple
			fresh.Source = signal.SourceCalendarSync
			_, err = store.Get(ctx, fresh)
			So(err, ShouldBeNil)

			removed, err := store.Sweep(ctx, time.Now().Add(time.Minute))

			Convey("Then updated-then-stale triples go and untouched priors stay", func() {
				So(err, ShouldBeNil)
				So(removed, ShouldEqual, 1)
				So(store.Count(ctx), ShouldEqual, 1)
			})
		})
	})
}
