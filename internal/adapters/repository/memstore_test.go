package repository_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/sibyl/internal/adapters/repository"
	"github.com/okian/sibyl/internal/domain/signal"
	. "github.com/smartystreets/goconvey/convey"
)

func mkSignal(subject, entity string, kind signal.Kind, source signal.Source, conf float64) signal.Signal {
	s, err := signal.New(subject, entity, signal.KindOrganization, kind, source, conf, time.Now())
	So(err, ShouldBeNil)
	return s
}

func TestMemStore_Append(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		Convey("When appending a fresh signal", func() {
			s := mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.5)
			superseded, err := store.Append(ctx, s)

			Convey("Then nothing is superseded", func() {
				So(err, ShouldBeNil)
				So(superseded, ShouldBeEmpty)
				So(store.Count(ctx), ShouldEqual, 1)
			})

			Convey("And it can be read back by id", func() {
				got, err := store.Get(ctx, s.ID)
				So(err, ShouldBeNil)
				So(got.EntityID, ShouldEqual, "acme")
			})
		})

		Convey("When re-ingesting the same fact with new confidence", func() {
			old := mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.5)
			_, err := store.Append(ctx, old)
			So(err, ShouldBeNil)

			newer := mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.9)
			superseded, err := store.Append(ctx, newer)

			Convey("Then the older signal is superseded, not duplicated", func() {
				So(err, ShouldBeNil)
				So(superseded, ShouldEqual, old.ID)
				So(store.Count(ctx), ShouldEqual, 1)
			})

			Convey("And live reads exclude it while audit reads keep it", func() {
				live, err := store.BySubject(ctx, "meeting-1")
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 1)
				So(live[0].ID, ShouldEqual, newer.ID)

				audit, err := store.Get(ctx, old.ID)
				So(err, ShouldBeNil)
				So(audit.SupersededBy, ShouldEqual, newer.ID)
			})
		})

		Convey("When signals differ in any identity dimension", func() {
			_, err := store.Append(ctx, mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.5))
			So(err, ShouldBeNil)
			_, err = store.Append(ctx, mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceMailSync, 0.5))
			So(err, ShouldBeNil)
			_, err = store.Append(ctx, mkSignal("meeting-1", "globex", signal.DomainMatch, signal.SourceCalendarSync, 0.5))
			So(err, ShouldBeNil)

			Convey("Then they coexist as separate slots", func() {
				live, err := store.BySubject(ctx, "meeting-1")
				So(err, ShouldBeNil)
				So(live, ShouldHaveLength, 3)
				So(store.Count(ctx), ShouldEqual, 3)
			})
		})

		Convey("When appending an invalid signal", func() {
			bad := signal.Signal{ID: "x", SubjectID: "meeting-1"}
			_, err := store.Append(ctx, bad)

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
				So(store.Count(ctx), ShouldEqual, 0)
			})
		})
	})
}

func TestMemStore_Snapshot(t *testing.T) {
	Convey("Given a store with one live signal", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()
		s := mkSignal("meeting-1", "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.5)
		_, err := store.Append(ctx, s)
		So(err, ShouldBeNil)

		Convey("When a snapshot is taken before a concurrent append", func() {
			snap, err := store.BySubject(ctx, "meeting-1")
			So(err, ShouldBeNil)

			_, err = store.Append(ctx, mkSignal("meeting-1", "acme", signal.KeywordMatch, signal.SourceMailSync, 0.6))
			So(err, ShouldBeNil)

			Convey("Then the snapshot is unaffected", func() {
				So(snap, ShouldHaveLength, 1)
			})
		})
	})
}

func TestMemStore_Subjects(t *testing.T) {
	Convey("Given signals across subjects and shards", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(repository.WithShardCount(4))

		for i := 0; i < 20; i++ {
			subject := fmt.Sprintf("meeting-%d", i)
			_, err := store.Append(ctx, mkSignal(subject, "acme", signal.DomainMatch, signal.SourceCalendarSync, 0.5))
			So(err, ShouldBeNil)
		}

		Convey("Then all subjects are listed", func() {
			subjects, err := store.Subjects(ctx)
			So(err, ShouldBeNil)
			So(subjects, ShouldHaveLength, 20)
		})
	})
}

func TestMemStore_Concurrent(t *testing.T) {
	Convey("Given concurrent appends to distinct subjects", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				subject := fmt.Sprintf("meeting-%d", n)
				s, err := signal.New(subject, "acme", signal.KindOrganization, signal.DomainMatch, signal.SourceCalendarSync, 0.5, time.Now())
				if err != nil {
					return
				}
				_, _ = store.Append(ctx, s)
			}(i)
		}
		wg.Wait()

		Convey("Then every append lands exactly once", func() {
			So(store.Count(ctx), ShouldEqual, 50)
		})
	})
}
