package propagate_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/sibyl/internal/domain/signal"
	"github.com/okian/sibyl/internal/propagate"
	. "github.com/smartystreets/goconvey/convey"
)

func origin(entity string, conf float64) signal.Signal {
	s, _ := signal.New("meeting-1", entity, signal.KindOrganization, signal.ExplicitLink, signal.SourceUser, conf, time.Now())
	return s
}

func TestEngine_Derive(t *testing.T) {
	Convey("Given a graph with one decision-authority edge", t, func() {
		ctx := context.Background()
		graph := propagate.NewMemGraph()
		graph.Link("acme", propagate.Edge{To: "onboarding", ToKind: signal.KindWorkstream, Type: propagate.EdgeDecisionAuthority})
		engine := propagate.New(graph)

		Convey("When a strong resolution derives", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.9)

			Convey("Then one attenuated signal spills to the neighbor", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 1)
				d := out[0]
				So(d.SubjectID, ShouldEqual, "meeting-1")
				So(d.EntityID, ShouldEqual, "onboarding")
				So(d.EntityKind, ShouldEqual, signal.KindWorkstream)
				So(d.Source.Derived(), ShouldBeTrue)
				// raw 0.9 x attenuation 0.4 x multiplier 1.2
				So(d.RawConfidence, ShouldAlmostEqual, 0.432, 1e-9)
			})
		})

		Convey("When the fused confidence is below the threshold", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.6)

			Convey("Then nothing propagates", func() {
				So(err, ShouldBeNil)
				So(out, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a relationship cycle a -> b -> c -> a", t, func() {
		ctx := context.Background()
		graph := propagate.NewMemGraph()
		graph.Link("a", propagate.Edge{To: "b", ToKind: signal.KindOrganization, Type: propagate.EdgeParent})
		graph.Link("b", propagate.Edge{To: "c", ToKind: signal.KindOrganization, Type: propagate.EdgeParent})
		graph.Link("c", propagate.Edge{To: "a", ToKind: signal.KindOrganization, Type: propagate.EdgeParent})
		engine := propagate.New(graph)

		Convey("When propagation starts at a", func() {
			first, err := engine.Derive(ctx, origin("a", 0.9), 0.9)
			So(err, ShouldBeNil)
			So(first, ShouldHaveLength, 1)
			So(first[0].EntityID, ShouldEqual, "b")

			Convey("Then the derived signal never propagates a second hop", func() {
				second, err := engine.Derive(ctx, first[0], 0.99)
				So(err, ShouldBeNil)
				So(second, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a weak loosely-collaborates edge", t, func() {
		ctx := context.Background()
		graph := propagate.NewMemGraph()
		graph.Link("acme", propagate.Edge{To: "misc-guild", ToKind: signal.KindOrganization, Type: propagate.EdgeLooseCollaborates})
		engine := propagate.New(graph)

		Convey("When the resolution clears the general threshold but not the edge floor", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.7)

			Convey("Then the weak edge is skipped", func() {
				So(err, ShouldBeNil)
				So(out, ShouldBeEmpty)
			})
		})

		Convey("When the resolution clears the edge floor", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.85)

			Convey("Then the edge propagates at its reduced multiplier", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 1)
				// raw 0.9 x attenuation 0.4 x multiplier 0.5
				So(out[0].RawConfidence, ShouldAlmostEqual, 0.18, 1e-9)
			})
		})
	})

	Convey("Given more neighbors than fan-out budget", t, func() {
		ctx := context.Background()
		graph := propagate.NewMemGraph()
		graph.Link("acme", propagate.Edge{To: "w1", ToKind: signal.KindWorkstream, Type: propagate.EdgeMember})
		graph.Link("acme", propagate.Edge{To: "w2", ToKind: signal.KindWorkstream, Type: propagate.EdgeMember})
		graph.Link("acme", propagate.Edge{To: "w3", ToKind: signal.KindWorkstream, Type: propagate.EdgeMember})
		engine := propagate.New(graph, propagate.WithMaxFanout(2))

		Convey("When deriving", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.9)

			Convey("Then excess neighbors are dropped, not errored", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 2)
			})

			Convey("And a fresh budget window restores capacity", func() {
				engine.ResetBudget()
				again, err := engine.Derive(ctx, origin("acme", 0.9), 0.9)
				So(err, ShouldBeNil)
				So(again, ShouldHaveLength, 2)
			})
		})
	})

	Convey("Given custom multipliers and threshold", t, func() {
		ctx := context.Background()
		graph := propagate.NewMemGraph()
		graph.Link("acme", propagate.Edge{To: "w1", ToKind: signal.KindWorkstream, Type: propagate.EdgeBlocker})
		engine := propagate.New(graph,
			propagate.WithThreshold(0.5),
			propagate.WithAttenuation(0.5),
			propagate.WithMultiplier(propagate.EdgeBlocker, 2.5),
		)

		Convey("When the boosted product exceeds one", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.55)

			Convey("Then the derived confidence is capped at one", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 1)
				So(out[0].RawConfidence, ShouldEqual, 1.0)
			})
		})
	})

	Convey("Given an entity with no neighbors", t, func() {
		ctx := context.Background()
		engine := propagate.New(propagate.NewMemGraph())

		Convey("When deriving", func() {
			out, err := engine.Derive(ctx, origin("acme", 0.9), 0.95)

			Convey("Then nothing propagates and nothing errs", func() {
				So(err, ShouldBeNil)
				So(out, ShouldBeEmpty)
			})
		})
	})
}
