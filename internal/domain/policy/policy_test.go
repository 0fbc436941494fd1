package policy_test

import (
	"testing"

	policy "github.com/okian/sibyl/internal/domain/policy"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGate_Decide(t *testing.T) {
	Convey("Given a gate with default bands", t, func() {
		gate := policy.NewGate()

		Convey("Then band lower bounds are inclusive", func() {
			So(gate.Decide(0.85), ShouldEqual, policy.AutoLink)
			So(gate.Decide(0.60), ShouldEqual, policy.AutoLinkFlagged)
			So(gate.Decide(0.30), ShouldEqual, policy.Suggest)
		})

		Convey("Then values just under a boundary fall into the band below", func() {
			So(gate.Decide(0.849999), ShouldEqual, policy.AutoLinkFlagged)
			So(gate.Decide(0.599999), ShouldEqual, policy.Suggest)
			So(gate.Decide(0.299999), ShouldEqual, policy.Ignore)
		})

		Convey("Then the extremes map to the outer bands", func() {
			So(gate.Decide(1.0), ShouldEqual, policy.AutoLink)
			So(gate.Decide(0.0), ShouldEqual, policy.Ignore)
		})
	})

	Convey("Given custom thresholds", t, func() {
		gate := policy.NewGate(policy.WithThresholds(0.9, 0.7, 0.4))

		Convey("Then decisions follow the configured bands", func() {
			So(gate.Decide(0.85), ShouldEqual, policy.AutoLinkFlagged)
			So(gate.Decide(0.9), ShouldEqual, policy.AutoLink)
			So(gate.Decide(0.39), ShouldEqual, policy.Ignore)
		})

		Convey("And the auto-link boundary is exposed", func() {
			So(gate.AutoLinkThreshold(), ShouldEqual, 0.9)
		})
	})

	Convey("Given invalid thresholds", t, func() {
		Convey("When the bands are out of order", func() {
			gate := policy.NewGate(policy.WithThresholds(0.3, 0.6, 0.85))

			Convey("Then the defaults stay in place", func() {
				So(gate.Decide(0.85), ShouldEqual, policy.AutoLink)
				So(gate.AutoLinkThreshold(), ShouldEqual, 0.85)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given the threshold validator", t, func() {
		Convey("Then ordered bands inside [0,1] pass", func() {
			So(policy.Validate(0.85, 0.6, 0.3), ShouldBeNil)
			So(policy.Validate(1.0, 0.5, 0.0), ShouldBeNil)
		})

		Convey("Then out-of-order or out-of-range bands fail", func() {
			So(policy.Validate(0.6, 0.85, 0.3), ShouldEqual, policy.ErrInvalidThresholds)
			So(policy.Validate(0.85, 0.6, -0.1), ShouldEqual, policy.ErrInvalidThresholds)
			So(policy.Validate(1.5, 0.6, 0.3), ShouldEqual, policy.ErrInvalidThresholds)
			So(policy.Validate(0.85, 0.85, 0.3), ShouldEqual, policy.ErrInvalidThresholds)
		})
	})
}
