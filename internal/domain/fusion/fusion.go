// Package fusion combines weighted confidence estimates into one
// calibrated probability via log-odds summation.
package fusion

import "math"

// Confidence inputs are clamped into [epsilon, 1-epsilon] before the
// log-odds transform; exact 0 or 1 would produce infinities.
const epsilon = 1e-4

// Input is one signal's contribution: the producer-asserted confidence and
// the effective weight (decayed base weight times sampled reliability).
type Input struct {
	Confidence float64
	Weight     float64
}

// LogOdds returns the input's weighted log-odds contribution. A zero
// weight contributes nothing regardless of confidence.
func (in Input) LogOdds() float64 {
	c := clamp(in.Confidence)
	return in.Weight * math.Log(c/(1-c))
}

// Fuse sums the weighted log-odds of all inputs and maps the total back
// through the logistic function. The sum makes fusion order-independent:
// agreement amplifies, a balanced disagreement cancels toward 0.5, and an
// empty input set is exactly 0.5 (no evidence either way).
func Fuse(inputs []Input) float64 {
	total := 0.0
	for _, in := range inputs {
		total += in.LogOdds()
	}
	return logistic(total)
}

// Total returns the summed weighted log-odds without the logistic mapping.
// The feedback recorder uses it to measure each signal's share of a fused
// result.
func Total(inputs []Input) float64 {
	total := 0.0
	for _, in := range inputs {
		total += in.LogOdds()
	}
	return total
}

func clamp(c float64) float64 {
	if c < epsilon {
		return epsilon
	}
	if c > 1-epsilon {
		return 1 - epsilon
	}
	return c
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
