// Package schedule computes learning-rate multipliers from the step count.
package schedule

import "math"

// DefaultCycles makes the cosine fall from 1 to 0 exactly once over the
// decay phase.
const DefaultCycles = 0.5

// Multiplier returns the learning-rate multiplier for step.
//
// During warmup it rises linearly from 0 to 1. Afterwards it follows a
// cosine from 1 down to 0 over the remaining total-warmup steps:
//
//	step < warmup: step / max(1, warmup)
//	otherwise:     max(0, 0.5 * (1 + cos(pi * cycles * 2 * progress)))
//	progress = (step - warmup) / max(1, total - warmup)
//
// The base learning rate is the caller's concern.
func Multiplier(step, warmup, total int, cycles float64) float64 {
	if step < warmup {
		return float64(step) / float64(max(1, warmup))
	}
	progress := float64(step-warmup) / float64(max(1, total-warmup))
	return math.Max(0, 0.5*(1+math.Cos(math.Pi*cycles*2*progress)))
}

// CosineWithWarmup bundles the schedule parameters.
type CosineWithWarmup struct {
	Warmup int
	Total  int
	Cycles float64
}

// New returns a schedule with DefaultCycles.
func New(warmup, total int) CosineWithWarmup {
	return CosineWithWarmup{Warmup: warmup, Total: total, Cycles: DefaultCycles}
}

// At returns the multiplier for step.
func (s CosineWithWarmup) At(step int) float64 {
	return Multiplier(step, s.Warmup, s.Total, s.Cycles)
}
