package executor

import (
	"time"

	"github.com/wesleyorama2/loadtest/internal/loadtest/metrics"
)

// StagesDuration returns the sum of all stage durations.
func StagesDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// StageAt returns the index of the stage active at elapsed, or
// len(stages) once every stage has ended. Zero-length stages are never
// active.
func StageAt(stages []Stage, elapsed time.Duration) int {
	var end time.Duration
	for i, s := range stages {
		end += s.Duration
		if elapsed < end {
			return i
		}
	}
	return len(stages)
}

// TargetAt returns the VU count the ramp calls for at elapsed, rounded to
// the nearest integer. Past the last stage it returns the last target.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}

	var start time.Duration
	prev := 0
	for _, s := range stages {
		end := start + s.Duration
		if elapsed < end {
			progress := float64(elapsed-start) / float64(s.Duration)
			return int(float64(prev) + float64(s.Target-prev)*progress + 0.5)
		}
		prev = s.Target
		start = end
	}
	return prev
}

// PhaseAt derives the load phase from the stage cursor alone.
func PhaseAt(stages []Stage, elapsed time.Duration) metrics.Phase {
	if elapsed < 0 {
		return metrics.PhaseInit
	}

	idx := StageAt(stages, elapsed)
	if idx >= len(stages) {
		return metrics.PhaseStopped
	}

	prev := 0
	if idx > 0 {
		prev = stages[idx-1].Target
	}

	switch target := stages[idx].Target; {
	case target > prev:
		return metrics.PhaseRampingUp
	case target < prev:
		return metrics.PhaseRampingDown
	default:
		return metrics.PhaseHolding
	}
}
