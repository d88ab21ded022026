// Package testutil provides shared test infrastructure for the simulator's
// sub-package tests: bounded stepping of hand-driven loops and float
// comparisons.
package testutil

import (
	"math"
	"testing"
)

// StepUntil calls step until done reports true, failing the test if step
// errors or done is still false after maxSteps calls. Returns the number of
// steps taken.
func StepUntil(t *testing.T, maxSteps int, step func() error, done func() bool) int {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		if done() {
			return i
		}
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if !done() {
		t.Fatalf("condition not reached after %d steps", maxSteps)
	}
	return maxSteps
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
