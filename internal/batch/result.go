package batch

import (
	"fmt"

	"github.com/star/sgp4d/internal/orbit"
)

// Result holds Steps blocks of Capacity states each. Entry (t, i) lives at
// t*Capacity + i in every array.
type Result struct {
	Count    int
	Capacity int
	Steps    int

	X, Y, Z    []float64
	VX, VY, VZ []float64
}

// Slice is one step's window into a Result.
type Slice struct {
	X, Y, Z    []float64
	VX, VY, VZ []float64
}

// AllocateResult returns a zero-filled result for count satellites over steps.
func AllocateResult(count, steps int) (*Result, error) {
	if count < 1 || steps < 1 {
		return nil, ErrInvalidCount
	}
	capacity := Capacity(count)
	if capacity > MaxCapacity/steps {
		return nil, fmt.Errorf("%w: %d x %d states exceeds %d", ErrAllocation, capacity, steps, MaxCapacity)
	}

	r := &Result{Count: count, Capacity: capacity, Steps: steps}
	total := capacity * steps
	for _, p := range r.arrays() {
		*p = alignedFloats(total)
	}
	return r, nil
}

func (r *Result) arrays() []*[]float64 {
	return []*[]float64{&r.X, &r.Y, &r.Z, &r.VX, &r.VY, &r.VZ}
}

// Step returns the capacity-long window for step t.
func (r *Result) Step(t int) Slice {
	lo := t * r.Capacity
	hi := lo + r.Capacity
	return Slice{
		X:  r.X[lo:hi:hi],
		Y:  r.Y[lo:hi:hi],
		Z:  r.Z[lo:hi:hi],
		VX: r.VX[lo:hi:hi],
		VY: r.VY[lo:hi:hi],
		VZ: r.VZ[lo:hi:hi],
	}
}

// At reads back satellite i at step t. Padding lanes are never returned.
// ET is left zero; callers stamp it from their time range.
func (r *Result) At(t, i int) (orbit.StateVector, bool) {
	if r == nil || r.X == nil || i < 0 || i >= r.Count || t < 0 || t >= r.Steps {
		return orbit.StateVector{}, false
	}
	k := t*r.Capacity + i
	return orbit.StateVector{
		Position: [3]float64{r.X[k], r.Y[k], r.Z[k]},
		Velocity: [3]float64{r.VX[k], r.VY[k], r.VZ[k]},
	}, true
}

// Release drops every array. Safe to call more than once.
func (r *Result) Release() {
	if r == nil {
		return
	}
	for _, p := range r.arrays() {
		*p = nil
	}
}
