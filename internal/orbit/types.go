// Package orbit defines the value types exchanged between the propagation
// core and its collaborators: mean orbital elements, state vectors, and the
// epoch-seconds time axis they share.
package orbit

import (
	"errors"
	"fmt"
	"math"
)

// Elements is one satellite's mean element set at one epoch.
// Angles are radians, mean motion is radians/minute, Epoch is seconds past J2000.
// Values are produced by a parser and never edited in place.
type Elements struct {
	NDot  float64 // first derivative of mean motion / 2 (rad/min^2)
	NDDot float64 // second derivative of mean motion / 6 (rad/min^3)
	BStar float64 // drag term (1/earth radii)
	Incl  float64 // inclination
	RAAN  float64 // right ascension of ascending node
	Ecc   float64 // eccentricity
	ArgP  float64 // argument of perigee
	M     float64 // mean anomaly
	N     float64 // mean motion
	Epoch float64 // epoch (ET seconds)
}

// ErrInvalidElements is wrapped by every Validate failure.
var ErrInvalidElements = errors.New("invalid orbital elements")

// Validate checks the invariants the propagator relies on.
func (e Elements) Validate() error {
	for i, v := range e.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: field %s is not finite", ErrInvalidElements, fieldNames[i])
		}
	}
	if e.Ecc < 0 || e.Ecc >= 1 {
		return fmt.Errorf("%w: eccentricity %g outside [0, 1)", ErrInvalidElements, e.Ecc)
	}
	if e.N <= 0 {
		return fmt.Errorf("%w: mean motion %g must be positive", ErrInvalidElements, e.N)
	}
	return nil
}

var fieldNames = [10]string{"ndot", "nddot", "bstar", "incl", "raan", "ecc", "argp", "m", "n", "epoch"}

// Array returns the elements in CSPICE getelm order.
func (e Elements) Array() [10]float64 {
	return [10]float64{e.NDot, e.NDDot, e.BStar, e.Incl, e.RAAN, e.Ecc, e.ArgP, e.M, e.N, e.Epoch}
}

// FromArray is the inverse of Array.
func FromArray(a [10]float64) Elements {
	return Elements{
		NDot:  a[0],
		NDDot: a[1],
		BStar: a[2],
		Incl:  a[3],
		RAAN:  a[4],
		Ecc:   a[5],
		ArgP:  a[6],
		M:     a[7],
		N:     a[8],
		Epoch: a[9],
	}
}

// StateVector is a propagated position (km) and velocity (km/s) at ET.
type StateVector struct {
	ET       float64
	Position [3]float64
	Velocity [3]float64
}

// Finite reports whether every component is a finite number.
func (s StateVector) Finite() bool {
	for i := 0; i < 3; i++ {
		if math.IsNaN(s.Position[i]) || math.IsInf(s.Position[i], 0) ||
			math.IsNaN(s.Velocity[i]) || math.IsInf(s.Velocity[i], 0) {
			return false
		}
	}
	return true
}

// TimeRange is an evenly spaced span on the ET axis. Step is in seconds.
type TimeRange struct {
	Start float64
	End   float64
	Step  float64
}

// Single returns the degenerate range holding exactly one instant.
func Single(et float64) TimeRange {
	return TimeRange{Start: et, End: et}
}

// Steps returns floor((End-Start)/Step)+1, or 1 when the range is a single
// instant or the step is not positive.
func (r TimeRange) Steps() int {
	if r.Step <= 0 || r.End <= r.Start {
		return 1
	}
	return int(math.Floor((r.End-r.Start)/r.Step)) + 1
}

// At returns the i-th timestamp. Computed from Start, not accumulated.
func (r TimeRange) At(i int) float64 {
	return r.Start + float64(i)*r.Step
}
