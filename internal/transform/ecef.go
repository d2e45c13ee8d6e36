// Package transform converts propagated state vectors between frames.
//
// The propagator emits TEME (True Equator Mean Equinox) vectors. ECEF is
// approximated by a rotation through GMST only (TEME → PEF), ignoring polar
// motion and the equation of the equinoxes; the error is tens of meters.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gonum/floats"

	"github.com/star/sgp4d/internal/orbit"
)

// Frame names an output reference frame.
type Frame string

const (
	FrameTEME Frame = "teme"
	FrameECEF Frame = "ecef"
)

// ErrUnknownFrame is returned by ParseFrame for unsupported names.
var ErrUnknownFrame = errors.New("unknown frame")

// ParseFrame accepts "teme" or "ecef" in any case. Empty means TEME.
func ParseFrame(s string) (Frame, error) {
	switch Frame(strings.ToLower(strings.TrimSpace(s))) {
	case "", FrameTEME:
		return FrameTEME, nil
	case FrameECEF:
		return FrameECEF, nil
	}
	return "", fmt.Errorf("%w %q (want teme or ecef)", ErrUnknownFrame, s)
}

// RotateToECEF rotates a TEME state (km, km/s) into ECEF (km, km/s) using a
// precomputed GMST angle in radians.
//
//	r_ECEF = R3(θ) r_TEME
//	v_ECEF = R3(θ) v_TEME - ω × r_ECEF
func RotateToECEF(sv orbit.StateVector, gmst float64) orbit.StateVector {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)

	p, v := sv.Position, sv.Velocity
	x := p[0]*cosG + p[1]*sinG
	y := -p[0]*sinG + p[1]*cosG

	vx := v[0]*cosG + v[1]*sinG
	vy := -v[0]*sinG + v[1]*cosG

	return orbit.StateVector{
		ET:       sv.ET,
		Position: [3]float64{x, y, p[2]},
		Velocity: [3]float64{vx + OmegaEarth*y, vy - OmegaEarth*x, v[2]},
	}
}

// ToECEF rotates sv into ECEF at its own epoch.
func ToECEF(sv orbit.StateVector) orbit.StateVector {
	return RotateToECEF(sv, GMSTAt(sv.ET))
}

// Apply converts every state in place. GMST is computed once per distinct
// timestamp, since all satellites in a request share the time grid.
func Apply(frame Frame, states [][]orbit.StateVector) {
	if frame != FrameECEF {
		return
	}
	gmst := make(map[float64]float64)
	for _, row := range states {
		for i, sv := range row {
			g, ok := gmst[sv.ET]
			if !ok {
				g = GMSTAt(sv.ET)
				gmst[sv.ET] = g
			}
			row[i] = RotateToECEF(sv, g)
		}
	}
}

// Plausible reports whether a position (km) is finite and between 6200 km
// and 50000 km from the geocenter.
func Plausible(sv orbit.StateVector) bool {
	if !sv.Finite() {
		return false
	}
	mag := floats.Norm(sv.Position[:], 2)
	return mag >= 6200 && mag <= 50000
}
