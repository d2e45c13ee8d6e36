package transform

import (
	"math"
	"time"

	"github.com/star/sgp4d/internal/orbit"
)

const (
	// jdJ2000 is the Julian Date at ET zero.
	jdJ2000 = 2451545.0

	secondsPerDay     = 86400.0
	daysPerCentury    = 36525.0
	twoPi             = 2 * math.Pi
	sidSecondsToRad   = twoPi / secondsPerDay
	secondsPerCentury = secondsPerDay * daysPerCentury
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts a UTC time to a Julian Date on the same leap-second-free
// axis as orbit.ETFromTime.
func JulianDate(t time.Time) float64 {
	return jdJ2000 + orbit.ETFromTime(t)/secondsPerDay
}

// GMST returns Greenwich Mean Sidereal Time in radians for a UTC time.
func GMST(t time.Time) float64 {
	return GMSTAt(orbit.ETFromTime(t))
}

// GMSTAt returns GMST in radians for an ET timestamp, using the IAU-82
// polynomial (Vallado Eq 3-47) in seconds of time:
//
//	θ = 67310.54841 + (876600h + 8640184.812866)T + 0.093104T² - 6.2e-6T³
//
// with T in Julian centuries of UT1 past J2000. UT1 is taken as UTC.
func GMSTAt(et float64) float64 {
	tu := et / secondsPerCentury

	// 876600h = 3155760000 s.
	sec := 67310.54841 + tu*((3155760000.0+8640184.812866)+tu*(0.093104+tu*-6.2e-6))

	rad := math.Mod(sec*sidSecondsToRad, twoPi)
	if rad < 0 {
		rad += twoPi
	}
	return rad
}
