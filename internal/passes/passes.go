// Package passes finds satellite passes over a ground observer in a series of
// propagated ECEF states.
package passes

import (
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/transform"
)

// MinDuration drops passes shorter than this many seconds.
const MinDuration = 10.0

// Pass is one interval during which a satellite stays at or above the minimum
// elevation. Rise and set are interpolated between samples. A pass already in
// progress at the first sample, or still in progress at the last, is clipped
// to the sampled range.
type Pass struct {
	RiseET          float64      `json:"rise_et"`
	RiseUTC         string       `json:"rise_utc"`
	MaxET           float64      `json:"max_et"`
	MaxUTC          string       `json:"max_utc"`
	SetET           float64      `json:"set_et"`
	SetUTC          string       `json:"set_utc"`
	DurationSeconds float64      `json:"duration_seconds"`
	MaxElevation    float64      `json:"max_elevation_deg"`
	AzimuthAtMax    float64      `json:"azimuth_at_max_deg"`
	RiseAzimuth     float64      `json:"rise_azimuth_deg"`
	SetAzimuth      float64      `json:"set_azimuth_deg"`
	GroundTrack     []TrackPoint `json:"ground_track,omitempty"`
}

// TrackPoint is a sub-satellite point sampled during a pass.
type TrackPoint struct {
	ET  float64 `json:"et"`
	UTC string  `json:"utc"`
	transform.Geodetic
	ElevationDeg float64 `json:"elevation_deg"`
}

// Options tune Find.
type Options struct {
	MinElevation float64 // degrees
	MaxPasses    int     // 0 means no limit
	TrackEvery   int     // ground-track stride in samples; 0 disables the track
}

// Find scans ECEF states sampled at increasing ET and returns the passes of
// one satellite over obs. Non-finite states count as below the horizon.
func Find(obs transform.Observer, states []orbit.StateVector, opts Options) []Pass {
	looks := make([]transform.LookAngles, len(states))
	valid := make([]bool, len(states))
	for i, sv := range states {
		if sv.Finite() {
			looks[i] = obs.Look(sv)
			valid[i] = true
		}
	}
	above := func(i int) bool {
		return valid[i] && looks[i].ElevationDeg >= opts.MinElevation
	}

	s := scan{states: states, looks: looks, valid: valid, min: opts.MinElevation}

	var out []Pass
	for i := 0; i < len(states); {
		if !above(i) {
			i++
			continue
		}
		first := i
		for i < len(states) && above(i) {
			i++
		}

		p := s.pass(first, i-1, opts.TrackEvery)
		if p.DurationSeconds < MinDuration {
			continue
		}
		out = append(out, p)
		if opts.MaxPasses > 0 && len(out) == opts.MaxPasses {
			break
		}
	}
	return out
}

type scan struct {
	states []orbit.StateVector
	looks  []transform.LookAngles
	valid  []bool
	min    float64
}

func (s scan) el(i int) float64 { return s.looks[i].ElevationDeg }
func (s scan) et(i int) float64 { return s.states[i].ET }

// cross interpolates the time elevation passes s.min between samples i and j.
func (s scan) cross(i, j int) float64 {
	f := (s.min - s.el(i)) / (s.el(j) - s.el(i))
	return s.et(i) + f*(s.et(j)-s.et(i))
}

// pass builds the pass spanning samples first..last, all above s.min.
func (s scan) pass(first, last, trackEvery int) Pass {
	rise := s.et(first)
	if first > 0 && s.valid[first-1] {
		rise = s.cross(first-1, first)
	}
	set := s.et(last)
	if last+1 < len(s.states) && s.valid[last+1] {
		set = s.cross(last+1, last)
	}

	peak := first
	for k := first + 1; k <= last; k++ {
		if s.el(k) > s.el(peak) {
			peak = k
		}
	}
	maxET, maxEl := s.et(peak), s.el(peak)

	// Parabolic refinement through the samples around the peak.
	if peak > 0 && peak+1 < len(s.states) && s.valid[peak-1] && s.valid[peak+1] {
		a, b, c := s.el(peak-1), s.el(peak), s.el(peak+1)
		if den := a - 2*b + c; den < 0 {
			d := 0.5 * (a - c) / den
			maxET += d * (s.et(peak+1) - s.et(peak))
			maxEl = b - 0.25*(a-c)*d
		}
	}
	maxET = min(max(maxET, rise), set)

	p := Pass{
		RiseET:          rise,
		RiseUTC:         orbit.FormatUTC(rise),
		MaxET:           maxET,
		MaxUTC:          orbit.FormatUTC(maxET),
		SetET:           set,
		SetUTC:          orbit.FormatUTC(set),
		DurationSeconds: set - rise,
		MaxElevation:    maxEl,
		AzimuthAtMax:    s.looks[peak].AzimuthDeg,
		RiseAzimuth:     s.looks[first].AzimuthDeg,
		SetAzimuth:      s.looks[last].AzimuthDeg,
	}

	if trackEvery > 0 {
		for k := first; k <= last; k += trackEvery {
			p.GroundTrack = append(p.GroundTrack, TrackPoint{
				ET:           s.et(k),
				UTC:          orbit.FormatUTC(s.et(k)),
				Geodetic:     transform.Subpoint(s.states[k]),
				ElevationDeg: s.el(k),
			})
		}
	}
	return p
}
