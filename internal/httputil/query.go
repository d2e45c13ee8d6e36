package httputil

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/star/sgp4d/internal/orbit"
)

// Defaults for time ranges given as query parameters.
const (
	DefaultHorizon = 5400.0 // seconds, about one LEO revolution
	DefaultStep    = 60.0
)

// ErrTooManyPoints is returned when a range would exceed the point budget.
var ErrTooManyPoints = errors.New("too many points requested")

// RangeFromQuery reads start, end, horizon and step from q. start and end
// accept ET seconds or UTC strings. start defaults to now and end defaults to
// start+horizon. maxSteps bounds the number of timestamps; 0 disables the check.
func RangeFromQuery(q url.Values, now time.Time, maxSteps int) (orbit.TimeRange, error) {
	r := orbit.TimeRange{Start: orbit.ETFromTime(now), Step: DefaultStep}

	if v := q.Get("start"); v != "" {
		et, err := orbit.ParseTime(v)
		if err != nil {
			return r, fmt.Errorf("invalid start: %w", err)
		}
		r.Start = et
	}

	if v := q.Get("step"); v != "" {
		step, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(step) || math.IsInf(step, 0) || step < 0 {
			return r, fmt.Errorf("invalid step %q", v)
		}
		r.Step = step
	}

	switch {
	case q.Get("end") != "":
		et, err := orbit.ParseTime(q.Get("end"))
		if err != nil {
			return r, fmt.Errorf("invalid end: %w", err)
		}
		r.End = et
	case q.Get("horizon") != "":
		h, err := strconv.ParseFloat(q.Get("horizon"), 64)
		if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
			return r, fmt.Errorf("invalid horizon %q", q.Get("horizon"))
		}
		r.End = r.Start + h
	default:
		r.End = r.Start + DefaultHorizon
	}

	return r, CheckRange(r, maxSteps)
}

// CheckRange rejects ranges that end before they start or that would produce
// more than maxSteps timestamps. The count is done in floating point so huge
// spans cannot overflow.
func CheckRange(r orbit.TimeRange, maxSteps int) error {
	if r.End < r.Start {
		return fmt.Errorf("end %v is before start %v", r.End, r.Start)
	}
	if maxSteps <= 0 || r.Step <= 0 {
		return nil
	}
	if (r.End-r.Start)/r.Step+1 > float64(maxSteps) {
		return fmt.Errorf("%w: %d timestamps allowed", ErrTooManyPoints, maxSteps)
	}
	return nil
}
