package propagation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/star/sgp4d/internal/orbit"
)

// The reference engine runs the full SGP4/SDP4 theory of
// github.com/joshuaferrara/go-satellite against the original TLE lines.
//
// satellite.Propagate takes whole seconds and its Satellite by value, so SGP4
// error codes are not visible; failures are detected from the output.
// TLEToSat calls log.Fatal on malformed lines, hence validateTLELines.

var ErrReferenceModel = errors.New("reference engine supports only wgs72 and wgs84")

var referenceGravity = map[string]satellite.Gravity{
	"wgs72": satellite.GravityWGS72,
	"wgs84": satellite.GravityWGS84,
}

type referenceKey struct {
	line1, line2, model string
}

// referenceCache keeps initialized satellites between requests on one unit.
type referenceCache struct {
	sats map[referenceKey]satellite.Satellite
}

const maxReferenceCache = 4096

func newReferenceCache() *referenceCache {
	return &referenceCache{sats: make(map[referenceKey]satellite.Satellite)}
}

func (c *referenceCache) get(line1, line2, model string) (satellite.Satellite, error) {
	key := referenceKey{line1, line2, model}
	if sat, ok := c.sats[key]; ok {
		return sat, nil
	}

	gravity, ok := referenceGravity[model]
	if !ok {
		return satellite.Satellite{}, fmt.Errorf("%w: %q", ErrReferenceModel, model)
	}
	if err := validateTLELines(line1, line2); err != nil {
		return satellite.Satellite{}, err
	}
	sat := satellite.TLEToSat(line1, line2, gravity)
	if sat.Error != 0 {
		return satellite.Satellite{}, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}

	if len(c.sats) >= maxReferenceCache {
		c.sats = make(map[referenceKey]satellite.Satellite)
	}
	c.sats[key] = sat
	return sat, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

func (e *Engine) executeReference(ctx context.Context, req Request) (Output, error) {
	steps := req.Range.Steps()
	out := Output{
		Model:   e.model,
		Backend: "go-satellite",
		Engine:  EngineReference,
		States:  make([][]orbit.StateVector, len(req.Satellites)),
	}

	for i, s := range req.Satellites {
		if s.Line1 == "" || s.Line2 == "" {
			return Output{}, fmt.Errorf("satellite %d: reference engine needs TLE lines", i)
		}
		sat, err := e.reference.get(strings.TrimSpace(s.Line1), strings.TrimSpace(s.Line2), e.model)
		if err != nil {
			return Output{}, fmt.Errorf("satellite %d: %w", i, err)
		}

		series := make([]orbit.StateVector, steps)
		for t := 0; t < steps; t++ {
			if t%256 == 0 {
				if err := ctx.Err(); err != nil {
					return Output{}, err
				}
			}
			et := req.Range.At(t)
			ts := orbit.TimeFromET(et)
			pos, vel := satellite.Propagate(sat, ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute(), ts.Second())

			sv := orbit.StateVector{
				ET:       et,
				Position: [3]float64{pos.X, pos.Y, pos.Z},
				Velocity: [3]float64{vel.X, vel.Y, vel.Z},
			}
			if !sv.Finite() {
				return Output{}, fmt.Errorf("satellite %d: sgp4 output is NaN/Inf at %s", i, orbit.FormatUTC(et))
			}
			mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
			if mag < 6200.0 || mag > 500000.0 {
				return Output{}, fmt.Errorf("satellite %d: unreasonable position magnitude %.1f km", i, mag)
			}
			series[t] = sv
		}
		out.States[i] = series
	}
	return out, nil
}
