package propagation

import (
	"math"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
)

// PropagateStep advances every satellite in b to tsince minutes past epoch and
// writes the states into out. The first floor(Count/w)*w satellites go through
// the lane kernel of the active backend, the remainder through the scalar
// kernel. Non-finite inputs give non-finite outputs; nothing is reported.
func PropagateStep(b *batch.Batch, tsince float64, c geophys.Constants, out batch.Slice) {
	propagateStepWidth(b, tsince, c, out, ActiveBackend().Width)
}

func propagateStepWidth(b *batch.Batch, tsince float64, c geophys.Constants, out batch.Slice, w int) {
	if b == nil || b.Released() {
		return
	}
	if w > maxLanes {
		w = maxLanes
	}

	vectorEnd := 0
	if w > 1 {
		vectorEnd = (b.Count / w) * w
		for base := 0; base < vectorEnd; base += w {
			propagateLanes(b, base, w, tsince, c, out)
		}
		counters.laneGroups.Add(uint64(vectorEnd / w))
		counters.laneSatellites.Add(uint64(vectorEnd))
	}

	for i := vectorEnd; i < b.Count; i++ {
		propagateScalar(b, i, tsince, c, out)
	}
	counters.scalarSatellites.Add(uint64(b.Count - vectorEnd))
	counters.steps.Add(1)
}

// PropagateRange runs PropagateStep once per step. Step t uses
// tsince0 + t*stepSeconds/60 minutes and lands at offset t*Capacity of res.
func PropagateRange(b *batch.Batch, tsince0, stepSeconds float64, steps int, c geophys.Constants, res *batch.Result) {
	if steps > res.Steps {
		steps = res.Steps
	}
	for t := 0; t < steps; t++ {
		tsince := tsince0 + float64(t)*stepSeconds/secondsPerMin
		PropagateStep(b, tsince, c, res.Step(t))
	}
}

// Derive fills the batch's derived arrays: the recovered semi-major axis in
// earth radii and the apogee and perigee altitudes above RE in km.
func Derive(b *batch.Batch, c geophys.Constants) {
	if b == nil || b.Released() {
		return
	}
	for i := 0; i < b.Count; i++ {
		_, aodp := recoverMeanMotion(b.N[i], math.Cos(b.Incl[i]), b.Ecc[i], c.J2, c.KE)
		b.A[i] = aodp
		b.AltApogee[i] = (aodp*(1+b.Ecc[i]) - c.AE) * c.RE
		b.AltPerigee[i] = (aodp*(1-b.Ecc[i]) - c.AE) * c.RE
	}
}
