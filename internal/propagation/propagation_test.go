package propagation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gonum/floats"
	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/orbit"
)

// ISS TLE with epoch 2024-01-15T12:00:00Z (ET 758592000).
const (
	issLine1 = "1 25544U 98067A   24015.50000000  .00016717  00000-0  10270-3 0  9026"
	issLine2 = "2 25544  51.6400 208.9163 0006703  30.0825 330.0579 15.49560830    10"
	issEpoch = 758592000.0
)

const deg = math.Pi / 180

func issElements() orbit.Elements {
	return orbit.Elements{
		NDot:  0.00016717 * 2 * math.Pi / (1440 * 1440),
		BStar: 0.10270e-3,
		Incl:  51.6400 * deg,
		RAAN:  208.9163 * deg,
		Ecc:   0.0006703,
		ArgP:  30.0825 * deg,
		M:     330.0579 * deg,
		N:     15.49560830 * 2 * math.Pi / 1440,
		Epoch: issEpoch,
	}
}

// mixedElements returns n distinct LEO-to-MEO element sets sharing one epoch.
func mixedElements(n int) []orbit.Elements {
	out := make([]orbit.Elements, n)
	for i := range out {
		e := issElements()
		e.Incl = float64(10+i*7%160) * deg
		e.RAAN = float64(i*37%360) * deg
		e.Ecc = 0.0005 + 0.02*float64(i%10)
		e.ArgP = float64(i*53%360) * deg
		e.M = float64(i*91%360) * deg
		e.N = (12 + float64(i%5)) * 2 * math.Pi / 1440
		out[i] = e
	}
	return out
}

func newBatch(t testing.TB, els []orbit.Elements) *batch.Batch {
	t.Helper()
	b, err := batch.Allocate(len(els))
	if err != nil {
		t.Fatalf("Allocate(%d) failed: %v", len(els), err)
	}
	for i, e := range els {
		b.Set(i, e)
	}
	return b
}

func TestSolveKeplerResidual(t *testing.T) {
	for e := 0.0; e <= 0.25+1e-12; e += 0.01 {
		for m := 0.0; m < 2*math.Pi; m += 0.05 {
			E := SolveKepler(m, e)
			if r := math.Abs(E - e*math.Sin(E) - m); r > 1e-8 {
				t.Fatalf("residual %.3e at e=%.2f M=%.2f", r, e, m)
			}
		}
	}
}

func TestSolveKeplerCircular(t *testing.T) {
	if got := SolveKepler(1.234, 0); got != 1.234 {
		t.Errorf("SolveKepler(M, 0) = %v, want M", got)
	}
}

// TestPropagateISS checks the magnitude of position and velocity for a LEO
// satellite at several offsets from epoch.
func TestPropagateISS(t *testing.T) {
	b := newBatch(t, []orbit.Elements{issElements()})
	defer b.Release()
	res, err := batch.AllocateResult(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	for _, tsince := range []float64{0, 10, 92.7, 360, 1440} {
		PropagateStep(b, tsince, geophys.WGS72, res.Step(0))
		sv, ok := res.At(0, 0)
		if !ok {
			t.Fatal("At(0, 0) reported false")
		}
		r := floats.Norm(sv.Position[:], 2)
		v := floats.Norm(sv.Velocity[:], 2)
		if r < 6400 || r > 6900 {
			t.Errorf("tsince=%.1f: |r| = %.1f km, want ~6790", tsince, r)
		}
		if v < 7 || v > 8 {
			t.Errorf("tsince=%.1f: |v| = %.3f km/s, want ~7.66", tsince, v)
		}
		// Velocity is perpendicular to position for a near-circular orbit.
		dot := sv.Position[0]*sv.Velocity[0] + sv.Position[1]*sv.Velocity[1] + sv.Position[2]*sv.Velocity[2]
		if math.Abs(dot/(r*v)) > 0.01 {
			t.Errorf("tsince=%.1f: flight path angle too large (cos=%.4f)", tsince, dot/(r*v))
		}
	}
}

func TestPropagateDeterministic(t *testing.T) {
	els := mixedElements(13)
	b := newBatch(t, els)
	defer b.Release()

	first, _ := batch.AllocateResult(len(els), 1)
	second, _ := batch.AllocateResult(len(els), 1)

	PropagateStep(b, 123.4, geophys.WGS84, first.Step(0))
	PropagateStep(b, 123.4, geophys.WGS84, second.Step(0))

	for i := range els {
		a, _ := first.At(0, i)
		c, _ := second.At(0, i)
		if a != c {
			t.Errorf("satellite %d: repeated propagation differs: %+v vs %+v", i, a, c)
		}
	}
}

// TestLaneScalarEquivalence runs the same batch through every lane width
// and checks the results agree to nine significant digits.
func TestLaneScalarEquivalence(t *testing.T) {
	els := mixedElements(11) // not a multiple of 2 or 4, so every path runs
	b := newBatch(t, els)
	defer b.Release()

	scalar, _ := batch.AllocateResult(len(els), 1)
	propagateStepWidth(b, 47.5, geophys.WGS72, scalar.Step(0), 1)

	for _, w := range []int{2, 4} {
		lanes, _ := batch.AllocateResult(len(els), 1)
		propagateStepWidth(b, 47.5, geophys.WGS72, lanes.Step(0), w)

		for i := range els {
			want, _ := scalar.At(0, i)
			got, _ := lanes.At(0, i)
			for k := 0; k < 3; k++ {
				if !floats.EqualWithinRel(got.Position[k], want.Position[k], 1e-9) {
					t.Errorf("w=%d sat %d pos[%d]: %.12g vs %.12g", w, i, k, got.Position[k], want.Position[k])
				}
				if !floats.EqualWithinRel(got.Velocity[k], want.Velocity[k], 1e-9) {
					t.Errorf("w=%d sat %d vel[%d]: %.12g vs %.12g", w, i, k, got.Velocity[k], want.Velocity[k])
				}
			}
		}
	}
}

func TestPropagateStepCounters(t *testing.T) {
	ResetStats()
	b := newBatch(t, mixedElements(11))
	defer b.Release()
	res, _ := batch.AllocateResult(11, 1)

	propagateStepWidth(b, 0, geophys.WGS72, res.Step(0), 4)

	s := KernelStats()
	if s.LaneGroups != 2 || s.LaneSatellites != 8 || s.ScalarSatellites != 3 || s.Steps != 1 {
		t.Errorf("stats = %+v, want 2 groups, 8 lane sats, 3 scalar, 1 step", s)
	}
	if r := s.LaneRatio(); !floats.EqualWithinAbs(r, 8.0/11.0, 1e-12) {
		t.Errorf("LaneRatio = %f", r)
	}
}

func TestPaddingUntouched(t *testing.T) {
	b := newBatch(t, mixedElements(3))
	defer b.Release()
	res, _ := batch.AllocateResult(3, 1)

	PropagateStep(b, 10, geophys.WGS72, res.Step(0))

	for i := 3; i < res.Capacity; i++ {
		if res.X[i] != 0 || res.VZ[i] != 0 {
			t.Errorf("padding lane %d written: x=%v vz=%v", i, res.X[i], res.VZ[i])
		}
	}
}

func TestPropagateRangeOffsets(t *testing.T) {
	els := mixedElements(5)
	b := newBatch(t, els)
	defer b.Release()

	const steps = 6
	const stepSec = 30.0
	res, err := batch.AllocateResult(len(els), steps)
	if err != nil {
		t.Fatal(err)
	}
	PropagateRange(b, 2.0, stepSec, steps, geophys.WGS72, res)

	single, _ := batch.AllocateResult(len(els), 1)
	for step := 0; step < steps; step++ {
		PropagateStep(b, 2.0+float64(step)*stepSec/60, geophys.WGS72, single.Step(0))
		for i := range els {
			got, _ := res.At(step, i)
			want, _ := single.At(0, i)
			if got != want {
				t.Errorf("step %d sat %d: range %+v, single %+v", step, i, got, want)
			}
		}
	}
}

func TestNonFiniteInputPropagates(t *testing.T) {
	e := issElements()
	e.Ecc = math.NaN()
	b := newBatch(t, []orbit.Elements{e})
	defer b.Release()
	res, _ := batch.AllocateResult(1, 1)

	PropagateStep(b, 0, geophys.WGS72, res.Step(0))
	sv, _ := res.At(0, 0)
	if sv.Finite() {
		t.Errorf("expected non-finite output for NaN eccentricity, got %+v", sv)
	}
}

func TestDerive(t *testing.T) {
	b := newBatch(t, []orbit.Elements{issElements()})
	defer b.Release()

	Derive(b, geophys.WGS72)

	if b.A[0] < 1.05 || b.A[0] > 1.08 {
		t.Errorf("semi-major axis = %f earth radii", b.A[0])
	}
	if b.AltPerigee[0] < 350 || b.AltPerigee[0] > 480 {
		t.Errorf("perigee altitude = %.1f km", b.AltPerigee[0])
	}
	if b.AltApogee[0] <= b.AltPerigee[0] {
		t.Errorf("apogee %.1f <= perigee %.1f", b.AltApogee[0], b.AltPerigee[0])
	}
}

func TestEngineExecute(t *testing.T) {
	eng, err := NewEngine(geophys.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	req := Request{
		Satellites: []Satellite{{NORADID: 25544, Elements: issElements()}},
		Range:      orbit.TimeRange{Start: issEpoch, End: issEpoch + 600, Step: 60},
	}
	out, err := eng.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if out.Model != "wgs72" || out.Engine != EngineBatch {
		t.Errorf("output model=%q engine=%q", out.Model, out.Engine)
	}
	if len(out.States) != 1 || len(out.States[0]) != 11 {
		t.Fatalf("states shape = %d x %d, want 1 x 11", len(out.States), len(out.States[0]))
	}
	for i, sv := range out.States[0] {
		if want := issEpoch + float64(i)*60; sv.ET != want {
			t.Errorf("state %d ET = %f, want %f", i, sv.ET, want)
		}
	}
	if out.Derived[0].AltPerigee <= 0 {
		t.Errorf("derived perigee = %f", out.Derived[0].AltPerigee)
	}
}

func TestEngineModelSwitch(t *testing.T) {
	eng, _ := NewEngine(nil)

	req := Request{
		Satellites: []Satellite{{Elements: issElements()}},
		Range:      orbit.Single(issEpoch + 300),
	}
	o72, err := eng.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	req.Model = "wgs84"
	o84, err := eng.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if eng.Model() != "wgs84" || eng.Constants() != geophys.WGS84 {
		t.Errorf("engine model = %s", eng.Model())
	}
	if o72.States[0][0] == o84.States[0][0] {
		t.Error("wgs72 and wgs84 produced identical states")
	}

	req.Model = "wgs99"
	if _, err := eng.Execute(context.Background(), req); !errors.Is(err, geophys.ErrUnknownModel) {
		t.Errorf("unknown model error = %v", err)
	}
	if eng.Model() != "wgs84" {
		t.Errorf("failed SetModel changed model to %s", eng.Model())
	}
	if !errors.Is(eng.LastError(), geophys.ErrUnknownModel) {
		t.Errorf("LastError = %v", eng.LastError())
	}
}

func TestEngineRejects(t *testing.T) {
	eng, _ := NewEngine(nil)
	ctx := context.Background()

	other := issElements()
	other.Epoch += 86400
	bad := issElements()
	bad.Ecc = 1.5

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"no satellites", Request{}, ErrNoSatellites},
		{"mixed epochs", Request{Satellites: []Satellite{{Elements: issElements()}, {Elements: other}}}, ErrMixedEpochs},
		{"invalid elements", Request{Satellites: []Satellite{{Elements: bad}}}, orbit.ErrInvalidElements},
		{"unknown engine", Request{Satellites: []Satellite{{Elements: issElements()}}, Engine: "warp"}, ErrUnknownKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Execute(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Execute() = %v, want %v", err, tt.want)
			}
		})
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := eng.Execute(cctx, Request{Satellites: []Satellite{{Elements: issElements()}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled Execute() = %v", err)
	}
}

// TestReferenceAgreement compares the simplified kernel with full SGP4 near
// epoch, where the omitted periodic terms stay small.
func TestReferenceAgreement(t *testing.T) {
	eng, _ := NewEngine(nil)
	sat := Satellite{NORADID: 25544, Elements: issElements(), Line1: issLine1, Line2: issLine2}
	rng := orbit.TimeRange{Start: issEpoch, End: issEpoch + 300, Step: 60}

	fast, err := eng.Execute(context.Background(), Request{Satellites: []Satellite{sat}, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	ref, err := eng.Execute(context.Background(), Request{Satellites: []Satellite{sat}, Range: rng, Engine: EngineReference})
	if err != nil {
		t.Fatalf("reference Execute failed: %v", err)
	}
	if ref.Engine != EngineReference {
		t.Errorf("engine = %s", ref.Engine)
	}

	for i := range fast.States[0] {
		a, b := fast.States[0][i], ref.States[0][i]
		var diff [3]float64
		for k := range diff {
			diff[k] = a.Position[k] - b.Position[k]
		}
		if d := floats.Norm(diff[:], 2); d > 50 {
			t.Errorf("step %d: batch and reference differ by %.1f km", i, d)
		}
	}
}

func TestReferenceRejects(t *testing.T) {
	eng, _ := NewEngine(nil)
	ctx := context.Background()

	_, err := eng.Execute(ctx, Request{
		Satellites: []Satellite{{Elements: issElements()}},
		Engine:     EngineReference,
	})
	if err == nil {
		t.Error("expected error without TLE lines")
	}

	_, err = eng.Execute(ctx, Request{
		Satellites: []Satellite{{Line1: "1 short", Line2: "2 short"}},
		Engine:     EngineReference,
	})
	if err == nil {
		t.Error("expected error for malformed TLE lines")
	}
}

func TestForceBackend(t *testing.T) {
	defer ForceBackend("auto")

	for _, name := range BackendNames() {
		if err := ForceBackend(name); err != nil {
			t.Fatalf("ForceBackend(%q) failed: %v", name, err)
		}
		if got := ActiveBackend().Name; got != name {
			t.Errorf("active backend = %s, want %s", got, name)
		}
	}
	if err := ForceBackend("avx512"); err == nil {
		t.Error("expected error for unknown backend")
	}
	if err := ForceBackend(""); err != nil || ActiveBackend() != DetectBackend() {
		t.Errorf("auto restore failed: %v", err)
	}
	if BackendName() == "" {
		t.Error("empty backend description")
	}
}

func BenchmarkPropagateStep1000(b *testing.B) {
	els := mixedElements(1000)
	bt := newBatch(b, els)
	defer bt.Release()
	res, _ := batch.AllocateResult(len(els), 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PropagateStep(bt, float64(i%1440), geophys.WGS72, res.Step(0))
	}
}

func BenchmarkPropagateStepScalar1000(b *testing.B) {
	els := mixedElements(1000)
	bt := newBatch(b, els)
	defer bt.Release()
	res, _ := batch.AllocateResult(len(els), 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		propagateStepWidth(bt, float64(i%1440), geophys.WGS72, res.Step(0), 1)
	}
}
