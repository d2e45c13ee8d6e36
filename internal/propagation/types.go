package propagation

import "github.com/star/sgp4d/internal/orbit"

// EngineKind selects the theory a request is propagated with.
type EngineKind string

const (
	// EngineBatch is the vectorized simplified kernel.
	EngineBatch EngineKind = "batch"
	// EngineReference is full SGP4 from the original TLE lines.
	EngineReference EngineKind = "reference"
)

// Satellite is one input to a request. Line1 and Line2 are only needed by the
// reference engine.
type Satellite struct {
	NORADID  int
	Name     string
	Elements orbit.Elements
	Line1    string
	Line2    string
}

// Request is a unit of work handed to an execution unit.
type Request struct {
	Satellites []Satellite
	Model      string // empty means the engine's current model
	Range      orbit.TimeRange
	Engine     EngineKind
}

// Points returns the number of state vectors the request will produce.
func (r Request) Points() int {
	return len(r.Satellites) * r.Range.Steps()
}

// Derived holds the per-satellite quantities computed once per batch.
type Derived struct {
	SemiMajorAxis float64 // earth radii
	AltApogee     float64 // km
	AltPerigee    float64 // km
}

// Output is the result of one Request. States is indexed [satellite][step].
type Output struct {
	Model   string
	Backend string
	Engine  EngineKind
	States  [][]orbit.StateVector
	Derived []Derived
}
