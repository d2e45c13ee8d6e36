package propagation

import (
	"context"
	"errors"
	"fmt"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/orbit"
)

var (
	ErrNoSatellites = errors.New("request has no satellites")
	ErrMixedEpochs  = errors.New("satellites in one batch must share an epoch")
	ErrUnknownKind  = errors.New("unknown engine kind")
)

// Engine is the propagation state owned by one execution unit: the current
// gravity model, its constants, and the last error. It is not safe for
// concurrent use; each unit builds its own.
type Engine struct {
	registry  *geophys.Registry
	model     string
	constants geophys.Constants
	reference *referenceCache
	lastErr   error
}

// NewEngine returns an engine set to the default model.
func NewEngine(registry *geophys.Registry) (*Engine, error) {
	if registry == nil {
		registry = geophys.DefaultRegistry()
	}
	e := &Engine{registry: registry, reference: newReferenceCache()}
	if err := e.SetModel(geophys.Default); err != nil {
		return nil, err
	}
	return e, nil
}

// SetModel swaps all constants at once. On error the previous model stays.
func (e *Engine) SetModel(name string) error {
	c, err := e.registry.Lookup(name)
	if err != nil {
		e.lastErr = err
		return err
	}
	if name == "" {
		name = geophys.Default
	}
	e.model = name
	e.constants = c
	return nil
}

// Model returns the current model name.
func (e *Engine) Model() string { return e.model }

// Constants returns the current model's constants.
func (e *Engine) Constants() geophys.Constants { return e.constants }

// LastError returns the most recent failure, or nil.
func (e *Engine) LastError() error { return e.lastErr }

// Execute propagates every satellite of req over req.Range.
func (e *Engine) Execute(ctx context.Context, req Request) (Output, error) {
	out, err := e.execute(ctx, req)
	e.lastErr = err
	return out, err
}

func (e *Engine) execute(ctx context.Context, req Request) (Output, error) {
	if len(req.Satellites) == 0 {
		return Output{}, ErrNoSatellites
	}
	if req.Model != "" && req.Model != e.model {
		if err := e.SetModel(req.Model); err != nil {
			return Output{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	switch req.Engine {
	case "", EngineBatch:
		return e.executeBatch(ctx, req)
	case EngineReference:
		return e.executeReference(ctx, req)
	default:
		return Output{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Engine)
	}
}

func (e *Engine) executeBatch(ctx context.Context, req Request) (Output, error) {
	epoch := req.Satellites[0].Elements.Epoch
	for i, s := range req.Satellites {
		if err := s.Elements.Validate(); err != nil {
			return Output{}, fmt.Errorf("satellite %d: %w", i, err)
		}
		if s.Elements.Epoch != epoch {
			return Output{}, fmt.Errorf("%w: satellite %d epoch %f, first %f", ErrMixedEpochs, i, s.Elements.Epoch, epoch)
		}
	}

	steps := req.Range.Steps()
	b, err := batch.Allocate(len(req.Satellites))
	if err != nil {
		return Output{}, err
	}
	defer b.Release()

	res, err := batch.AllocateResult(len(req.Satellites), steps)
	if err != nil {
		return Output{}, err
	}
	defer res.Release()

	for i, s := range req.Satellites {
		b.Set(i, s.Elements)
	}
	Derive(b, e.constants)

	tsince0 := (req.Range.Start - epoch) / secondsPerMin
	PropagateRange(b, tsince0, req.Range.Step, steps, e.constants, res)

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	out := Output{
		Model:   e.model,
		Backend: ActiveBackend().Name,
		Engine:  EngineBatch,
		States:  make([][]orbit.StateVector, len(req.Satellites)),
		Derived: make([]Derived, len(req.Satellites)),
	}
	for i := range req.Satellites {
		series := make([]orbit.StateVector, steps)
		for t := 0; t < steps; t++ {
			sv, _ := res.At(t, i)
			sv.ET = req.Range.At(t)
			series[t] = sv
		}
		out.States[i] = series
		out.Derived[i] = Derived{
			SemiMajorAxis: b.A[i],
			AltApogee:     b.AltApogee[i],
			AltPerigee:    b.AltPerigee[i],
		}
	}
	return out, nil
}
