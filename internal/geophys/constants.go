// Package geophys holds the named gravitational constant sets the
// propagator is parameterized by.
package geophys

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// Constants is one gravity model. All eight values are always set together.
type Constants struct {
	J2 float64 `json:"J2"`
	J3 float64 `json:"J3"`
	J4 float64 `json:"J4"`
	KE float64 `json:"KE"` // sqrt(GM) in earth radii^1.5 / minute
	QO float64 `json:"QO"` // km
	SO float64 `json:"SO"` // km
	RE float64 `json:"RE"` // equatorial radius, km
	AE float64 `json:"AE"` // distance units per earth radius
}

// Default is the model used when none is requested.
const Default = "wgs72"

var (
	WGS72 = Constants{
		J2: 1.082616e-3,
		J3: -2.53881e-6,
		J4: -1.65597e-6,
		KE: 7.43669161e-2,
		QO: 120.0,
		SO: 78.0,
		RE: 6378.135,
		AE: 1.0,
	}

	WGS84 = Constants{
		J2: 1.08262998905e-3,
		J3: -2.53215306e-6,
		J4: -1.61098761e-6,
		KE: 7.43669161331734132e-2,
		QO: 120.0,
		SO: 78.0,
		RE: 6378.137,
		AE: 1.0,
	}
)

var (
	ErrUnknownModel     = errors.New("unknown geophysical model")
	ErrInvalidConstants = errors.New("invalid geophysical constants")
)

// Array returns the values in J2, J3, J4, KE, QO, SO, RE, AE order.
func (c Constants) Array() [8]float64 {
	return [8]float64{c.J2, c.J3, c.J4, c.KE, c.QO, c.SO, c.RE, c.AE}
}

// Validate rejects non-finite values and non-positive KE, RE or AE.
func (c Constants) Validate() error {
	for _, v := range c.Array() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidConstants)
		}
	}
	if c.KE <= 0 || c.RE <= 0 || c.AE <= 0 {
		return fmt.Errorf("%w: KE, RE and AE must be positive", ErrInvalidConstants)
	}
	return nil
}

// Registry maps model names to constant sets. Reads are safe for concurrent
// use; LoadJSON is expected to run once during startup.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Constants
}

// NewRegistry returns a registry holding the built-in models.
func NewRegistry() *Registry {
	return &Registry{
		models: map[string]Constants{
			"wgs72": WGS72,
			"wgs84": WGS84,
		},
	}
}

// Lookup returns the named model or ErrUnknownModel.
func (r *Registry) Lookup(name string) (Constants, error) {
	if name == "" {
		name = Default
	}
	r.mu.RLock()
	c, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return Constants{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return c, nil
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadJSON adds models from a JSON object keyed by model name.
// Built-in names cannot be redefined. Nothing is added if any entry is invalid.
func (r *Registry) LoadJSON(rd io.Reader) (int, error) {
	var raw map[string]Constants
	if err := json.NewDecoder(rd).Decode(&raw); err != nil {
		return 0, fmt.Errorf("decode models: %w", err)
	}

	for name, c := range raw {
		if name == "" {
			return 0, fmt.Errorf("%w: empty model name", ErrInvalidConstants)
		}
		if name == "wgs72" || name == "wgs84" {
			return 0, fmt.Errorf("model %q is built in and cannot be redefined", name)
		}
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("model %q: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, c := range raw {
		r.models[name] = c
	}
	return len(raw), nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the process-wide registry used by the service.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
