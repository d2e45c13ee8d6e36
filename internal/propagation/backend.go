package propagation

import (
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Backend describes a lane-group strategy. Width is the number of satellites
// advanced together per group; 1 means scalar only.
type Backend struct {
	Name        string
	Width       int
	Description string
}

var backends = map[string]Backend{
	"avx2":   {Name: "avx2", Width: 4, Description: "AVX2 (4 doubles/op)"},
	"neon":   {Name: "neon", Width: 2, Description: "NEON (2 doubles/op)"},
	"sse2":   {Name: "sse2", Width: 2, Description: "SSE2 (2 doubles/op)"},
	"scalar": {Name: "scalar", Width: 1, Description: "Scalar (no SIMD)"},
}

var active atomic.Pointer[Backend]

func init() {
	b := DetectBackend()
	active.Store(&b)
}

// DetectBackend picks the widest strategy the CPU advertises.
func DetectBackend() Backend {
	switch {
	case runtime.GOARCH == "amd64" && cpu.X86.HasAVX2:
		return backends["avx2"]
	case runtime.GOARCH == "arm64" && cpu.ARM64.HasASIMD:
		return backends["neon"]
	case runtime.GOARCH == "amd64" && cpu.X86.HasSSE2:
		return backends["sse2"]
	default:
		return backends["scalar"]
	}
}

// ActiveBackend returns the strategy PropagateStep currently uses.
func ActiveBackend() Backend {
	return *active.Load()
}

// BackendName returns a human-readable description of the active strategy.
func BackendName() string {
	return ActiveBackend().Description
}

// ForceBackend overrides detection. An empty name or "auto" restores the
// detected backend.
func ForceBackend(name string) error {
	if name == "" || name == "auto" {
		b := DetectBackend()
		active.Store(&b)
		return nil
	}
	b, ok := backends[name]
	if !ok {
		return fmt.Errorf("unknown backend %q (available: %v)", name, BackendNames())
	}
	active.Store(&b)
	return nil
}

// BackendNames lists the backends ForceBackend accepts.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats counts kernel work since start or the last ResetStats.
type Stats struct {
	Steps            uint64
	LaneGroups       uint64
	LaneSatellites   uint64
	ScalarSatellites uint64
}

// LaneRatio returns LaneSatellites / (LaneSatellites + ScalarSatellites),
// or 0 when nothing has been propagated.
func (s Stats) LaneRatio() float64 {
	denom := s.LaneSatellites + s.ScalarSatellites
	if denom == 0 {
		return 0
	}
	return float64(s.LaneSatellites) / float64(denom)
}

var counters struct {
	steps            atomic.Uint64
	laneGroups       atomic.Uint64
	laneSatellites   atomic.Uint64
	scalarSatellites atomic.Uint64
}

// KernelStats returns a snapshot of the kernel counters.
func KernelStats() Stats {
	return Stats{
		Steps:            counters.steps.Load(),
		LaneGroups:       counters.laneGroups.Load(),
		LaneSatellites:   counters.laneSatellites.Load(),
		ScalarSatellites: counters.scalarSatellites.Load(),
	}
}

// ResetStats zeroes the kernel counters.
func ResetStats() {
	counters.steps.Store(0)
	counters.laneGroups.Store(0)
	counters.laneSatellites.Store(0)
	counters.scalarSatellites.Store(0)
}
