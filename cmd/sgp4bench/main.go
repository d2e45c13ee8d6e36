// Command sgp4bench measures propagation throughput of the batch kernel and
// of the execution pool.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/propagation"
)

const (
	deg2rad       = math.Pi / 180
	minutesPerDay = 1440.0
)

// issElements is the ISS element set of 2024-01-15 12:00 UTC in propagator
// units. Benchmarked satellites are small perturbations of it.
var issElements = orbit.Elements{
	NDot:  0.00016717 * 2 * math.Pi / (minutesPerDay * minutesPerDay),
	BStar: 0.00010270,
	Incl:  51.6400 * deg2rad,
	RAAN:  208.9163 * deg2rad,
	Ecc:   0.0006703,
	ArgP:  30.0825 * deg2rad,
	M:     330.0579 * deg2rad,
	N:     15.49560830 * 2 * math.Pi / minutesPerDay,
	Epoch: 758592000,
}

var (
	flagSatellites int
	flagStep       float64
	flagSteps      int
	flagModel      string
	flagBackend    string
	flagVerbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sgp4bench",
	Short: "SGP4 batch propagation benchmarks",
	Long: `
Measure propagations per second for the vectorized batch kernel, for the
execution pool, and for every lane-group backend.

Examples:
  sgp4bench batch --satellites 9534 --steps 1440
  sgp4bench pool --workers 8 --tasks 64
  sgp4bench backend
  sgp4bench compare --steps 90
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagSatellites < 1 {
			return fmt.Errorf("--satellites must be at least 1")
		}
		if flagSteps < 1 || flagStep <= 0 {
			return fmt.Errorf("--steps and --step must be positive")
		}
		return propagation.ForceBackend(flagBackend)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&flagSatellites, "satellites", 9534, "satellites per batch")
	pf.Float64Var(&flagStep, "step", 60, "seconds between timestamps")
	pf.IntVar(&flagSteps, "steps", 1440, "timestamps per satellite")
	pf.StringVar(&flagModel, "model", "wgs72", "gravity model")
	pf.StringVar(&flagBackend, "backend", "auto", "lane-group backend (auto, avx2, neon, sse2, scalar)")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "log pool activity")

	rootCmd.AddCommand(batchCmd, poolCmd, backendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// fillBatch loads n perturbed copies of the ISS elements.
func fillBatch(n int) (*batch.Batch, error) {
	b, err := batch.Allocate(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		b.Set(i, perturbed(i))
	}
	return b, nil
}

func perturbed(i int) orbit.Elements {
	e := issElements
	v := float64(i) * 0.0001
	e.Incl += v
	e.RAAN += v
	e.ArgP += v
	e.M += v
	return e
}

func printHeader(title string) {
	fmt.Printf("=== %s ===\n", title)
	fmt.Printf("  Backend:      %s\n", propagation.BackendName())
	fmt.Printf("  GOMAXPROCS:   %d\n", runtime.GOMAXPROCS(0))
	fmt.Printf("  Model:        %s\n", flagModel)
	fmt.Printf("  Satellites:   %d\n", flagSatellites)
	fmt.Printf("  Steps:        %d x %.0fs\n", flagSteps, flagStep)
}
