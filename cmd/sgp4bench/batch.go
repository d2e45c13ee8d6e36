package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/sgp4d/internal/batch"
	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/propagation"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Benchmark the batch kernel on one goroutine",
	Long: `
Propagate a batch of satellites one step at a time into a single reused
result window, the way a streaming consumer would, and report throughput.
`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

type throughput struct {
	props int64
	wall  time.Duration
}

func (t throughput) rate() float64 {
	if t.wall <= 0 {
		return 0
	}
	return float64(t.props) / t.wall.Seconds()
}

func (t throughput) print(satellites int) {
	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("  Wall time:    %.3fs\n", t.wall.Seconds())
	fmt.Printf("  Propagations: %d\n", t.props)
	fmt.Printf("  Throughput:   %.0f prop/s\n", t.rate())
	fmt.Printf("  Per sat:      %.3fms\n", t.wall.Seconds()*1000/float64(satellites))
}

func runBatch(cmd *cobra.Command, args []string) error {
	c, err := geophys.DefaultRegistry().Lookup(flagModel)
	if err != nil {
		return err
	}

	printHeader("Batch kernel")
	t, err := benchBatch(c, flagSatellites, flagSteps, flagStep)
	if err != nil {
		return err
	}
	t.print(flagSatellites)

	s := propagation.KernelStats()
	fmt.Printf("  Lane ratio:   %.3f\n", s.LaneRatio())
	return nil
}

func benchBatch(c geophys.Constants, satellites, steps int, step float64) (throughput, error) {
	b, err := fillBatch(satellites)
	if err != nil {
		return throughput{}, err
	}
	defer b.Release()

	res, err := batch.AllocateResult(satellites, 1)
	if err != nil {
		return throughput{}, err
	}
	defer res.Release()

	propagation.ResetStats()
	out := res.Step(0)
	start := time.Now()
	for t := 0; t < steps; t++ {
		propagation.PropagateStep(b, float64(t)*step/60, c, out)
	}
	return throughput{props: int64(satellites) * int64(steps), wall: time.Since(start)}, nil
}
