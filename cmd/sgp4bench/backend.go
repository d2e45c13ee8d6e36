package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/star/sgp4d/internal/geophys"
	"github.com/star/sgp4d/internal/propagation"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Compare lane-group backends on the batch kernel",
	Long: `
Run the batch benchmark once per backend and report throughput relative to
the scalar path. Backends wider than the CPU supports still run; only the
lane grouping changes.
`,
	Args: cobra.NoArgs,
	RunE: runBackend,
}

func runBackend(cmd *cobra.Command, args []string) error {
	c, err := geophys.DefaultRegistry().Lookup(flagModel)
	if err != nil {
		return err
	}
	detected := propagation.DetectBackend()
	defer propagation.ForceBackend(flagBackend)

	fmt.Printf("=== Backends (detected: %s) ===\n", detected.Description)
	fmt.Printf("  Satellites:   %d\n", flagSatellites)
	fmt.Printf("  Steps:        %d x %.0fs\n\n", flagSteps, flagStep)

	var scalar float64
	rates := make(map[string]float64)
	names := propagation.BackendNames()
	for _, name := range names {
		if err := propagation.ForceBackend(name); err != nil {
			return err
		}
		t, err := benchBatch(c, flagSatellites, flagSteps, flagStep)
		if err != nil {
			return err
		}
		rates[name] = t.rate()
		if name == "scalar" {
			scalar = t.rate()
		}
	}

	for _, name := range names {
		speedup := 0.0
		if scalar > 0 {
			speedup = rates[name] / scalar
		}
		fmt.Printf("  %-8s %14.0f prop/s  %5.2fx\n", name, rates[name], speedup)
	}
	return nil
}
