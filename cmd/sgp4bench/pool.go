package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/pool"
	"github.com/star/sgp4d/internal/propagation"
)

var (
	flagWorkers int
	flagTasks   int
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Benchmark propagation through the execution pool",
	Long: `
Split the satellites into --tasks requests, submit them all to a pool of
--workers execution units and wait for every future. Throughput includes
queueing, dispatch and state-vector materialization.
`,
	Args: cobra.NoArgs,
	RunE: runPool,
}

func init() {
	poolCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "execution units")
	poolCmd.Flags().IntVar(&flagTasks, "tasks", 0, "requests to split the satellites into (default: 4 per worker)")
}

func runPool(cmd *cobra.Command, args []string) error {
	if flagWorkers < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}
	tasks := flagTasks
	if tasks <= 0 {
		tasks = 4 * flagWorkers
	}
	if tasks > flagSatellites {
		tasks = flagSatellites
	}

	p := pool.New(pool.Config{Size: flagWorkers}, nil, logger())
	initStart := time.Now()
	if err := p.Initialize(cmd.Context()); err != nil {
		return err
	}
	defer p.Shutdown()

	printHeader("Execution pool")
	fmt.Printf("  Workers:      %d (ready in %s)\n", flagWorkers, time.Since(initStart).Round(time.Millisecond))
	fmt.Printf("  Tasks:        %d\n", tasks)

	rng := orbit.TimeRange{
		Start: issElements.Epoch,
		End:   issElements.Epoch + float64(flagSteps-1)*flagStep,
		Step:  flagStep,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	futures := make([]*pool.Future, 0, tasks)
	per := (flagSatellites + tasks - 1) / tasks
	for lo := 0; lo < flagSatellites; lo += per {
		hi := min(lo+per, flagSatellites)
		sats := make([]propagation.Satellite, 0, hi-lo)
		for i := lo; i < hi; i++ {
			sats = append(sats, propagation.Satellite{NORADID: i + 1, Elements: perturbed(i)})
		}
		futures = append(futures, p.Submit(propagation.Request{
			Satellites: sats,
			Model:      flagModel,
			Range:      rng,
			Engine:     propagation.EngineBatch,
		}))
	}

	var (
		mu     sync.Mutex
		props  int64
		failed int
		wg     sync.WaitGroup
	)
	for _, fut := range futures {
		wg.Add(1)
		go func(fut *pool.Future) {
			defer wg.Done()
			out, err := fut.Wait(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				fmt.Printf("  task %s failed: %v\n", fut.ID(), err)
				return
			}
			for _, row := range out.States {
				props += int64(len(row))
			}
		}(fut)
	}
	wg.Wait()

	t := throughput{props: props, wall: time.Since(start)}
	t.print(flagSatellites)
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(futures))
	}
	return nil
}
