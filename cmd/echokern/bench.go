package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/echokern/bootstrap"
	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/memory"
	"github.com/sbl8/echokern/reservoir"
	"github.com/sbl8/echokern/scheduler"
)

type benchResult struct {
	name  string
	iters int
	total time.Duration
}

func (r benchResult) perOp() time.Duration {
	if r.iters == 0 {
		return 0
	}
	return r.total / time.Duration(r.iters)
}

func newBenchCmd(a *app) *cobra.Command {
	var (
		iters int
		only  string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run arena, scheduler and reservoir micro-benchmarks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if iters <= 0 {
				return fmt.Errorf("--iter must be positive")
			}
			// Overrun warnings would drown the table; keep only errors unless asked.
			if a.logLevel == "" {
				a.log = a.log.Level(zerolog.ErrorLevel)
			}
			k := a.newKernel()
			defer k.Shutdown()
			if err := k.Bootstrap(cmd.Context(), bootstrap.StageCognitive); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("echokern performance"))
			fmt.Fprintf(out, "  Go %s  %s/%s  %d CPUs  %d iterations\n\n",
				runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), iters)

			runners := []struct {
				name string
				fn   func(*bootstrap.Kernel, *app, int) ([]benchResult, error)
			}{
				{"arena", benchArena},
				{"scheduler", benchScheduler},
				{"reservoir", benchReservoir},
			}
			ran := false
			for _, r := range runners {
				if only != "all" && only != r.name {
					continue
				}
				ran = true
				results, err := r.fn(k, a, iters)
				if err != nil {
					return err
				}
				printBench(out, r.name, results)
			}
			if !ran {
				return fmt.Errorf("unknown benchmark %q, must be one of: all, arena, scheduler, reservoir", only)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&iters, "iter", 10000, "iterations per benchmark")
	cmd.Flags().StringVar(&only, "test", "all", "benchmark to run: all, arena, scheduler, reservoir")
	return cmd
}

func printBench(out io.Writer, name string, results []benchResult) {
	fmt.Fprintln(out, headerStyle.Render(name))
	for _, r := range results {
		fmt.Fprintf(out, "  %-28s %12v  %10v/op\n", r.name, r.total, r.perOp())
	}
	fmt.Fprintln(out)
}

func benchArena(k *bootstrap.Kernel, _ *app, iters int) ([]benchResult, error) {
	arena := k.Arena()
	var results []benchResult

	for _, size := range []uintptr{64, 1024, 16 << 10} {
		start := time.Now()
		for i := 0; i < iters; i++ {
			p, err := arena.Alloc(size, memory.RegionHeap)
			if err != nil {
				return nil, err
			}
			if err := arena.Free(p); err != nil {
				return nil, err
			}
		}
		results = append(results, benchResult{fmt.Sprintf("alloc+free %d B", size), iters, time.Since(start)})
	}

	// Fragmenting pattern: hold every other block.
	const batch = 256
	ptrs := make([]memory.Ptr, 0, batch)
	start := time.Now()
	rounds := max(iters/batch, 1)
	for round := 0; round < rounds; round++ {
		for i := 0; i < batch; i++ {
			p, err := arena.Alloc(uintptr(64*(1+i%8)), memory.RegionData)
			if err != nil {
				return nil, err
			}
			ptrs = append(ptrs, p)
		}
		for i := 0; i < len(ptrs); i += 2 {
			if err := arena.Free(ptrs[i]); err != nil {
				return nil, err
			}
		}
		for i := 1; i < len(ptrs); i += 2 {
			if err := arena.Free(ptrs[i]); err != nil {
				return nil, err
			}
		}
		ptrs = ptrs[:0]
	}
	results = append(results, benchResult{"interleaved batch of 256", rounds * batch, time.Since(start)})
	return results, arena.Check()
}

func benchScheduler(k *bootstrap.Kernel, _ *app, iters int) ([]benchResult, error) {
	sched := k.Scheduler()
	noop := func(any) {}
	var results []benchResult

	for _, batch := range []int{1, 4, 64} {
		ticks := max(iters/batch, 1)
		start := time.Now()
		for t := 0; t < ticks; t++ {
			for i := 0; i < batch; i++ {
				if _, err := sched.Submit(noop, nil, scheduler.Priority(i%4), 0); err != nil {
					return nil, err
				}
			}
			if _, err := sched.Tick(); err != nil {
				return nil, err
			}
		}
		results = append(results, benchResult{fmt.Sprintf("submit+tick batch %d", batch), ticks, time.Since(start)})
	}
	concurrent, err := benchConcurrentSubmit(sched, iters, 4)
	if err != nil {
		return nil, err
	}
	results = append(results, concurrent)

	st := sched.Stats()
	results = append(results, benchResult{fmt.Sprintf("max tick (%d overruns)", st.Overruns), 1, st.MaxElapsed})
	return results, nil
}

// benchConcurrentSubmit has producers goroutines submit while the caller
// ticks, the way a host would feed the kernel from several threads.
func benchConcurrentSubmit(sched *scheduler.Scheduler, iters, producers int) (benchResult, error) {
	per := max(iters/producers, 1)
	var ran atomic.Int64
	count := func(any) { ran.Add(1) }
	total := int64(per * producers)

	start := time.Now()
	g, ctx := errgroup.WithContext(context.Background())
	for p := 0; p < producers; p++ {
		prio := scheduler.Priority(p % 4)
		g.Go(func() error {
			for i := 0; i < per; {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				_, err := sched.Submit(count, nil, prio, 0)
				if errors.Is(err, core.ErrCapacity) {
					runtime.Gosched()
					continue
				}
				if err != nil {
					return err
				}
				i++
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func(ch chan<- error) { ch <- g.Wait() }(done)
	for ran.Load() < total {
		if _, err := sched.Tick(); err != nil {
			return benchResult{}, err
		}
		select {
		case err := <-done:
			if err != nil {
				return benchResult{}, err
			}
			done = nil
		default:
		}
	}
	return benchResult{fmt.Sprintf("concurrent submit x%d", producers), int(total), time.Since(start)}, nil
}

func benchReservoir(k *bootstrap.Kernel, a *app, iters int) ([]benchResult, error) {
	var results []benchResult
	rc := a.cfg.Reservoir

	for _, n := range []int{rc.ReservoirSize, 4 * rc.ReservoirSize} {
		r, err := k.NewReservoir(reservoir.Config{
			InputSize:       rc.InputSize,
			ReservoirSize:   n,
			OutputSize:      rc.OutputSize,
			SpectralRadius:  rc.SpectralRadius,
			Seed:            rc.Seed,
			PowerIterations: rc.PowerIterations,
		})
		if err != nil {
			return nil, err
		}
		input := make([]float32, rc.InputSize)
		output := make([]float32, rc.OutputSize)

		start := time.Now()
		for i := 0; i < iters; i++ {
			input[i%len(input)] = float32(i%7) / 7
			if err := r.Process(input, output); err != nil {
				return nil, err
			}
		}
		results = append(results, benchResult{fmt.Sprintf("process n=%d", n), iters, time.Since(start)})
		if err := r.Destroy(); err != nil {
			return nil, err
		}
	}
	return results, nil
}
