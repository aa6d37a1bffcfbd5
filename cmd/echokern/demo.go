package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sbl8/echokern/atoms"
	"github.com/sbl8/echokern/bootstrap"
	"github.com/sbl8/echokern/memory"
	"github.com/sbl8/echokern/reservoir"
	"github.com/sbl8/echokern/scheduler"
	"github.com/sbl8/echokern/truth"
)

func newDemoCmd(a *app) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Bootstrap a kernel and exercise every subsystem on a small concept graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := a.newKernel()
			defer k.Shutdown()

			if err := k.Bootstrap(cmd.Context(), bootstrap.StageCognitive); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("echokern demo"))
			fmt.Fprintf(out, "  kernel: %s\n\n", dimStyle.Render(k.ID()))

			if err := demoArena(out, k); err != nil {
				return err
			}
			graph, err := demoKnowledge(out, k)
			if err != nil {
				return err
			}
			if err := demoScheduler(out, k, graph); err != nil {
				return err
			}
			if err := demoReservoir(out, k, a, steps); err != nil {
				return err
			}
			printKernelStats(out, k)
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 5, "reservoir steps to run")
	return cmd
}

func demoArena(out io.Writer, k *bootstrap.Kernel) error {
	fmt.Fprintln(out, headerStyle.Render("Memory arena"))
	arena := k.Arena()

	var ptrs []memory.Ptr
	for i, r := range []memory.Region{memory.RegionCode, memory.RegionData, memory.RegionTensor} {
		p, err := arena.Alloc(uintptr(100*(i+1)), r)
		if err != nil {
			return err
		}
		ptrs = append(ptrs, p)
		fmt.Fprintf(out, "  alloc %-6s %4d bytes -> %#x\n", r, 100*(i+1), uintptr(p))
	}
	if err := arena.Free(ptrs[1]); err != nil {
		return err
	}
	if err := arena.Free(ptrs[1]); err != nil {
		fmt.Fprintf(out, "  second free rejected: %s\n", dimStyle.Render(err.Error()))
	}
	for _, p := range []memory.Ptr{ptrs[0], ptrs[2]} {
		if err := arena.Free(p); err != nil {
			return err
		}
	}
	if err := arena.Check(); err != nil {
		return err
	}
	st := arena.Stats()
	fmt.Fprintf(out, "  after free: %d free block(s), heap intact\n\n", st.FreeBlocks)
	return nil
}

type conceptGraph struct {
	names map[atoms.Handle]string
	order []atoms.Handle
	links []atoms.Handle
}

func demoKnowledge(out io.Writer, k *bootstrap.Kernel) (*conceptGraph, error) {
	fmt.Fprintln(out, headerStyle.Render("Knowledge"))
	reg := k.Atoms()
	g := &conceptGraph{names: make(map[atoms.Handle]string)}

	seeds := []struct {
		name string
		tv   truth.Value
	}{
		{"cat", truth.Value{Strength: 0.9, Confidence: 0.8}},
		{"dog", truth.Value{Strength: 0.85, Confidence: 0.7}},
		{"mammal", truth.Value{Strength: 0.6, Confidence: 0.9}},
		{"animal", truth.Value{Strength: 0.5, Confidence: 0.95}},
	}
	handles := make(map[string]atoms.Handle)
	for _, s := range seeds {
		h, err := reg.Alloc(atoms.Concept, s.name)
		if err != nil {
			return nil, err
		}
		if err := k.Truth().Assert(h, s.tv); err != nil {
			return nil, err
		}
		handles[s.name] = h
		g.names[h] = s.name
		g.order = append(g.order, h)
	}

	for _, pair := range [][2]string{{"cat", "mammal"}, {"dog", "mammal"}, {"mammal", "animal"}} {
		l, err := reg.CreateLink(atoms.Link, []atoms.Handle{handles[pair[0]], handles[pair[1]]})
		if err != nil {
			return nil, err
		}
		g.names[l] = pair[0] + "→" + pair[1]
		g.order = append(g.order, l)
		g.links = append(g.links, l)
	}
	fmt.Fprintf(out, "  %d atoms, %d hypergraph edges\n", reg.Count(), k.Hypergraph().EdgeCount())

	for _, l := range g.links {
		a, _ := reg.Get(l)
		v, err := k.Truth().Evaluate(l, a.Outgoing)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "  truth %-14s %s\n", g.names[l], v)
	}

	ab, _ := k.Truth().Get(g.links[0])
	bc, _ := k.Truth().Get(g.links[2])
	fmt.Fprintf(out, "  deduction cat→animal %s\n", truth.Deduction(ab, bc))

	if h, err := k.Truth().Unify(handles["cat"], handles["dog"]); err == nil {
		fmt.Fprintf(out, "  unify(cat, dog) -> %s\n", g.names[h])
	}
	if _, err := k.Truth().Unify(handles["cat"], handles["animal"]); err != nil {
		fmt.Fprintf(out, "  unify(cat, animal) rejected: %s\n", dimStyle.Render(err.Error()))
	}
	fmt.Fprintln(out)
	return g, nil
}

func demoScheduler(out io.Writer, k *bootstrap.Kernel, g *conceptGraph) error {
	fmt.Fprintln(out, headerStyle.Render("Scheduler and attention"))
	sched := k.Scheduler()
	attn := k.Attention()

	for _, h := range g.order {
		if _, err := attn.Get(h); err != nil {
			return err
		}
	}

	var log []string
	note := func(data any) { log = append(log, data.(string)) }
	tasks := []struct {
		fn   scheduler.TaskFunc
		data any
		p    scheduler.Priority
	}{
		{note, "low: housekeeping", scheduler.Low},
		{func(any) {
			if _, err := attn.Stimulate(g.order[0], 0.4); err == nil {
				log = append(log, "critical: stimulate cat")
			}
		}, nil, scheduler.Critical},
		{func(any) {
			if n, err := attn.Update(); err == nil {
				log = append(log, fmt.Sprintf("normal: attention update over %d atoms", n))
			}
		}, nil, scheduler.Normal},
		{note, "high: perception", scheduler.High},
	}
	for _, t := range tasks {
		if _, err := sched.Submit(t.fn, t.data, t.p, 0); err != nil {
			return err
		}
	}
	n, err := sched.Tick()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  tick ran %d tasks in %v\n", n, sched.Stats().LastElapsed)
	for i, line := range log {
		fmt.Fprintf(out, "    %d. %s\n", i+1, line)
	}

	fmt.Fprint(out, "  focus:")
	for _, h := range attn.Focus(3) {
		v, _ := attn.Get(h)
		fmt.Fprintf(out, " %s(%.3f)", g.names[h], v.STI)
	}
	fmt.Fprint(out, "\n\n")
	return nil
}

func demoReservoir(out io.Writer, k *bootstrap.Kernel, a *app, steps int) error {
	fmt.Fprintln(out, headerStyle.Render("Reservoir"))
	rc := a.cfg.Reservoir
	r, err := k.NewReservoir(reservoir.Config{
		InputSize:       rc.InputSize,
		ReservoirSize:   rc.ReservoirSize,
		OutputSize:      rc.OutputSize,
		SpectralRadius:  rc.SpectralRadius,
		Seed:            rc.Seed,
		PowerIterations: rc.PowerIterations,
		Logger:          a.log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Destroy(); err != nil {
			a.log.Warn().Err(err).Msg("reservoir destroy")
		}
	}()

	fmt.Fprintf(out, "  %d→%d→%d, spectral radius %.4f (target %.2f)\n",
		rc.InputSize, rc.ReservoirSize, rc.OutputSize, r.SpectralRadius(), rc.SpectralRadius)

	input := make([]float32, rc.InputSize)
	for i := range input {
		input[i] = 0.5
	}
	output := make([]float32, rc.OutputSize)
	for step := 1; step <= steps; step++ {
		if err := r.Process(input, output); err != nil {
			return err
		}
		fmt.Fprintf(out, "  step %d: %v\n", step, formatVector(output))
	}
	fmt.Fprintln(out)
	return nil
}

func formatVector(v []float32) string {
	s := "["
	for i, x := range v {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%+.4f", x)
	}
	return s + "]"
}
