package main

import (
	"fmt"
	"io"

	"github.com/sbl8/echokern/bootstrap"
)

func printKernelStats(out io.Writer, k *bootstrap.Kernel) {
	fmt.Fprintln(out, headerStyle.Render("Subsystems"))

	st := k.Arena().Stats()
	fmt.Fprintf(out, "  arena:      %d bytes heap, %d live / %d free blocks, largest free %d\n",
		st.HeapSize, st.LiveBlocks, st.FreeBlocks, st.LargestFree)

	g := k.Hypergraph()
	fmt.Fprintf(out, "  hypergraph: %d nodes, %d edges, %d edge slots free\n",
		g.NodeCount(), g.EdgeCount(), g.EdgeSlotsFree())

	s := k.Scheduler()
	ss := s.Stats()
	fmt.Fprintf(out, "  scheduler:  %d pending, %d ticks, %d executed, %d overruns (budget %v)\n",
		s.Pending(), ss.Ticks, ss.Executed, ss.Overruns, s.Budget())

	fmt.Fprintf(out, "  atoms:      %d registered, %d attention values, %d truth values\n",
		k.Atoms().Count(), k.Attention().Count(), k.Truth().Count())
	fmt.Fprintln(out)
}
