// Package echokern is a cognitive kernel runtime: a bounded memory arena,
// tensor buffers, a weighted hypergraph, a priority task scheduler, and the
// cognitive services built on them.
//
// # Architecture Overview
//
// A kernel is brought up in four ordered stages by the bootstrap package:
//
//   - init: memory arena and tensor context
//   - hypergraph: node/edge store over tensor buffers
//   - scheduler: four-tier priority queue with a per-tick time budget
//   - cognitive: atom registry, attention allocator and truth engine
//
// Echo-state reservoirs can be created once stage init has completed.
//
// # Basic Usage
//
//	k := bootstrap.New(bootstrap.DefaultOptions())
//	defer k.Shutdown()
//	if err := k.Bootstrap(ctx, bootstrap.StageCognitive); err != nil {
//	    log.Fatal(err)
//	}
//
//	cat, _ := k.Atoms().Alloc(atoms.Concept, "cat")
//	animal, _ := k.Atoms().Alloc(atoms.Concept, "animal")
//	link, _ := k.Atoms().CreateLink(atoms.Link, []atoms.Handle{cat, animal})
//	k.Truth().Assert(link, truth.Value{Strength: 0.9, Confidence: 0.8})
//
// # Package Structure
//
//   - core: alignment helpers and slot bitmaps
//   - memory: offset-addressed arena with boundary-tag coalescing
//   - tensor: budgeted float32 buffer context
//   - kernels: linear-algebra and spectral kernels
//   - hypergraph, scheduler, atoms, attention, truth, reservoir: subsystems
//   - bootstrap: staged kernel assembly
//   - config, logging, metrics: ambient configuration and observability
//   - cmd/echokern: operator CLI (boot, demo, bench, config, version)
package echokern
