// Package bootstrap brings a cognitive kernel up in four ordered stages:
//
//  0. init: memory arena and tensor context
//  1. hypergraph: node and edge store
//  2. scheduler: priority task scheduler
//  3. cognitive: atom registry, attention allocator and truth engine
//
// A Kernel owns one instance of every subsystem, so independent kernels can
// coexist in one process.
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbl8/echokern/atoms"
	"github.com/sbl8/echokern/attention"
	"github.com/sbl8/echokern/config"
	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/hypergraph"
	"github.com/sbl8/echokern/logging"
	"github.com/sbl8/echokern/memory"
	"github.com/sbl8/echokern/metrics"
	"github.com/sbl8/echokern/reservoir"
	"github.com/sbl8/echokern/scheduler"
	"github.com/sbl8/echokern/tensor"
	"github.com/sbl8/echokern/truth"
)

const tracerName = "github.com/sbl8/echokern/bootstrap"

// TensorFactory acquires the tensor context during stage 0.
type TensorFactory func(budget int, log zerolog.Logger) (tensor.Service, error)

// Options configures a Kernel.
type Options struct {
	HeapSize     uintptr
	TensorBudget int
	NewTensor    TensorFactory

	Hypergraph hypergraph.Options
	Scheduler  scheduler.Options
	Atoms      atoms.Options
	Attention  attention.Options
	Truth      truth.Options

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// DefaultOptions returns the standard sizes with an in-process tensor
// context and logging disabled.
func DefaultOptions() Options {
	return Options{
		HeapSize:     memory.DefaultHeapSize,
		TensorBudget: tensor.DefaultBudget,
		NewTensor:    NewTensorContext,
		Hypergraph:   hypergraph.DefaultOptions(),
		Scheduler:    scheduler.DefaultOptions(),
		Atoms:        atoms.DefaultOptions(),
		Attention:    attention.DefaultOptions(),
		Truth:        truth.DefaultOptions(),
		Logger:       zerolog.Nop(),
	}
}

// FromConfig builds Options from a loaded configuration.
func FromConfig(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) Options {
	opts := DefaultOptions()
	opts.HeapSize = uintptr(cfg.Arena.HeapSize)
	opts.TensorBudget = cfg.Tensor.Budget
	opts.Hypergraph.MaxNodes = cfg.Hypergraph.MaxNodes
	opts.Hypergraph.MaxEdges = cfg.Hypergraph.MaxEdges
	opts.Scheduler.Capacity = cfg.Scheduler.Capacity
	opts.Scheduler.TickBudget = cfg.Scheduler.TickBudget
	opts.Atoms.MaxAtoms = cfg.Atoms.MaxAtoms
	opts.Atoms.EmbeddingDim = cfg.Atoms.EmbeddingDim
	opts.Attention.Decay = cfg.Attention.Decay
	opts.Attention.LTIRate = cfg.Attention.LTIRate
	opts.Attention.SpreadFraction = cfg.Attention.SpreadFraction
	opts.Truth.Default = truth.Value{
		Strength:   cfg.Truth.DefaultStrength,
		Confidence: cfg.Truth.DefaultConfidence,
	}
	opts.Truth.UnifyThreshold = cfg.Truth.UnifyThreshold
	opts.Logger = log
	opts.Metrics = m
	return opts
}

// NewTensorContext is the default TensorFactory.
func NewTensorContext(budget int, log zerolog.Logger) (tensor.Service, error) {
	return tensor.NewContextWithOptions(tensor.Options{Budget: budget, Logger: log}), nil
}

// Kernel owns one instance of every subsystem and the bootstrap watermark.
type Kernel struct {
	mu        sync.Mutex
	id        uuid.UUID
	opts      Options
	watermark Stage

	arena     *memory.Arena
	tensor    tensor.Service
	graph     *hypergraph.Store
	scheduler *scheduler.Scheduler
	atoms     *atoms.Registry
	attention *attention.Allocator
	truth     *truth.Engine

	log    zerolog.Logger
	tracer trace.Tracer
}

// New creates a kernel with no stage completed.
func New(opts Options) *Kernel {
	if opts.NewTensor == nil {
		opts.NewTensor = NewTensorContext
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	k := &Kernel{
		id:     uuid.New(),
		opts:   opts,
		tracer: opts.Tracer,
	}
	k.log = opts.Logger.With().Str("kernel", k.id.String()).Logger()
	k.reset()
	return k
}

// reset builds fresh subsystems and clears the watermark.
func (k *Kernel) reset() {
	o := k.opts
	o.Hypergraph.Logger = logging.Component(k.log, "hypergraph")
	o.Hypergraph.Metrics = o.Metrics
	o.Scheduler.Logger = logging.Component(k.log, "scheduler")
	o.Scheduler.Metrics = o.Metrics
	o.Atoms.Logger = logging.Component(k.log, "atoms")
	o.Atoms.Metrics = o.Metrics
	o.Attention.Logger = logging.Component(k.log, "attention")
	o.Truth.Logger = logging.Component(k.log, "truth")

	k.arena = memory.New(memory.Options{Logger: logging.Component(k.log, "arena"), Metrics: o.Metrics})
	k.tensor = nil
	k.graph = hypergraph.New(o.Hypergraph)
	k.scheduler = scheduler.New(o.Scheduler)
	k.atoms = atoms.New(o.Atoms)
	k.attention = attention.New(o.Attention)
	k.truth = truth.New(o.Truth)
	k.watermark = StageNone
	o.Metrics.SetBootstrapStage(int(StageNone))
}

// Bootstrap runs every stage after the watermark up to and including
// target. Completed stages are skipped, so requesting a stage at or below
// the watermark does nothing. On failure the watermark stays at the last
// completed stage.
func (k *Kernel) Bootstrap(ctx context.Context, target Stage) error {
	if !target.valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStage, int(target))
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	for s := k.watermark + 1; s <= target; s++ {
		if err := k.runStage(ctx, s); err != nil {
			return fmt.Errorf("bootstrap stage %d (%s): %w", int(s), s, err)
		}
		k.watermark = s
		k.opts.Metrics.SetBootstrapStage(int(s))
	}
	return nil
}

func (k *Kernel) runStage(ctx context.Context, s Stage) error {
	_, span := k.tracer.Start(ctx, "bootstrap."+s.String(),
		trace.WithAttributes(
			attribute.String("kernel.id", k.id.String()),
			attribute.Int("bootstrap.stage", int(s)),
		))
	defer span.End()

	start := time.Now()
	var err error
	switch s {
	case StageInit:
		err = k.stageInit()
	case StageHypergraph:
		err = k.graph.Init(k.tensor)
	case StageScheduler:
		err = k.scheduler.Init()
	case StageCognitive:
		err = k.stageCognitive()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		k.log.Error().Err(err).Str("stage", s.String()).Msg("bootstrap stage failed")
		return err
	}

	k.log.Info().Int("stage", int(s)).Str("name", s.String()).Dur("elapsed", time.Since(start)).Msg("bootstrap stage complete")
	return nil
}

func (k *Kernel) stageInit() error {
	if err := k.arena.Init(k.opts.HeapSize); err != nil {
		return fmt.Errorf("memory arena: %w", err)
	}
	if k.tensor != nil {
		return nil
	}
	svc, err := k.opts.NewTensor(k.opts.TensorBudget, logging.Component(k.log, "tensor"))
	if err != nil {
		return fmt.Errorf("tensor context: %w", err)
	}
	if svc == nil {
		return fmt.Errorf("tensor context: %w", hypergraph.ErrNoTensorContext)
	}
	k.tensor = svc
	return nil
}

func (k *Kernel) stageCognitive() error {
	if err := k.atoms.Init(k.tensor, k.graph); err != nil {
		return fmt.Errorf("atom registry: %w", err)
	}
	if err := k.attention.Init(k.atoms); err != nil {
		return fmt.Errorf("attention allocator: %w", err)
	}
	if err := k.truth.Init(k.atoms); err != nil {
		return fmt.Errorf("truth engine: %w", err)
	}
	return nil
}

// Stage returns the highest completed stage, StageNone before stage 0.
func (k *Kernel) Stage() Stage {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.watermark
}

// Shutdown releases the tensor context and replaces every subsystem with a
// fresh, uninitialized one. Reservoirs created through the kernel must not
// be used afterwards.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.tensor != nil {
		k.tensor.Release()
	}
	prev := k.watermark
	k.reset()
	k.log.Info().Str("from_stage", prev.String()).Msg("kernel shut down")
}

// NewReservoir creates a reservoir backed by the kernel's tensor context.
func (k *Kernel) NewReservoir(cfg reservoir.Config) (*reservoir.Reservoir, error) {
	k.mu.Lock()
	svc := k.tensor
	k.mu.Unlock()

	if svc == nil {
		return nil, core.ErrNotInitialized
	}
	if cfg.Metrics == nil {
		cfg.Metrics = k.opts.Metrics
	}
	return reservoir.New(svc, cfg)
}

// ID returns the kernel's instance identifier.
func (k *Kernel) ID() string { return k.id.String() }

func (k *Kernel) Arena() *memory.Arena {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.arena
}

// Tensor returns the tensor context, nil before stage 0.
func (k *Kernel) Tensor() tensor.Service {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tensor
}

func (k *Kernel) Hypergraph() *hypergraph.Store {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.graph
}

func (k *Kernel) Scheduler() *scheduler.Scheduler {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.scheduler
}

func (k *Kernel) Atoms() *atoms.Registry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.atoms
}

func (k *Kernel) Attention() *attention.Allocator {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.attention
}

func (k *Kernel) Truth() *truth.Engine {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.truth
}
