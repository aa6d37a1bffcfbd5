// Package metrics exposes prometheus collectors for the echokern subsystems.
//
// A nil *Metrics is valid and records nothing, so subsystems can be built
// without a registry (tests, embedded use).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "echokern"

// Metrics groups every collector the kernel updates.
type Metrics struct {
	arenaBytesInUse   prometheus.Gauge
	arenaAllocFailure *prometheus.CounterVec
	arenaFreeFailure  *prometheus.CounterVec

	hypergraphNodes prometheus.Gauge
	hypergraphEdges prometheus.Gauge
	atoms           prometheus.Gauge

	tickDuration   prometheus.Histogram
	tasksExecuted  prometheus.Counter
	tickOverruns   prometheus.Counter
	taskPanics     prometheus.Counter
	submitFailures *prometheus.CounterVec

	bootstrapStage prometheus.Gauge

	reservoirSteps prometheus.Counter
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		arenaBytesInUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "bytes_in_use",
			Help:      "Bytes handed out by the memory arena, headers excluded",
		}),
		arenaAllocFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "alloc_failures_total",
			Help:      "Failed arena allocations by reason",
		}, []string{"reason"}),
		arenaFreeFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arena",
			Name:      "free_failures_total",
			Help:      "Rejected arena frees by reason",
		}, []string{"reason"}),
		hypergraphNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hypergraph",
			Name:      "nodes",
			Help:      "Active hypergraph nodes",
		}),
		hypergraphEdges: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hypergraph",
			Name:      "edges",
			Help:      "Active hypergraph edges",
		}),
		atoms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "atoms",
			Name:      "registered",
			Help:      "Atoms in the registry",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scheduler tick",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 2, 16), // 1µs to ~33ms
		}),
		tasksExecuted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_executed_total",
			Help:      "Tasks run to completion by the scheduler",
		}),
		tickOverruns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_budget_overruns_total",
			Help:      "Ticks that exceeded the latency budget",
		}),
		taskPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_panics_total",
			Help:      "Tasks that panicked and were recovered",
		}),
		submitFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "submit_failures_total",
			Help:      "Rejected task submissions by reason",
		}, []string{"reason"}),
		bootstrapStage: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bootstrap",
			Name:      "stage",
			Help:      "Highest completed bootstrap stage (-1 before stage 0)",
		}),
		reservoirSteps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reservoir",
			Name:      "steps_total",
			Help:      "Reservoir Process calls completed",
		}),
	}
}

// SetArenaBytesInUse records the arena's live byte count.
func (m *Metrics) SetArenaBytesInUse(n uintptr) {
	if m == nil {
		return
	}
	m.arenaBytesInUse.Set(float64(n))
}

// ArenaAllocFailed counts a failed allocation.
func (m *Metrics) ArenaAllocFailed(reason string) {
	if m == nil {
		return
	}
	m.arenaAllocFailure.WithLabelValues(reason).Inc()
}

// ArenaFreeFailed counts a rejected free.
func (m *Metrics) ArenaFreeFailed(reason string) {
	if m == nil {
		return
	}
	m.arenaFreeFailure.WithLabelValues(reason).Inc()
}

// SetGraphSize records active node and edge counts.
func (m *Metrics) SetGraphSize(nodes, edges int) {
	if m == nil {
		return
	}
	m.hypergraphNodes.Set(float64(nodes))
	m.hypergraphEdges.Set(float64(edges))
}

// SetAtoms records the registry size.
func (m *Metrics) SetAtoms(n int) {
	if m == nil {
		return
	}
	m.atoms.Set(float64(n))
}

// ObserveTick records one scheduler tick.
func (m *Metrics) ObserveTick(elapsed time.Duration, executed int, overrun bool) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(elapsed.Seconds())
	m.tasksExecuted.Add(float64(executed))
	if overrun {
		m.tickOverruns.Inc()
	}
}

// TaskPanicked counts a recovered task panic.
func (m *Metrics) TaskPanicked() {
	if m == nil {
		return
	}
	m.taskPanics.Inc()
}

// SubmitFailed counts a rejected submission.
func (m *Metrics) SubmitFailed(reason string) {
	if m == nil {
		return
	}
	m.submitFailures.WithLabelValues(reason).Inc()
}

// SetBootstrapStage records the bootstrap watermark.
func (m *Metrics) SetBootstrapStage(stage int) {
	if m == nil {
		return
	}
	m.bootstrapStage.Set(float64(stage))
}

// ReservoirStep counts one reservoir step.
func (m *Metrics) ReservoirStep() {
	if m == nil {
		return
	}
	m.reservoirSteps.Inc()
}
