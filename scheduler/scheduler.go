// Package scheduler implements the kernel's priority task scheduler.
//
// Tasks are one-shot closures queued in four priority tiers. Each Tick runs
// the tasks that were pending when it started, Critical first and Low last,
// in submission order within a tier. Ticks are cooperative: a task runs to
// completion and the tick budget is only measured, never enforced.
package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/metrics"
)

const (
	// DefaultCapacity is the maximum number of pending tasks.
	DefaultCapacity = 1024
	// DefaultTickBudget is the latency target for one tick.
	DefaultTickBudget = 5 * time.Microsecond
)

var (
	ErrInvalidPriority = errors.New("scheduler: invalid priority")
	ErrNilTask         = errors.New("scheduler: nil task")
)

// Priority orders tasks within a tick. Lower values run first.
type Priority uint8

const (
	Critical Priority = iota
	High
	Normal
	Low

	numPriorities = 4
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority maps a priority name to its value.
func ParsePriority(s string) (Priority, error) {
	for p := Critical; p < numPriorities; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// TaskFunc is the body of a task. It receives the data given to Submit.
type TaskFunc func(data any)

// TaskHandle identifies a submitted task. Zero is never a valid handle.
type TaskHandle uint64

type task struct {
	fn     TaskFunc
	data   any
	prio   Priority
	depth  uint32
	handle TaskHandle
}

// Stats tracks scheduler activity.
type Stats struct {
	Ticks       uint64
	Executed    uint64
	Overruns    uint64
	Panics      uint64
	LastElapsed time.Duration
	MaxElapsed  time.Duration
}

// Options configures a Scheduler.
type Options struct {
	Capacity   int
	TickBudget time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// DefaultOptions returns the standard capacity and tick budget.
func DefaultOptions() Options {
	return Options{
		Capacity:   DefaultCapacity,
		TickBudget: DefaultTickBudget,
		Logger:     zerolog.Nop(),
	}
}

// Scheduler is a fixed-capacity priority queue of tasks. Submit and Tick
// are safe for concurrent use; tasks run without the lock held and may
// submit further tasks, which run on the next tick.
type Scheduler struct {
	mu          sync.Mutex
	initialized bool
	queues      [numPriorities][]task
	pending     int
	capacity    int
	budget      time.Duration
	next        uint64
	stats       Stats

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an uninitialized scheduler.
func New(opts Options) *Scheduler {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TickBudget <= 0 {
		opts.TickBudget = DefaultTickBudget
	}
	return &Scheduler{
		capacity: opts.Capacity,
		budget:   opts.TickBudget,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Init readies the scheduler. Calling it again is a no-op.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.log.Info().Int("capacity", s.capacity).Dur("tick_budget", s.budget).Msg("scheduler initialized")
	return nil
}

// Initialized reports whether Init has run.
func (s *Scheduler) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Submit queues fn to run with data on a later tick.
func (s *Scheduler) Submit(fn TaskFunc, data any, p Priority, depth uint32) (TaskHandle, error) {
	if fn == nil {
		s.metrics.SubmitFailed("nil_task")
		return 0, ErrNilTask
	}
	if p >= numPriorities {
		s.metrics.SubmitFailed("invalid_priority")
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, core.ErrNotInitialized
	}
	if s.pending >= s.capacity {
		s.metrics.SubmitFailed("capacity")
		return 0, fmt.Errorf("scheduler: %d tasks pending: %w", s.pending, core.ErrCapacity)
	}

	s.next++
	h := TaskHandle(s.next)
	s.queues[p] = append(s.queues[p], task{fn: fn, data: data, prio: p, depth: depth, handle: h})
	s.pending++
	return h, nil
}

// Tick runs every task pending at the time of the call, highest priority
// first, and returns how many ran. Tasks submitted meanwhile wait for the
// next tick.
func (s *Scheduler) Tick() (int, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return 0, core.ErrNotInitialized
	}
	var batch [numPriorities][]task
	for p := range s.queues {
		batch[p] = s.queues[p]
		s.queues[p] = nil
	}
	s.mu.Unlock()

	start := time.Now()
	executed := 0
	panics := 0
	for p := range batch {
		for i := range batch[p] {
			t := batch[p][i]
			batch[p][i] = task{}
			s.consume()
			if !s.run(t) {
				panics++
			}
			executed++
		}
	}
	elapsed := time.Since(start)
	overrun := elapsed > s.budget

	s.mu.Lock()
	s.stats.Ticks++
	s.stats.Executed += uint64(executed)
	s.stats.Panics += uint64(panics)
	s.stats.LastElapsed = elapsed
	if elapsed > s.stats.MaxElapsed {
		s.stats.MaxElapsed = elapsed
	}
	if overrun {
		s.stats.Overruns++
	}
	s.mu.Unlock()

	s.metrics.ObserveTick(elapsed, executed, overrun)
	if overrun && executed > 0 {
		s.log.Warn().Dur("elapsed", elapsed).Dur("budget", s.budget).Int("tasks", executed).Msg("tick exceeded budget")
	}
	return executed, nil
}

// consume frees one pending slot as soon as a task is picked up, so the
// task itself can resubmit.
func (s *Scheduler) consume() {
	s.mu.Lock()
	s.pending--
	s.mu.Unlock()
}

// run executes t and reports false if it panicked.
func (s *Scheduler) run(t task) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			s.metrics.TaskPanicked()
			s.log.Error().
				Uint64("task", uint64(t.handle)).
				Str("priority", t.prio.String()).
				Uint32("depth", t.depth).
				Interface("panic", r).
				Msg("task panicked")
		}
	}()
	t.fn(t.data)
	return true
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Budget returns the configured tick budget.
func (s *Scheduler) Budget() time.Duration { return s.budget }
