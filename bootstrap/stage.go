package bootstrap

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStage is returned for stages outside StageInit..StageCognitive.
var ErrInvalidStage = errors.New("bootstrap: invalid stage")

// Stage is one step of the bootstrap sequence. Stages complete in order.
type Stage int

const (
	// StageNone is the watermark before any stage has completed.
	StageNone Stage = iota - 1
	StageInit
	StageHypergraph
	StageScheduler
	StageCognitive
)

var stageNames = [...]string{"init", "hypergraph", "scheduler", "cognitive"}

func (s Stage) String() string {
	if s == StageNone {
		return "none"
	}
	if s.valid() {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

func (s Stage) valid() bool {
	return s >= StageInit && s <= StageCognitive
}

// ParseStage accepts a stage name or its number (0-3).
func ParseStage(v string) (Stage, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range stageNames {
		if v == name || v == fmt.Sprint(i) {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("%w: %q", ErrInvalidStage, v)
}

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{StageInit, StageHypergraph, StageScheduler, StageCognitive}
}
