package engine

import (
	"slices"
	"time"
)

// #region trace
// Step is one state of the per-path state machine.
type Step string

const (
	StepIdle               Step = "idle"
	StepRiskComputed       Step = "risk_computed"
	StepNoAction           Step = "no_action"
	StepCandidateGenerated Step = "candidate_generated"
	StepValidated          Step = "validated"
	StepAccepted           Step = "accepted"
	StepRejected           Step = "rejected"
	StepLogged             Step = "logged"
)

// Path names the trigger that started a pass.
type Path string

const (
	PathThought Path = "thought"
	PathForced  Path = "forced"
	PathFork    Path = "fork"
	PathRouter  Path = "router"
	PathReflex  Path = "reflex"
)

// Trace records the states one pass went through.
type Trace struct {
	Path      Path      `json:"path"`
	Cycle     int       `json:"cycle,omitempty"`
	Steps     []Step    `json:"steps"`
	Candidate string    `json:"candidate,omitempty"`
	Started   time.Time `json:"started"`
}

func newTrace(p Path, cycle int, at time.Time) *Trace {
	return &Trace{Path: p, Cycle: cycle, Steps: []Step{StepIdle}, Started: at}
}

func (t *Trace) to(s Step) { t.Steps = append(t.Steps, s) }

// Final returns the last state reached.
func (t Trace) Final() Step {
	if len(t.Steps) == 0 {
		return StepIdle
	}
	return t.Steps[len(t.Steps)-1]
}

// Has reports whether the pass went through s.
func (t Trace) Has(s Step) bool {
	return slices.Contains(t.Steps, s)
}

// #endregion trace
