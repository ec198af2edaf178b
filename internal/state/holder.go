package state

import (
	"math/rand/v2"
	"sync"
)

// #region reader
// Reader exposes the current cognitive state without granting write access.
type Reader interface {
	Snapshot() CognitiveState
}

// #endregion reader

// #region holder
// Holder owns the single live CognitiveState. Every subsystem reads a
// snapshot; only the cycle owner calls Apply.
type Holder struct {
	mu  sync.RWMutex
	cur CognitiveState
}

// NewHolder validates initial and wraps it in a Holder.
func NewHolder(initial CognitiveState) (*Holder, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Holder{cur: initial}, nil
}

// Snapshot returns a copy of the current state.
func (h *Holder) Snapshot() CognitiveState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Apply replaces the state with fn(current). An invalid result is rejected
// and the previous state is kept.
func (h *Holder) Apply(fn func(CognitiveState) CognitiveState) (CognitiveState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := fn(h.cur)
	if err := next.Validate(); err != nil {
		return h.cur, err
	}
	h.cur = next
	return next, nil
}

// #endregion holder

// #region drift
// Drift is a seeded random walk over the control parameters, standing in for
// the upstream cognition that normally moves them between cycles.
type Drift struct {
	Step       float64 // max absolute change per scalar per cycle
	SwitchProb float64 // probability the emotion label changes
	PhaseEvery int     // advance phase every N cycles (0 = never)

	rng   *rand.Rand
	ticks int
}

// NewDrift returns a Drift seeded deterministically.
func NewDrift(seed uint64, step, switchProb float64, phaseEvery int) *Drift {
	return &Drift{
		Step:       step,
		SwitchProb: switchProb,
		PhaseEvery: phaseEvery,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Next returns the state one cycle after s.
func (d *Drift) Next(s CognitiveState) CognitiveState {
	d.ticks++
	s.Urgency = Clamp01(s.Urgency + d.jitter())
	s.Coherence = Clamp01(s.Coherence + d.jitter())
	s.Trust = Clamp01(s.Trust + d.jitter()/2)
	if d.rng.Float64() < d.SwitchProb {
		s.Emotion = Vocabulary[d.rng.IntN(len(Vocabulary))]
	}
	if d.PhaseEvery > 0 && d.ticks%d.PhaseEvery == 0 {
		s.Phase++
	}
	return s
}

func (d *Drift) jitter() float64 {
	return (d.rng.Float64()*2 - 1) * d.Step
}

// #endregion drift
