package mutator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Firing thresholds, inclusive.
const (
	StabilityThreshold   = 0.6
	EntropyThreshold     = 10
	ExplorationThreshold = 0.6
	RegretThreshold      = 0.65
)

// #region stability
// Stability patches logic when coherence sinks to StabilityThreshold or below.
type Stability struct {
	gen Proposer
	now func() time.Time
}

// NewStability builds the coherence mutator. now may be nil.
func NewStability(gen Proposer, now func() time.Time) *Stability {
	return &Stability{gen: gen, now: clock(now)}
}

func (s *Stability) Name() string { return "stability" }

func (s *Stability) MutateIfNeeded(_ context.Context, in Inputs) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Coherence > StabilityThreshold {
		return nil, nil
	}
	const desc = "coherence was low, stabilizing logic patch"
	return &Outcome{
		Mutator:     s.Name(),
		Trigger:     "low_coherence",
		Context:     in.Context,
		Signal:      in.Coherence,
		Record:      s.gen.Propose("coherence_patch", "low_coherence", desc),
		Description: desc,
		Timestamp:   s.now(),
	}, nil
}

// #endregion stability

// #region entropy
// Entropy caps fork explosion once EntropyThreshold active forks exist.
type Entropy struct {
	gen Proposer
	now func() time.Time
}

// NewEntropy builds the fork-count mutator.
func NewEntropy(gen Proposer, now func() time.Time) *Entropy {
	return &Entropy{gen: gen, now: clock(now)}
}

func (e *Entropy) Name() string { return "entropy" }

func (e *Entropy) MutateIfNeeded(_ context.Context, in Inputs) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Forks < EntropyThreshold {
		return nil, nil
	}
	const desc = "too many forks, entropy control patch"
	return &Outcome{
		Mutator:     e.Name(),
		Trigger:     "fork_entropy",
		Context:     in.Context,
		Signal:      float64(in.Forks),
		Record:      e.gen.Propose("entropy_control_patch", "fork_entropy", desc),
		Description: desc,
		Timestamp:   e.now(),
	}, nil
}

// #endregion entropy

// #region exploration
// TagSource draws exploration tags. *rand.Rand satisfies it.
type TagSource interface {
	IntN(n int) int
}

// Exploration tries a novel logic path when curiosity is high. Tags are
// explore_path_<1000..9999>, never repeated within one Exploration.
type Exploration struct {
	gen Proposer
	now func() time.Time

	mu    sync.Mutex
	src   TagSource
	used  map[int]struct{}
	spill int
}

// NewExploration builds the curiosity mutator. A nil src gets a seeded PCG.
func NewExploration(gen Proposer, src TagSource, now func() time.Time) *Exploration {
	if src == nil {
		src = rand.New(rand.NewPCG(7, 11))
	}
	return &Exploration{gen: gen, now: clock(now), src: src, used: make(map[int]struct{})}
}

func (x *Exploration) Name() string { return "exploration" }

func (x *Exploration) MutateIfNeeded(_ context.Context, in Inputs) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Curiosity < ExplorationThreshold {
		return nil, nil
	}
	tag := x.nextTag()
	const desc = "curiosity triggered exploratory patch"
	return &Outcome{
		Mutator:     x.Name(),
		Trigger:     "curiosity",
		Context:     in.Context,
		Signal:      in.Curiosity,
		Record:      x.gen.Propose(tag, "curiosity", desc),
		Description: desc,
		Timestamp:   x.now(),
	}, nil
}

const maxTagRedraws = 8

// nextTag redraws up to maxTagRedraws times on collision, then steps up from
// the last draw to the next free tag. Once the 4-digit space is exhausted it
// falls back to a suffixed counter.
func (x *Exploration) nextTag() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.used) < 9000 {
		n := 1000 + x.src.IntN(9000)
		for i := 0; i < maxTagRedraws && x.taken(n); i++ {
			n = 1000 + x.src.IntN(9000)
		}
		for x.taken(n) {
			n = 1000 + (n-999)%9000
		}
		x.used[n] = struct{}{}
		return fmt.Sprintf("explore_path_%d", n)
	}
	x.spill++
	return fmt.Sprintf("explore_path_9999_%d", x.spill)
}

func (x *Exploration) taken(n int) bool {
	_, ok := x.used[n]
	return ok
}

// #endregion exploration

// #region regret
// Regret forces a mutation when regret reaches RegretThreshold and the
// admission gate currently allows it.
type Regret struct {
	admit Admission
	force Forcer
	now   func() time.Time
}

// NewRegret builds the regret mutator around its admission gate and force
// path. Both are required.
func NewRegret(admit Admission, force Forcer, now func() time.Time) (*Regret, error) {
	if admit == nil || force == nil {
		return nil, errors.New("mutator: regret mutator needs admission and force path")
	}
	return &Regret{admit: admit, force: force, now: clock(now)}, nil
}

func (r *Regret) Name() string { return "regret" }

func (r *Regret) MutateIfNeeded(ctx context.Context, in Inputs) (*Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Regret < RegretThreshold {
		return nil, nil
	}
	if !r.admit.IsMutationAllowed(ctx, fmt.Sprintf("regret > %.2f", RegretThreshold)) {
		return nil, nil
	}
	reason := fmt.Sprintf("regret_triggered @ %.3f from %s", in.Regret, in.Context)
	rec, err := r.force.ForceMutation(ctx, reason)
	if err != nil {
		return nil, fmt.Errorf("mutator: regret force: %w", err)
	}
	return &Outcome{
		Mutator:     r.Name(),
		Trigger:     "regret",
		Context:     in.Context,
		Signal:      in.Regret,
		Record:      rec,
		Description: reason,
		Timestamp:   r.now(),
	}, nil
}

// #endregion regret
