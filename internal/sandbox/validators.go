package sandbox

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// #region fixed
// Always returns a validator with a constant answer. Used as a test double
// and for dry runs.
func Always(pass bool) Validator {
	return ValidatorFunc(func(context.Context, Candidate) (bool, error) {
		return pass, nil
	})
}

// #endregion fixed

// #region stochastic
// DefaultPassRate fails 28% of candidates.
const DefaultPassRate = 0.72

// Stochastic passes a candidate with probability PassRate. It stands in for
// scenario replay when no simulator is wired.
type Stochastic struct {
	passRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStochastic returns a seeded stochastic validator.
func NewStochastic(seed uint64, passRate float64) *Stochastic {
	return &Stochastic{
		passRate: passRate,
		rng:      rand.New(rand.NewPCG(seed, seed+1)),
	}
}

// Validate draws once from the seeded source.
func (s *Stochastic) Validate(ctx context.Context, _ Candidate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	draw := s.rng.Float64()
	s.mu.Unlock()
	return draw > 1-s.passRate, nil
}

// #endregion stochastic

// #region structural
// Structural rejects fork candidates whose weight vector is not a valid
// distribution. Candidates without weights pass.
type Structural struct {
	Tolerance float64
}

// Validate checks every weight is finite and in [0, 1] and that they sum to 1.
func (s Structural) Validate(_ context.Context, c Candidate) (bool, error) {
	if c.Weights == nil {
		return true, nil
	}
	if len(c.Weights) == 0 {
		return false, nil
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-6
	}
	var sum float64
	for _, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 || w > 1 {
			return false, nil
		}
		sum += w
	}
	return math.Abs(sum-1) <= tol, nil
}

// #endregion structural

// #region remote
// Simulator runs a candidate through an external scenario replay.
type Simulator interface {
	Simulate(ctx context.Context, kind, id string, payload map[string]any) (passed bool, score float64, err error)
}

// Remote delegates validation to an external simulator.
type Remote struct {
	Sim Simulator
}

// Validate forwards the candidate; transport errors surface to the gate.
func (r Remote) Validate(ctx context.Context, c Candidate) (bool, error) {
	payload := map[string]any{
		"strategy": c.Strategy,
		"trigger":  c.Trigger,
	}
	if c.Risk != nil {
		payload["risk"] = *c.Risk
	}
	if len(c.Weights) > 0 {
		w := make(map[string]any, len(c.Weights))
		for k, v := range c.Weights {
			w[k] = v
		}
		payload["weights"] = w
	}
	passed, _, err := r.Sim.Simulate(ctx, string(c.Kind), c.ID, payload)
	if err != nil {
		return false, fmt.Errorf("scenario replay %s: %w", c.ID, err)
	}
	return passed, nil
}

// #endregion remote

// #region chain
// Chain requires every validator to pass, stopping at the first rejection.
func Chain(vs ...Validator) Validator {
	return ValidatorFunc(func(ctx context.Context, c Candidate) (bool, error) {
		for _, v := range vs {
			ok, err := v.Validate(ctx, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

// #endregion chain
