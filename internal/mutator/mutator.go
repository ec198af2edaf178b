package mutator

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region inputs
// Inputs are the live signals every mutator may read. Each mutator consults
// only the field it owns.
type Inputs struct {
	Context   string  `json:"context"`
	Regret    float64 `json:"regret"`
	Coherence float64 `json:"coherence"`
	Curiosity float64 `json:"curiosity"`
	Forks     int     `json:"forks"`
}

// Validate rejects out-of-range scalars and negative fork counts.
func (in Inputs) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"regret", in.Regret},
		{"coherence", in.Coherence},
		{"curiosity", in.Curiosity},
	} {
		if err := state.CheckUnit(f.name, f.v); err != nil {
			return fmt.Errorf("mutator: %w", err)
		}
	}
	if in.Forks < 0 {
		return fmt.Errorf("mutator: fork count %d is negative: %w", in.Forks, state.ErrMalformedInput)
	}
	return nil
}

// #endregion inputs

// #region outcome
// Outcome is what a mutator produced when it fired. Record is pending for
// the plain mutators and already settled for Regret.
type Outcome struct {
	Mutator     string          `json:"mutator"`
	Trigger     string          `json:"trigger"`
	Context     string          `json:"context"`
	Signal      float64         `json:"signal"`
	Record      mutation.Record `json:"mutation"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
}

// #endregion outcome

// #region interfaces
// Mutator is one specialized trigger evaluator. A nil Outcome with a nil
// error means no action this cycle.
type Mutator interface {
	Name() string
	MutateIfNeeded(ctx context.Context, in Inputs) (*Outcome, error)
}

// Proposer mints pending candidates. *mutation.Generator satisfies it.
type Proposer interface {
	Propose(strategy, trigger, description string) mutation.Record
}

// Admission is the policy gate consulted before a mutation is allowed.
type Admission interface {
	IsMutationAllowed(ctx context.Context, reason string) bool
}

// Forcer runs a forced mutation through generation, validation and logging
// and returns the settled record.
type Forcer interface {
	ForceMutation(ctx context.Context, reason string) (mutation.Record, error)
}

// #endregion interfaces

func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return func() time.Time { return time.Now().UTC() }
}
