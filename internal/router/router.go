package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/mutator"
)

// Routing thresholds. Safety signals outrank growth signals.
const (
	RouteRegret    = 0.75 // strictly above
	RouteCoherence = 0.6  // strictly below
	RouteForks     = 10   // at or above
	RouteCuriosity = 0.7  // strictly above
)

// #region set
// Set is the full roster of mutators a Router chooses from.
type Set struct {
	Regret      mutator.Mutator
	Stability   mutator.Mutator
	Entropy     mutator.Mutator
	Exploration mutator.Mutator
}

func (s Set) complete() bool {
	return s.Regret != nil && s.Stability != nil && s.Entropy != nil && s.Exploration != nil
}

// #endregion set

// #region router
// Router picks the mutator suited to the live signals and dispatches it
// through the admission policy.
type Router struct {
	policy *Policy
	set    Set
	log    *zap.Logger
}

// New builds a router. Every member of set is required.
func New(policy *Policy, set Set, log *zap.Logger) (*Router, error) {
	if policy == nil {
		return nil, errors.New("router: policy is required")
	}
	if !set.complete() {
		return nil, errors.New("router: mutator set is incomplete")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{policy: policy, set: set, log: log.Named("router")}, nil
}

// Policy returns the admission gate the router dispatches through.
func (r *Router) Policy() *Policy {
	return r.policy
}

// Route returns the highest-priority mutator for in, or nil.
func (r *Router) Route(in mutator.Inputs) mutator.Mutator {
	switch {
	case in.Regret > RouteRegret:
		return r.set.Regret
	case in.Coherence < RouteCoherence:
		return r.set.Stability
	case in.Forks >= RouteForks:
		return r.set.Entropy
	case in.Curiosity > RouteCuriosity:
		return r.set.Exploration
	}
	return nil
}

// Dispatch routes in and, if admission allows, invokes the chosen mutator.
// A denied admission yields a nil outcome and the mutator is never called.
func (r *Router) Dispatch(ctx context.Context, in mutator.Inputs) (*mutator.Outcome, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	m := r.Route(in)
	if m == nil {
		r.log.Debug("no mutator routed", zap.String("context", in.Context))
		return nil, nil
	}
	d := r.policy.Decide(ctx, m.Name(), in.Context, "route:"+m.Name())
	if !d.Allowed {
		return nil, nil
	}
	out, err := m.MutateIfNeeded(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("router: %s: %w", m.Name(), err)
	}
	return out, nil
}

// #endregion router
