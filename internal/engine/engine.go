package engine

import (
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/forecast"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/mutator"
	"github.com/danielpatrickdp/mutation-controller/internal/risk"
	"github.com/danielpatrickdp/mutation-controller/internal/router"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region config
// Config holds the cycle-level knobs.
type Config struct {
	Interval        time.Duration       `json:"interval" yaml:"interval" validate:"gte=0"`
	MaxCycles       int                 `json:"max_cycles" yaml:"max_cycles" validate:"gte=0"`
	ReflexRegret    float64             `json:"reflex_regret" yaml:"reflex_regret" validate:"gte=0,lte=1"`
	ReflexForesight float64             `json:"reflex_foresight" yaml:"reflex_foresight" validate:"gte=0,lte=1"`
	Policy          router.PolicyConfig `json:"policy" yaml:"policy"`
	ShadowOnRoute   bool                `json:"shadow_on_route" yaml:"shadow_on_route"`
}

// DefaultConfig paces cycles 2s apart and fires the regret reflex at
// regret ≥ 0.6 with foresight ≤ 0.55.
func DefaultConfig() Config {
	return Config{
		Interval:        2 * time.Second,
		ReflexRegret:    0.6,
		ReflexForesight: 0.55,
		Policy:          router.DefaultPolicyConfig(),
		ShadowOnRoute:   true,
	}
}

// #endregion config

// #region deps
// Deps are the collaborators an Engine drives. Shadow, Drift, Tags, Log,
// Metrics and Now are optional.
type Deps struct {
	State     *state.Holder
	Drift     *state.Drift
	Risk      *risk.Evaluator
	Generator *mutation.Generator
	Gate      *sandbox.Gate
	Forks     *fork.Engine
	Forecast  forecast.Provider
	Tracker   *lineage.Tracker
	Shadow    *shadow.Override
	Tags      mutator.TagSource
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (d Deps) check() error {
	switch {
	case d.State == nil:
		return errors.New("engine: state holder is required")
	case d.Risk == nil:
		return errors.New("engine: risk evaluator is required")
	case d.Generator == nil:
		return errors.New("engine: generator is required")
	case d.Gate == nil:
		return errors.New("engine: sandbox gate is required")
	case d.Forks == nil:
		return errors.New("engine: fork engine is required")
	case d.Forecast == nil:
		return errors.New("engine: forecast provider is required")
	case d.Tracker == nil:
		return errors.New("engine: lineage tracker is required")
	}
	return nil
}

// #endregion deps

// #region engine
// Engine runs the cognition cycle. Every trigger path (thought, forced,
// fork, router, reflex) converges on the same gate and tracker.
type Engine struct {
	config  Config
	deps    Deps
	policy  *router.Policy
	router  *router.Router
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	onTrace func(Trace)

	activeForks atomic.Int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTraceHook receives every completed state-machine trace.
func WithTraceHook(fn func(Trace)) Option {
	return func(e *Engine) { e.onTrace = fn }
}

// New wires an engine. The policy is built over the state holder and audited
// by the tracker; the regret mutator receives the policy and this engine's
// force path at construction.
func New(config Config, deps Deps, opts ...Option) (*Engine, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e := &Engine{
		config:  config,
		deps:    deps,
		log:     log.Named("engine"),
		metrics: metrics.OrNop(deps.Metrics),
		now:     now,
		onTrace: func(Trace) {},
	}
	for _, o := range opts {
		o(e)
	}

	e.policy = router.NewPolicy(deps.State, deps.Tracker, config.Policy, log, deps.Metrics)
	regret, err := mutator.NewRegret(e.policy, e, now)
	if err != nil {
		return nil, err
	}
	e.router, err = router.New(e.policy, router.Set{
		Regret:      regret,
		Stability:   mutator.NewStability(deps.Generator, now),
		Entropy:     mutator.NewEntropy(deps.Generator, now),
		Exploration: mutator.NewExploration(deps.Generator, deps.Tags, now),
	}, log)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Policy returns the admission gate.
func (e *Engine) Policy() *router.Policy { return e.policy }

// Tracker returns the lineage tracker.
func (e *Engine) Tracker() *lineage.Tracker { return e.deps.Tracker }

// State returns the live state holder.
func (e *Engine) State() *state.Holder { return e.deps.State }

// ActiveForks returns how many forks were retained since the last accepted
// entropy patch.
func (e *Engine) ActiveForks() int { return int(e.activeForks.Load()) }

// #endregion engine
