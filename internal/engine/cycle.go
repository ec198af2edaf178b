package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/forecast"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/mutator"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region settle
// settle runs rec through the gate and logs exactly one lineage entry.
func (e *Engine) settle(ctx context.Context, tr *Trace, rec mutation.Record, risk *float64) (mutation.Record, sandbox.Verdict) {
	tr.Candidate = rec.ID
	v := e.deps.Gate.Evaluate(ctx, candidateFor(rec))
	tr.to(StepValidated)
	settled := rec.Settle(v.Passed)
	if v.Passed {
		tr.to(StepAccepted)
	} else {
		tr.to(StepRejected)
	}
	e.deps.Tracker.LogMutation(ctx, settled, v.Passed, risk)
	tr.to(StepLogged)
	e.metrics.Mutations.WithLabelValues(string(tr.Path), string(settled.Outcome)).Inc()
	return settled, v
}

func candidateFor(rec mutation.Record) sandbox.Candidate {
	c := sandbox.Candidate{
		ID:       rec.ID,
		Kind:     sandbox.KindMutation,
		Strategy: rec.Strategy,
		Trigger:  rec.Trigger,
		Risk:     rec.Risk,
		Context: map[string]string{
			"mutation_type": string(rec.Type),
			"target":        rec.TargetModule + "." + rec.TargetFunction,
		},
	}
	if rec.Emotion != "" {
		c.Context["emotion"] = string(rec.Emotion)
	}
	return c
}

func (e *Engine) finish(tr *Trace) Trace {
	e.onTrace(*tr)
	return *tr
}

// #endregion settle

// #region evaluate-thought
// EvaluateThought scores the given state and, when risk exceeds the trigger
// threshold, generates, validates and logs a candidate. It returns the
// accepted record, or nil when nothing fired or the candidate was rejected.
func (e *Engine) EvaluateThought(ctx context.Context, cycle int, emotion state.Emotion, urgency, coherence float64) (*mutation.Record, error) {
	tr := newTrace(PathThought, cycle, e.now())
	defer e.finish(tr)

	a, err := e.deps.Risk.Evaluate(emotion, urgency, coherence)
	if err != nil {
		return nil, fmt.Errorf("engine: evaluate thought: %w", err)
	}
	tr.to(StepRiskComputed)
	if !a.Triggered {
		tr.to(StepNoAction)
		e.log.Debug("no mutation needed", zap.Int("cycle", cycle), zap.Float64("risk", a.Risk))
		return nil, nil
	}
	e.metrics.RiskTriggers.Inc()

	rec := e.deps.Generator.Generate(cycle, emotion).WithRisk(a.Risk)
	tr.to(StepCandidateGenerated)
	e.log.Info("mutation triggered", zap.Int("cycle", cycle), zap.Float64("risk", a.Risk), zap.String("strategy", rec.Strategy))

	settled, _ := e.settle(ctx, tr, rec, rec.Risk)
	if settled.Outcome != mutation.OutcomeAccepted {
		return nil, nil
	}
	return &settled, nil
}

// #endregion evaluate-thought

// #region force
// ForceMutation generates a forced candidate that bypasses the risk trigger,
// validates and logs it, and returns the settled record.
func (e *Engine) ForceMutation(ctx context.Context, reason string) (mutation.Record, error) {
	return e.force(ctx, PathForced, 0, reason)
}

func (e *Engine) force(ctx context.Context, path Path, cycle int, reason string) (mutation.Record, error) {
	if reason == "" {
		return mutation.Record{}, fmt.Errorf("engine: force reason is empty: %w", state.ErrMalformedInput)
	}
	tr := newTrace(path, cycle, e.now())
	defer e.finish(tr)

	rec := e.deps.Generator.ForceGenerate(reason)
	tr.to(StepCandidateGenerated)
	e.log.Info("forced mutation", zap.String("reason", reason), zap.String("strategy", rec.Strategy))

	settled, _ := e.settle(ctx, tr, rec, nil)
	return settled, nil
}

// #endregion force

// #region fork-cycle
// ForkInputs are the signals a fork cycle consumes.
type ForkInputs struct {
	Cycle    int
	Mood     state.Emotion
	Forecast forecast.Forecast
}

// ForkResult is everything one fork cycle produced.
type ForkResult struct {
	Variants       []fork.Variant            `json:"variants"`
	Scores         []float64                 `json:"scores"`
	Dominant       fork.Variant              `json:"dominant"`
	Verdict        sandbox.Verdict           `json:"verdict"`
	Record         mutation.Record           `json:"record"`
	Retained       *lineage.RetentionEntry   `json:"retained,omitempty"`
	Performance    *lineage.PerformanceEntry `json:"performance,omitempty"`
	Counterfactual fork.Counterfactual       `json:"counterfactual"`
	Divergence     float64                   `json:"divergence"`
	Trace          Trace                     `json:"trace"`
}

type rebaser interface {
	Rebase(w fork.Weights)
}

// RunForkCycle perturbs the forecast baseline, selects the dominant variant
// and validates it. An accepted fork is scored and retained; a rejected one
// is logged as an unapproved patch and nothing is retained.
func (e *Engine) RunForkCycle(ctx context.Context, in ForkInputs) (ForkResult, error) {
	tr := newTrace(PathFork, in.Cycle, e.now())
	defer e.finish(tr)
	f := in.Forecast

	variants, err := e.deps.Forks.MutateStrategies(f.Weights, in.Mood, f.Confidence)
	if err != nil {
		return ForkResult{}, fmt.Errorf("engine: fork cycle: %w", err)
	}
	dominant, scores, err := e.deps.Forks.SelectDominant(variants, f.Regret)
	if err != nil {
		return ForkResult{}, fmt.Errorf("engine: fork cycle: %w", err)
	}
	tr.to(StepRiskComputed)

	rec := e.deps.Generator.Propose(dominant.ID, "fork_cycle", "dominant fork promotion")
	rec.Emotion = in.Mood
	rec.Cycle = in.Cycle
	tr.to(StepCandidateGenerated)
	tr.Candidate = rec.ID

	v := e.deps.Gate.Evaluate(ctx, sandbox.Candidate{
		ID:       rec.ID,
		Kind:     sandbox.KindFork,
		Strategy: dominant.ID,
		Trigger:  "fork_cycle",
		Weights:  dominant.Weights,
		Context:  map[string]string{"mood": string(in.Mood), "fork_id": dominant.ID},
	})
	tr.to(StepValidated)

	res := ForkResult{
		Variants:       variants,
		Scores:         scores,
		Dominant:       dominant,
		Verdict:        v,
		Counterfactual: fork.Simulate(dominant, in.Mood, f.Regret),
		Divergence:     fork.Divergence(f.Weights, dominant.Weights),
	}
	res.Record = rec.Settle(v.Passed)
	e.deps.Tracker.LogDivergence(ctx, in.Cycle, dominant.ID, res.Divergence, in.Mood, map[string]string{
		"variant_bias":      res.Counterfactual.Bias,
		"alt_strategy_id":   res.Counterfactual.AltStrategyID,
		"simulated_outcome": string(res.Record.Outcome),
	})

	if !v.Passed {
		tr.to(StepRejected)
		e.deps.Tracker.LogMutation(ctx, res.Record, false, nil)
		e.deps.Tracker.LogPatch(ctx, res.Record, false)
		tr.to(StepLogged)
		e.metrics.Mutations.WithLabelValues(string(PathFork), string(res.Record.Outcome)).Inc()
		res.Trace = *tr
		return res, nil
	}

	tr.to(StepAccepted)
	perf := e.deps.Tracker.LogForkScore(ctx, fork.Signal{
		ForkID:     dominant.ID,
		Emotion:    in.Mood,
		Regret:     f.Regret,
		Gain:       f.Gain,
		Confidence: f.Confidence,
	})
	kept := e.deps.Tracker.LogForkResult(ctx, dominant.ID, perf.Score, in.Mood, f.Regret, true)
	e.deps.Tracker.LogMutation(ctx, res.Record, true, nil)
	tr.to(StepLogged)
	e.metrics.Mutations.WithLabelValues(string(PathFork), string(res.Record.Outcome)).Inc()
	e.activeForks.Add(1)

	if rb, ok := e.deps.Forecast.(rebaser); ok {
		rb.Rebase(dominant.Weights)
	}
	res.Performance = &perf
	res.Retained = &kept
	res.Trace = *tr
	return res, nil
}

// #endregion fork-cycle

// #region route-cycle
// RouteResult is what the router path produced.
type RouteResult struct {
	Outcome  *mutator.Outcome `json:"outcome,omitempty"`
	Override *shadow.Decision `json:"override,omitempty"`
	Trace    Trace            `json:"trace"`
}

// RouteCycle dispatches the inputs through the router. Pending proposals are
// validated and logged; accepted ones are executed as patches and, when a
// shadow override is configured, put to a canary vote.
func (e *Engine) RouteCycle(ctx context.Context, cycle int, in mutator.Inputs) (RouteResult, error) {
	tr := newTrace(PathRouter, cycle, e.now())
	defer e.finish(tr)

	out, err := e.router.Dispatch(ctx, in)
	if err != nil {
		return RouteResult{}, fmt.Errorf("engine: route cycle: %w", err)
	}
	tr.to(StepRiskComputed)
	if out == nil {
		tr.to(StepNoAction)
		return RouteResult{Trace: *tr}, nil
	}
	tr.to(StepCandidateGenerated)

	if out.Record.Settled() {
		// regret path already went through ForceMutation
		tr.Candidate = out.Record.ID
		tr.to(StepValidated)
		if out.Record.Outcome == mutation.OutcomeAccepted {
			tr.to(StepAccepted)
		} else {
			tr.to(StepRejected)
		}
		tr.to(StepLogged)
	} else {
		out.Record, _ = e.settle(ctx, tr, out.Record, nil)
	}

	res := RouteResult{Outcome: out}
	if out.Record.Outcome != mutation.OutcomeAccepted {
		res.Trace = *tr
		return res, nil
	}

	e.deps.Tracker.LogPatch(ctx, out.Record, true)
	if out.Mutator == "entropy" {
		e.activeForks.Store(0)
	}
	if e.config.ShadowOnRoute && e.deps.Shadow != nil {
		d, err := e.deps.Shadow.RunOverrideCheck(ctx, out.Record.Strategy, out.Description, in.Context)
		if err != nil {
			e.log.Warn("shadow override check failed", zap.Error(err))
		} else {
			res.Override = &d
		}
	}
	res.Trace = *tr
	return res, nil
}

// #endregion route-cycle

// #region reflex
// Reflex forces a mutation when regret is high while foresight is low, and
// records the firing. It returns nil when the reflex did not fire.
func (e *Engine) Reflex(ctx context.Context, cycle int, regret, foresight float64) (*mutation.Record, error) {
	if err := state.CheckUnit("regret", regret); err != nil {
		return nil, fmt.Errorf("engine: reflex: %w", err)
	}
	if err := state.CheckUnit("foresight", foresight); err != nil {
		return nil, fmt.Errorf("engine: reflex: %w", err)
	}
	if regret < e.config.ReflexRegret || foresight > e.config.ReflexForesight {
		return nil, nil
	}
	e.log.Info("regret reflex fired", zap.Int("cycle", cycle), zap.Float64("regret", regret), zap.Float64("foresight", foresight))
	rec, err := e.force(ctx, PathReflex, cycle, "regret_reflex_trigger")
	if err != nil {
		return nil, err
	}
	e.deps.Tracker.LogReflex(ctx, cycle, regret, foresight, rec)
	return &rec, nil
}

// #endregion reflex

// #region run-cycle
// CycleReport summarizes one full cognition cycle.
type CycleReport struct {
	Cycle    int                  `json:"cycle"`
	State    state.CognitiveState `json:"state"`
	Forecast forecast.Forecast    `json:"forecast"`
	Thought  *mutation.Record     `json:"thought,omitempty"`
	Fork     ForkResult           `json:"fork"`
	Route    RouteResult          `json:"route"`
	Reflex   *mutation.Record     `json:"reflex,omitempty"`
}

// RunCycle advances the state, then runs the thought, fork, router and
// reflex paths in order.
func (e *Engine) RunCycle(ctx context.Context, cycle int) (CycleReport, error) {
	if e.deps.Drift != nil {
		if _, err := e.deps.State.Apply(e.deps.Drift.Next); err != nil {
			return CycleReport{}, fmt.Errorf("engine: drift state: %w", err)
		}
	}
	snap := e.deps.State.Snapshot()
	f, err := e.deps.Forecast.Forecast(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("engine: forecast: %w", err)
	}
	if err := f.Validate(); err != nil {
		return CycleReport{}, fmt.Errorf("engine: %w", err)
	}
	rep := CycleReport{Cycle: cycle, State: snap, Forecast: f}

	if rep.Thought, err = e.EvaluateThought(ctx, cycle, snap.Emotion, snap.Urgency, snap.Coherence); err != nil {
		return rep, err
	}
	if rep.Fork, err = e.RunForkCycle(ctx, ForkInputs{Cycle: cycle, Mood: snap.Emotion, Forecast: f}); err != nil {
		return rep, err
	}
	if rep.Route, err = e.RouteCycle(ctx, cycle, mutator.Inputs{
		Context:   fmt.Sprintf("cycle %d", cycle),
		Regret:    f.Regret,
		Coherence: snap.Coherence,
		Curiosity: f.Curiosity,
		Forks:     e.ActiveForks(),
	}); err != nil {
		return rep, err
	}
	if rep.Reflex, err = e.Reflex(ctx, cycle, f.Regret, f.Confidence); err != nil {
		return rep, err
	}

	e.metrics.Cycles.Inc()
	return rep, nil
}

// IsMalformed reports whether err stems from invalid caller input.
func IsMalformed(err error) bool {
	return errors.Is(err, state.ErrMalformedInput)
}

// #endregion run-cycle
