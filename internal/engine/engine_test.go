package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/mutation-controller/internal/forecast"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/mutator"
	"github.com/danielpatrickdp/mutation-controller/internal/risk"
	"github.com/danielpatrickdp/mutation-controller/internal/router"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers
type harness struct {
	engine *Engine
	sink   *lineage.MemorySink
	holder *state.Holder

	mu     sync.Mutex
	traces []Trace
}

func (h *harness) collect(tr Trace) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.traces = append(h.traces, tr)
}

func openState() state.CognitiveState {
	return state.CognitiveState{Emotion: state.EmotionFear, Urgency: 0.5, Coherence: 0.5, Trust: 0.9, Phase: 5}
}

func calmForecast() forecast.Forecast {
	return forecast.Forecast{
		Weights:    fork.Weights{"equity": 0.5, "bonds": 0.3, "cash": 0.2},
		Confidence: 0.8,
		Regret:     0.2,
		Gain:       0.3,
		Curiosity:  0.1,
	}
}

func newHarness(t *testing.T, s state.CognitiveState, f forecast.Provider, v sandbox.Validator, shadowOverride *shadow.Override) *harness {
	t.Helper()
	holder, err := state.NewHolder(s)
	require.NoError(t, err)
	sink := lineage.NewMemorySink()
	h := &harness{sink: sink, holder: holder}

	cfg := DefaultConfig()
	cfg.Interval = 0
	e, err := New(cfg, Deps{
		State:     holder,
		Risk:      risk.NewEvaluator(risk.DefaultWeights(), risk.DefaultTriggerThreshold),
		Generator: mutation.NewGenerator(rand.New(rand.NewPCG(1, 1))),
		Gate:      sandbox.NewGate(v, sandbox.DefaultGateConfig(), nil, nil),
		Forks:     fork.NewEngine(fork.DefaultConfig(), rand.New(rand.NewPCG(2, 2))),
		Forecast:  f,
		Tracker:   lineage.NewTracker(sink, lineage.DefaultTrackerConfig(), nil, nil),
		Shadow:    shadowOverride,
	}, WithTraceHook(h.collect))
	require.NoError(t, err)
	h.engine = e
	return h
}

func lineageEntries(t *testing.T, s *lineage.MemorySink) []lineage.LineageEntry {
	t.Helper()
	raw, err := s.ReadAll(context.Background(), lineage.DomainMutation)
	require.NoError(t, err)
	return lineage.Decode[lineage.LineageEntry](raw)
}

// #endregion helpers

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestEvaluateThoughtFearScenario(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)

	rec, err := h.engine.EvaluateThought(context.Background(), 1, state.EmotionFear, 0.5, 0.5)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "mutation_cycle_1", rec.Strategy)
	assert.Equal(t, mutation.OutcomeAccepted, rec.Outcome)
	require.NotNil(t, rec.Risk)
	assert.InDelta(t, 0.25, *rec.Risk, 1e-9)

	require.Len(t, h.traces, 1)
	assert.Equal(t, []Step{StepIdle, StepRiskComputed, StepCandidateGenerated, StepValidated, StepAccepted, StepLogged}, h.traces[0].Steps)

	entries := lineageEntries(t, h.sink)
	require.Len(t, entries, 1)
	assert.Equal(t, lineage.ResultSuccess, entries[0].Result)
	assert.Equal(t, rec.ID, entries[0].MutationID)
}

func TestEvaluateThoughtBelowThreshold(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)

	rec, err := h.engine.EvaluateThought(context.Background(), 1, state.EmotionHope, 0.8, 0.9)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, StepNoAction, h.traces[0].Final())
	assert.Zero(t, h.sink.Len(lineage.DomainMutation))
}

func TestEvaluateThoughtRejected(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(false), nil)

	rec, err := h.engine.EvaluateThought(context.Background(), 2, state.EmotionFear, 0.9, 0.1)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.True(t, h.traces[0].Has(StepRejected))
	assert.Equal(t, lineage.ResultFailure, lineageEntries(t, h.sink)[0].Result)
}

func TestEvaluateThoughtMalformed(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)

	_, err := h.engine.EvaluateThought(context.Background(), 1, state.EmotionFear, 1.5, 0.5)
	assert.ErrorIs(t, err, state.ErrMalformedInput)
	assert.True(t, IsMalformed(err))
}

func TestForceMutation(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(false), nil)

	rec, err := h.engine.ForceMutation(context.Background(), "manual_override")
	require.NoError(t, err)
	assert.True(t, rec.Forced)
	assert.Equal(t, mutation.TypeForced, rec.Type)
	assert.Equal(t, mutation.OutcomeRejected, rec.Outcome)

	entries := lineageEntries(t, h.sink)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].RiskFactor)

	_, err = h.engine.ForceMutation(context.Background(), "")
	assert.ErrorIs(t, err, state.ErrMalformedInput)
}

func TestRunForkCycleAcceptedIsRetained(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)

	res, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Cycle: 1, Mood: state.EmotionResolve, Forecast: calmForecast()})
	require.NoError(t, err)

	require.Len(t, res.Variants, 3)
	require.NotNil(t, res.Retained)
	require.NotNil(t, res.Performance)
	assert.Equal(t, res.Dominant.ID, res.Retained.ForkID)
	assert.True(t, res.Retained.Survived)
	assert.Equal(t, res.Performance.Score, res.Retained.Score)
	assert.Equal(t, 1, h.engine.ActiveForks())
	assert.Equal(t, res.Dominant.ID+"_simulated", res.Counterfactual.AltStrategyID)

	top := h.engine.Tracker().TopForks(5)
	require.Len(t, top, 1)
	assert.Equal(t, res.Dominant.ID, top[0].ForkID)
	assert.Equal(t, 1, h.sink.Len(lineage.DomainPerformance))
}

func TestRunForkCycleRejectedRetainsNothing(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(false), nil)

	res, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Cycle: 1, Mood: state.EmotionFear, Forecast: calmForecast()})
	require.NoError(t, err)

	assert.Nil(t, res.Retained)
	assert.Zero(t, h.sink.Len(lineage.DomainRetention))
	assert.Zero(t, h.engine.ActiveForks())

	raw, _ := h.sink.ReadAll(context.Background(), lineage.DomainPatch)
	patches := lineage.Decode[lineage.PatchEntry](raw)
	require.Len(t, patches, 1)
	assert.False(t, patches[0].Approved)
}

func TestRunForkCycleGateSeesRecordID(t *testing.T) {
	var (
		mu   sync.Mutex
		seen sandbox.Candidate
	)
	v := sandbox.ValidatorFunc(func(_ context.Context, c sandbox.Candidate) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = c
		return true, nil
	})
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, v, nil)

	res, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Cycle: 2, Mood: state.EmotionFear, Forecast: calmForecast()})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, res.Record.ID, seen.ID)
	assert.Equal(t, res.Dominant.ID, seen.Strategy)
	assert.Equal(t, res.Dominant.ID, seen.Context["fork_id"])
	entries := lineageEntries(t, h.sink)
	require.Len(t, entries, 1)
	assert.Equal(t, seen.ID, entries[0].MutationID)
	assert.Equal(t, seen.ID, res.Trace.Candidate)
}

func TestRunForkCycleLogsDivergence(t *testing.T) {
	for _, pass := range []bool{true, false} {
		h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(pass), nil)

		res, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Cycle: 4, Mood: state.EmotionFear, Forecast: calmForecast()})
		require.NoError(t, err)

		raw, err := h.sink.ReadAll(context.Background(), lineage.DomainDivergence)
		require.NoError(t, err)
		got := lineage.Decode[lineage.DivergenceEntry](raw)
		require.Len(t, got, 1, "pass=%v", pass)
		assert.Equal(t, 4, got[0].Cycle)
		assert.Equal(t, res.Dominant.ID, got[0].ForkID)
		assert.Equal(t, state.EmotionFear, got[0].SourceEmotion)
		assert.InDelta(t, res.Divergence, got[0].Score, 1e-4)
		assert.Equal(t, res.Counterfactual.Bias, got[0].Context["variant_bias"])
		assert.Equal(t, string(res.Record.Outcome), got[0].Context["simulated_outcome"])
	}
}

func TestRunForkCycleMalformedForecast(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	bad := calmForecast()
	bad.Weights = fork.Weights{"a": -1}

	_, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Mood: state.EmotionFear, Forecast: bad})
	assert.ErrorIs(t, err, state.ErrMalformedInput)
}

func TestRouteCycleDeniedNeverMutates(t *testing.T) {
	s := openState()
	s.Phase = 1
	h := newHarness(t, s, forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)

	res, err := h.engine.RouteCycle(context.Background(), 1, mutator.Inputs{Regret: 0.9, Coherence: 0.9, Curiosity: 1})
	require.NoError(t, err)

	assert.Nil(t, res.Outcome)
	assert.Zero(t, h.sink.Len(lineage.DomainMutation))
	raw, _ := h.sink.ReadAll(context.Background(), lineage.DomainDecisions)
	decisions := lineage.Decode[router.Decision](raw)
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Allowed)
	assert.Equal(t, 1, decisions[0].Snapshot.Phase)
}

func TestRouteCycleStabilityPatchWithOverride(t *testing.T) {
	s := openState()
	s.Coherence = 0.58
	lab := shadow.NewLab(shadow.FixedScorer{0.5, 0.91, 0.3}, 1, nil)
	h := newHarness(t, s, forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	override := shadow.NewOverride(lab, h.engine.Tracker(), shadow.DefaultOverrideConfig(), nil, nil)
	h.engine.deps.Shadow = override

	res, err := h.engine.RouteCycle(context.Background(), 3, mutator.Inputs{Context: "cycle 3", Coherence: 0.58})
	require.NoError(t, err)

	require.NotNil(t, res.Outcome)
	assert.Equal(t, "stability", res.Outcome.Mutator)
	assert.Equal(t, mutation.OutcomeAccepted, res.Outcome.Record.Outcome)
	assert.Equal(t, StepLogged, res.Trace.Final())

	raw, _ := h.sink.ReadAll(context.Background(), lineage.DomainPatch)
	patches := lineage.Decode[lineage.PatchEntry](raw)
	require.Len(t, patches, 1)
	assert.True(t, patches[0].Approved)

	require.NotNil(t, res.Override)
	assert.True(t, res.Override.Override)
	assert.Equal(t, 0.91, res.Override.Score)
	assert.Equal(t, 1, h.sink.Len(lineage.DomainOverrides))
}

func TestRouteCycleRegretUsesForcePath(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	s := openState()
	s.Coherence = 0.9
	_, err := h.holder.Apply(func(state.CognitiveState) state.CognitiveState { return s })
	require.NoError(t, err)

	res, err := h.engine.RouteCycle(context.Background(), 1, mutator.Inputs{Regret: 0.8, Coherence: 0.3, Forks: 12, Curiosity: 0.9})
	require.NoError(t, err)

	require.NotNil(t, res.Outcome)
	assert.Equal(t, "regret", res.Outcome.Mutator)
	assert.True(t, res.Outcome.Record.Forced)
	assert.Len(t, lineageEntries(t, h.sink), 1, "the forced record is logged once")
}

func TestEntropyPatchResetsActiveForks(t *testing.T) {
	s := openState()
	s.Coherence = 0.9
	h := newHarness(t, s, forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	for i := 0; i < 10; i++ {
		_, err := h.engine.RunForkCycle(context.Background(), ForkInputs{Cycle: i, Mood: state.EmotionHope, Forecast: calmForecast()})
		require.NoError(t, err)
	}
	require.Equal(t, 10, h.engine.ActiveForks())

	res, err := h.engine.RouteCycle(context.Background(), 11, mutator.Inputs{Coherence: 0.9, Forks: h.engine.ActiveForks()})
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "entropy", res.Outcome.Mutator)
	assert.Zero(t, h.engine.ActiveForks())
}

func TestReflexBoundaries(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	ctx := context.Background()

	rec, err := h.engine.Reflex(ctx, 1, 0.59, 0.1)
	require.NoError(t, err)
	assert.Nil(t, rec)
	rec, err = h.engine.Reflex(ctx, 1, 0.9, 0.56)
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = h.engine.Reflex(ctx, 2, 0.6, 0.55)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "regret_reflex_trigger", rec.Trigger)
	assert.Equal(t, 1, h.sink.Len(lineage.DomainReflex))
	require.Len(t, h.traces, 1)
	assert.Equal(t, PathReflex, h.traces[0].Path)
	assert.Equal(t, 2, h.traces[0].Cycle)

	_, err = h.engine.Reflex(ctx, 3, 2, 0.1)
	assert.ErrorIs(t, err, state.ErrMalformedInput)
}

func TestAlwaysFalseLogsFailureAndRetainsNothing(t *testing.T) {
	f := calmForecast()
	f.Regret = 0.8
	f.Confidence = 0.5
	f.Curiosity = 0.9
	s := openState()
	s.Coherence = 0.56
	h := newHarness(t, s, forecast.Static{F: f}, sandbox.Always(false), nil)
	h.engine.config.MaxCycles = 4

	var reports []CycleReport
	require.NoError(t, h.engine.Run(context.Background(), func(r CycleReport) { reports = append(reports, r) }))
	require.Len(t, reports, 4)

	entries := lineageEntries(t, h.sink)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, lineage.ResultFailure, e.Result, "entry %s", e.Strategy)
	}
	assert.Zero(t, h.sink.Len(lineage.DomainRetention))
	assert.Empty(t, h.engine.Tracker().TopForks(10))

	raw, _ := h.sink.ReadAll(context.Background(), lineage.DomainPatch)
	for _, p := range lineage.Decode[lineage.PatchEntry](raw) {
		assert.False(t, p.Approved)
	}
	for _, r := range reports {
		assert.Nil(t, r.Thought)
		assert.Nil(t, r.Fork.Retained)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, sandbox.Always(true), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	require.NoError(t, h.engine.Run(ctx, func(CycleReport) { calls++ }))
	assert.Zero(t, calls)
}

func TestRunFinishesInFlightCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := sandbox.ValidatorFunc(func(vctx context.Context, _ sandbox.Candidate) (bool, error) {
		cancel()
		select {
		case <-vctx.Done():
			return false, vctx.Err()
		case <-time.After(5 * time.Millisecond):
			return true, nil
		}
	})
	h := newHarness(t, openState(), forecast.Static{F: calmForecast()}, v, nil)

	var reports []CycleReport
	require.NoError(t, h.engine.Run(ctx, func(r CycleReport) { reports = append(reports, r) }))

	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Thought)
	entries := lineageEntries(t, h.sink)
	require.NotEmpty(t, entries)
	assert.Equal(t, lineage.ResultSuccess, entries[0].Result)
}

func TestRunStopsOnMalformedForecast(t *testing.T) {
	bad := calmForecast()
	bad.Regret = 3
	h := newHarness(t, openState(), forecast.Static{F: bad}, sandbox.Always(true), nil)
	h.engine.config.MaxCycles = 5

	err := h.engine.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, state.ErrMalformedInput))
}
