package replay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/mutation-controller/internal/engine"
	"github.com/danielpatrickdp/mutation-controller/internal/forecast"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/risk"
	"github.com/danielpatrickdp/mutation-controller/internal/router"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region types
// Action labels how one path ended within a cycle.
const (
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
	ActionNoOp     = "no_op"
)

// Tick is one recorded cycle: the state and forecast the engine saw and the
// validator's answer for that cycle. A nil State keeps the previous one.
type Tick struct {
	Cycle    int                   `json:"cycle"`
	State    *state.CognitiveState `json:"state,omitempty"`
	Forecast forecast.Forecast     `json:"forecast"`
	Pass     bool                  `json:"validator_pass"`
}

// Config holds the knobs a replay run is pinned to.
type Config struct {
	Seed             uint64              `json:"seed"`
	TriggerThreshold float64             `json:"trigger_threshold"`
	ReflexRegret     float64             `json:"reflex_regret"`
	ReflexForesight  float64             `json:"reflex_foresight"`
	Policy           router.PolicyConfig `json:"policy"`
	ShadowScores     []float64           `json:"shadow_scores,omitempty"`
	Start            time.Time           `json:"start"`
}

// DefaultConfig mirrors the live engine defaults with a fixed seed and epoch.
func DefaultConfig() Config {
	ec := engine.DefaultConfig()
	return Config{
		Seed:             1,
		TriggerThreshold: risk.DefaultTriggerThreshold,
		ReflexRegret:     ec.ReflexRegret,
		ReflexForesight:  ec.ReflexForesight,
		Policy:           ec.Policy,
		Start:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Result captures the outcome of replaying one tick.
type Result struct {
	Cycle    int    `json:"cycle"`
	Thought  string `json:"thought"`
	Fork     string `json:"fork"`
	Route    string `json:"route"`
	Mutator  string `json:"mutator,omitempty"`
	Reflex   bool   `json:"reflex"`
	Override bool   `json:"override"`
	Retained string `json:"retained,omitempty"`
}

// Summary provides aggregate stats from a replay run. Accepted, Rejected
// and NoOps count the thought, fork and router paths; Forced counts the
// regret route and reflex firings.
type Summary struct {
	Cycles    int `json:"cycles"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	NoOps     int `json:"no_ops"`
	Forced    int `json:"forced"`
	Retained  int `json:"retained"`
	Overrides int `json:"overrides"`
}

// #endregion types

// #region doubles
// clock advances one second per reading.
type clock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

// scripted serves whatever forecast the current tick carries.
type scripted struct {
	mu  sync.Mutex
	cur forecast.Forecast
}

func (s *scripted) set(f forecast.Forecast) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = f
}

func (s *scripted) Forecast(context.Context) (forecast.Forecast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return forecast.Forecast{
		Weights:    s.cur.Weights.Clone(),
		Confidence: s.cur.Confidence,
		Regret:     s.cur.Regret,
		Gain:       s.cur.Gain,
		Curiosity:  s.cur.Curiosity,
	}, nil
}

// #endregion doubles

// #region replay
// Replay runs every tick through a freshly wired engine backed by seeded
// sources, a fixed clock and an in-memory sink. The sink is returned so
// callers can inspect what was logged.
func Replay(ctx context.Context, start state.CognitiveState, ticks []Tick, config Config) ([]Result, *lineage.MemorySink, error) {
	holder, err := state.NewHolder(start)
	if err != nil {
		return nil, nil, fmt.Errorf("replay: start state: %w", err)
	}
	clk := &clock{cur: config.Start}
	sink := lineage.NewMemorySink()
	tracker := lineage.NewTracker(sink, lineage.DefaultTrackerConfig(), nil, nil).WithClock(clk.now)

	var pass atomic.Bool
	validator := sandbox.ValidatorFunc(func(context.Context, sandbox.Candidate) (bool, error) {
		return pass.Load(), nil
	})
	provider := &scripted{}

	var override *shadow.Override
	if len(config.ShadowScores) > 0 {
		lab := shadow.NewLab(shadow.FixedScorer(config.ShadowScores), config.Seed, nil)
		override = shadow.NewOverride(lab, tracker, shadow.OverrideConfig{
			Agents:    len(config.ShadowScores),
			Threshold: shadow.DefaultOverrideConfig().Threshold,
		}, nil, nil)
	}

	ec := engine.DefaultConfig()
	ec.Interval = 0
	ec.ReflexRegret = config.ReflexRegret
	ec.ReflexForesight = config.ReflexForesight
	ec.Policy = config.Policy

	var batch atomic.Int64
	batchID := func() string { return fmt.Sprintf("r%04d", batch.Add(1)) }

	traces := map[engine.Path]engine.Trace{}
	e, err := engine.New(ec, engine.Deps{
		State:     holder,
		Risk:      risk.NewEvaluator(risk.DefaultWeights(), config.TriggerThreshold),
		Generator: mutation.NewGenerator(rand.New(rand.NewPCG(config.Seed, 1)), mutation.WithClock(clk.now), mutation.WithSalt("replay")),
		Gate:      sandbox.NewGate(validator, sandbox.DefaultGateConfig(), nil, nil),
		Forks:     fork.NewEngine(fork.DefaultConfig(), rand.New(rand.NewPCG(config.Seed, 2)), fork.WithClock(clk.now), fork.WithBatchIDs(batchID)),
		Forecast:  provider,
		Tracker:   tracker,
		Shadow:    override,
		Tags:      rand.New(rand.NewPCG(config.Seed, 3)),
		Now:       clk.now,
	}, engine.WithTraceHook(func(tr engine.Trace) { traces[tr.Path] = tr }))
	if err != nil {
		return nil, nil, fmt.Errorf("replay: wire engine: %w", err)
	}

	results := make([]Result, 0, len(ticks))
	for i, tick := range ticks {
		cycle := tick.Cycle
		if cycle == 0 {
			cycle = i + 1
		}
		if tick.State != nil {
			next := *tick.State
			if _, err := holder.Apply(func(state.CognitiveState) state.CognitiveState { return next }); err != nil {
				return results, sink, fmt.Errorf("replay: cycle %d state: %w", cycle, err)
			}
		}
		provider.set(tick.Forecast)
		pass.Store(tick.Pass)
		clear(traces)

		rep, err := e.RunCycle(ctx, cycle)
		if err != nil {
			return results, sink, fmt.Errorf("replay: cycle %d: %w", cycle, err)
		}

		r := Result{
			Cycle:   cycle,
			Thought: action(traces[engine.PathThought]),
			Fork:    action(traces[engine.PathFork]),
			Route:   action(traces[engine.PathRouter]),
			Reflex:  rep.Reflex != nil,
		}
		if rep.Route.Outcome != nil {
			r.Mutator = rep.Route.Outcome.Mutator
		}
		if rep.Route.Override != nil {
			r.Override = rep.Route.Override.Override
		}
		if rep.Fork.Retained != nil {
			r.Retained = rep.Fork.Retained.ForkID
		}
		results = append(results, r)
	}
	return results, sink, nil
}

func action(tr engine.Trace) string {
	switch {
	case tr.Has(engine.StepAccepted):
		return ActionAccepted
	case tr.Has(engine.StepRejected):
		return ActionRejected
	default:
		return ActionNoOp
	}
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{Cycles: len(results)}
	for _, r := range results {
		for _, a := range []string{r.Thought, r.Fork, r.Route} {
			switch a {
			case ActionAccepted:
				s.Accepted++
			case ActionRejected:
				s.Rejected++
			case ActionNoOp:
				s.NoOps++
			}
		}
		if r.Mutator == "regret" {
			s.Forced++
		}
		if r.Reflex {
			s.Forced++
		}
		if r.Retained != "" {
			s.Retained++
		}
		if r.Override {
			s.Overrides++
		}
	}
	return s
}

// #endregion replay
