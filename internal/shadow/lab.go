package shadow

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region agent
// Agent is a disposable canary carrying a candidate patch under one
// emotional temperament.
type Agent struct {
	ID     string        `json:"id"`
	Index  int           `json:"index"`
	Patch  string        `json:"mutation"`
	Bias   state.Emotion `json:"emotion_bias"`
	Score  float64       `json:"score"`
	Scored bool          `json:"scored"`
}

// Biases is the temperament pool shadow agents are drawn from.
var Biases = []state.Emotion{state.EmotionHope, state.EmotionResolve, state.EmotionFear}

// #endregion agent

// #region scorer
// Scorer assigns an agent a performance score in [0, 1].
type Scorer interface {
	Score(ctx context.Context, a Agent) (float64, error)
}

// RandomScorer draws uniform scores from seeded sources, one stream per agent
// index, so an agent's score does not depend on the order agents are scored
// in. Safe for concurrent use.
type RandomScorer struct {
	seed uint64

	mu      sync.Mutex
	streams map[int]*rand.Rand
}

// NewRandomScorer seeds a PCG-backed scorer.
func NewRandomScorer(seed uint64) *RandomScorer {
	return &RandomScorer{seed: seed, streams: make(map[int]*rand.Rand)}
}

func (r *RandomScorer) Score(ctx context.Context, a Agent) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rng, ok := r.streams[a.Index]
	if !ok {
		rng = rand.New(rand.NewPCG(r.seed, r.seed^0x5bd1e995+uint64(a.Index)))
		r.streams[a.Index] = rng
	}
	return rng.Float64(), nil
}

// FixedScorer returns a preset score by agent index.
type FixedScorer []float64

func (f FixedScorer) Score(_ context.Context, a Agent) (float64, error) {
	if a.Index < 0 || a.Index >= len(f) {
		return 0, fmt.Errorf("shadow: no fixed score for agent index %d", a.Index)
	}
	return f[a.Index], nil
}

// RemoteScorer asks an external scenario simulator for the score.
type RemoteScorer struct {
	Sim sandbox.Simulator
}

func (r RemoteScorer) Score(ctx context.Context, a Agent) (float64, error) {
	_, score, err := r.Sim.Simulate(ctx, "shadow", a.ID, map[string]any{
		"mutation":     a.Patch,
		"emotion_bias": string(a.Bias),
	})
	if err != nil {
		return 0, fmt.Errorf("shadow: remote score %s: %w", a.ID, err)
	}
	return score, nil
}

// #endregion scorer

// #region lab
// Lab spawns and scores shadow agents.
type Lab struct {
	scorer Scorer
	log    *zap.Logger

	mu  sync.Mutex
	src *rand.Rand
}

// NewLab builds a lab around scorer. seed drives the fallback bias draw.
func NewLab(scorer Scorer, seed uint64, log *zap.Logger) *Lab {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lab{
		scorer: scorer,
		log:    log.Named("shadow"),
		src:    rand.New(rand.NewPCG(seed, 17)),
	}
}

// SpawnShadowAgent creates an unscored agent. An empty bias is drawn from
// Biases.
func (l *Lab) SpawnShadowAgent(patch string, bias state.Emotion) Agent {
	if bias == "" {
		bias = l.drawBias()
	}
	a := Agent{
		ID:    strings.SplitN(uuid.NewString(), "-", 2)[0],
		Patch: patch,
		Bias:  bias,
	}
	l.log.Debug("spawned shadow agent", zap.String("agent_id", a.ID), zap.String("bias", string(bias)))
	return a
}

// SimulateOutcome scores a, rounded to 3 decimals.
func (l *Lab) SimulateOutcome(ctx context.Context, a Agent) (Agent, error) {
	s, err := l.scorer.Score(ctx, a)
	if err != nil {
		return a, err
	}
	if math.IsNaN(s) || s < 0 || s > 1 {
		return a, fmt.Errorf("shadow: agent %s score %v outside [0,1]: %w", a.ID, s, state.ErrMalformedInput)
	}
	a.Score = math.Round(s*1000) / 1000
	a.Scored = true
	l.log.Debug("shadow simulation complete", zap.String("agent_id", a.ID), zap.Float64("score", a.Score))
	return a, nil
}

func (l *Lab) drawBias() state.Emotion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Biases[l.src.IntN(len(Biases))]
}

// #endregion lab
