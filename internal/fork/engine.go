package fork

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region engine
// Engine perturbs a baseline weight vector into variants and selects a
// dominant one.
type Engine struct {
	config Config
	src    Source // perturbation draws
	noise  Source // selection noise draws
	now    func() time.Time
	newID  func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithNoise sets a separate source for the selection noise term.
func WithNoise(src Source) Option {
	return func(e *Engine) { e.noise = src }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBatchIDs overrides how a batch id is minted.
func WithBatchIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine builds an engine. A nil src gets a fixed-seed PCG source.
func NewEngine(config Config, src Source, opts ...Option) *Engine {
	if src == nil {
		src = rand.New(rand.NewPCG(1, 1))
	}
	if config.Count <= 0 {
		config.Count = DefaultConfig().Count
	}
	if config.MoodBias == nil {
		config.MoodBias = DefaultMoodBias()
	}
	e := &Engine{
		config: config,
		src:    src,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return strings.SplitN(uuid.NewString(), "-", 2)[0] },
	}
	for _, o := range opts {
		o(e)
	}
	if e.noise == nil {
		e.noise = e.src
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// #endregion engine

// #region mutate
// MutateStrategies produces Config.Count variants of base. Each weight gets
// an independent uniform perturbation plus the mood offset, is clamped to
// [0, 1], and the vector is renormalized to sum 1.
func (e *Engine) MutateStrategies(base Weights, mood state.Emotion, foresight float64) ([]Variant, error) {
	if err := checkWeights(base); err != nil {
		return nil, err
	}
	if err := state.CheckUnit("foresight confidence", foresight); err != nil {
		return nil, fmt.Errorf("fork: %w", err)
	}

	bias := e.config.MoodBias[state.Emotion(strings.ToLower(string(mood)))]
	keys := base.keys()
	batch := e.newID()
	ts := e.now()

	variants := make([]Variant, 0, e.config.Count)
	for i := 0; i < e.config.Count; i++ {
		w := make(Weights, len(base))
		for _, k := range keys {
			delta := (e.src.Float64()*2 - 1) * e.config.Strength
			w[k] = state.Clamp01(base[k] + delta + bias)
		}
		normalize(w, keys)

		variants = append(variants, Variant{
			ID:           fmt.Sprintf("fork-%s-v%d", batch, i+1),
			Weights:      w,
			MutationBias: bias,
			Confidence:   foresight,
			Timestamp:    ts,
		})
	}
	return variants, nil
}

// normalize scales w to sum 1; an all-zero vector becomes uniform.
func normalize(w Weights, keys []string) {
	var total float64
	for _, k := range keys {
		total += w[k]
	}
	if total == 0 {
		u := 1 / float64(len(keys))
		for _, k := range keys {
			w[k] = u
		}
		return
	}
	for _, k := range keys {
		w[k] /= total
	}
}

// #endregion mutate

// #region select
// SelectDominant scores each variant as |sum(weights) - 1| plus a noise term
// scaled by regret and RegretSign, and returns the lowest-scoring variant.
// Ties go to the earliest index.
func (e *Engine) SelectDominant(variants []Variant, regret float64) (Variant, []float64, error) {
	if len(variants) == 0 {
		return Variant{}, nil, fmt.Errorf("fork: no variants to select from: %w", state.ErrMalformedInput)
	}
	if err := state.CheckUnit("regret", regret); err != nil {
		return Variant{}, nil, fmt.Errorf("fork: %w", err)
	}

	scores := make([]float64, len(variants))
	best := 0
	for i, v := range variants {
		if len(v.Weights) == 0 {
			return Variant{}, nil, fmt.Errorf("fork: variant %s has no weights: %w", v.ID, state.ErrMalformedInput)
		}
		scores[i] = math.Abs(v.Weights.Sum()-1) + e.config.RegretSign*e.noise.Float64()*regret
		if scores[i] < scores[best] {
			best = i
		}
	}

	dominant := variants[best]
	dominant.Score = scores[best]
	return dominant, scores, nil
}

// #endregion select

// #region helpers
var errEmptyWeights = errors.New("empty weight vector")

func checkWeights(w Weights) error {
	if len(w) == 0 {
		return fmt.Errorf("fork: %w: %w", errEmptyWeights, state.ErrMalformedInput)
	}
	for k, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("fork: weight %q=%v invalid: %w", k, v, state.ErrMalformedInput)
		}
	}
	return nil
}

// #endregion helpers
