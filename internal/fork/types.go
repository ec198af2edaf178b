package fork

import (
	"maps"
	"slices"
	"time"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region weights
// Weights maps a strategy category to its allocation. A valid vector is
// non-negative and sums to 1.
type Weights map[string]float64

// Sum returns the total allocation.
func (w Weights) Sum() float64 {
	var s float64
	for _, k := range w.keys() {
		s += w[k]
	}
	return s
}

// Clone returns an independent copy.
func (w Weights) Clone() Weights {
	return maps.Clone(w)
}

// keys returns categories in sorted order so that every pass over a vector
// consumes randomness in the same sequence.
func (w Weights) keys() []string {
	return slices.Sorted(maps.Keys(w))
}

// #endregion weights

// #region variant
// Variant is one perturbed candidate strategy configuration.
type Variant struct {
	ID           string    `json:"id"`
	Weights      Weights   `json:"weights"`
	MutationBias float64   `json:"mutation_bias"`
	Confidence   float64   `json:"confidence"`
	Score        float64   `json:"score"`
	Timestamp    time.Time `json:"timestamp"`
}

// #endregion variant

// #region config
// Config holds the perturbation and selection knobs.
type Config struct {
	Count      int                       // variants per batch
	Strength   float64                   // max absolute perturbation per weight
	MoodBias   map[state.Emotion]float64 // deterministic offset per mood
	RegretSign float64                   // sign applied to the regret-scaled noise term
}

// DefaultMoodBias is the standard mood offset table. Unknown moods get 0.
func DefaultMoodBias() map[state.Emotion]float64 {
	return map[state.Emotion]float64{
		state.EmotionFear:      -0.03,
		state.EmotionGreed:     0.02,
		state.EmotionNeutral:   0.0,
		state.EmotionUncertain: -0.01,
		state.EmotionConfident: 0.01,
	}
}

// DefaultConfig returns 3 variants at ±0.05 with regret noise penalizing a variant.
func DefaultConfig() Config {
	return Config{
		Count:      3,
		Strength:   0.05,
		MoodBias:   DefaultMoodBias(),
		RegretSign: 1,
	}
}

// #endregion config

// #region source
// Source supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// #endregion source
