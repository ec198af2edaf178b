package risk

import (
	"fmt"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region weights
// DefaultWeight applies to any emotion missing from the weight table.
const DefaultWeight = 0.6

// DefaultTriggerThreshold is the risk above which a mutation candidate is generated.
const DefaultTriggerThreshold = 0.2

// Weights maps an emotion label to its risk multiplier.
type Weights map[state.Emotion]float64

// DefaultWeights returns the standard emotion weight table.
func DefaultWeights() Weights {
	return Weights{
		state.EmotionFear:    1.0,
		state.EmotionGreed:   0.9,
		state.EmotionResolve: 0.7,
		state.EmotionHope:    0.5,
	}
}

// Weight returns the multiplier for e, falling back to DefaultWeight.
func (w Weights) Weight(e state.Emotion) float64 {
	if v, ok := w[e]; ok {
		return v
	}
	return DefaultWeight
}

// #endregion weights

// #region compute
// Compute scores risk as weight(emotion) * urgency * (1 - coherence), clamped to [0, 1].
func Compute(w Weights, emotion state.Emotion, urgency, coherence float64) float64 {
	return state.Clamp01(w.Weight(emotion) * urgency * (1 - coherence))
}

// #endregion compute

// #region evaluator
// Assessment is the result of scoring one cognitive state.
type Assessment struct {
	Risk      float64
	Threshold float64
	Triggered bool
}

// Evaluator gates mutation generation on the computed risk.
type Evaluator struct {
	weights   Weights
	threshold float64
}

// NewEvaluator builds an evaluator. A nil table uses DefaultWeights.
func NewEvaluator(w Weights, threshold float64) *Evaluator {
	if w == nil {
		w = DefaultWeights()
	}
	return &Evaluator{weights: w, threshold: threshold}
}

// Threshold returns the configured trigger threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate validates the inputs and scores them. Out-of-range scalars are a
// caller error, not something to clamp away.
func (e *Evaluator) Evaluate(emotion state.Emotion, urgency, coherence float64) (Assessment, error) {
	if emotion == "" {
		return Assessment{}, fmt.Errorf("risk: empty emotion: %w", state.ErrMalformedInput)
	}
	if err := state.CheckUnit("urgency", urgency); err != nil {
		return Assessment{}, fmt.Errorf("risk: %w", err)
	}
	if err := state.CheckUnit("coherence", coherence); err != nil {
		return Assessment{}, fmt.Errorf("risk: %w", err)
	}
	r := Compute(e.weights, emotion, urgency, coherence)
	return Assessment{
		Risk:      r,
		Threshold: e.threshold,
		Triggered: r > e.threshold,
	}, nil
}

// #endregion evaluator
