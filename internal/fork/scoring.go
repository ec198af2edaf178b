package fork

import (
	"math"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region fork-score
// Signal carries the inputs to the utility score of a retained fork.
type Signal struct {
	ForkID     string
	Emotion    state.Emotion
	Regret     float64
	Gain       float64
	Confidence float64
}

// Score weights low regret, performance gain, confidence, and a resolve bonus
// into one utility value, rounded to 3 decimals.
func Score(s Signal) float64 {
	bonus := 0.0
	if s.Emotion == state.EmotionResolve {
		bonus = 1
	}
	raw := 0.4*(1-s.Regret) + 0.3*s.Gain + 0.2*s.Confidence + 0.1*bonus
	return math.Round(raw*1000) / 1000
}

// #endregion fork-score

// #region counterfactual
// Counterfactual estimates the fork that was not chosen.
type Counterfactual struct {
	AltStrategyID string        `json:"alt_strategy_id"`
	Bias          string        `json:"hypothetical_bias"`
	Emotion       state.Emotion `json:"hypothetical_emotion"`
	Confidence    float64       `json:"alt_confidence"`
}

// Simulate builds the counterfactual of v. A negative mood bias yields a
// contrarian alternative, otherwise adaptive; hope flips to fear and any other
// emotion to hope; confidence is 1 - regret.
func Simulate(v Variant, emotion state.Emotion, regret float64) Counterfactual {
	bias := "adaptive"
	if v.MutationBias < 0 {
		bias = "contrarian"
	}
	alt := state.EmotionHope
	if emotion == state.EmotionHope {
		alt = state.EmotionFear
	}
	return Counterfactual{
		AltStrategyID: v.ID + "_simulated",
		Bias:          bias,
		Emotion:       alt,
		Confidence:    math.Round((1-regret)*100) / 100,
	}
}

// #endregion counterfactual

// #region divergence
// Divergence is the L1 distance between two weight vectors over the union of
// their categories.
func Divergence(a, b Weights) float64 {
	seen := make(map[string]struct{}, len(a)+len(b))
	var d float64
	for _, k := range a.keys() {
		seen[k] = struct{}{}
		d += math.Abs(a[k] - b[k])
	}
	for _, k := range b.keys() {
		if _, ok := seen[k]; !ok {
			d += math.Abs(b[k])
		}
	}
	return d
}

// #endregion divergence
