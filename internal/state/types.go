package state

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedInput marks caller-supplied values that are outside their
// declared domain. Callers match it with errors.Is.
var ErrMalformedInput = errors.New("malformed input")

// #region emotion
// Emotion is a categorical control label used as a lookup key into weight tables.
type Emotion string

const (
	EmotionFear      Emotion = "fear"
	EmotionGreed     Emotion = "greed"
	EmotionResolve   Emotion = "resolve"
	EmotionHope      Emotion = "hope"
	EmotionNeutral   Emotion = "neutral"
	EmotionUncertain Emotion = "uncertain"
	EmotionConfident Emotion = "confident"
)

// Vocabulary lists the emotions the drift simulator cycles through.
var Vocabulary = []Emotion{
	EmotionFear,
	EmotionGreed,
	EmotionResolve,
	EmotionHope,
	EmotionNeutral,
	EmotionUncertain,
	EmotionConfident,
}

// #endregion emotion

// #region cognitive-state
// CognitiveState is the current value of the agent's control parameters.
type CognitiveState struct {
	Emotion   Emotion `json:"emotion"`
	Urgency   float64 `json:"urgency"`
	Coherence float64 `json:"coherence"`
	Trust     float64 `json:"trust"`
	Phase     int     `json:"phase"`
}

// DefaultState returns the state the agent boots with.
func DefaultState() CognitiveState {
	return CognitiveState{
		Emotion:   EmotionNeutral,
		Urgency:   0.5,
		Coherence: 1.0,
		Trust:     0.85,
		Phase:     0,
	}
}

// Validate reports whether every scalar lies in its declared range.
func (s CognitiveState) Validate() error {
	if s.Emotion == "" {
		return fmt.Errorf("emotion is empty: %w", ErrMalformedInput)
	}
	if err := CheckUnit("urgency", s.Urgency); err != nil {
		return err
	}
	if err := CheckUnit("coherence", s.Coherence); err != nil {
		return err
	}
	if err := CheckUnit("trust", s.Trust); err != nil {
		return err
	}
	if s.Phase < 0 {
		return fmt.Errorf("phase %d is negative: %w", s.Phase, ErrMalformedInput)
	}
	return nil
}

// #endregion cognitive-state

// #region helpers
// CheckUnit returns ErrMalformedInput unless v is a finite value in [0, 1].
func CheckUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s %v outside [0,1]: %w", name, v, ErrMalformedInput)
	}
	return nil
}

// Clamp01 restricts v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
