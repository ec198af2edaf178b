package fork

import (
	"testing"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

func TestScoreResolveBonus(t *testing.T) {
	base := Signal{Regret: 0.5, Gain: 0.2, Confidence: 0.5}
	neutral := Score(base)
	base.Emotion = state.EmotionResolve
	resolve := Score(base)

	// 0.4*0.5 + 0.3*0.2 + 0.2*0.5 = 0.36
	if neutral != 0.36 {
		t.Fatalf("expected 0.36, got %v", neutral)
	}
	if resolve != 0.46 {
		t.Fatalf("expected 0.46, got %v", resolve)
	}
}

func TestScoreRoundsToThreeDecimals(t *testing.T) {
	got := Score(Signal{Regret: 0.3333, Gain: 0.1111, Confidence: 0.7777})
	// 0.26668 + 0.03333 + 0.15554 = 0.45555
	if got != 0.456 {
		t.Fatalf("expected 0.456, got %v", got)
	}
}

func TestSimulateCounterfactual(t *testing.T) {
	v := Variant{ID: "fork-a-v2", MutationBias: -0.03}

	cf := Simulate(v, state.EmotionHope, 0.37)

	if cf.AltStrategyID != "fork-a-v2_simulated" {
		t.Fatalf("unexpected id %s", cf.AltStrategyID)
	}
	if cf.Bias != "contrarian" || cf.Emotion != state.EmotionFear {
		t.Fatalf("unexpected flip %+v", cf)
	}
	if cf.Confidence != 0.63 {
		t.Fatalf("expected 0.63, got %v", cf.Confidence)
	}

	cf = Simulate(Variant{ID: "x", MutationBias: 0.02}, state.EmotionFear, 0)
	if cf.Bias != "adaptive" || cf.Emotion != state.EmotionHope || cf.Confidence != 1 {
		t.Fatalf("unexpected flip %+v", cf)
	}
}

func TestDivergence(t *testing.T) {
	a := Weights{"x": 0.5, "y": 0.5}
	b := Weights{"x": 0.2, "z": 0.8}
	// |0.5-0.2| + |0.5-0| + |0.8| = 1.6
	got := Divergence(a, b)
	if got < 1.6-1e-9 || got > 1.6+1e-9 {
		t.Fatalf("expected 1.6, got %v", got)
	}
	if Divergence(a, a) != 0 {
		t.Fatal("self divergence must be 0")
	}
}
