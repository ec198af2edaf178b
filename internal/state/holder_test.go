package state

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultStateIsValid(t *testing.T) {
	if err := DefaultState().Validate(); err != nil {
		t.Fatalf("default state invalid: %v", err)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := map[string]CognitiveState{
		"urgency":   {Emotion: EmotionFear, Urgency: 1.2, Coherence: 0.5, Trust: 0.5},
		"coherence": {Emotion: EmotionFear, Urgency: 0.2, Coherence: -0.1, Trust: 0.5},
		"trust":     {Emotion: EmotionFear, Urgency: 0.2, Coherence: 0.5, Trust: math.NaN()},
		"phase":     {Emotion: EmotionFear, Urgency: 0.2, Coherence: 0.5, Trust: 0.5, Phase: -1},
		"emotion":   {Urgency: 0.2, Coherence: 0.5, Trust: 0.5},
	}
	for name, s := range cases {
		err := s.Validate()
		if !errors.Is(err, ErrMalformedInput) {
			t.Errorf("%s: expected ErrMalformedInput, got %v", name, err)
		}
	}
}

func TestHolderApplyKeepsPreviousOnInvalid(t *testing.T) {
	h, err := NewHolder(DefaultState())
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}

	_, err = h.Apply(func(s CognitiveState) CognitiveState {
		s.Urgency = 7
		return s
	})
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if got := h.Snapshot().Urgency; got != 0.5 {
		t.Fatalf("expected urgency to stay 0.5, got %f", got)
	}

	next, err := h.Apply(func(s CognitiveState) CognitiveState {
		s.Emotion = EmotionFear
		s.Coherence = 0.4
		return s
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if next.Emotion != EmotionFear || h.Snapshot().Coherence != 0.4 {
		t.Fatalf("state not applied: %+v", h.Snapshot())
	}
}

func TestNewHolderRejectsInvalid(t *testing.T) {
	if _, err := NewHolder(CognitiveState{}); err == nil {
		t.Fatal("expected error for empty state")
	}
}

func TestDriftStaysInRange(t *testing.T) {
	d := NewDrift(42, 0.3, 0.5, 5)
	s := DefaultState()
	for i := 0; i < 500; i++ {
		s = d.Next(s)
		if err := s.Validate(); err != nil {
			t.Fatalf("tick %d produced invalid state: %v", i, err)
		}
	}
	if s.Phase != 100 {
		t.Fatalf("expected phase 100 after 500 ticks, got %d", s.Phase)
	}
}

func TestDriftDeterministic(t *testing.T) {
	a := NewDrift(7, 0.1, 0.2, 0)
	b := NewDrift(7, 0.1, 0.2, 0)
	sa, sb := DefaultState(), DefaultState()
	for i := 0; i < 50; i++ {
		sa, sb = a.Next(sa), b.Next(sb)
		if sa != sb {
			t.Fatalf("diverged at tick %d: %+v vs %+v", i, sa, sb)
		}
	}
}

func TestClamp01(t *testing.T) {
	if Clamp01(-1) != 0 || Clamp01(2) != 1 || Clamp01(0.3) != 0.3 || Clamp01(math.NaN()) != 0 {
		t.Fatal("Clamp01 out of contract")
	}
}
