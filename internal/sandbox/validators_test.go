package sandbox

import (
	"context"
	"errors"
	"math"
	"testing"
)

type fakeSim struct {
	passed  bool
	err     error
	kind    string
	id      string
	payload map[string]any
}

func (f *fakeSim) Simulate(_ context.Context, kind, id string, payload map[string]any) (bool, float64, error) {
	f.kind, f.id, f.payload = kind, id, payload
	return f.passed, 0.5, f.err
}

func TestStochasticDeterministicPerSeed(t *testing.T) {
	a := NewStochastic(11, DefaultPassRate)
	b := NewStochastic(11, DefaultPassRate)
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		x, _ := a.Validate(ctx, Candidate{})
		y, _ := b.Validate(ctx, Candidate{})
		if x != y {
			t.Fatalf("diverged at draw %d", i)
		}
	}
}

func TestStochasticPassRateRoughlyHonored(t *testing.T) {
	s := NewStochastic(3, DefaultPassRate)
	passed := 0
	const n = 5000
	for i := 0; i < n; i++ {
		ok, err := s.Validate(context.Background(), Candidate{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			passed++
		}
	}
	rate := float64(passed) / n
	if rate < 0.67 || rate > 0.77 {
		t.Fatalf("pass rate %.3f far from %.2f", rate, DefaultPassRate)
	}
}

func TestStochasticExtremes(t *testing.T) {
	never := NewStochastic(1, 0)
	always := NewStochastic(1, 1)
	for i := 0; i < 100; i++ {
		if ok, _ := never.Validate(context.Background(), Candidate{}); ok {
			t.Fatal("pass rate 0 passed a candidate")
		}
	}
	passes := 0
	for i := 0; i < 100; i++ {
		if ok, _ := always.Validate(context.Background(), Candidate{}); ok {
			passes++
		}
	}
	if passes < 99 {
		t.Fatalf("pass rate 1 rejected %d candidates", 100-passes)
	}
}

func TestStochasticHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := NewStochastic(1, 1).Validate(ctx, Candidate{})
	if ok || err == nil {
		t.Fatal("expected cancelled context to fail")
	}
}

func TestStructural(t *testing.T) {
	s := Structural{}
	cases := []struct {
		name    string
		weights map[string]float64
		want    bool
	}{
		{"no weights", nil, true},
		{"empty", map[string]float64{}, false},
		{"valid", map[string]float64{"a": 0.25, "b": 0.75}, true},
		{"sum off", map[string]float64{"a": 0.5, "b": 0.6}, false},
		{"negative", map[string]float64{"a": -0.1, "b": 1.1}, false},
		{"nan", map[string]float64{"a": math.NaN(), "b": 1}, false},
	}
	for _, tc := range cases {
		got, err := s.Validate(context.Background(), Candidate{Weights: tc.weights})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestRemoteForwardsCandidate(t *testing.T) {
	sim := &fakeSim{passed: true}
	r := 0.4
	ok, err := Remote{Sim: sim}.Validate(context.Background(), Candidate{
		ID: "c9", Kind: KindFork, Strategy: "s", Risk: &r,
		Weights: map[string]float64{"a": 1},
	})
	if err != nil || !ok {
		t.Fatalf("expected pass, got %v %v", ok, err)
	}
	if sim.kind != "fork" || sim.id != "c9" {
		t.Fatalf("unexpected routing %s/%s", sim.kind, sim.id)
	}
	if sim.payload["risk"] != 0.4 {
		t.Fatalf("risk not forwarded: %v", sim.payload)
	}
	if _, ok := sim.payload["weights"].(map[string]any); !ok {
		t.Fatalf("weights not forwarded: %v", sim.payload)
	}
}

func TestRemoteWrapsTransportError(t *testing.T) {
	base := errors.New("unavailable")
	_, err := Remote{Sim: &fakeSim{err: base}}.Validate(context.Background(), Candidate{ID: "x"})
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestChainStopsAtFirstRejection(t *testing.T) {
	calls := 0
	counting := ValidatorFunc(func(context.Context, Candidate) (bool, error) {
		calls++
		return true, nil
	})
	ok, err := Chain(Always(false), counting).Validate(context.Background(), Candidate{})
	if ok || err != nil {
		t.Fatalf("expected plain rejection, got %v %v", ok, err)
	}
	if calls != 0 {
		t.Fatal("chain evaluated past a rejection")
	}

	ok, _ = Chain(counting, Structural{}, counting).Validate(context.Background(), Candidate{})
	if !ok || calls != 2 {
		t.Fatalf("expected pass through all, calls=%d", calls)
	}
}
