package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// #region fixture-tests

// TestFixture_BaselineSession replays the baseline fixture and compares every
// cycle against its recorded actions. If thresholds or routing order drift,
// this catches it.
func TestFixture_BaselineSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "baseline_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, sink, err := Replay(context.Background(), f.StartState, f.Ticks, f.Config)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, m := range f.Mismatches(results) {
		t.Error(m)
	}

	s := Summarize(results)
	want := Summary{Cycles: 4, Accepted: 7, Rejected: 3, NoOps: 2, Forced: 2, Retained: 3, Overrides: 2}
	if s != want {
		t.Errorf("summary = %+v, want %+v", s, want)
	}
	if n := sink.Len("mutation_lineage"); n != 11 {
		t.Errorf("expected 11 lineage entries, got %d", n)
	}
	if n := sink.Len("patch_execution"); n != 3 {
		t.Errorf("expected 3 patch entries, got %d", n)
	}
	if n := sink.Len("regret_reflex"); n != 1 {
		t.Errorf("expected 1 reflex entry, got %d", n)
	}
	if n := sink.Len("fork_divergence"); n != 4 {
		t.Errorf("expected one divergence entry per fork cycle, got %d", n)
	}
}

func TestLoadFixture_KeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.json")
	if err := os.WriteFile(path, []byte(`{"config":{"seed":9,"policy":{"min_phase":2}},"ticks":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if f.Config.Seed != 9 || f.Config.Policy.MinPhase != 2 {
		t.Errorf("overrides not applied: %+v", f.Config)
	}
	if f.Config.Policy.TrustFloor != 0.75 || f.Config.TriggerThreshold != 0.2 {
		t.Errorf("defaults lost: %+v", f.Config)
	}
	if f.StartState.Emotion != "neutral" {
		t.Errorf("start state default lost: %+v", f.StartState)
	}
}

func TestLoadFixture_Errors(t *testing.T) {
	if _, err := LoadFixture(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestMismatches(t *testing.T) {
	yes := true
	f := &Fixture{Expected: []Expected{{Cycle: 1, Thought: "accepted", Reflex: &yes}}}

	if m := f.Mismatches([]Result{{Cycle: 1, Thought: "accepted", Reflex: true}}); len(m) != 0 {
		t.Errorf("expected no mismatches, got %v", m)
	}
	if m := f.Mismatches([]Result{{Cycle: 1, Thought: "no_op"}}); len(m) != 2 {
		t.Errorf("expected 2 mismatches, got %v", m)
	}
	if m := f.Mismatches(nil); len(m) != 1 {
		t.Errorf("expected length mismatch only, got %v", m)
	}
}

// #endregion fixture-tests
