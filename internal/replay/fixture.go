package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string               `json:"description"`
	StartState  state.CognitiveState `json:"start_state"`
	Config      Config               `json:"config"`
	Ticks       []Tick               `json:"ticks"`
	Expected    []Expected           `json:"expected_results"`
}

// Expected captures the expected per-path actions for one cycle. Empty
// fields are not checked.
type Expected struct {
	Cycle    int    `json:"cycle"`
	Thought  string `json:"thought,omitempty"`
	Fork     string `json:"fork,omitempty"`
	Route    string `json:"route,omitempty"`
	Mutator  string `json:"mutator,omitempty"`
	Reflex   *bool  `json:"reflex,omitempty"`
	Override *bool  `json:"override,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file. Config fields the file
// omits keep their DefaultConfig values.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	f := Fixture{StartState: state.DefaultState(), Config: DefaultConfig()}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Mismatches compares results against the expectations and describes every
// difference.
func (f *Fixture) Mismatches(results []Result) []string {
	var out []string
	if len(results) != len(f.Expected) {
		out = append(out, fmt.Sprintf("expected %d results, got %d", len(f.Expected), len(results)))
	}
	for i, exp := range f.Expected {
		if i >= len(results) {
			break
		}
		got := results[i]
		check := func(field, want, have string) {
			if want != "" && want != have {
				out = append(out, fmt.Sprintf("cycle %d: expected %s=%s, got %s", exp.Cycle, field, want, have))
			}
		}
		if exp.Cycle != got.Cycle {
			out = append(out, fmt.Sprintf("result %d: expected cycle=%d, got %d", i, exp.Cycle, got.Cycle))
		}
		check("thought", exp.Thought, got.Thought)
		check("fork", exp.Fork, got.Fork)
		check("route", exp.Route, got.Route)
		check("mutator", exp.Mutator, got.Mutator)
		if exp.Reflex != nil && *exp.Reflex != got.Reflex {
			out = append(out, fmt.Sprintf("cycle %d: expected reflex=%t, got %t", exp.Cycle, *exp.Reflex, got.Reflex))
		}
		if exp.Override != nil && *exp.Override != got.Override {
			out = append(out, fmt.Sprintf("cycle %d: expected override=%t, got %t", exp.Cycle, *exp.Override, got.Override))
		}
	}
	return out
}

// #endregion fixture-loader
