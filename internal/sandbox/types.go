package sandbox

import (
	"context"
	"time"
)

// #region candidate
// Kind distinguishes what a candidate represents.
type Kind string

const (
	KindMutation Kind = "mutation"
	KindFork     Kind = "fork"
)

// Candidate is everything a validator may inspect about a proposed change.
type Candidate struct {
	ID       string             `json:"id"`
	Kind     Kind               `json:"kind"`
	Strategy string             `json:"strategy"`
	Trigger  string             `json:"trigger,omitempty"`
	Risk     *float64           `json:"risk,omitempty"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	Context  map[string]string  `json:"context,omitempty"`
}

// #endregion candidate

// #region validator
// Validator decides whether a candidate survives isolated evaluation.
// An error means the candidate could not be evaluated; the gate treats it
// as a failure.
type Validator interface {
	Validate(ctx context.Context, c Candidate) (bool, error)
}

// ValidatorFunc adapts a plain function to Validator.
type ValidatorFunc func(ctx context.Context, c Candidate) (bool, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, c Candidate) (bool, error) {
	return f(ctx, c)
}

// #endregion validator

// #region reason
// Reason classifies a verdict.
type Reason string

const (
	ReasonPassed   Reason = "passed"
	ReasonRejected Reason = "rejected"
	ReasonTimeout  Reason = "timeout"
	ReasonError    Reason = "error"
)

// #endregion reason

// #region gate-config
// GateConfig holds the bounds applied around every validator call.
type GateConfig struct {
	Timeout time.Duration // per-call bound; exceeded → fail
}

// DefaultGateConfig returns a 2s per-call bound.
func DefaultGateConfig() GateConfig {
	return GateConfig{Timeout: 2 * time.Second}
}

// #endregion gate-config

// #region verdict
// Verdict is the gate's settled answer for one candidate.
type Verdict struct {
	Passed  bool
	Reason  Reason
	Detail  string
	Elapsed time.Duration
}

// #endregion verdict
