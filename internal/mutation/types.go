package mutation

import (
	"time"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region mutation-type
// Type enumerates the kinds of modification a candidate may carry.
type Type string

const (
	TypeAugment  Type = "augment"
	TypePatch    Type = "patch"
	TypeRedirect Type = "redirect"
	TypeForced   Type = "forced_patch"
)

// generatedTypes is the pool Generate draws from.
var generatedTypes = []Type{TypeAugment, TypePatch, TypeRedirect}

// #endregion mutation-type

// #region outcome
// Outcome is the validator's verdict on a record.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// #endregion outcome

// #region record
// Record describes one mutation attempt. Generators return it pending; the
// sandbox gate settles it exactly once.
type Record struct {
	ID             string        `json:"id"`
	Strategy       string        `json:"strategy"`
	Type           Type          `json:"mutation_type"`
	Trigger        string        `json:"trigger"`
	Emotion        state.Emotion `json:"emotion,omitempty"`
	Cycle          int           `json:"cycle,omitempty"`
	Risk           *float64      `json:"risk,omitempty"`
	Forced         bool          `json:"forced"`
	TargetModule   string        `json:"target_module"`
	TargetFunction string        `json:"target_function"`
	Description    string        `json:"description"`
	Timestamp      time.Time     `json:"timestamp"`
	Outcome        Outcome       `json:"outcome"`
}

// Settled reports whether the record already carries a verdict.
func (r Record) Settled() bool {
	return r.Outcome == OutcomeAccepted || r.Outcome == OutcomeRejected
}

// Settle returns a copy of r carrying the verdict.
func (r Record) Settle(passed bool) Record {
	if passed {
		r.Outcome = OutcomeAccepted
	} else {
		r.Outcome = OutcomeRejected
	}
	return r
}

// WithRisk returns a copy of r annotated with the risk that triggered it.
func (r Record) WithRisk(v float64) Record {
	r.Risk = &v
	return r
}

// #endregion record
