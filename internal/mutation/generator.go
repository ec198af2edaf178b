package mutation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region source
// Source is the randomness a Generator draws mutation types from.
// *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// #endregion source

// #region generator
// Generator produces pending mutation candidates.
type Generator struct {
	src    Source
	now    func() time.Time
	salt   string
	module string
	fn     string
	seq    atomic.Uint64
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSalt sets the salt mixed into record ids.
func WithSalt(salt string) Option {
	return func(g *Generator) { g.salt = salt }
}

// WithTarget sets the module/function a candidate targets.
func WithTarget(module, function string) Option {
	return func(g *Generator) {
		g.module = module
		g.fn = function
	}
}

// NewGenerator builds a generator. A nil src gets a seeded PCG source.
func NewGenerator(src Source, opts ...Option) *Generator {
	if src == nil {
		src = rand.New(rand.NewPCG(1, 2))
	}
	g := &Generator{
		src:    src,
		now:    func() time.Time { return time.Now().UTC() },
		module: "core",
		fn:     "main_loop",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate builds a risk-triggered candidate for the given cycle.
func (g *Generator) Generate(cycleID int, emotion state.Emotion) Record {
	ts := g.now()
	label := fmt.Sprintf("mutation_cycle_%d", cycleID)
	return Record{
		ID:             g.hash(label, ts),
		Strategy:       label,
		Type:           generatedTypes[g.src.IntN(len(generatedTypes))],
		Trigger:        "risk_threshold",
		Emotion:        emotion,
		Cycle:          cycleID,
		TargetModule:   g.module,
		TargetFunction: g.fn,
		Description:    "dynamic mutation from elevated risk",
		Timestamp:      ts,
		Outcome:        OutcomePending,
	}
}

// ForceGenerate builds a candidate that bypasses the risk trigger.
func (g *Generator) ForceGenerate(reason string) Record {
	ts := g.now()
	label := "forced_mutation_" + ts.Format(time.RFC3339Nano)
	return Record{
		ID:             g.hash(label, ts),
		Strategy:       label,
		Type:           TypeForced,
		Trigger:        reason,
		Forced:         true,
		TargetModule:   g.module,
		TargetFunction: g.fn,
		Description:    "externally forced: " + reason,
		Timestamp:      ts,
		Outcome:        OutcomePending,
	}
}

// Propose builds a pending candidate for a strategy chosen by another
// component (a specialized mutator).
func (g *Generator) Propose(strategy, trigger, description string) Record {
	ts := g.now()
	return Record{
		ID:             g.hash(strategy, ts),
		Strategy:       strategy,
		Type:           TypePatch,
		Trigger:        trigger,
		TargetModule:   g.module,
		TargetFunction: g.fn,
		Description:    description,
		Timestamp:      ts,
		Outcome:        OutcomePending,
	}
}

// hash mixes a per-generator sequence into the salt so two candidates minted
// at the same instant still get distinct ids.
func (g *Generator) hash(label string, ts time.Time) string {
	n := strconv.FormatUint(g.seq.Add(1), 10)
	sum := sha256.Sum256([]byte(label + "|" + ts.Format(time.RFC3339Nano) + "|" + g.salt + "#" + n))
	return hex.EncodeToString(sum[:])
}

// #endregion generator
