package router

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region policy-config
// PolicyConfig holds the admission thresholds.
type PolicyConfig struct {
	TrustFloor   float64 `json:"trust_floor" yaml:"trust_floor" validate:"gte=0,lte=1"`
	CoherenceMin float64 `json:"coherence_min" yaml:"coherence_min" validate:"gte=0,lte=1"`
	MinPhase     int     `json:"min_phase" yaml:"min_phase" validate:"gte=0"`
}

// DefaultPolicyConfig returns trust ≥ 0.75, coherence ≥ 0.55, phase ≥ 4.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		TrustFloor:   0.75,
		CoherenceMin: 0.55,
		MinPhase:     4,
	}
}

// #endregion policy-config

// #region decision
// Decision is the audit record written for every admission check.
type Decision struct {
	Mutator    string               `json:"mutator,omitempty"`
	Context    string               `json:"context,omitempty"`
	Reason     string               `json:"reason"`
	Timestamp  time.Time            `json:"timestamp"`
	Allowed    bool                 `json:"allowed"`
	Thresholds PolicyConfig         `json:"thresholds"`
	Snapshot   state.CognitiveState `json:"snapshot"`
}

// Auditor receives every admission decision. *lineage.Tracker satisfies it.
type Auditor interface {
	LogDecision(ctx context.Context, d Decision)
}

type nopAuditor struct{}

func (nopAuditor) LogDecision(context.Context, Decision) {}

// #endregion decision

// #region policy
// Policy is the sole admission gate against mutating during low-trust or
// low-maturity states.
type Policy struct {
	config  PolicyConfig
	reader  state.Reader
	audit   Auditor
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu   sync.Mutex
	last *Decision
}

// NewPolicy builds a policy over reader. audit, log and m may be nil.
func NewPolicy(reader state.Reader, audit Auditor, config PolicyConfig, log *zap.Logger, m *metrics.Metrics) *Policy {
	if audit == nil {
		audit = nopAuditor{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{
		config:  config,
		reader:  reader,
		audit:   audit,
		log:     log.Named("router"),
		metrics: metrics.OrNop(m),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// IsMutationAllowed reports whether the current state admits a mutation.
// Every call is audited with a full snapshot.
func (p *Policy) IsMutationAllowed(ctx context.Context, reason string) bool {
	return p.Decide(ctx, "", "", reason).Allowed
}

// Decide evaluates admission on behalf of a named mutator and returns the
// audited decision.
func (p *Policy) Decide(ctx context.Context, mutatorName, origin, reason string) Decision {
	snap := p.reader.Snapshot()
	allowed := snap.Trust >= p.config.TrustFloor &&
		snap.Coherence >= p.config.CoherenceMin &&
		snap.Phase >= p.config.MinPhase

	d := Decision{
		Mutator:    mutatorName,
		Context:    origin,
		Reason:     reason,
		Timestamp:  p.now(),
		Allowed:    allowed,
		Thresholds: p.config,
		Snapshot:   snap,
	}

	p.mu.Lock()
	p.last = &d
	p.mu.Unlock()

	label := mutatorName
	if label == "" {
		label = "direct"
	}
	p.metrics.RouterDecisions.WithLabelValues(label, strconv.FormatBool(allowed)).Inc()

	fields := []zap.Field{
		zap.String("mutator", label),
		zap.String("reason", reason),
		zap.Bool("allowed", allowed),
		zap.String("emotion", string(snap.Emotion)),
		zap.Float64("urgency", snap.Urgency),
		zap.Float64("coherence", snap.Coherence),
		zap.Float64("trust", snap.Trust),
		zap.Int("phase", snap.Phase),
	}
	if allowed {
		p.log.Info("mutation allowed", fields...)
	} else {
		p.log.Info("mutation blocked", fields...)
	}

	p.audit.LogDecision(ctx, d)
	return d
}

// Last returns the most recent decision, if any.
func (p *Policy) Last() (Decision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Decision{}, false
	}
	return *p.last, true
}

// #endregion policy
