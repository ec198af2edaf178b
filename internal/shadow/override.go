package shadow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
)

// #region override-config
// OverrideConfig sizes the canary vote.
type OverrideConfig struct {
	Agents    int     `json:"agents" yaml:"agents" validate:"gte=1,lte=32"`
	Threshold float64 `json:"threshold" yaml:"threshold" validate:"gte=0,lte=1"`
}

// DefaultOverrideConfig returns 3 agents and a 0.82 threshold.
func DefaultOverrideConfig() OverrideConfig {
	return OverrideConfig{Agents: 3, Threshold: 0.82}
}

// #endregion override-config

// #region decision
// Decision is the outcome of one override check.
type Decision struct {
	Override    bool      `json:"override"`
	AgentID     string    `json:"agent_id,omitempty"`
	Score       float64   `json:"score"`
	Bias        string    `json:"shadow_bias,omitempty"`
	Reason      string    `json:"reason"`
	Replacement string    `json:"replacement_decision,omitempty"`
	Live        string    `json:"live_decision"`
	Context     string    `json:"context,omitempty"`
	Winner      *Agent    `json:"winner,omitempty"`
	Agents      []Agent   `json:"agents"`
	Timestamp   time.Time `json:"timestamp"`
}

// Recorder persists accepted overrides. *lineage.Tracker satisfies it.
type Recorder interface {
	LogOverride(ctx context.Context, d Decision)
}

type nopRecorder struct{}

func (nopRecorder) LogOverride(context.Context, Decision) {}

// #endregion decision

// #region override
// Override lets a vote of shadow agents replace a live decision.
type Override struct {
	lab     *Lab
	rec     Recorder
	config  OverrideConfig
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active []Decision
}

// NewOverride builds the override engine. rec, log and m may be nil.
func NewOverride(lab *Lab, rec Recorder, config OverrideConfig, log *zap.Logger, m *metrics.Metrics) *Override {
	if rec == nil {
		rec = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if config.Agents <= 0 {
		config.Agents = DefaultOverrideConfig().Agents
	}
	return &Override{
		lab:     lab,
		rec:     rec,
		config:  config,
		log:     log.Named("shadow"),
		metrics: metrics.OrNop(m),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RunOverrideCheck scores Agents shadow agents in parallel and overrides
// live when the best score reaches the threshold. Ties go to the earliest
// agent. A scoring failure leaves live standing and is returned.
func (o *Override) RunOverrideCheck(ctx context.Context, patch, live, origin string) (Decision, error) {
	agents := make([]Agent, o.config.Agents)
	for i := range agents {
		agents[i] = o.lab.SpawnShadowAgent(patch, "")
		agents[i].Index = i
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range agents {
		g.Go(func() error {
			scored, err := o.lab.SimulateOutcome(gctx, agents[i])
			if err != nil {
				return err
			}
			agents[i] = scored
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.metrics.Overrides.WithLabelValues("error").Inc()
		o.log.Warn("shadow scoring failed", zap.String("context", origin), zap.Error(err))
		return Decision{
			Live:      live,
			Context:   origin,
			Reason:    "shadow scoring failed",
			Agents:    agents,
			Timestamp: o.now(),
		}, fmt.Errorf("shadow: override check: %w", err)
	}

	best := agents[0]
	for _, a := range agents[1:] {
		if a.Score > best.Score {
			best = a
		}
	}

	d := Decision{
		Score:     best.Score,
		Live:      live,
		Context:   origin,
		Agents:    agents,
		Timestamp: o.now(),
	}
	if best.Score < o.config.Threshold {
		d.Reason = "no shadow agent exceeded override threshold"
		o.metrics.Overrides.WithLabelValues("false").Inc()
		o.log.Info("override rejected", zap.Float64("best_score", best.Score), zap.Float64("threshold", o.config.Threshold))
		return d, nil
	}

	d.Override = true
	d.AgentID = best.ID
	d.Bias = string(best.Bias)
	d.Winner = &best
	d.Reason = fmt.Sprintf("shadow agent %s outperformed baseline", best.ID)
	d.Replacement = fmt.Sprintf("[FORGED] adjusted logic with %s temperament", best.Bias)

	o.mu.Lock()
	o.active = append(o.active, d)
	o.mu.Unlock()

	o.metrics.Overrides.WithLabelValues("true").Inc()
	o.log.Info("override approved",
		zap.String("agent_id", best.ID),
		zap.Float64("score", best.Score),
		zap.String("bias", d.Bias),
	)
	o.rec.LogOverride(ctx, d)
	return d, nil
}

// OverrideLog returns up to limit of the most recent accepted overrides.
func (o *Override) OverrideLog(limit int) []Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit <= 0 || limit > len(o.active) {
		limit = len(o.active)
	}
	out := make([]Decision, limit)
	copy(out, o.active[len(o.active)-limit:])
	return out
}

// #endregion override
