package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
)

// #region gate
// Gate wraps a Validator with a timeout, fail-closed semantics and an audit
// log line for every call.
type Gate struct {
	validator Validator
	config    GateConfig
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// NewGate creates a gate around v. log and m may be nil.
func NewGate(v Validator, config GateConfig, log *zap.Logger, m *metrics.Metrics) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		validator: v,
		config:    config,
		log:       log.Named("sandbox"),
		metrics:   metrics.OrNop(m),
	}
}

type result struct {
	ok  bool
	err error
}

// Evaluate runs the candidate through the validator. Errors, panics and
// timeouts all settle as a failed verdict.
func (g *Gate) Evaluate(ctx context.Context, c Candidate) Verdict {
	start := time.Now()

	callCtx := ctx
	cancel := func() {}
	if g.config.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.config.Timeout)
	}
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("validator panic: %v", r)}
			}
		}()
		ok, err := g.validator.Validate(callCtx, c)
		done <- result{ok: ok, err: err}
	}()

	var v Verdict
	select {
	case r := <-done:
		v = settle(r)
	case <-callCtx.Done():
		v = Verdict{Reason: ReasonTimeout, Detail: callCtx.Err().Error()}
	}
	v.Elapsed = time.Since(start)

	g.record(c, v)
	return v
}

func settle(r result) Verdict {
	switch {
	case r.err != nil && errors.Is(r.err, context.DeadlineExceeded):
		return Verdict{Reason: ReasonTimeout, Detail: r.err.Error()}
	case r.err != nil:
		return Verdict{Reason: ReasonError, Detail: r.err.Error()}
	case r.ok:
		return Verdict{Passed: true, Reason: ReasonPassed}
	default:
		return Verdict{Reason: ReasonRejected, Detail: "validator rejected candidate"}
	}
}

// #endregion gate

// #region audit
func (g *Gate) record(c Candidate, v Verdict) {
	label := "pass"
	switch v.Reason {
	case ReasonRejected:
		label = "fail"
	case ReasonTimeout:
		label = "timeout"
	case ReasonError:
		label = "error"
	}
	g.metrics.Validations.WithLabelValues(label).Inc()
	g.metrics.ValidationLatency.Observe(v.Elapsed.Seconds())

	fields := []zap.Field{
		zap.String("candidate_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("strategy", c.Strategy),
		zap.String("trigger", c.Trigger),
		zap.Any("candidate", c),
		zap.Bool("passed", v.Passed),
		zap.String("reason", string(v.Reason)),
		zap.Duration("elapsed", v.Elapsed),
	}
	if v.Detail != "" {
		fields = append(fields, zap.String("detail", v.Detail))
	}
	if v.Passed {
		g.log.Info("sandbox validation", fields...)
		return
	}
	g.log.Warn("sandbox validation", fields...)
}

// #endregion audit
