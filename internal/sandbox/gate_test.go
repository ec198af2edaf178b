package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func mutationCandidate() Candidate {
	r := 0.25
	return Candidate{ID: "c1", Kind: KindMutation, Strategy: "mutation_cycle_1", Trigger: "risk_threshold", Risk: &r}
}

func TestGatePassIsLogged(t *testing.T) {
	log, logs := observed()
	m := metrics.Nop()
	g := NewGate(Always(true), DefaultGateConfig(), log, m)

	v := g.Evaluate(context.Background(), mutationCandidate())

	if !v.Passed || v.Reason != ReasonPassed {
		t.Fatalf("expected pass, got %+v", v)
	}
	entries := logs.FilterMessage("sandbox validation").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["candidate_id"] != "c1" || fields["passed"] != true {
		t.Fatalf("audit line missing context: %v", fields)
	}
	if _, ok := fields["candidate"]; !ok {
		t.Fatal("expected full candidate in audit line")
	}
	if got := testutil.ToFloat64(m.Validations.WithLabelValues("pass")); got != 1 {
		t.Fatalf("expected 1 pass metric, got %f", got)
	}
}

func TestGateRejectIsLoggedAtWarn(t *testing.T) {
	log, logs := observed()
	g := NewGate(Always(false), DefaultGateConfig(), log, nil)

	v := g.Evaluate(context.Background(), mutationCandidate())

	if v.Passed || v.Reason != ReasonRejected {
		t.Fatalf("expected rejection, got %+v", v)
	}
	entries := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 warn line, got %d", len(entries))
	}
}

func TestGateErrorFailsClosed(t *testing.T) {
	g := NewGate(ValidatorFunc(func(context.Context, Candidate) (bool, error) {
		return true, errors.New("simulator unreachable")
	}), DefaultGateConfig(), nil, nil)

	v := g.Evaluate(context.Background(), mutationCandidate())

	if v.Passed {
		t.Fatal("error must settle as failure even if ok=true")
	}
	if v.Reason != ReasonError {
		t.Fatalf("expected error reason, got %s", v.Reason)
	}
}

func TestGateTimeoutFailsClosed(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := ValidatorFunc(func(context.Context, Candidate) (bool, error) {
		<-release
		return true, nil
	})
	g := NewGate(slow, GateConfig{Timeout: 20 * time.Millisecond}, nil, nil)

	start := time.Now()
	v := g.Evaluate(context.Background(), mutationCandidate())

	if v.Passed || v.Reason != ReasonTimeout {
		t.Fatalf("expected timeout failure, got %+v", v)
	}
	if time.Since(start) > time.Second {
		t.Fatal("gate did not honor its bound")
	}
}

func TestGateContextAwareValidatorTimeout(t *testing.T) {
	waits := ValidatorFunc(func(ctx context.Context, _ Candidate) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	})
	g := NewGate(waits, GateConfig{Timeout: 10 * time.Millisecond}, nil, nil)

	v := g.Evaluate(context.Background(), mutationCandidate())

	if v.Reason != ReasonTimeout {
		t.Fatalf("expected timeout, got %s", v.Reason)
	}
}

func TestGatePanicFailsClosed(t *testing.T) {
	g := NewGate(ValidatorFunc(func(context.Context, Candidate) (bool, error) {
		panic("boom")
	}), DefaultGateConfig(), nil, nil)

	v := g.Evaluate(context.Background(), mutationCandidate())

	if v.Passed || v.Reason != ReasonError {
		t.Fatalf("expected error verdict, got %+v", v)
	}
}
