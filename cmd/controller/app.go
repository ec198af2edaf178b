package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/config"
	"github.com/danielpatrickdp/mutation-controller/internal/engine"
	"github.com/danielpatrickdp/mutation-controller/internal/forecast"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/risk"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/simclient"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region app
// app is one fully wired controller.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	engine   *engine.Engine
	tracker  *lineage.Tracker
	shadow   *shadow.Override
	forecast forecast.Provider
	closers  []func() error
}

// build wires every component from cfg. The caller must call close.
func build(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	m := metrics.New(a.registry)

	sink, err := a.openSink()
	if err != nil {
		return nil, err
	}
	a.tracker = lineage.NewTracker(sink, lineage.TrackerConfig{TopCapacity: cfg.Lineage.TopCapacity}, log, m)
	if n, err := a.tracker.Load(ctx); err != nil {
		log.Warn("could not seed fork ranking", zap.Error(err))
	} else if n > 0 {
		log.Info("fork ranking seeded", zap.Int("retained", n))
	}

	validator, scorer, err := a.validation()
	if err != nil {
		a.close()
		return nil, err
	}

	initial, err := cfg.InitialState()
	if err != nil {
		a.close()
		return nil, err
	}
	holder, err := state.NewHolder(initial)
	if err != nil {
		a.close()
		return nil, err
	}
	var drift *state.Drift
	if cfg.Drift.Enabled {
		drift = state.NewDrift(cfg.Seed, cfg.Drift.Step, cfg.Drift.SwitchProb, cfg.Drift.PhaseEvery)
	}

	a.forecast, err = forecast.NewDrift(cfg.Seed, forecast.Forecast{
		Weights:    cfg.Forecast.Weights,
		Confidence: cfg.Forecast.Confidence,
		Regret:     cfg.Forecast.Regret,
		Gain:       cfg.Forecast.Gain,
		Curiosity:  cfg.Forecast.Curiosity,
	}, cfg.Forecast.Step)
	if err != nil {
		a.close()
		return nil, err
	}

	lab := shadow.NewLab(scorer, cfg.Seed, log)
	a.shadow = shadow.NewOverride(lab, a.tracker, cfg.Shadow, log, m)

	a.engine, err = engine.New(cfg.Engine, engine.Deps{
		State:     holder,
		Drift:     drift,
		Risk:      risk.NewEvaluator(cfg.RiskWeights(), cfg.Risk.TriggerThreshold),
		Generator: mutation.NewGenerator(rand.New(rand.NewPCG(cfg.Seed, 1))),
		Gate:      sandbox.NewGate(validator, sandbox.GateConfig{Timeout: cfg.Sandbox.Timeout}, log, m),
		Forks:     fork.NewEngine(cfg.ForkEngine(), rand.New(rand.NewPCG(cfg.Seed, 2))),
		Forecast:  a.forecast,
		Tracker:   a.tracker,
		Shadow:    a.shadow,
		Tags:      rand.New(rand.NewPCG(cfg.Seed, 3)),
		Log:       log,
		Metrics:   m,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openSink() (lineage.Sink, error) {
	switch a.cfg.Lineage.Backend {
	case "memory":
		return lineage.NewMemorySink(), nil
	case "sqlite":
		s, err := lineage.NewSQLiteSink(a.cfg.Lineage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite lineage: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		s, err := lineage.NewJSONLSink(a.cfg.Lineage.Dir)
		if err != nil {
			return nil, fmt.Errorf("open jsonl lineage: %w", err)
		}
		return s, nil
	}
}

// validation picks the remote simulator when one is configured, otherwise
// the stochastic stand-in. Fork weights are always checked structurally first.
func (a *app) validation() (sandbox.Validator, shadow.Scorer, error) {
	if addr := a.cfg.Sandbox.SimAddr; addr != "" {
		client, err := simclient.Dial(addr)
		if err != nil {
			return nil, nil, fmt.Errorf("dial simulator %s: %w", addr, err)
		}
		a.closers = append(a.closers, client.Close)
		a.log.Info("validating through simulator", zap.String("addr", addr))
		return sandbox.Chain(sandbox.Structural{}, sandbox.Remote{Sim: client}), shadow.RemoteScorer{Sim: client}, nil
	}
	return sandbox.Chain(sandbox.Structural{}, sandbox.NewStochastic(a.cfg.Seed, a.cfg.Sandbox.PassRate)),
		shadow.NewRandomScorer(a.cfg.Seed), nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// #endregion app
