package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/mutation-controller/internal/engine"
	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/lineage"
	"github.com/danielpatrickdp/mutation-controller/internal/risk"
	"github.com/danielpatrickdp/mutation-controller/internal/sandbox"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region types
// Config is the full controller configuration.
type Config struct {
	Seed        uint64                `yaml:"seed"`
	MetricsAddr string                `yaml:"metrics_addr"`
	Log         LogConfig             `yaml:"log"`
	Engine      engine.Config         `yaml:"engine"`
	Risk        RiskConfig            `yaml:"risk"`
	Sandbox     SandboxConfig         `yaml:"sandbox"`
	Fork        ForkConfig            `yaml:"fork"`
	Forecast    ForecastConfig        `yaml:"forecast"`
	Drift       DriftConfig           `yaml:"drift"`
	Shadow      shadow.OverrideConfig `yaml:"shadow"`
	Lineage     LineageConfig         `yaml:"lineage"`
	State       StateConfig           `yaml:"state"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// RiskConfig holds the risk trigger knobs. An empty weight table uses the
// default one.
type RiskConfig struct {
	TriggerThreshold float64                   `yaml:"trigger_threshold" validate:"gte=0,lte=1"`
	Weights          map[state.Emotion]float64 `yaml:"weights" validate:"dive,gte=0"`
}

// SandboxConfig picks the validator. SimAddr routes validation through the
// remote simulator; otherwise candidates pass with probability PassRate.
type SandboxConfig struct {
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	PassRate float64       `yaml:"pass_rate" validate:"gte=0,lte=1"`
	SimAddr  string        `yaml:"sim_addr"`
}

// ForkConfig mirrors fork.Config.
type ForkConfig struct {
	Count      int     `yaml:"count" validate:"gte=1,lte=64"`
	Strength   float64 `yaml:"strength" validate:"gte=0,lte=1"`
	RegretSign int     `yaml:"regret_sign" validate:"oneof=-1 1"`
}

// ForecastConfig seeds the forecast drift.
type ForecastConfig struct {
	Weights    fork.Weights `yaml:"weights" validate:"required,min=1,dive,gte=0"`
	Step       float64      `yaml:"step" validate:"gte=0,lte=1"`
	Confidence float64      `yaml:"confidence" validate:"gte=0,lte=1"`
	Regret     float64      `yaml:"regret" validate:"gte=0,lte=1"`
	Gain       float64      `yaml:"gain" validate:"gte=0,lte=1"`
	Curiosity  float64      `yaml:"curiosity" validate:"gte=0,lte=1"`
}

// DriftConfig controls the simulated cognition between cycles.
type DriftConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Step       float64 `yaml:"step" validate:"gte=0,lte=1"`
	SwitchProb float64 `yaml:"switch_prob" validate:"gte=0,lte=1"`
	PhaseEvery int     `yaml:"phase_every" validate:"gte=0"`
}

// LineageConfig selects the durable sink.
type LineageConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=jsonl sqlite memory"`
	Dir         string `yaml:"dir" validate:"required_if=Backend jsonl"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	TopCapacity int    `yaml:"top_capacity" validate:"gte=1"`
}

// StateConfig is the boot cognitive state.
type StateConfig struct {
	Emotion   string  `yaml:"emotion" validate:"required"`
	Urgency   float64 `yaml:"urgency" validate:"gte=0,lte=1"`
	Coherence float64 `yaml:"coherence" validate:"gte=0,lte=1"`
	Trust     float64 `yaml:"trust" validate:"gte=0,lte=1"`
	Phase     int     `yaml:"phase" validate:"gte=0"`
}

// #endregion types

// #region defaults
// Default returns the configuration the controller runs with when no file
// or environment overrides are given.
func Default() Config {
	fc := fork.DefaultConfig()
	s := state.DefaultState()
	return Config{
		Seed:   1,
		Log:    LogConfig{Level: "info", Format: "json"},
		Engine: engine.DefaultConfig(),
		Risk:   RiskConfig{TriggerThreshold: risk.DefaultTriggerThreshold},
		Sandbox: SandboxConfig{
			Timeout:  sandbox.DefaultGateConfig().Timeout,
			PassRate: sandbox.DefaultPassRate,
		},
		Fork: ForkConfig{Count: fc.Count, Strength: fc.Strength, RegretSign: int(fc.RegretSign)},
		Forecast: ForecastConfig{
			Weights:    fork.Weights{"equity": 0.5, "bonds": 0.3, "cash": 0.2},
			Step:       0.05,
			Confidence: 0.7,
			Regret:     0.3,
			Gain:       0.2,
			Curiosity:  0.4,
		},
		Drift:  DriftConfig{Enabled: true, Step: 0.1, SwitchProb: 0.2, PhaseEvery: 3},
		Shadow: shadow.DefaultOverrideConfig(),
		Lineage: LineageConfig{
			Backend:     "jsonl",
			Dir:         "lineage",
			SQLitePath:  "lineage.db",
			TopCapacity: lineage.DefaultTrackerConfig().TopCapacity,
		},
		State: StateConfig{
			Emotion:   string(s.Emotion),
			Urgency:   s.Urgency,
			Coherence: s.Coherence,
			Trust:     s.Trust,
			Phase:     s.Phase,
		},
	}
}

// #endregion defaults

// #region load
var validate = validator.New()

// Load reads path (when non-empty) over Default, applies MUTCTL_* overrides
// and validates the result.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// yaml merges into a non-nil map; a file's weights replace the defaults
		base := c.Forecast.Weights
		c.Forecast.Weights = nil
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if c.Forecast.Weights == nil {
			c.Forecast.Weights = base
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field constraint.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.InitialState(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Lineage.Backend = envOr("MUTCTL_LINEAGE_BACKEND", c.Lineage.Backend)
	c.Lineage.Dir = envOr("MUTCTL_LINEAGE_DIR", c.Lineage.Dir)
	c.Lineage.SQLitePath = envOr("MUTCTL_SQLITE_PATH", c.Lineage.SQLitePath)
	c.Sandbox.SimAddr = envOr("MUTCTL_SIM_ADDR", c.Sandbox.SimAddr)
	c.MetricsAddr = envOr("MUTCTL_METRICS_ADDR", c.MetricsAddr)
	c.Log.Level = envOr("MUTCTL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("MUTCTL_LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("MUTCTL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MUTCTL_INTERVAL: %w", err)
		}
		c.Engine.Interval = d
	}
	if v := os.Getenv("MUTCTL_MAX_CYCLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MUTCTL_MAX_CYCLES: %w", err)
		}
		c.Engine.MaxCycles = n
	}
	if v := os.Getenv("MUTCTL_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MUTCTL_SEED: %w", err)
		}
		c.Seed = n
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region conversions
// InitialState returns the boot state as a validated CognitiveState.
func (c Config) InitialState() (state.CognitiveState, error) {
	s := state.CognitiveState{
		Emotion:   state.Emotion(c.State.Emotion),
		Urgency:   c.State.Urgency,
		Coherence: c.State.Coherence,
		Trust:     c.State.Trust,
		Phase:     c.State.Phase,
	}
	return s, s.Validate()
}

// ForkEngine returns the fork engine configuration.
func (c Config) ForkEngine() fork.Config {
	fc := fork.DefaultConfig()
	fc.Count = c.Fork.Count
	fc.Strength = c.Fork.Strength
	fc.RegretSign = float64(c.Fork.RegretSign)
	return fc
}

// RiskWeights returns the configured weight table, or nil for the default.
func (c Config) RiskWeights() risk.Weights {
	if len(c.Risk.Weights) == 0 {
		return nil
	}
	return risk.Weights(c.Risk.Weights)
}

// #endregion conversions
