package forecast

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region forecast
// Forecast is the goal provider's view for one cycle: the baseline
// portfolio and the confidence inputs the fork engine consumes.
type Forecast struct {
	Weights    fork.Weights `json:"weights"`
	Confidence float64      `json:"confidence"`
	Regret     float64      `json:"regret"`
	Gain       float64      `json:"gain"`
	Curiosity  float64      `json:"curiosity"`
}

// Validate rejects out-of-range scalars.
func (f Forecast) Validate() error {
	for name, v := range map[string]float64{
		"confidence": f.Confidence,
		"regret":     f.Regret,
		"gain":       f.Gain,
		"curiosity":  f.Curiosity,
	} {
		if err := state.CheckUnit(name, v); err != nil {
			return fmt.Errorf("forecast: %w", err)
		}
	}
	if len(f.Weights) == 0 {
		return fmt.Errorf("forecast: no baseline weights: %w", state.ErrMalformedInput)
	}
	return nil
}

// Provider supplies a forecast per cycle.
type Provider interface {
	Forecast(ctx context.Context) (Forecast, error)
}

// #endregion forecast

// #region static
// Static always returns the same forecast.
type Static struct {
	F Forecast
}

func (s Static) Forecast(context.Context) (Forecast, error) {
	f := s.F
	f.Weights = f.Weights.Clone()
	return f, nil
}

// #endregion static

// #region drift
// Drift random-walks the scalar signals by up to Step per call around a
// baseline portfolio.
type Drift struct {
	Step float64

	mu  sync.Mutex
	cur Forecast
	rng *rand.Rand
}

// NewDrift starts a walk at initial.
func NewDrift(seed uint64, initial Forecast, step float64) (*Drift, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	initial.Weights = initial.Weights.Clone()
	return &Drift{Step: step, cur: initial, rng: rand.New(rand.NewPCG(seed, 41))}, nil
}

func (d *Drift) Forecast(ctx context.Context) (Forecast, error) {
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur.Confidence = d.walk(d.cur.Confidence)
	d.cur.Regret = d.walk(d.cur.Regret)
	d.cur.Gain = d.walk(d.cur.Gain)
	d.cur.Curiosity = d.walk(d.cur.Curiosity)
	out := d.cur
	out.Weights = d.cur.Weights.Clone()
	return out, nil
}

// Rebase replaces the baseline portfolio, typically with the last retained
// fork.
func (d *Drift) Rebase(w fork.Weights) {
	if len(w) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur.Weights = w.Clone()
}

func (d *Drift) walk(v float64) float64 {
	return state.Clamp01(v + (d.rng.Float64()*2-1)*d.Step)
}

// #endregion drift
