package engine

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// #region run
// Run executes cycles paced Config.Interval apart until ctx is cancelled or
// MaxCycles (when non-zero) is reached. Cancellation is honored only between
// cycles: an in-flight cycle runs detached from ctx so every validated
// mutation is logged. Malformed input stops the loop; other cycle errors are
// logged and the loop continues. onCycle, when non-nil, sees every report.
func (e *Engine) Run(ctx context.Context, onCycle func(CycleReport)) error {
	limit := rate.Inf
	if e.config.Interval > 0 {
		limit = rate.Every(e.config.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for cycle := 1; e.config.MaxCycles == 0 || cycle <= e.config.MaxCycles; cycle++ {
		// Wait also fails early when the next slot lies past the deadline
		if err := limiter.Wait(ctx); err != nil {
			e.log.Info("run stopped", zap.Int("completed", cycle-1), zap.Error(err))
			return nil
		}
		rep, err := e.RunCycle(context.WithoutCancel(ctx), cycle)
		if err != nil {
			if IsMalformed(err) {
				e.log.Error("cycle aborted on malformed input", zap.Int("cycle", cycle), zap.Error(err))
				return err
			}
			e.log.Warn("cycle failed", zap.Int("cycle", cycle), zap.Error(err))
			continue
		}
		if onCycle != nil {
			onCycle(rep)
		}
	}
	e.log.Info("run complete", zap.Int("cycles", e.config.MaxCycles))
	return nil
}

// #endregion run
