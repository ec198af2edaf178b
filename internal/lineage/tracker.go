package lineage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/mutation-controller/internal/fork"
	"github.com/danielpatrickdp/mutation-controller/internal/metrics"
	"github.com/danielpatrickdp/mutation-controller/internal/mutation"
	"github.com/danielpatrickdp/mutation-controller/internal/router"
	"github.com/danielpatrickdp/mutation-controller/internal/shadow"
	"github.com/danielpatrickdp/mutation-controller/internal/state"
)

// #region records
// Result is the lineage verdict label.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
)

// LineageEntry is one mutation attempt, accepted or rejected.
type LineageEntry struct {
	MutationID string    `json:"mutation_id"`
	Strategy   string    `json:"strategy"`
	Result     Result    `json:"result"`
	RiskFactor *float64  `json:"risk_factor"`
	Timestamp  time.Time `json:"timestamp"`
}

// RetentionEntry is one fork-cycle outcome.
type RetentionEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	ForkID    string        `json:"fork_id"`
	Score     float64       `json:"score"`
	Emotion   state.Emotion `json:"emotion"`
	Regret    float64       `json:"regret"`
	Survived  bool          `json:"survived"`
}

// PerformanceEntry is the utility score of a retained fork.
type PerformanceEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	ForkID     string        `json:"fork_id"`
	Emotion    state.Emotion `json:"emotion"`
	Regret     float64       `json:"regret"`
	Gain       float64       `json:"gain"`
	Confidence float64       `json:"confidence"`
	Score      float64       `json:"score"`
}

// PatchEntry records a patch that was executed or turned down.
type PatchEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Result    mutation.Record `json:"result"`
	Approved  bool            `json:"approved"`
}

// ReflexEntry records a regret reflex firing.
type ReflexEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Cycle     int             `json:"cycle"`
	Regret    float64         `json:"regret"`
	Foresight float64         `json:"foresight"`
	Mutation  mutation.Record `json:"mutation"`
}

// DivergenceEntry records how far a dominant fork moved from its baseline.
type DivergenceEntry struct {
	Cycle         int               `json:"cycle"`
	ForkID        string            `json:"fork_id"`
	Score         float64           `json:"divergence_score"`
	SourceEmotion state.Emotion     `json:"source_emotion"`
	Context       map[string]string `json:"context"`
	Timestamp     time.Time         `json:"timestamp"`
}

// #endregion records

// #region tracker
// TrackerConfig bounds the in-memory ranking.
type TrackerConfig struct {
	TopCapacity int `json:"top_capacity" yaml:"top_capacity" validate:"gte=1"`
}

// DefaultTrackerConfig keeps the best 100 forks ranked.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{TopCapacity: 100}
}

// Tracker writes every lineage domain through one Sink. Sink failures never
// reach callers: they are logged, counted and dropped.
type Tracker struct {
	sink    Sink
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu  sync.Mutex
	top *TopK

	degraded atomic.Int64
}

// NewTracker builds a tracker over sink. log and m may be nil.
func NewTracker(sink Sink, config TrackerConfig, log *zap.Logger, m *metrics.Metrics) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		sink:    sink,
		log:     log.Named("durability"),
		metrics: metrics.OrNop(m),
		now:     func() time.Time { return time.Now().UTC() },
		top:     NewTopK(config.TopCapacity),
	}
}

// WithClock overrides the timestamp source and returns t.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Load seeds the ranking from retention records already in the sink. Sinks
// that cannot be read back leave the ranking empty.
func (t *Tracker) Load(ctx context.Context) (int, error) {
	r, ok := t.sink.(Reader)
	if !ok {
		return 0, nil
	}
	raw, err := r.ReadAll(ctx, DomainRetention)
	if err != nil {
		return 0, fmt.Errorf("load retention: %w", err)
	}
	entries := Decode[RetentionEntry](raw)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		t.top.Offer(e)
	}
	return len(entries), nil
}

// Degraded returns how many appends have been dropped.
func (t *Tracker) Degraded() int64 {
	return t.degraded.Load()
}

// LogMutation appends one lineage entry per attempt. Identical content
// logged twice yields two entries.
func (t *Tracker) LogMutation(ctx context.Context, rec mutation.Record, success bool, risk *float64) LineageEntry {
	e := LineageEntry{
		MutationID: rec.ID,
		Strategy:   rec.Strategy,
		Result:     ResultFailure,
		RiskFactor: risk,
		Timestamp:  t.now(),
	}
	if success {
		e.Result = ResultSuccess
	}
	t.append(ctx, DomainMutation, e)
	return e
}

// LogForkResult appends a retention entry and, once durable, offers it to
// the ranking.
func (t *Tracker) LogForkResult(ctx context.Context, forkID string, score float64, emotion state.Emotion, regret float64, survived bool) RetentionEntry {
	e := RetentionEntry{
		Timestamp: t.now(),
		ForkID:    forkID,
		Score:     score,
		Emotion:   emotion,
		Regret:    regret,
		Survived:  survived,
	}
	if t.append(ctx, DomainRetention, e) {
		t.mu.Lock()
		t.top.Offer(e)
		t.mu.Unlock()
	}
	return e
}

// LogForkScore scores a retained fork and appends the performance entry.
func (t *Tracker) LogForkScore(ctx context.Context, s fork.Signal) PerformanceEntry {
	e := PerformanceEntry{
		Timestamp:  t.now(),
		ForkID:     s.ForkID,
		Emotion:    s.Emotion,
		Regret:     s.Regret,
		Gain:       s.Gain,
		Confidence: s.Confidence,
		Score:      fork.Score(s),
	}
	t.append(ctx, DomainPerformance, e)
	return e
}

// LogPatch appends a patch execution entry.
func (t *Tracker) LogPatch(ctx context.Context, rec mutation.Record, approved bool) PatchEntry {
	e := PatchEntry{Timestamp: t.now(), Result: rec, Approved: approved}
	t.append(ctx, DomainPatch, e)
	return e
}

// LogDecision appends a policy admission decision.
func (t *Tracker) LogDecision(ctx context.Context, d router.Decision) {
	t.append(ctx, DomainDecisions, d)
}

// LogOverride appends an accepted shadow override.
func (t *Tracker) LogOverride(ctx context.Context, d shadow.Decision) {
	t.append(ctx, DomainOverrides, d)
}

// LogReflex appends a regret reflex entry.
func (t *Tracker) LogReflex(ctx context.Context, cycle int, regret, foresight float64, rec mutation.Record) ReflexEntry {
	e := ReflexEntry{Timestamp: t.now(), Cycle: cycle, Regret: regret, Foresight: foresight, Mutation: rec}
	t.append(ctx, DomainReflex, e)
	return e
}

// LogDivergence appends a fork divergence entry with the score rounded to
// 4 dp. A nil detail is stored as an empty context object.
func (t *Tracker) LogDivergence(ctx context.Context, cycle int, forkID string, score float64, emotion state.Emotion, detail map[string]string) DivergenceEntry {
	if detail == nil {
		detail = map[string]string{}
	}
	e := DivergenceEntry{
		Cycle:         cycle,
		ForkID:        forkID,
		Score:         math.Round(score*1e4) / 1e4,
		SourceEmotion: emotion,
		Context:       detail,
		Timestamp:     t.now(),
	}
	t.append(ctx, DomainDivergence, e)
	return e
}

// TopForks returns up to limit retention entries by descending score.
func (t *Tracker) TopForks(limit int) []RetentionEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.top.Top(limit)
}

func (t *Tracker) append(ctx context.Context, domain Domain, record any) bool {
	if err := t.sink.Append(ctx, domain, record); err != nil {
		n := t.degraded.Add(1)
		t.metrics.StorageFailures.WithLabelValues(string(domain)).Inc()
		t.log.Warn("lineage append dropped",
			zap.String("domain", string(domain)),
			zap.Int64("degraded", n),
			zap.Error(err),
		)
		return false
	}
	return true
}

// #endregion tracker
