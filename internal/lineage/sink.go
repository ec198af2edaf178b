package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// #region domain
// Domain names one append-only record stream.
type Domain string

const (
	DomainMutation    Domain = "mutation_lineage"
	DomainRetention   Domain = "fork_retention"
	DomainPerformance Domain = "fork_performance"
	DomainPatch       Domain = "patch_execution"
	DomainDecisions   Domain = "policy_decisions"
	DomainOverrides   Domain = "shadow_overrides"
	DomainReflex      Domain = "regret_reflex"
	DomainDivergence  Domain = "fork_divergence"
)

// Domains lists every stream the tracker writes.
var Domains = []Domain{DomainMutation, DomainRetention, DomainPerformance, DomainPatch, DomainDecisions, DomainOverrides, DomainReflex, DomainDivergence}

// #endregion domain

// #region sink
// Sink appends one record to a domain. Appends are never deduplicated.
type Sink interface {
	Append(ctx context.Context, domain Domain, record any) error
}

// Reader returns every well-formed record of a domain in append order.
type Reader interface {
	ReadAll(ctx context.Context, domain Domain) ([]json.RawMessage, error)
}

// #endregion sink

// #region memory-sink
// MemorySink keeps records in process. Used by replay and tests.
type MemorySink struct {
	mu      sync.Mutex
	records map[Domain][]json.RawMessage
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[Domain][]json.RawMessage)}
}

func (m *MemorySink) Append(_ context.Context, domain Domain, record any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", domain, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[domain] = append(m.records[domain], b)
	return nil
}

func (m *MemorySink) ReadAll(_ context.Context, domain Domain) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]json.RawMessage, len(m.records[domain]))
	copy(out, m.records[domain])
	return out, nil
}

// Len returns how many records a domain holds.
func (m *MemorySink) Len(domain Domain) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[domain])
}

// #endregion memory-sink

// Decode unmarshals raw records into T, skipping any that do not fit.
func Decode[T any](raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
