package lineage

import (
	"container/heap"
	"slices"
)

// #region topk
type ranked struct {
	entry RetentionEntry
	seq   uint64
}

// rankHeap is a min-heap on score; among equal scores the later entry sits
// lower so earlier entries survive eviction.
type rankHeap []ranked

func (h rankHeap) Len() int { return len(h) }
func (h rankHeap) Less(i, j int) bool {
	if h[i].entry.Score != h[j].entry.Score {
		return h[i].entry.Score < h[j].entry.Score
	}
	return h[i].seq > h[j].seq
}
func (h rankHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rankHeap) Push(x any)   { *h = append(*h, x.(ranked)) }
func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the capacity highest-scoring retention entries seen so far.
// Not safe for concurrent use.
type TopK struct {
	capacity int
	seq      uint64
	h        rankHeap
}

// NewTopK returns an empty ranking bounded at capacity (minimum 1).
func NewTopK(capacity int) *TopK {
	if capacity < 1 {
		capacity = 1
	}
	return &TopK{capacity: capacity, h: make(rankHeap, 0, capacity)}
}

// Offer considers e for the ranking.
func (t *TopK) Offer(e RetentionEntry) {
	t.seq++
	r := ranked{entry: e, seq: t.seq}
	if t.h.Len() < t.capacity {
		heap.Push(&t.h, r)
		return
	}
	if e.Score > t.h[0].entry.Score {
		t.h[0] = r
		heap.Fix(&t.h, 0)
	}
}

// Top returns up to limit entries, highest score first, earliest first on
// ties. limit <= 0 returns everything held.
func (t *TopK) Top(limit int) []RetentionEntry {
	all := slices.Clone(t.h)
	slices.SortFunc(all, func(a, b ranked) int {
		switch {
		case a.entry.Score > b.entry.Score:
			return -1
		case a.entry.Score < b.entry.Score:
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]RetentionEntry, limit)
	for i := range out {
		out[i] = all[i].entry
	}
	return out
}

// Len returns how many entries are held.
func (t *TopK) Len() int { return t.h.Len() }

// #endregion topk
