// Package trace defines the observability-only decision record emitted
// for each task that reaches a terminal state, and a lock-free ring
// buffer of recent records for the admin API's debug endpoint.
package trace

import (
	"sync/atomic"
	"time"
)

// DecisionRecord captures the outcome of one terminal task. It is
// fire-and-forget observability data, not state the system depends on to
// resume correctly after a restart.
type DecisionRecord struct {
	TaskID             string
	ModelSessionID     string
	BatchID            uint64 // 0 if dropped before batching
	EnqueuedAt         time.Time
	Deadline           time.Time
	TerminalState      string
	DropReason         string
	ForwardDurationNS  int64
}

// Ring is a single-writer, multi-reader circular buffer of the most recent
// DecisionRecords, adapted from the log-pipeline ring buffer this system
// was grown from: one atomic write cursor, no locks on the hot path.
type Ring struct {
	data     []DecisionRecord
	mask     uint64
	writeIdx atomic.Uint64
	size     uint64
}

// NewRing returns a ring sized to the next power of two >= capacity.
func NewRing(capacity int) *Ring {
	c := uint64(1)
	for c < uint64(capacity) {
		c <<= 1
	}
	return &Ring{data: make([]DecisionRecord, c), mask: c - 1, size: c}
}

// Add appends a record. Safe for exactly one writer goroutine at a time.
func (r *Ring) Add(rec DecisionRecord) {
	idx := r.writeIdx.Add(1) - 1
	r.data[idx&r.mask] = rec
}

// Tail returns up to the last n records, oldest first. Safe for concurrent
// readers.
func (r *Ring) Tail(n int) []DecisionRecord {
	if n <= 0 {
		return nil
	}
	writePos := r.writeIdx.Load()
	if writePos == 0 {
		return nil
	}
	available := writePos
	if available > r.size {
		available = r.size
	}
	if uint64(n) > available {
		n = int(available)
	}
	out := make([]DecisionRecord, n)
	start := writePos - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+uint64(i))&r.mask]
	}
	return out
}
