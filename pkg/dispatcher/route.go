// Package dispatcher owns the per-model route table and resolves
// (model_session_id) -> backend_id with weighted fair sharing.
package dispatcher

import "sync"

// Backend is one routable target for a model session.
type Backend struct {
	ID         string
	Throughput float64
}

type backendState struct {
	id         string
	throughput float64
	deficit    float64
}

// ModelRoute holds the backend list for one model session: the advertised
// throughputs, the per-backend deficit counters, the derived
// total_throughput/min_rate, and the rotating DRR cursor.
type ModelRoute struct {
	mu             sync.Mutex
	backends       []*backendState
	totalThroughput float64
	minRate        float64
	currentIndex   int
}

// NewModelRoute returns an empty route; call Update to populate it.
func NewModelRoute() *ModelRoute {
	return &ModelRoute{}
}

// Update replaces the backend list atomically. It recomputes
// total_throughput and min_rate, preserves deficit for backends present in
// both the old and new lists, initializes new backends to deficit 0, and
// discards removed backends.
func (r *ModelRoute) Update(backends []Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevDeficit := make(map[string]float64, len(r.backends))
	for _, b := range r.backends {
		prevDeficit[b.id] = b.deficit
	}

	next := make([]*backendState, 0, len(backends))
	var total float64
	minRate := 0.0
	for i, b := range backends {
		d := prevDeficit[b.ID]
		next = append(next, &backendState{id: b.ID, throughput: b.Throughput, deficit: d})
		total += b.Throughput
		if i == 0 || b.Throughput < minRate {
			minRate = b.Throughput
		}
	}

	r.backends = next
	r.totalThroughput = total
	r.minRate = minRate
	if r.currentIndex >= len(next) {
		r.currentIndex = 0
	}
}

// GetBackend implements deficit round-robin with per-backend rate
// weighting. Returns ok=false only when the backend list is empty.
//
// Starting at current_drr_index, it makes at most 2*n visits. A visited
// backend whose deficit is >= 1 is selected and its deficit decremented
// by 1; the cursor stays on it, so it keeps being selected while its
// credit lasts. Otherwise throughput(b)/min_rate is added to deficit(b)
// and the cursor moves to the next backend, so each backend is credited
// once per full pass and is selected in proportion to its throughput. If
// no backend qualifies within 2*n visits, the backend with the largest
// deficit (ties broken by smallest index) is returned as a liveness
// fallback, without decrementing.
func (r *ModelRoute) GetBackend() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.backends)
	if n == 0 {
		return "", false
	}
	if n == 1 {
		return r.backends[0].id, true
	}
	if r.minRate <= 0 {
		// Degenerate configuration (a backend advertised zero throughput);
		// fall back to plain round-robin rather than dividing by zero.
		b := r.backends[r.currentIndex%n]
		r.currentIndex = (r.currentIndex + 1) % n
		return b.id, true
	}

	for visit := 0; visit < 2*n; visit++ {
		b := r.backends[r.currentIndex]
		if b.deficit >= 1 {
			b.deficit -= 1
			return b.id, true
		}
		b.deficit += b.throughput / r.minRate
		r.currentIndex = (r.currentIndex + 1) % n
	}

	best := 0
	for i := 1; i < n; i++ {
		if r.backends[i].deficit > r.backends[best].deficit {
			best = i
		}
	}
	return r.backends[best].id, true
}

// Snapshot returns a read-only copy of route state for observability.
type Snapshot struct {
	Backends        []Backend
	Deficits        map[string]float64
	TotalThroughput float64
	MinRate         float64
}

func (r *ModelRoute) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Backends:        make([]Backend, len(r.backends)),
		Deficits:        make(map[string]float64, len(r.backends)),
		TotalThroughput: r.totalThroughput,
		MinRate:         r.minRate,
	}
	for i, b := range r.backends {
		s.Backends[i] = Backend{ID: b.id, Throughput: b.throughput}
		s.Deficits[b.id] = b.deficit
	}
	return s
}
