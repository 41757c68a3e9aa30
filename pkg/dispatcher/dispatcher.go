package dispatcher

import (
	"sync"

	"github.com/dengwxn/nexus/internal/metrics"
)

// RouteUpdate is one entry in a control-plane UpdateModelRoutes call.
type RouteUpdate struct {
	ModelSessionID string
	Backends       []Backend
}

// Reply mirrors the UDP/RPC reply shape: backend endpoint info plus a
// status distinguishing "found" from "no route" / "empty backend list".
type Reply struct {
	BackendID string
	Found     bool
}

// Dispatcher owns a mapping model_session_id -> ModelRoute guarded by a
// single coarse lock. The route table is updated infrequently and
// selection is cheap, so finer-grained locking is not worth its
// complexity.
type Dispatcher struct {
	mu     sync.Mutex
	routes map[string]*ModelRoute
}

// New returns an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{routes: make(map[string]*ModelRoute)}
}

// UpdateModelRoutes applies each update under the lock; unknown session
// ids create new route entries.
func (d *Dispatcher) UpdateModelRoutes(updates []RouteUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range updates {
		r, ok := d.routes[u.ModelSessionID]
		if !ok {
			r = NewModelRoute()
			d.routes[u.ModelSessionID] = r
		}
		r.Update(u.Backends)
		metrics.RouteBackendCount.WithLabelValues(u.ModelSessionID).Set(float64(len(u.Backends)))
	}
}

// GetBackend looks up the route for modelSessionID and selects a backend.
// On a missing session, or a route with an empty backend list, it
// returns a not-found reply — this is never fatal, the dispatcher simply
// has nothing to route to yet.
func (d *Dispatcher) GetBackend(modelSessionID string) Reply {
	d.mu.Lock()
	r, ok := d.routes[modelSessionID]
	d.mu.Unlock()
	if !ok {
		metrics.RouteMisses.WithLabelValues(modelSessionID).Inc()
		return Reply{Found: false}
	}
	id, ok := r.GetBackend()
	if !ok {
		metrics.RouteMisses.WithLabelValues(modelSessionID).Inc()
		return Reply{Found: false}
	}
	metrics.RouteSelections.WithLabelValues(modelSessionID, id).Inc()
	return Reply{BackendID: id, Found: true}
}

// Resolve satisfies udpserver.BackendResolver: it looks up modelSessionID
// and returns the selected backend's id (used directly as its endpoint
// address) and whether a route was found.
func (d *Dispatcher) Resolve(modelSessionID string) (string, bool) {
	reply := d.GetBackend(modelSessionID)
	return reply.BackendID, reply.Found
}

// RouteSnapshot returns the current state of one route, for the admin API.
func (d *Dispatcher) RouteSnapshot(modelSessionID string) (Snapshot, bool) {
	d.mu.Lock()
	r, ok := d.routes[modelSessionID]
	d.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Sessions returns the currently known model session ids, for the admin
// API's route-table listing.
func (d *Dispatcher) Sessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.routes))
	for id := range d.routes {
		out = append(out, id)
	}
	return out
}
