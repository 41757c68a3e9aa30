// Package adminapi exposes the operator-facing HTTP surface for a backend
// or dispatcher daemon: health, Prometheus metrics, executor stats, the
// dispatcher's route table, and GeoIP database management. It is a
// read-mostly control surface, not on the hot request path.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dengwxn/nexus/internal/metrics"
	"github.com/dengwxn/nexus/internal/netinfo"
	"github.com/dengwxn/nexus/pkg/dispatcher"
)

// ExecutorStats is the subset of executor.Executor the admin API reports.
type ExecutorStats interface {
	NumberOfOpenRequests() int64
	RequestRate() float64
	DropRate() float64
	LastExecuteFinishTime() time.Time
	BackupBackends() []string
}

// RouteAdmin is the subset of dispatcher.Dispatcher the admin API needs to
// list and mutate the route table.
type RouteAdmin interface {
	UpdateModelRoutes(updates []dispatcher.RouteUpdate)
	Sessions() []string
	RouteSnapshot(modelSessionID string) (dispatcher.Snapshot, bool)
}

// Server wraps a gorilla/mux router bound to one daemon's admin endpoints.
// Executor and Dispatch are both optional: the backend daemon supplies only
// Executor, the dispatcher daemon only Dispatch.
type Server struct {
	router   *mux.Router
	executor ExecutorStats
	dispatch RouteAdmin
	geo      *netinfo.Directory
	log      *zap.Logger
}

// Config selects which subsystems this daemon's admin server exposes.
type Config struct {
	Executor ExecutorStats
	Dispatch RouteAdmin
	GeoIP    *netinfo.Directory
}

// New builds the router and registers all routes this daemon supports.
func New(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		router:   mux.NewRouter(),
		executor: cfg.Executor,
		dispatch: cfg.Dispatch,
		geo:      cfg.GeoIP,
		log:      log,
	}
	s.routes()
	return s
}

// Handler returns the http.Handler to pass to http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.executor != nil {
		v1.HandleFunc("/executor/stats", s.handleExecutorStats).Methods(http.MethodGet)
	}
	if s.dispatch != nil {
		v1.HandleFunc("/routes", s.handleRoutesList).Methods(http.MethodGet)
		v1.HandleFunc("/routes", s.handleRoutesUpdate).Methods(http.MethodPost)
	}
	if s.geo != nil {
		v1.HandleFunc("/geoip/status", s.handleGeoIPStatus).Methods(http.MethodGet)
		v1.HandleFunc("/geoip/upload", s.handleGeoIPUpload).Methods(http.MethodPost)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleExecutorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"open_requests":    s.executor.NumberOfOpenRequests(),
		"request_rate":     s.executor.RequestRate(),
		"drop_rate":        s.executor.DropRate(),
		"last_forward_at":  s.executor.LastExecuteFinishTime(),
		"backup_backends":  s.executor.BackupBackends(),
	})
}

func (s *Server) handleRoutesList(w http.ResponseWriter, r *http.Request) {
	sessions := s.dispatch.Sessions()
	out := make(map[string]dispatcher.Snapshot, len(sessions))
	for _, id := range sessions {
		if snap, ok := s.dispatch.RouteSnapshot(id); ok {
			out[id] = snap
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type routeUpdateRequest struct {
	ModelSessionID string              `json:"model_session_id"`
	Backends       []dispatcher.Backend `json:"backends"`
}

func (s *Server) handleRoutesUpdate(w http.ResponseWriter, r *http.Request) {
	var reqs []routeUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	updates := make([]dispatcher.RouteUpdate, 0, len(reqs))
	for _, req := range reqs {
		if req.ModelSessionID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model_session_id required"})
			return
		}
		updates = append(updates, dispatcher.RouteUpdate{ModelSessionID: req.ModelSessionID, Backends: req.Backends})
	}
	s.dispatch.UpdateModelRoutes(updates)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGeoIPStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.geo.Status())
}

func (s *Server) handleGeoIPUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 128<<20)
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to parse form: " + err.Error()})
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file: " + err.Error()})
		return
	}
	defer f.Close()
	if hdr.Size <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty file"})
		return
	}
	path, err := saveUploadedDatabase(f, hdr.Size)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := s.geo.Load(path); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "path": path})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
