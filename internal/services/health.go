package services

import (
	"context"
	"net/http"

	goahttp "goa.design/goa/v3/http"
)

// Pinger checks a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService implements the liveness and readiness probes
type HealthService struct {
	db       Pinger
	pipeline Pipeline
}

// NewHealthService creates a new health service. db may be nil.
func NewHealthService(db Pinger, p Pipeline) *HealthService {
	return &HealthService{db: db, pipeline: p}
}

// Mount registers the probe routes
func (h *HealthService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/health", h.Healthz)
	mux.Handle("GET", "/readyz", h.Readyz)
}

// Healthz is alive as long as the process answers
func (h *HealthService) Healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.pipeline != nil {
		body["pipeline"] = h.pipeline.Status().State
	}
	writeJSON(r.Context(), w, http.StatusOK, body)
}

// Readyz fails when the database does not answer
func (h *HealthService) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "database unavailable: "+err.Error())
			return
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}
