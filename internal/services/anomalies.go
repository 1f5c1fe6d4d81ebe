package services

import (
	"context"
	"fmt"
	"net/http"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/anomalies"
)

// AnomalyStore is the stored-anomaly surface of the API
type AnomalyStore interface {
	List(ctx context.Context, limit, skip int) ([]*anomalies.Anomaly, error)
	Get(ctx context.Context, id string) (*anomalies.Anomaly, error)
	Image(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	BulkDelete(ctx context.Context, ids []string) anomalies.BulkDeleteResult
}

// AnomalyService lists and deletes recorded anomalies
type AnomalyService struct {
	store AnomalyStore
	guard Guard
}

// NewAnomalyService creates a new anomaly service
func NewAnomalyService(store AnomalyStore, guard Guard) *AnomalyService {
	return &AnomalyService{store: store, guard: guard}
}

type anomalyList struct {
	Count int                  `json:"count"`
	Items []*anomalies.Anomaly `json:"items"`
}

type bulkDeletePayload struct {
	IDs []string `json:"ids"`
}

type bulkDeleteResult struct {
	anomalies.BulkDeleteResult
	Message string `json:"message"`
}

// Mount registers the anomaly routes
func (a *AnomalyService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/anomalies", a.List)
	mux.Handle("POST", "/anomalies/bulk-delete", a.guard(a.BulkDelete))
	mux.Handle("GET", "/anomalies/{id}", func(w http.ResponseWriter, r *http.Request) {
		a.Get(w, r, mux.Vars(r)["id"])
	})
	mux.Handle("GET", "/anomalies/{id}/image", func(w http.ResponseWriter, r *http.Request) {
		a.Image(w, r, mux.Vars(r)["id"])
	})
	mux.Handle("DELETE", "/anomalies/{id}", a.guard(func(w http.ResponseWriter, r *http.Request) {
		a.Delete(w, r, mux.Vars(r)["id"])
	}))
}

// List returns anomalies newest first, paged by limit and skip
func (a *AnomalyService) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := queryInt(r, "limit", anomalies.DefaultListLimit)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.store.List(ctx, limit, skip)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch anomalies: %v", err))
		return
	}
	if items == nil {
		items = []*anomalies.Anomaly{}
	}
	writeJSON(ctx, w, http.StatusOK, anomalyList{Count: len(items), Items: items})
}

// Get returns one anomaly
func (a *AnomalyService) Get(w http.ResponseWriter, r *http.Request, id string) {
	item, err := a.store.Get(r.Context(), id)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, item)
}

// Image streams the stored annotated frame
func (a *AnomalyService) Image(w http.ResponseWriter, r *http.Request, id string) {
	data, err := a.store.Image(r.Context(), id)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Delete removes one anomaly and its frame
func (a *AnomalyService) Delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.store.Delete(r.Context(), id); err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// BulkDelete removes every listed anomaly, reporting the IDs that failed
func (a *AnomalyService) BulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p bulkDeletePayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "IDs must be a list")
		return
	}
	if len(p.IDs) == 0 {
		writeError(ctx, w, http.StatusBadRequest, "No IDs provided")
		return
	}

	result := a.store.BulkDelete(ctx, p.IDs)
	writeJSON(ctx, w, http.StatusOK, bulkDeleteResult{
		BulkDeleteResult: result,
		Message:          fmt.Sprintf("Successfully deleted %d anomalies", result.DeletedCount),
	})
}
