package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/database"
	"securo/internal/pipeline"
)

// activeModelsKey stores the enabled model list between restarts
const activeModelsKey = "active_models"

// PipelineService starts and stops the capture pipeline and toggles models
type PipelineService struct {
	pipeline Pipeline
	cameras  Cameras
	settings SettingsStore
	guard    Guard
}

// NewPipelineService creates the pipeline service. settings may be nil.
func NewPipelineService(p Pipeline, cameras Cameras, settings SettingsStore, guard Guard) *PipelineService {
	return &PipelineService{pipeline: p, cameras: cameras, settings: settings, guard: guard}
}

type startPayload struct {
	Models []string `json:"models,omitempty"`
}

type pipelineStatus struct {
	pipeline.Status
	Stats pipeline.LoopStats `json:"stats"`
}

// Mount registers the pipeline routes
func (s *PipelineService) Mount(mux goahttp.Muxer) {
	mux.Handle("POST", "/pipeline/start", s.guard(s.Start))
	mux.Handle("POST", "/pipeline/stop", s.guard(s.Stop))
	mux.Handle("GET", "/pipeline/status", s.Status)
	mux.Handle("POST", "/pipeline/model/{name}/activate", s.guard(s.toggle(mux, true)))
	mux.Handle("POST", "/pipeline/model/{name}/deactivate", s.guard(s.toggle(mux, false)))
	mux.Handle("POST", "/pipeline/models/activate_all", s.guard(s.ActivateAll))
	mux.Handle("POST", "/pipeline/models/deactivate_all", s.guard(s.DeactivateAll))
	mux.Handle("GET", "/pipeline/models/status", s.ModelStatus)
}

// Start runs the pipeline on the active camera. An optional body selects the models.
func (s *PipelineService) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload startPayload
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(ctx, w, http.StatusBadRequest, "invalid start payload")
			return
		}
	}

	cam, err := s.cameras.Active(ctx)
	if err != nil {
		writeErr(ctx, w, err)
		return
	}

	// Capture must outlive the request
	if err := s.pipeline.Start(context.WithoutCancel(ctx), cam.Descriptor(), payload.Models); err != nil {
		writeErr(ctx, w, err)
		return
	}
	if payload.Models != nil {
		s.saveActiveModels(ctx)
	}
	writeMessage(ctx, w, fmt.Sprintf("Pipeline started for camera %s", cam.Name))
}

// Stop halts the pipeline; stopping a stopped pipeline succeeds
func (s *PipelineService) Stop(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Stop()
	writeMessage(r.Context(), w, "Pipeline stopped")
}

// Status returns controller state with loop counters
func (s *PipelineService) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, pipelineStatus{
		Status: s.pipeline.Status(),
		Stats:  s.pipeline.Stats(),
	})
}

func (s *PipelineService) toggle(mux goahttp.Muxer, activate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := mux.Vars(r)["name"]

		var err error
		if activate {
			err = s.pipeline.ActivateModel(name)
		} else {
			err = s.pipeline.DeactivateModel(name)
		}
		if err != nil {
			writeErr(ctx, w, err)
			return
		}

		s.saveActiveModels(ctx)
		if activate {
			writeMessage(ctx, w, fmt.Sprintf("%s model activated", name))
		} else {
			writeMessage(ctx, w, fmt.Sprintf("%s model deactivated", name))
		}
	}
}

// ActivateAll enables every known model
func (s *PipelineService) ActivateAll(w http.ResponseWriter, r *http.Request) {
	s.pipeline.ActivateAll()
	s.saveActiveModels(r.Context())
	writeMessage(r.Context(), w, "All models activated")
}

// DeactivateAll disables every model
func (s *PipelineService) DeactivateAll(w http.ResponseWriter, r *http.Request) {
	s.pipeline.DeactivateAll()
	s.saveActiveModels(r.Context())
	writeMessage(r.Context(), w, "All models deactivated")
}

// ModelStatus maps each known model to whether it is enabled
func (s *PipelineService) ModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.pipeline.ModelStatus())
}

func (s *PipelineService) saveActiveModels(ctx context.Context) {
	if s.settings == nil {
		return
	}
	value := strings.Join(s.pipeline.ActiveModels(), ",")
	if err := s.settings.SaveConfig(context.WithoutCancel(ctx), activeModelsKey, value); err != nil {
		log.Printf("[Pipeline] Failed to save active models: %v", err)
	}
}

// RestoreActiveModels re-applies the model list saved by a previous run.
// Unknown models in the stored list are skipped.
func RestoreActiveModels(ctx context.Context, p Pipeline, settings SettingsStore) error {
	value, err := settings.GetConfig(ctx, activeModelsKey)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	p.DeactivateAll()
	for _, id := range strings.Split(value, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := p.ActivateModel(id); err != nil {
			log.Printf("[Pipeline] Skipping stored model %q: %v", id, err)
		}
	}
	log.Printf("[Pipeline] Restored active models: %v", p.ActiveModels())
	return nil
}
