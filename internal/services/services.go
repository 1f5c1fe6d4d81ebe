// Package services implements the HTTP control plane of the detection service.
// Each service mounts its routes on a goa muxer; request and response bodies go
// through goa's transport codecs.
package services

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/anomalies"
	"securo/internal/camera"
	"securo/internal/database"
	"securo/internal/middleware"
	"securo/internal/pipeline"
)

// Mounter registers its routes on a muxer
type Mounter interface {
	Mount(mux goahttp.Muxer)
}

// Pipeline is the controller surface driven by the API
type Pipeline interface {
	Start(ctx context.Context, camera pipeline.CameraDescriptor, models []string) error
	Stop()
	Status() pipeline.Status
	Stats() pipeline.LoopStats
	ActivateModel(id string) error
	DeactivateModel(id string) error
	ActivateAll()
	DeactivateAll()
	ModelStatus() map[string]bool
	ActiveModels() []string
	KnownModels() []string
	Buffer() *pipeline.FrameBuffer
	Thresholds() *pipeline.DetectionThresholds
	Models() pipeline.ModelProvider
}

// Cameras is the camera registry
type Cameras interface {
	Add(ctx context.Context, name, location string, source pipeline.SourceKind, uri string) (*camera.Camera, error)
	Get(ctx context.Context, id string) (*camera.Camera, error)
	List(ctx context.Context) ([]*camera.Camera, error)
	Remove(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) (*camera.Camera, error)
	Active(ctx context.Context) (*camera.Camera, error)
}

// SettingsStore persists runtime settings as key/value pairs
type SettingsStore interface {
	SaveConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}

// Guard wraps handlers that require a valid bearer token
type Guard func(http.HandlerFunc) http.HandlerFunc

// NewGuard builds a Guard on the JWT middleware. A nil validator leaves routes open.
func NewGuard(validator middleware.TokenValidator) Guard {
	if validator == nil {
		return func(h http.HandlerFunc) http.HandlerFunc { return h }
	}
	mw := middleware.AuthMiddleware(validator)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return mw(h).ServeHTTP
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	enc := goahttp.ResponseEncoder(ctx, w)
	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, status, errorBody{Error: message})
}

func writeMessage(ctx context.Context, w http.ResponseWriter, message string) {
	writeJSON(ctx, w, http.StatusOK, messageBody{Message: message})
}

// writeErr maps err to a status code and writes it
func writeErr(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] Internal error: %v", err)
	}
	writeError(ctx, w, status, messageFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoActiveCamera), errors.Is(err, pipeline.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, camera.ErrCameraNotFound),
		errors.Is(err, anomalies.ErrAnomalyNotFound),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrNoActiveCamera):
		return "No active camera found."
	case errors.Is(err, pipeline.ErrUnknownModel):
		return "Invalid model name"
	default:
		return err.Error()
	}
}

func decodeJSON(r *http.Request, v any) error {
	return goahttp.RequestDecoder(r).Decode(v)
}

// queryInt reads a non-negative integer query parameter, returning def when absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}
