package services

import (
	"errors"
	"net/http"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/camera"
	"securo/internal/pipeline"
)

// CameraService manages the camera registry
type CameraService struct {
	cameras  Cameras
	pipeline Pipeline
	guard    Guard
}

// NewCameraService creates a new camera service
func NewCameraService(cameras Cameras, p Pipeline, guard Guard) *CameraService {
	return &CameraService{cameras: cameras, pipeline: p, guard: guard}
}

type createCameraPayload struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Source   string `json:"source"`
	URI      string `json:"uri"`
}

// Mount registers the camera routes
func (c *CameraService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/cameras", c.List)
	mux.Handle("POST", "/cameras", c.guard(c.Create))
	mux.Handle("GET", "/cameras/active", c.Active)
	mux.Handle("GET", "/cameras/{id}", func(w http.ResponseWriter, r *http.Request) {
		c.Get(w, r, mux.Vars(r)["id"])
	})
	mux.Handle("DELETE", "/cameras/{id}", c.guard(func(w http.ResponseWriter, r *http.Request) {
		c.Delete(w, r, mux.Vars(r)["id"])
	}))
	mux.Handle("POST", "/cameras/{id}/activate", c.guard(func(w http.ResponseWriter, r *http.Request) {
		c.Activate(w, r, mux.Vars(r)["id"])
	}))
}

// List returns all configured cameras
func (c *CameraService) List(w http.ResponseWriter, r *http.Request) {
	cams, err := c.cameras.List(r.Context())
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	if cams == nil {
		cams = []*camera.Camera{}
	}
	writeJSON(r.Context(), w, http.StatusOK, cams)
}

// Create registers a camera
func (c *CameraService) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var p createCameraPayload
	if err := decodeJSON(r, &p); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid camera payload")
		return
	}

	source := pipeline.SourceKind(p.Source)
	if source == "" {
		source = pipeline.SourceLaptopCam
	}
	cam, err := c.cameras.Add(ctx, p.Name, p.Location, source, p.URI)
	if err != nil {
		// Registry validation failures are client errors
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, w, http.StatusCreated, cam)
}

// Get returns one camera
func (c *CameraService) Get(w http.ResponseWriter, r *http.Request, id string) {
	cam, err := c.cameras.Get(r.Context(), id)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, cam)
}

// Active returns the active camera, 404 when none is marked
func (c *CameraService) Active(w http.ResponseWriter, r *http.Request) {
	cam, err := c.cameras.Active(r.Context())
	if errors.Is(err, pipeline.ErrNoActiveCamera) {
		writeError(r.Context(), w, http.StatusNotFound, "No active camera found.")
		return
	}
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, cam)
}

// Delete removes a camera, stopping the pipeline first when it reads from it
func (c *CameraService) Delete(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	if status := c.pipeline.Status(); status.Camera != nil && status.Camera.ID == id {
		c.pipeline.Stop()
	}
	if err := c.cameras.Remove(ctx, id); err != nil {
		writeErr(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]any{"deleted": true, "id": id})
}

// Activate marks a camera as the one the pipeline starts on
func (c *CameraService) Activate(w http.ResponseWriter, r *http.Request, id string) {
	cam, err := c.cameras.Activate(r.Context(), id)
	if err != nil {
		writeErr(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, cam)
}
