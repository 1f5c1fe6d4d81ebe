package services

import (
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/stream"
)

// StreamService serves the live annotated feed
type StreamService struct {
	pipeline Pipeline
	mjpeg    *stream.MJPEGHandler
	snapshot *stream.SnapshotHandler
}

// NewStreamService creates a stream service reading the pipeline's frame buffer
func NewStreamService(p Pipeline, interval time.Duration) *StreamService {
	return &StreamService{
		pipeline: p,
		mjpeg:    stream.NewMJPEGHandler(p.Buffer(), interval),
		snapshot: stream.NewSnapshotHandler(p.Buffer()),
	}
}

type cameraInfo struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Source   string `json:"source"`
	IsActive bool   `json:"is_active"`
}

type streamStatus struct {
	Active       bool        `json:"active"`
	State        string      `json:"state"`
	CameraInfo   *cameraInfo `json:"camera_info"`
	ActiveModels []string    `json:"active_models"`
	HasFrame     bool        `json:"has_frame"`
	Viewers      int         `json:"viewers"`
}

// Mount registers the stream routes
func (s *StreamService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/stream/video_feed", s.mjpeg.ServeHTTP)
	mux.Handle("GET", "/stream/snapshot", s.snapshot.ServeHTTP)
	mux.Handle("GET", "/stream/status", s.Status)
}

// Viewers returns the number of connected MJPEG clients
func (s *StreamService) Viewers() int {
	return s.mjpeg.Clients()
}

// Status reports whether the pipeline runs and which camera it reads
func (s *StreamService) Status(w http.ResponseWriter, r *http.Request) {
	status := s.pipeline.Status()
	body := streamStatus{
		Active:       status.Running(),
		State:        string(status.State),
		ActiveModels: status.ActiveModels,
		HasFrame:     status.HasFrame,
		Viewers:      s.mjpeg.Clients(),
	}
	if body.ActiveModels == nil {
		body.ActiveModels = []string{}
	}
	if status.Camera != nil {
		body.CameraInfo = &cameraInfo{
			Name:     status.Camera.Name,
			Location: status.Camera.Location,
			Source:   string(status.Camera.Source),
			IsActive: true,
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, body)
}
