package services

import (
	"net/http"
	"time"

	goahttp "goa.design/goa/v3/http"

	"securo/internal/pipeline"
)

// SystemDeps are the optional collaborators reported by the system status
type SystemDeps struct {
	Pipeline   Pipeline
	Cameras    Cameras
	Dispatcher interface{ Stats() pipeline.DispatchStats }
	Models     interface{ Loaded() []string }
	Sockets    interface{ ClientCount() int }
	Viewers    interface{ Viewers() int }
	Notifier   interface{ IsEnabled() bool }
}

// SystemService reports the overall state of the service
type SystemService struct {
	deps      SystemDeps
	startTime time.Time
}

// NewSystemService creates a new system service
func NewSystemService(deps SystemDeps) *SystemService {
	return &SystemService{deps: deps, startTime: time.Now()}
}

// SystemStatus is the combined status document
type SystemStatus struct {
	UptimeSeconds       int                     `json:"uptime_seconds"`
	Pipeline            pipeline.Status         `json:"pipeline"`
	Loop                pipeline.LoopStats      `json:"loop"`
	Dispatch            *pipeline.DispatchStats `json:"dispatch,omitempty"`
	LoadedModels        []string                `json:"loaded_models"`
	Cameras             int                     `json:"cameras"`
	WebSocketClients    int                     `json:"websocket_clients"`
	StreamViewers       int                     `json:"stream_viewers"`
	NotificationsActive bool                    `json:"notifications_active"`
}

// Mount registers the system route
func (s *SystemService) Mount(mux goahttp.Muxer) {
	mux.Handle("GET", "/system/status", s.Status)
}

// Status gathers counters from every collaborator that is present
func (s *SystemService) Status(w http.ResponseWriter, r *http.Request) {
	d := s.deps
	status := SystemStatus{
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
		Pipeline:      d.Pipeline.Status(),
		Loop:          d.Pipeline.Stats(),
		LoadedModels:  []string{},
	}
	if d.Dispatcher != nil {
		stats := d.Dispatcher.Stats()
		status.Dispatch = &stats
	}
	if d.Models != nil {
		status.LoadedModels = d.Models.Loaded()
	}
	if d.Cameras != nil {
		if cams, err := d.Cameras.List(r.Context()); err == nil {
			status.Cameras = len(cams)
		}
	}
	if d.Sockets != nil {
		status.WebSocketClients = d.Sockets.ClientCount()
	}
	if d.Viewers != nil {
		status.StreamViewers = d.Viewers.Viewers()
	}
	if d.Notifier != nil {
		status.NotificationsActive = d.Notifier.IsEnabled()
	}
	writeJSON(r.Context(), w, http.StatusOK, status)
}
