package pipeline

import (
	"time"
)

// SourceKind identifies how a camera is reached
type SourceKind string

const (
	// SourceLaptopCam - the built-in camera of the host
	SourceLaptopCam SourceKind = "laptop_cam"
	// SourceUSBCam - an attached V4L2 device
	SourceUSBCam SourceKind = "usb_cam"
	// SourceRTSP - a network stream, URI required
	SourceRTSP SourceKind = "rtsp"
)

// Valid reports whether k is a known source kind
func (k SourceKind) Valid() bool {
	switch k {
	case SourceLaptopCam, SourceUSBCam, SourceRTSP:
		return true
	}
	return false
}

// CameraDescriptor describes the camera a pipeline run reads from.
// It is not modified once the run has started.
type CameraDescriptor struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Location string     `json:"location"`
	Source   SourceKind `json:"source"`
	URI      string     `json:"uri,omitempty"` // RTSP URL or device path
}

// PipelineState is the lifecycle state of the controller
type PipelineState string

const (
	StateStopped  PipelineState = "stopped"
	StateStarting PipelineState = "starting"
	StateRunning  PipelineState = "running"
	StateStopping PipelineState = "stopping"
)

// Frame is one captured video frame
type Frame struct {
	CameraID  string    // Camera identifier
	Data      []byte    // JPEG frame data
	Seq       uint64    // Frame sequence number
	Timestamp time.Time // Capture timestamp
	Width     int       // Frame width (if known)
	Height    int       // Frame height (if known)
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

// Detection is one model's output for one object in one frame
type Detection struct {
	Model      string  `json:"model"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"` // [0-1]
	BBox       BBox    `json:"bbox"`
}

// AnomalyEvent is a confirmed, cooldown-passed detection.
// Built once by the capture loop and never mutated afterwards.
type AnomalyEvent struct {
	ID         string           `json:"id"`
	Camera     CameraDescriptor `json:"camera"`
	Model      string           `json:"model"`
	Label      string           `json:"label"`
	Confidence float32          `json:"confidence"`
	Timestamp  time.Time        `json:"timestamp"`
	FrameSeq   uint64           `json:"frame_seq"`
}

// AnomalySummary is the lightweight broadcast form of an AnomalyEvent
type AnomalySummary struct {
	Event      string    `json:"event"` // "new_anomaly"
	ID         string    `json:"id"`
	Label      string    `json:"label"`
	Model      string    `json:"model"`
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	Confidence float32   `json:"confidence"`
	ImageURL   string    `json:"image_url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary builds the broadcast form of the event
func (e *AnomalyEvent) Summary(imageURL string) *AnomalySummary {
	return &AnomalySummary{
		Event:      "new_anomaly",
		ID:         e.ID,
		Label:      e.Label,
		Model:      e.Model,
		CameraID:   e.Camera.ID,
		CameraName: e.Camera.Name,
		Confidence: e.Confidence,
		ImageURL:   imageURL,
		Timestamp:  e.Timestamp,
	}
}

// Status is a point-in-time view of the controller
type Status struct {
	State        PipelineState     `json:"state"`
	Camera       *CameraDescriptor `json:"camera"`
	ActiveModels []string          `json:"active_models"`
	HasFrame     bool              `json:"has_frame"`
}

// Running reports whether the pipeline is capturing
func (s Status) Running() bool {
	return s.State == StateRunning
}

// LoopStats contains capture loop counters
type LoopStats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	Detections      uint64 `json:"detections"`
	EventsAccepted  uint64 `json:"events_accepted"`
	EventsThrottled uint64 `json:"events_throttled"`
	ModelErrors     uint64 `json:"model_errors"`
	LastFrameTime   int64  `json:"last_frame_time"` // Unix timestamp
}
