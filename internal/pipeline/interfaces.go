package pipeline

import (
	"context"
	"time"
)

// Detector runs one model against a frame
type Detector interface {
	// Name returns the model identifier (e.g., "fire", "weapon")
	Name() string

	// Infer runs detection on a frame and returns zero or more detections
	Infer(ctx context.Context, frame *Frame) ([]Detection, error)
}

// ModelProvider hands out loaded detectors by model identifier.
// Implementations load lazily and cache; failures are per model.
type ModelProvider interface {
	// Get returns the detector for a model or an error wrapping ErrModelUnavailable
	Get(ctx context.Context, modelID string) (Detector, error)

	// Models returns every model identifier the provider knows about
	Models() []string
}

// FrameSource opens camera handles
type FrameSource interface {
	// Open connects to the camera; errors wrap ErrSourceUnavailable
	Open(ctx context.Context, camera CameraDescriptor) (FrameHandle, error)
}

// FrameHandle is an open camera
type FrameHandle interface {
	// ReadFrame blocks until the next frame is available.
	// End of stream is reported as an error wrapping ErrEndOfStream.
	ReadFrame() (*Frame, error)

	// Release frees the underlying device or process. Safe to call more than once.
	Release() error
}

// Annotator draws detections onto a JPEG frame and returns the new JPEG
type Annotator interface {
	Annotate(jpegData []byte, detections []Detection) ([]byte, error)
}

// NotificationSink delivers an alert with the frame attached (e.g., Telegram)
type NotificationSink interface {
	SendAnomaly(ctx context.Context, event *AnomalyEvent, frame []byte) error
}

// EventStore persists an event and its frame; returns where the frame was stored
type EventStore interface {
	Persist(ctx context.Context, event *AnomalyEvent, frame []byte) (string, error)
}

// Broadcaster publishes a summary to live listeners. Best effort.
type Broadcaster interface {
	Publish(summary *AnomalySummary)
}

// Clock abstracts time for the tracker, gate and loop
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}
