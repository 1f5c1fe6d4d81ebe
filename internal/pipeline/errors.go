package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the camera could not be opened
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrFrameRead means a running source stopped producing frames
	ErrFrameRead = errors.New("frame read failed")
	// ErrEndOfStream is a clean end of the source
	ErrEndOfStream = errors.New("end of stream")
	// ErrModelUnavailable means the provider could not load a model
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInference means a loaded model failed on a frame
	ErrInference = errors.New("inference failed")
	// ErrNoActiveCamera is returned by control calls that need a camera
	ErrNoActiveCamera = errors.New("no active camera found")
	// ErrUnknownModel is returned for model identifiers the provider does not know
	ErrUnknownModel = errors.New("invalid model name")
)

// DispatchOp names one alert dispatch sub-operation
type DispatchOp string

const (
	OpNotify    DispatchOp = "notify"
	OpPersist   DispatchOp = "persist"
	OpBroadcast DispatchOp = "broadcast"
)

// DispatchError reports a failed dispatch sub-operation.
// It never reaches the capture loop; it is logged and counted.
type DispatchError struct {
	Op      DispatchOp
	EventID string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s for event %s: %v", e.Op, e.EventID, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
