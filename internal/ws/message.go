package ws

import (
	"encoding/json"
	"time"
)

// helloMessage is sent once after a client connects.
// Anomalies follow as pipeline.AnomalySummary objects with event "new_anomaly".
type helloMessage struct {
	Event     string    `json:"event"` // "connected"
	CameraID  string    `json:"camera_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newHello(cameraID string) *helloMessage {
	return &helloMessage{Event: "connected", CameraID: cameraID, Timestamp: time.Now()}
}

func (m *helloMessage) encode() ([]byte, error) {
	return json.Marshal(m)
}
