package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"securo/internal/pipeline"
)

// HTTPEngine runs models on a remote inference service over HTTP
type HTTPEngine struct {
	endpoint string
	client   *http.Client

	mu          sync.RWMutex
	healthy     bool
	healthCheck time.Time
}

// httpDetection is one entry of the service response
type httpDetection struct {
	Label      string    `json:"label"`
	Class      string    `json:"class"` // Older services name the label "class"
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"` // [x1, y1, x2, y2]
}

// httpDetectResult is the /detect response body
type httpDetectResult struct {
	Detections      []httpDetection `json:"detections"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// NewHTTPEngine creates an engine talking to endpoint (e.g. http://localhost:8001)
func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

// IsHealthy checks the service, caching a positive answer for 30 seconds
func (e *HTTPEngine) IsHealthy(ctx context.Context) bool {
	e.mu.RLock()
	if e.healthy && time.Since(e.healthCheck) < 30*time.Second {
		e.mu.RUnlock()
		return true
	}
	e.mu.RUnlock()

	healthy := e.checkHealth(ctx)

	e.mu.Lock()
	e.healthy = healthy
	if healthy {
		e.healthCheck = time.Now()
	}
	e.mu.Unlock()
	return healthy
}

func (e *HTTPEngine) checkHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Printf("[HTTPEngine] Health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[HTTPEngine] Health check returned status %d", resp.StatusCode)
		return false
	}
	return true
}

// Load checks the service is reachable and returns a detector bound to the weights
func (e *HTTPEngine) Load(ctx context.Context, modelID string, weights Weights) (pipeline.Detector, error) {
	if !e.IsHealthy(ctx) {
		return nil, fmt.Errorf("%w: inference service %s unreachable", pipeline.ErrModelUnavailable, e.endpoint)
	}
	return &httpDetector{engine: e, model: modelID, weights: weights}, nil
}

// Close is a no-op; idle connections are released
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

type httpDetector struct {
	engine  *HTTPEngine
	model   string
	weights Weights
}

func (d *httpDetector) Name() string { return d.model }

// Infer posts the frame as multipart form data and converts the response
func (d *httpDetector) Infer(ctx context.Context, frame *pipeline.Frame) ([]pipeline.Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(frame.Data); err != nil {
		return nil, err
	}
	w.WriteField("model", d.model)
	w.WriteField("weights", d.weights.Location())
	w.WriteField("frame_seq", strconv.FormatUint(frame.Seq, 10))
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.engine.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.engine.client.Do(req)
	if err != nil {
		d.engine.markUnhealthy()
		return nil, fmt.Errorf("%w: %s: %v", pipeline.ErrInference, d.model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s: status %d: %s", pipeline.ErrInference, d.model, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result httpDetectResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", pipeline.ErrInference, d.model, err)
	}

	detections := make([]pipeline.Detection, 0, len(result.Detections))
	for _, det := range result.Detections {
		label := det.Label
		if label == "" {
			label = det.Class
		}
		detections = append(detections, pipeline.Detection{
			Model:      d.model,
			Label:      label,
			Confidence: det.Confidence,
			BBox:       bboxFromSlice(det.BBox),
		})
	}
	return detections, nil
}

func (e *HTTPEngine) markUnhealthy() {
	e.mu.Lock()
	e.healthy = false
	e.mu.Unlock()
}

func bboxFromSlice(v []float32) pipeline.BBox {
	if len(v) < 4 {
		return pipeline.BBox{}
	}
	return pipeline.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
}

// Ensure HTTPEngine implements Engine
var _ Engine = (*HTTPEngine)(nil)
