// Package stream serves the annotated pipeline output over HTTP and draws detection overlays.
package stream

import (
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"securo/internal/pipeline"
)

// FrameHub is the read side of the pipeline's frame buffer
type FrameHub interface {
	Snapshot() *pipeline.FrameSnapshot
}

// MJPEGHandler streams the latest annotated frame as multipart/x-mixed-replace
type MJPEGHandler struct {
	frames   FrameHub
	interval time.Duration
	clients  atomic.Int32
}

// NewMJPEGHandler creates a handler polling frames every interval
func NewMJPEGHandler(frames FrameHub, interval time.Duration) *MJPEGHandler {
	if interval <= 0 {
		interval = 30 * time.Millisecond
	}
	return &MJPEGHandler{frames: frames, interval: interval}
}

// Clients returns the number of connected viewers
func (h *MJPEGHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP writes each new frame until the client disconnects
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("[MJPEGStream] Client connected (%d viewers)", n)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		if snap := h.frames.Snapshot(); snap != nil && snap.Seq != lastSeq {
			lastSeq = snap.Seq
			if err := writePart(w, snap.Data); err != nil {
				log.Printf("[MJPEGStream] Client write failed: %v", err)
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected")
			return
		case <-ticker.C:
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// SnapshotHandler serves the latest annotated frame as a single JPEG
type SnapshotHandler struct {
	frames FrameHub
}

// NewSnapshotHandler creates a snapshot handler
func NewSnapshotHandler(frames FrameHub) *SnapshotHandler {
	return &SnapshotHandler{frames: frames}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.frames.Snapshot()
	if snap == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(snap.Data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(snap.Data)
}

// Ensure the pipeline buffer satisfies FrameHub
var _ FrameHub = (*pipeline.FrameBuffer)(nil)
