package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
	_ "golang.org/x/image/bmp"

	"securo/internal/pipeline"
	"securo/internal/stream"
)

const maxUploadSize = 64 << 20

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// FrameExtractor returns the first frame of a video file as JPEG
type FrameExtractor func(ctx context.Context, path string) ([]byte, error)

// UploadService runs the active models over an uploaded image or video
type UploadService struct {
	pipeline     Pipeline
	overlay      *stream.Overlay
	extractFrame FrameExtractor
	guard        Guard
}

// NewUploadService creates the upload detection service
func NewUploadService(p Pipeline, overlay *stream.Overlay, extract FrameExtractor, guard Guard) *UploadService {
	return &UploadService{pipeline: p, overlay: overlay, extractFrame: extract, guard: guard}
}

type uploadDetection struct {
	Model      string  `json:"model"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

type uploadResult struct {
	Detections     []uploadDetection `json:"detections"`
	AnnotatedImage string            `json:"annotated_image"`
}

// Mount registers the upload route
func (u *UploadService) Mount(mux goahttp.Muxer) {
	mux.Handle("POST", "/upload/detect", u.guard(u.Detect))
}

// Detect stops live capture, decodes the upload and returns alert-grade detections
// with a base64 annotated JPEG.
func (u *UploadService) Detect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if u.pipeline.Status().Running() {
		log.Printf("[Upload] Stopping live pipeline before processing upload")
		u.pipeline.Stop()
	}

	models := u.pipeline.ActiveModels()
	if len(models) == 0 {
		writeError(ctx, w, http.StatusBadRequest, "No models are activated. Please enable at least one model to detect anomalies.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	img, err := u.decodeUpload(ctx, header.Filename, file)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		writeError(ctx, w, http.StatusInternalServerError, "failed to encode frame")
		return
	}
	bounds := img.Bounds()
	frame := &pipeline.Frame{
		CameraID:  "upload",
		Data:      buf.Bytes(),
		Timestamp: time.Now(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}

	kept := u.infer(ctx, models, frame)

	annotated, err := u.overlay.AnnotateImage(img, kept)
	if err != nil {
		writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}

	result := uploadResult{
		Detections:     make([]uploadDetection, 0, len(kept)),
		AnnotatedImage: base64.StdEncoding.EncodeToString(annotated),
	}
	for _, d := range kept {
		result.Detections = append(result.Detections, uploadDetection{
			Model:      d.Model,
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       [4]int{int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2)},
		})
	}
	log.Printf("[Upload] %s: %d detections from %v", header.Filename, len(kept), models)
	writeJSON(ctx, w, http.StatusOK, result)
}

// decodeUpload decodes still images directly and pulls the first frame out of anything else
func (u *UploadService) decodeUpload(ctx context.Context, filename string, file io.Reader) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if imageExtensions[ext] {
		img, _, err := image.Decode(file)
		if err != nil {
			return nil, fmt.Errorf("invalid image: %v", err)
		}
		return img, nil
	}

	if u.extractFrame == nil {
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}

	tmp, err := os.CreateTemp("", "securo-upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %v", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to buffer upload: %v", err)
	}
	tmp.Close()

	data, err := u.extractFrame(ctx, tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("could not read video: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not read video: %v", err)
	}
	return img, nil
}

// infer runs each model once and keeps detections at or above its alert threshold.
// A failing model is skipped.
func (u *UploadService) infer(ctx context.Context, models []string, frame *pipeline.Frame) []pipeline.Detection {
	thresholds := u.pipeline.Thresholds()
	var kept []pipeline.Detection
	for _, id := range models {
		detector, err := u.pipeline.Models().Get(ctx, id)
		if err != nil {
			log.Printf("[Upload] Model %s unavailable: %v", id, err)
			continue
		}
		dets, err := detector.Infer(ctx, frame)
		if err != nil {
			log.Printf("[Upload] Inference failed for model %s: %v", id, err)
			continue
		}
		alert := thresholds.Lookup(id).Alert
		for _, d := range dets {
			if d.Confidence < alert {
				continue
			}
			if d.Model == "" {
				d.Model = id
			}
			kept = append(kept, d)
		}
	}
	return kept
}
