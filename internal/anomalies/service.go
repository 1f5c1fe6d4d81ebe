// Package anomalies persists confirmed anomalies and serves them back to the API.
package anomalies

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"securo/internal/database"
	"securo/internal/pipeline"
	"securo/internal/storage"
)

// DefaultListLimit is used when a list request gives no limit
const DefaultListLimit = 50

// ErrAnomalyNotFound is returned for unknown anomaly IDs
var ErrAnomalyNotFound = errors.New("anomaly not found")

// Anomaly is the API form of a stored anomaly
type Anomaly struct {
	ID             string    `json:"id"`
	CameraID       string    `json:"camera_id"`
	CameraName     string    `json:"camera_name"`
	CameraLocation string    `json:"camera_location"`
	Model          string    `json:"model"`
	Label          string    `json:"label"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	FrameSeq       int64     `json:"frame_seq"`
	ImageURL       string    `json:"image_url"`
}

// BulkDeleteResult reports the outcome of deleting several anomalies
type BulkDeleteResult struct {
	DeletedCount int      `json:"deleted_count"`
	FailedCount  int      `json:"failed_count"`
	FailedIDs    []string `json:"failed_ids"`
}

// Records is the subset of the database the service uses
type Records interface {
	SaveAnomaly(ctx context.Context, a *database.AnomalyRecord) error
	GetAnomaly(ctx context.Context, id string) (*database.AnomalyRecord, error)
	ListAnomalies(ctx context.Context, cameraID string, limit, skip int) ([]*database.AnomalyRecord, error)
	CountAnomalies(ctx context.Context) (int, error)
	DeleteAnomaly(ctx context.Context, id string) error
}

// Service stores anomaly frames and records
type Service struct {
	records   Records
	frames    storage.FrameStore
	publicURL string
}

// NewService creates the anomaly service. publicURL prefixes image links.
func NewService(records Records, frames storage.FrameStore, publicURL string) *Service {
	return &Service{
		records:   records,
		frames:    frames,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// ObjectKey is where the frame of an event is stored
func ObjectKey(event *pipeline.AnomalyEvent) string {
	return fmt.Sprintf("anomalies/%s_%s_%d.jpg", event.Camera.ID, sanitize(event.Label), event.Timestamp.Unix())
}

func sanitize(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}

// ImageURL returns the API link for an anomaly's frame
func (s *Service) ImageURL(id string) string {
	return fmt.Sprintf("%s/anomalies/%s/image", s.publicURL, id)
}

// Persist stores the frame then inserts the record and returns the image URL
func (s *Service) Persist(ctx context.Context, event *pipeline.AnomalyEvent, frame []byte) (string, error) {
	key := ObjectKey(event)
	if _, err := s.frames.Put(ctx, key, frame); err != nil {
		return "", fmt.Errorf("failed to store frame for anomaly %s: %w", event.ID, err)
	}

	url := s.ImageURL(event.ID)
	record := &database.AnomalyRecord{
		ID:             event.ID,
		CameraID:       event.Camera.ID,
		CameraName:     event.Camera.Name,
		CameraLocation: event.Camera.Location,
		Model:          event.Model,
		Label:          event.Label,
		Confidence:     float64(event.Confidence),
		Timestamp:      event.Timestamp,
		FrameSeq:       int64(event.FrameSeq),
		ImageKey:       key,
		ImageURL:       url,
	}
	if err := s.records.SaveAnomaly(ctx, record); err != nil {
		if delErr := s.frames.Delete(ctx, key); delErr != nil {
			log.Printf("[Anomalies] Failed to remove orphaned frame %s: %v", key, delErr)
		}
		return "", fmt.Errorf("failed to save anomaly %s: %w", event.ID, err)
	}

	log.Printf("[Anomalies] Stored anomaly %s (%s) at %s", event.ID, event.Label, key)
	return url, nil
}

// List returns anomalies newest first
func (s *Service) List(ctx context.Context, limit, skip int) ([]*Anomaly, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if skip < 0 {
		skip = 0
	}

	records, err := s.records.ListAnomalies(ctx, "", limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	out := make([]*Anomaly, 0, len(records))
	for _, r := range records {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Count returns the number of stored anomalies
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.records.CountAnomalies(ctx)
}

// Get returns one anomaly
func (s *Service) Get(ctx context.Context, id string) (*Anomaly, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(record), nil
}

// Image returns the stored JPEG of an anomaly
func (s *Service) Image(ctx context.Context, id string) ([]byte, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.frames.Get(ctx, record.ImageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: image for %s", ErrAnomalyNotFound, id)
	}
	return data, err
}

// Delete removes the record and its frame
func (s *Service) Delete(ctx context.Context, id string) error {
	record, err := s.record(ctx, id)
	if err != nil {
		return err
	}
	if err := s.frames.Delete(ctx, record.ImageKey); err != nil {
		log.Printf("[Anomalies] Failed to delete frame %s: %v", record.ImageKey, err)
	}
	if err := s.records.DeleteAnomaly(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
		}
		return fmt.Errorf("failed to delete anomaly %s: %w", id, err)
	}
	return nil
}

// BulkDelete deletes each ID independently and reports the failures
func (s *Service) BulkDelete(ctx context.Context, ids []string) BulkDeleteResult {
	result := BulkDeleteResult{FailedIDs: []string{}}
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			log.Printf("[Anomalies] Bulk delete of %s failed: %v", id, err)
			result.FailedCount++
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.DeletedCount++
	}
	return result
}

func (s *Service) record(ctx context.Context, id string) (*database.AnomalyRecord, error) {
	record, err := s.records.GetAnomaly(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAnomalyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load anomaly %s: %w", id, err)
	}
	return record, nil
}

func fromRecord(r *database.AnomalyRecord) *Anomaly {
	return &Anomaly{
		ID:             r.ID,
		CameraID:       r.CameraID,
		CameraName:     r.CameraName,
		CameraLocation: r.CameraLocation,
		Model:          r.Model,
		Label:          r.Label,
		Confidence:     r.Confidence,
		Timestamp:      r.Timestamp,
		FrameSeq:       r.FrameSeq,
		ImageURL:       r.ImageURL,
	}
}

// Ensure Service implements pipeline.EventStore
var _ pipeline.EventStore = (*Service)(nil)
