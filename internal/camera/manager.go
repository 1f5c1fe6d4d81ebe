package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"securo/internal/database"
	"securo/internal/pipeline"
)

// ErrCameraNotFound is returned for unknown camera IDs
var ErrCameraNotFound = errors.New("camera not found")

// Camera is a registered video source
type Camera struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Location  string              `json:"location"`
	Source    pipeline.SourceKind `json:"source"`
	URI       string              `json:"uri,omitempty"`
	IsActive  bool                `json:"is_active"`
	CreatedAt time.Time           `json:"created_at"`
}

// Descriptor converts the camera into what the pipeline reads from
func (c *Camera) Descriptor() pipeline.CameraDescriptor {
	return pipeline.CameraDescriptor{
		ID:       c.ID,
		Name:     c.Name,
		Location: c.Location,
		Source:   c.Source,
		URI:      c.URI,
	}
}

// Manager keeps the camera registry; exactly one camera may be active
type Manager struct {
	db *database.Database
}

// NewManager creates a manager over db
func NewManager(db *database.Database) *Manager {
	return &Manager{db: db}
}

// Add registers a camera and returns it
func (m *Manager) Add(ctx context.Context, name, location string, source pipeline.SourceKind, uri string) (*Camera, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("camera name is required")
	}
	if !source.Valid() {
		return nil, fmt.Errorf("invalid camera source %q (valid: laptop_cam, usb_cam, rtsp)", source)
	}
	if source == pipeline.SourceRTSP && !strings.HasPrefix(uri, "rtsp://") {
		return nil, errors.New("rtsp camera requires an rtsp:// URI")
	}

	cam := &Camera{
		ID:        uuid.New().String(),
		Name:      name,
		Location:  strings.TrimSpace(location),
		Source:    source,
		URI:       uri,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.db.SaveCamera(ctx, toRecord(cam)); err != nil {
		return nil, err
	}

	log.Printf("[Camera] Registered camera %s (%s, %s)", cam.Name, cam.ID, cam.Source)
	return cam, nil
}

// Get returns one camera
func (m *Manager) Get(ctx context.Context, id string) (*Camera, error) {
	rec, err := m.db.GetCamera(ctx, id)
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return fromRecord(rec), nil
}

// List returns every camera, newest first
func (m *Manager) List(ctx context.Context) ([]*Camera, error) {
	recs, err := m.db.ListCameras(ctx)
	if err != nil {
		return nil, err
	}
	cams := make([]*Camera, 0, len(recs))
	for _, rec := range recs {
		cams = append(cams, fromRecord(rec))
	}
	return cams, nil
}

// Remove deletes a camera
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.db.DeleteCamera(ctx, id); err != nil {
		return mapNotFound(err, id)
	}
	log.Printf("[Camera] Removed camera %s", id)
	return nil
}

// Activate makes id the active camera
func (m *Manager) Activate(ctx context.Context, id string) (*Camera, error) {
	if err := m.db.SetActiveCamera(ctx, id); err != nil {
		return nil, mapNotFound(err, id)
	}
	log.Printf("[Camera] Active camera is now %s", id)
	return m.Get(ctx, id)
}

// Active returns the active camera or pipeline.ErrNoActiveCamera
func (m *Manager) Active(ctx context.Context) (*Camera, error) {
	rec, err := m.db.ActiveCamera(ctx)
	if errors.Is(err, database.ErrNotFound) {
		return nil, pipeline.ErrNoActiveCamera
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

func mapNotFound(err error, id string) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return err
}

func toRecord(c *Camera) *database.CameraRecord {
	return &database.CameraRecord{
		ID:        c.ID,
		Name:      c.Name,
		Location:  c.Location,
		Source:    string(c.Source),
		URI:       c.URI,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
	}
}

func fromRecord(r *database.CameraRecord) *Camera {
	return &Camera{
		ID:        r.ID,
		Name:      r.Name,
		Location:  r.Location,
		Source:    pipeline.SourceKind(r.Source),
		URI:       r.URI,
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
	}
}
