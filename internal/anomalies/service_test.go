package anomalies

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"securo/internal/database"
	"securo/internal/pipeline"
	"securo/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.LocalStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New("sqlite", filepath.Join(dir, "securo.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	frames, err := storage.NewLocalStore(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return NewService(db, frames, "http://securo.local:8080/"), frames
}

func event(id, label string, at time.Time) *pipeline.AnomalyEvent {
	return &pipeline.AnomalyEvent{
		ID:         id,
		Camera:     pipeline.CameraDescriptor{ID: "cam-1", Name: "Lobby", Location: "Ground floor"},
		Model:      "fire",
		Label:      label,
		Confidence: 0.93,
		Timestamp:  at,
		FrameSeq:   120,
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Unix(1717243200, 0)
	if got := ObjectKey(event("e1", "fire", at)); got != "anomalies/cam-1_fire_1717243200.jpg" {
		t.Errorf("ObjectKey = %s", got)
	}
	if got := ObjectKey(event("e1", "knife/blade", at)); got != "anomalies/cam-1_knife_blade_1717243200.jpg" {
		t.Errorf("ObjectKey with slash = %s", got)
	}
}

func TestPersistAndRead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	url, err := svc.Persist(ctx, event("e1", "fire", base), []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9})
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if url != "http://securo.local:8080/anomalies/e1/image" {
		t.Errorf("url = %s", url)
	}
	if _, err := svc.Persist(ctx, event("e2", "smoke", base.Add(time.Minute)), []byte{0xFF, 0xD8, 0x02, 0xFF, 0xD9}); err != nil {
		t.Fatalf("Persist e2: %v", err)
	}

	list, err := svc.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "e2" {
		t.Fatalf("List = %+v, want e2 first", list)
	}
	if list[1].CameraLocation != "Ground floor" || list[1].FrameSeq != 120 {
		t.Errorf("record = %+v", list[1])
	}

	page, err := svc.List(ctx, 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != "e1" {
		t.Fatalf("List(1,1) = %+v, %v", page, err)
	}

	img, err := svc.Image(ctx, "e1")
	if err != nil || len(img) != 5 || img[2] != 0x01 {
		t.Fatalf("Image = %v, %v", img, err)
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrAnomalyNotFound) {
		t.Errorf("Get missing: err = %v", err)
	}
}

func TestDeleteRemovesRecordAndFrame(t *testing.T) {
	svc, frames := newTestService(t)
	ctx := context.Background()
	ev := event("e1", "fire", time.Now())

	if _, err := svc.Persist(ctx, ev, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := svc.Delete(ctx, "e1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := frames.Get(ctx, ObjectKey(ev)); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("frame still stored: %v", err)
	}
	if err := svc.Delete(ctx, "e1"); !errors.Is(err, ErrAnomalyNotFound) {
		t.Errorf("second Delete: err = %v", err)
	}
}

func TestBulkDelete(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"a", "b"} {
		if _, err := svc.Persist(ctx, event(id, "fire", base.Add(time.Duration(i)*time.Second)), []byte{1}); err != nil {
			t.Fatalf("Persist %s: %v", id, err)
		}
	}

	result := svc.BulkDelete(ctx, []string{"a", "ghost", "b"})
	if result.DeletedCount != 2 || result.FailedCount != 1 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.FailedIDs) != 1 || result.FailedIDs[0] != "ghost" {
		t.Errorf("FailedIDs = %v", result.FailedIDs)
	}
	if n, _ := svc.Count(ctx); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestPersistRecordFailureRemovesFrame(t *testing.T) {
	dir := t.TempDir()
	db, err := database.New("sqlite", filepath.Join(dir, "unmigrated.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	defer db.Close()
	frames, _ := storage.NewLocalStore(filepath.Join(dir, "frames"))
	svc := NewService(db, frames, "")
	ev := event("e1", "fire", time.Now())

	// No tables: the insert fails
	if _, err := svc.Persist(context.Background(), ev, []byte{1}); err == nil {
		t.Fatal("Persist succeeded without a schema")
	}
	if _, err := frames.Get(context.Background(), ObjectKey(ev)); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("orphaned frame left behind: %v", err)
	}
}
