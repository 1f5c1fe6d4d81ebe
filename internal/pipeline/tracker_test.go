package pipeline

import (
	"testing"
	"time"
)

func TestPersistenceTrackerUpdate(t *testing.T) {
	clock := newFakeClock()
	tr := NewPersistenceTracker(5 * time.Second)

	elapsed, ok := tr.Update("fire", clock.Now())
	if ok || elapsed != 0 {
		t.Fatalf("first sighting: elapsed=%v confirmed=%v", elapsed, ok)
	}

	clock.Advance(4900 * time.Millisecond)
	if _, ok := tr.Update("fire", clock.Now()); ok {
		t.Fatal("confirmed before persistence")
	}

	clock.Advance(100 * time.Millisecond)
	elapsed, ok = tr.Update("fire", clock.Now())
	if !ok || elapsed != 5*time.Second {
		t.Fatalf("at 5s: elapsed=%v confirmed=%v", elapsed, ok)
	}

	// Stays confirmed while present
	clock.Advance(time.Second)
	if _, ok := tr.Update("fire", clock.Now()); !ok {
		t.Fatal("label lost confirmation while still present")
	}
}

func TestPersistenceTrackerReconcile(t *testing.T) {
	clock := newFakeClock()
	tr := NewPersistenceTracker(time.Second)

	tr.Update("person", clock.Now())
	tr.Update("gun", clock.Now())
	tr.Reconcile(map[string]struct{}{"person": {}})

	if !tr.Tracking("person") {
		t.Error("present label dropped")
	}
	if tr.Tracking("gun") {
		t.Error("absent label kept")
	}

	clock.Advance(2 * time.Second)
	if _, ok := tr.Update("gun", clock.Now()); ok {
		t.Error("reappearing label confirmed immediately")
	}
	if got := tr.Elapsed("person", clock.Now()); got != 2*time.Second {
		t.Errorf("Elapsed(person) = %v, want 2s", got)
	}

	tr.Reconcile(nil)
	if tr.Tracking("person") || tr.Tracking("gun") {
		t.Error("empty frame should clear every timer")
	}
}

func TestPersistenceTrackerReset(t *testing.T) {
	tr := NewPersistenceTracker(time.Second)
	tr.Update("smoke", time.Now())
	tr.Reset()
	if tr.Tracking("smoke") {
		t.Error("Reset kept a timer")
	}
	if got := tr.Elapsed("smoke", time.Now()); got != 0 {
		t.Errorf("Elapsed after Reset = %v", got)
	}
}
