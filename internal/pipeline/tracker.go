package pipeline

import (
	"log"
	"time"
)

// PersistenceTracker turns transient alert-grade detections into confirmed ones.
//
// Each label is either absent or tracked since the frame it first appeared in.
// Timers are keyed by label alone, so two models reporting the same label share
// one timer. A label missing from a single frame loses its accumulated dwell time.
//
// The tracker is owned by the capture loop and is not safe for concurrent use.
type PersistenceTracker struct {
	persistence time.Duration
	timers      map[string]time.Time
}

// NewPersistenceTracker creates a tracker that confirms after persistence
func NewPersistenceTracker(persistence time.Duration) *PersistenceTracker {
	return &PersistenceTracker{
		persistence: persistence,
		timers:      make(map[string]time.Time),
	}
}

// Update records an alert-grade sighting of label at now.
// It returns the dwell time so far and whether the label is confirmed.
func (t *PersistenceTracker) Update(label string, now time.Time) (time.Duration, bool) {
	start, ok := t.timers[label]
	if !ok {
		t.timers[label] = now
		log.Printf("[Tracker] Started tracking %s", label)
		return 0, t.persistence <= 0
	}
	elapsed := now.Sub(start)
	return elapsed, elapsed >= t.persistence
}

// Reconcile drops every timer whose label was not seen this frame
func (t *PersistenceTracker) Reconcile(seen map[string]struct{}) {
	for label := range t.timers {
		if _, ok := seen[label]; !ok {
			log.Printf("[Tracker] Reset tracking for %s (lost)", label)
			delete(t.timers, label)
		}
	}
}

// Tracking reports whether label currently has a timer
func (t *PersistenceTracker) Tracking(label string) bool {
	_, ok := t.timers[label]
	return ok
}

// Elapsed returns the dwell time of label at now, or zero when absent
func (t *PersistenceTracker) Elapsed(label string, now time.Time) time.Duration {
	start, ok := t.timers[label]
	if !ok {
		return 0
	}
	return now.Sub(start)
}

// Reset forgets every timer
func (t *PersistenceTracker) Reset() {
	t.timers = make(map[string]time.Time)
}
