package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

type loopHarness struct {
	clock      *fakeClock
	provider   *fakeProvider
	dispatcher *recordingDispatcher
	annotator  *markingAnnotator
	controller *Controller
	run        *pipelineRun
	tracker    *PersistenceTracker
	seq        uint64
}

func newLoopHarness(t *testing.T, models []string, active ...string) *loopHarness {
	t.Helper()
	h := &loopHarness{
		clock:      newFakeClock(),
		provider:   newFakeProvider(models...),
		dispatcher: &recordingDispatcher{},
		annotator:  &markingAnnotator{},
	}
	config := DefaultControllerConfig()
	h.controller = NewController(ControllerDeps{
		Source:     &fakeSource{},
		Models:     h.provider,
		Thresholds: defaultTestThresholds(),
		Annotator:  h.annotator,
		Dispatcher: h.dispatcher,
		Clock:      h.clock,
	}, config, active)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.run = &pipelineRun{
		camera: CameraDescriptor{ID: "cam-1", Name: "Front Door", Location: "Lobby", Source: SourceLaptopCam},
		handle: newFakeHandle(),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	h.tracker = NewPersistenceTracker(config.Persistence)
	return h
}

func (h *loopHarness) frame() {
	h.seq++
	h.controller.processFrame(h.run, h.tracker, &Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Seq: h.seq})
}

func TestProcessFrameConfirmsAfterPersistence(t *testing.T) {
	h := newLoopHarness(t, []string{"people"}, "people")
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	// 51 frames at 100ms: dwell reaches 5.0s on the last one
	for i := 0; i <= 50; i++ {
		if i > 0 {
			h.clock.Advance(100 * time.Millisecond)
		}
		h.frame()
		if i < 50 && h.dispatcher.count() != 0 {
			t.Fatalf("frame %d: dispatched before persistence elapsed", i)
		}
	}

	events := h.dispatcher.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0].event
	if ev.Label != "person" || ev.Model != "people" {
		t.Errorf("event = %s/%s, want person/people", ev.Model, ev.Label)
	}
	if ev.Camera.ID != "cam-1" || ev.Camera.Name != "Front Door" {
		t.Errorf("event camera = %+v", ev.Camera)
	}
	if ev.FrameSeq != 51 {
		t.Errorf("FrameSeq = %d, want 51", ev.FrameSeq)
	}
	if string(events[0].frame[len(events[0].frame)-1:]) != "A" {
		t.Errorf("dispatched frame is not the annotated one")
	}
	acceptedAt := h.clock.Now()

	// Still present: confirmed each frame but throttled by the gate
	h.clock.Advance(time.Second)
	h.frame()
	if h.dispatcher.count() != 1 {
		t.Fatalf("event accepted 1s after previous one")
	}

	// Exactly at the cooldown boundary is still rejected
	h.clock.Advance(time.Second)
	h.frame()
	if h.dispatcher.count() != 1 {
		t.Fatalf("event accepted at exactly the cooldown")
	}

	h.clock.Advance(time.Second)
	h.frame()
	if h.dispatcher.count() != 2 {
		t.Fatalf("event not accepted 3s after the previous one")
	}
	if got := h.dispatcher.all()[1].event.Timestamp.Sub(acceptedAt); got != 3*time.Second {
		t.Errorf("second event at +%v, want +3s", got)
	}

	stats := h.controller.Stats()
	if stats.EventsAccepted != 2 || stats.EventsThrottled != 2 {
		t.Errorf("stats accepted=%d throttled=%d, want 2 and 2", stats.EventsAccepted, stats.EventsThrottled)
	}
}

func TestProcessFrameMissedFrameResetsDwell(t *testing.T) {
	h := newLoopHarness(t, []string{"fire"}, "fire")
	fire := h.provider.detectors["fire"]
	fire.set(Detection{Label: "fire", Confidence: 0.95})

	for i := 0; i < 40; i++ {
		h.frame()
		h.clock.Advance(100 * time.Millisecond)
	}

	fire.set()
	h.frame()
	if h.tracker.Tracking("fire") {
		t.Fatal("timer kept after a frame without the label")
	}

	fire.set(Detection{Label: "fire", Confidence: 0.95})
	for i := 0; i < 20; i++ {
		h.clock.Advance(100 * time.Millisecond)
		h.frame()
	}
	if h.dispatcher.count() != 0 {
		t.Fatalf("dispatched after only 1.9s of consecutive presence")
	}
}

func TestProcessFrameThresholdClasses(t *testing.T) {
	h := newLoopHarness(t, []string{"weapon"}, "weapon")
	h.provider.detectors["weapon"].set(
		Detection{Label: "knife", Confidence: 0.30}, // below display
		Detection{Label: "gun", Confidence: 0.60},   // display only
		Detection{Label: "rifle", Confidence: 0.85}, // equal to alert, not alert-grade
		Detection{Label: "pistol", Confidence: 0.86},
	)

	h.frame()

	if len(h.annotator.seen) != 1 {
		t.Fatalf("annotator called %d times, want 1", len(h.annotator.seen))
	}
	if got := len(h.annotator.seen[0]); got != 3 {
		t.Errorf("drawn %d detections, want 3", got)
	}
	for _, label := range []string{"knife", "gun", "rifle"} {
		if h.tracker.Tracking(label) {
			t.Errorf("%s should not be tracked", label)
		}
	}
	if !h.tracker.Tracking("pistol") {
		t.Error("pistol should be tracked")
	}
	if got := h.controller.LatestFrame(); len(got) != 7 {
		t.Errorf("buffer holds %d bytes, want annotated frame of 7", len(got))
	}
}

func TestProcessFrameIsolatesModelFailures(t *testing.T) {
	h := newLoopHarness(t, []string{"fire", "people", "weapon"}, "fire", "people", "weapon")
	h.provider.broken["fire"] = true
	h.provider.detectors["weapon"].err = errors.New("cuda out of memory")
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	h.frame()

	if !h.tracker.Tracking("person") {
		t.Fatal("healthy model was not processed")
	}
	if got := h.controller.Stats().ModelErrors; got != 2 {
		t.Errorf("ModelErrors = %d, want 2", got)
	}
	if !h.controller.Buffer().HasFrame() {
		t.Error("frame not published after model failures")
	}
}

func TestProcessFrameSharedLabelTimer(t *testing.T) {
	h := newLoopHarness(t, []string{"crowd", "people"}, "crowd", "people")
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	for i := 0; i < 30; i++ {
		h.frame()
		h.clock.Advance(100 * time.Millisecond)
	}

	// A second model reporting the same label joins the running timer
	h.provider.detectors["people"].set()
	h.provider.detectors["crowd"].set(Detection{Label: "person", Confidence: 0.99})
	for i := 0; i < 21; i++ {
		h.frame()
		h.clock.Advance(100 * time.Millisecond)
	}

	events := h.dispatcher.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].event.Model != "crowd" {
		t.Errorf("event model = %s, want crowd", events[0].event.Model)
	}
}

func TestProcessFrameEmptyModelSet(t *testing.T) {
	h := newLoopHarness(t, []string{"people"})
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	h.frame()

	if h.provider.detectors["people"].callCount() != 0 {
		t.Error("inactive model was invoked")
	}
	if len(h.annotator.seen) != 0 {
		t.Error("annotator called with nothing to draw")
	}
	if got := h.controller.LatestFrame(); len(got) != 4 {
		t.Errorf("raw frame not published, got %d bytes", len(got))
	}
}

func TestProcessFrameZeroPersistence(t *testing.T) {
	h := newLoopHarness(t, []string{"people"}, "people")
	h.tracker = NewPersistenceTracker(0)
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	h.frame()

	if h.dispatcher.count() != 1 {
		t.Fatalf("got %d events, want 1 on first sighting", h.dispatcher.count())
	}
}

func TestProcessFrameCooldownAcrossLabels(t *testing.T) {
	h := newLoopHarness(t, []string{"fire", "people"}, "fire", "people")
	h.tracker = NewPersistenceTracker(0)
	h.provider.detectors["fire"].set(Detection{Label: "fire", Confidence: 0.95})
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	// Both labels confirm on the same frame; only one passes the gate
	h.frame()
	if got := h.dispatcher.count(); got != 1 {
		t.Fatalf("got %d events on first frame, want 1", got)
	}
	if got := h.controller.Stats().EventsThrottled; got != 1 {
		t.Errorf("EventsThrottled = %d, want 1", got)
	}

	h.clock.Advance(time.Second)
	h.frame()
	if got := h.dispatcher.count(); got != 1 {
		t.Fatalf("got %d events 1s later, want 1", got)
	}
	if got := h.controller.Stats().EventsThrottled; got != 3 {
		t.Errorf("EventsThrottled = %d, want 3", got)
	}

	h.clock.Advance(1500 * time.Millisecond)
	h.frame()
	events := h.dispatcher.all()
	if len(events) != 2 {
		t.Fatalf("got %d events after cooldown, want 2", len(events))
	}
	if gap := events[1].event.Timestamp.Sub(events[0].event.Timestamp); gap <= DefaultControllerConfig().Cooldown {
		t.Errorf("events %v apart, want more than the cooldown", gap)
	}
	if got := h.controller.Stats().EventsAccepted; got != 2 {
		t.Errorf("EventsAccepted = %d, want 2", got)
	}
}

func TestProcessFrameModelTimeoutCoversLoad(t *testing.T) {
	h := newLoopHarness(t, []string{"fire", "people"}, "fire", "people")
	h.controller.config.ModelTimeout = 50 * time.Millisecond
	h.provider.loading["fire"] = true
	h.provider.detectors["people"].set(Detection{Label: "person", Confidence: 0.9})

	done := make(chan struct{})
	go func() {
		h.frame()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("frame stalled on a model that never finishes loading")
	}

	if got := h.controller.Stats().ModelErrors; got != 1 {
		t.Errorf("ModelErrors = %d, want 1", got)
	}
	if !h.tracker.Tracking("person") {
		t.Error("other model was not run")
	}
}
