package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeDetector returns whatever detections are currently configured.
// With hold set, Infer blocks until hold is closed and ignores ctx.
type fakeDetector struct {
	name  string
	mu    sync.Mutex
	dets  []Detection
	err   error
	calls int
	hold  chan struct{}
}

func (d *fakeDetector) Name() string { return d.name }

func (d *fakeDetector) Infer(ctx context.Context, frame *Frame) ([]Detection, error) {
	d.mu.Lock()
	d.calls++
	hold := d.hold
	d.mu.Unlock()
	if hold != nil {
		<-hold
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]Detection, len(d.dets))
	copy(out, d.dets)
	return out, nil
}

func (d *fakeDetector) set(dets ...Detection) {
	d.mu.Lock()
	d.dets = dets
	d.mu.Unlock()
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeProvider serves fakeDetectors. Models in loading never finish
// loading and only return once ctx ends.
type fakeProvider struct {
	detectors map[string]*fakeDetector
	broken    map[string]bool
	loading   map[string]bool
}

func newFakeProvider(ids ...string) *fakeProvider {
	p := &fakeProvider{detectors: make(map[string]*fakeDetector), broken: make(map[string]bool), loading: make(map[string]bool)}
	for _, id := range ids {
		p.detectors[id] = &fakeDetector{name: id}
	}
	return p
}

func (p *fakeProvider) Get(ctx context.Context, id string) (Detector, error) {
	if p.broken[id] {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, id)
	}
	if p.loading[id] {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, id, ctx.Err())
	}
	d, ok := p.detectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, id)
	}
	return d, nil
}

func (p *fakeProvider) Models() []string {
	ids := make([]string, 0, len(p.detectors))
	for id := range p.detectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fakeHandle produces numbered frames until failAfter reads, or blocks when block is set
type fakeHandle struct {
	mu        sync.Mutex
	seq       uint64
	failAfter int
	block     bool
	released  bool
	releaseCh chan struct{}
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{failAfter: -1, releaseCh: make(chan struct{})}
}

func (h *fakeHandle) ReadFrame() (*Frame, error) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil, errors.New("handle released")
	}
	if h.block {
		h.mu.Unlock()
		<-h.releaseCh
		return nil, errors.New("handle released")
	}
	if h.failAfter >= 0 && int(h.seq) >= h.failAfter {
		h.mu.Unlock()
		return nil, errors.New("device disconnected")
	}
	h.seq++
	seq := h.seq
	h.mu.Unlock()
	return &Frame{Data: []byte{0xFF, 0xD8, byte(seq), 0xFF, 0xD9}, Seq: seq, Timestamp: time.Now()}, nil
}

func (h *fakeHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.released {
		h.released = true
		close(h.releaseCh)
	}
	return nil
}

func (h *fakeHandle) isReleased() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

type fakeSource struct {
	mu      sync.Mutex
	handles []*fakeHandle
	next    func() *fakeHandle
	err     error
}

func (s *fakeSource) Open(ctx context.Context, camera CameraDescriptor) (FrameHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := newFakeHandle()
	if s.next != nil {
		h = s.next()
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSource) opened() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fakeHandle, len(s.handles))
	copy(out, s.handles)
	return out
}

type dispatched struct {
	event *AnomalyEvent
	frame []byte
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) Dispatch(event *AnomalyEvent, frame []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{event: event, frame: frame})
	return true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *recordingDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatched, len(d.events))
	copy(out, d.events)
	return out
}

// markingAnnotator appends one byte per drawn detection
type markingAnnotator struct {
	mu   sync.Mutex
	seen [][]Detection
}

func (a *markingAnnotator) Annotate(data []byte, dets []Detection) ([]byte, error) {
	a.mu.Lock()
	a.seen = append(a.seen, dets)
	a.mu.Unlock()
	out := append([]byte{}, data...)
	for range dets {
		out = append(out, 'A')
	}
	return out, nil
}

func defaultTestThresholds() *DetectionThresholds {
	t, err := NewDetectionThresholds(
		map[string]float64{"default": 0.85, "shoplifting": 0.65},
		map[string]float64{"default": 0.80, "weapon": 0.40, "shoplifting": 0.60},
	)
	if err != nil {
		panic(err)
	}
	return t
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
