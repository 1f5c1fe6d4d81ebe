package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// Dispatcher accepts confirmed anomalies without blocking
type Dispatcher interface {
	Dispatch(event *AnomalyEvent, frame []byte) bool
}

// ControllerConfig holds the timing parameters of a pipeline run
type ControllerConfig struct {
	Persistence   time.Duration // Dwell time before a label is confirmed
	Cooldown      time.Duration // Minimum spacing between dispatched events
	FrameInterval time.Duration // Sleep between loop iterations
	StopTimeout   time.Duration // Bounded join on Stop
	ModelTimeout  time.Duration // Deadline for one model on one frame, zero for none
}

// DefaultControllerConfig returns the stock timings
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Persistence:   5 * time.Second,
		Cooldown:      2 * time.Second,
		FrameInterval: 30 * time.Millisecond,
		StopTimeout:   2 * time.Second,
	}
}

// ControllerDeps are the collaborators of a Controller.
// Annotator and Clock are optional.
type ControllerDeps struct {
	Source     FrameSource
	Models     ModelProvider
	Thresholds *DetectionThresholds
	Annotator  Annotator
	Dispatcher Dispatcher
	Buffer     *FrameBuffer
	Clock      Clock
}

// Controller owns the lifecycle of the single capture pipeline.
// At most one run is active at any time; Start on a running controller restarts it.
type Controller struct {
	source     FrameSource
	models     ModelProvider
	thresholds *DetectionThresholds
	annotator  Annotator
	dispatcher Dispatcher
	buffer     *FrameBuffer
	clock      Clock
	config     ControllerConfig

	active *ActiveModelSet
	gate   *AlertCooldownGate

	// lifecycleMu serialises Start and Stop
	lifecycleMu sync.Mutex
	run         *pipelineRun

	stateMu sync.RWMutex
	state   PipelineState
	camera  *CameraDescriptor

	stats loopCounters
}

type loopCounters struct {
	framesProcessed atomic.Uint64
	detections      atomic.Uint64
	eventsAccepted  atomic.Uint64
	eventsThrottled atomic.Uint64
	modelErrors     atomic.Uint64
	lastFrameTime   atomic.Int64
}

// pipelineRun is one Start..Stop cycle
type pipelineRun struct {
	camera  CameraDescriptor
	handle  FrameHandle
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	done    chan struct{}
	release sync.Once
	err     error

	// commitMu covers the publish and dispatch step of a frame
	commitMu sync.Mutex
}

func (r *pipelineRun) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits d or until stop; returns false when stopped
func (r *pipelineRun) sleep(d time.Duration) bool {
	if d <= 0 {
		return !r.stopping()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-t.C:
		return true
	}
}

func (r *pipelineRun) releaseSource() {
	r.release.Do(func() {
		r.cancel()
		if err := r.handle.Release(); err != nil {
			log.Printf("[Pipeline] Error releasing camera %s: %v", r.camera.ID, err)
		}
	})
}

// NewController creates a stopped controller with initialModels enabled
func NewController(deps ControllerDeps, config ControllerConfig, initialModels []string) *Controller {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock
	}
	buffer := deps.Buffer
	if buffer == nil {
		buffer = NewFrameBuffer()
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 2 * time.Second
	}

	return &Controller{
		source:     deps.Source,
		models:     deps.Models,
		thresholds: deps.Thresholds,
		annotator:  deps.Annotator,
		dispatcher: deps.Dispatcher,
		buffer:     buffer,
		clock:      clock,
		config:     config,
		active:     NewActiveModelSet(initialModels...),
		gate:       NewAlertCooldownGate(config.Cooldown),
		state:      StateStopped,
	}
}

// Start opens camera and launches the capture loop. A running pipeline is
// stopped first. A nil models slice keeps the current ActiveModelSet.
// Returns once the loop goroutine has been launched.
func (c *Controller) Start(ctx context.Context, camera CameraDescriptor, models []string) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	// A rejected request leaves the running pipeline alone
	if models != nil {
		if err := c.validateModels(models); err != nil {
			return err
		}
	}

	if c.run != nil {
		log.Printf("[Pipeline] Pipeline already running on camera %s, restarting", c.run.camera.ID)
		c.stopLocked()
	}

	if models != nil {
		c.active.Replace(models)
	}

	c.setState(StateStarting, nil)
	log.Printf("[Pipeline] Starting camera %s (%s, %s)", camera.Name, camera.Location, camera.Source)

	handle, err := c.source.Open(ctx, camera)
	if err != nil {
		c.setState(StateStopped, nil)
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		log.Printf("[Pipeline] Unable to open camera %s: %v", camera.ID, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &pipelineRun{
		camera: camera,
		handle: handle,
		ctx:    runCtx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.run = run
	cam := camera
	c.setState(StateRunning, &cam)

	go c.captureLoop(run)

	log.Printf("[Pipeline] Capture loop launched for camera %s (models: %v)", camera.ID, c.active.Snapshot())
	return nil
}

// Stop halts the running pipeline. It is a no-op when already stopped.
// The loop is joined for at most StopTimeout, then the source is released regardless.
func (c *Controller) Stop() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	run := c.run
	if run == nil {
		log.Printf("[Pipeline] Pipeline already stopped")
		return
	}

	c.setState(StateStopping, &run.camera)
	close(run.stopCh)
	run.cancel()

	timer := time.NewTimer(c.config.StopTimeout)
	select {
	case <-run.done:
		timer.Stop()
	case <-timer.C:
		log.Printf("[Pipeline] Capture loop for camera %s did not exit within %v, releasing source", run.camera.ID, c.config.StopTimeout)
	}
	// Wait out a commit that began before stopCh closed; later ones see stopping()
	run.commitMu.Lock()
	run.commitMu.Unlock()

	run.releaseSource()
	c.run = nil
	c.setState(StateStopped, nil)
	log.Printf("[Pipeline] Pipeline stopped for camera %s", run.camera.ID)
}

// finishRun handles a loop that exited on its own (read failure).
// The loop closes run.done before calling this, so a concurrent Stop never waits on it.
func (c *Controller) finishRun(run *pipelineRun) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.run != run {
		return
	}
	run.releaseSource()
	c.run = nil
	c.setState(StateStopped, nil)
	log.Printf("[Pipeline] Pipeline for camera %s stopped after loop exit: %v", run.camera.ID, run.err)
}

// Status returns the state, the active camera and the enabled models
func (c *Controller) Status() Status {
	c.stateMu.RLock()
	state := c.state
	var cam *CameraDescriptor
	if c.camera != nil {
		copied := *c.camera
		cam = &copied
	}
	c.stateMu.RUnlock()

	return Status{
		State:        state,
		Camera:       cam,
		ActiveModels: c.active.Snapshot(),
		HasFrame:     c.buffer.HasFrame(),
	}
}

// Stats returns loop counters
func (c *Controller) Stats() LoopStats {
	return LoopStats{
		FramesProcessed: c.stats.framesProcessed.Load(),
		Detections:      c.stats.detections.Load(),
		EventsAccepted:  c.stats.eventsAccepted.Load(),
		EventsThrottled: c.stats.eventsThrottled.Load(),
		ModelErrors:     c.stats.modelErrors.Load(),
		LastFrameTime:   c.stats.lastFrameTime.Load(),
	}
}

// ActivateModel enables a model; visible to the loop from the next frame
func (c *Controller) ActivateModel(id string) error {
	if !c.knownModel(id) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if c.active.Add(id) {
		log.Printf("[Pipeline] Activated model: %s", id)
	}
	return nil
}

// DeactivateModel disables a model; visible to the loop from the next frame
func (c *Controller) DeactivateModel(id string) error {
	if !c.knownModel(id) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if c.active.Remove(id) {
		log.Printf("[Pipeline] Deactivated model: %s", id)
	}
	return nil
}

// ActivateAll enables every model the provider knows
func (c *Controller) ActivateAll() {
	c.active.Replace(c.models.Models())
	log.Printf("[Pipeline] All models activated: %v", c.active.Snapshot())
}

// DeactivateAll disables every model
func (c *Controller) DeactivateAll() {
	c.active.Replace(nil)
	log.Printf("[Pipeline] All models deactivated")
}

// ModelStatus maps every known model to whether it is enabled
func (c *Controller) ModelStatus() map[string]bool {
	return lo.SliceToMap(c.models.Models(), func(id string) (string, bool) {
		return id, c.active.Contains(id)
	})
}

// ActiveModels returns the enabled models
func (c *Controller) ActiveModels() []string {
	return c.active.Snapshot()
}

// KnownModels returns every model the provider knows
func (c *Controller) KnownModels() []string {
	return c.models.Models()
}

// LatestFrame returns the most recent annotated JPEG, or nil
func (c *Controller) LatestFrame() []byte {
	return c.buffer.Latest()
}

// Buffer exposes the frame buffer for streaming consumers
func (c *Controller) Buffer() *FrameBuffer {
	return c.buffer
}

// Thresholds returns the threshold table used by the loop
func (c *Controller) Thresholds() *DetectionThresholds {
	return c.thresholds
}

// Models returns the model provider
func (c *Controller) Models() ModelProvider {
	return c.models
}

func (c *Controller) knownModel(id string) bool {
	return lo.Contains(c.models.Models(), id)
}

func (c *Controller) validateModels(ids []string) error {
	known := c.models.Models()
	for _, id := range ids {
		if !lo.Contains(known, id) {
			return fmt.Errorf("%w: %s", ErrUnknownModel, id)
		}
	}
	return nil
}

func (c *Controller) setState(state PipelineState, camera *CameraDescriptor) {
	c.stateMu.Lock()
	c.state = state
	c.camera = camera
	c.stateMu.Unlock()
}
