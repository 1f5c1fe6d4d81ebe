package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// confirmedLabel is a label whose dwell time reached the persistence duration this frame
type confirmedLabel struct {
	detection Detection
	elapsedMs int64
}

// captureLoop reads, infers, tracks and publishes until stopped or the source fails
func (c *Controller) captureLoop(run *pipelineRun) {
	defer c.finishRun(run)
	defer close(run.done)
	defer func() {
		if r := recover(); r != nil {
			run.err = fmt.Errorf("capture loop panic: %v", r)
			log.Printf("[Pipeline] %v", run.err)
		}
	}()

	tracker := NewPersistenceTracker(c.config.Persistence)
	log.Printf("[Pipeline] Capture loop started for camera %s", run.camera.ID)

	for {
		if run.stopping() {
			log.Printf("[Pipeline] Capture loop for camera %s received stop signal", run.camera.ID)
			return
		}

		frame, err := run.handle.ReadFrame()
		if err != nil {
			if run.stopping() {
				return
			}
			if errors.Is(err, ErrEndOfStream) {
				run.err = err
			} else {
				run.err = fmt.Errorf("%w: %v", ErrFrameRead, err)
			}
			log.Printf("[Pipeline] Failed to read frame from camera %s: %v", run.camera.ID, err)
			return
		}

		c.processFrame(run, tracker, frame)

		if !run.sleep(c.config.FrameInterval) {
			return
		}
	}
}

// processFrame runs one iteration over an already captured frame
func (c *Controller) processFrame(run *pipelineRun, tracker *PersistenceTracker, frame *Frame) {
	now := c.clock.Now()
	if frame.CameraID == "" {
		frame.CameraID = run.camera.ID
	}

	var drawn []Detection
	seen := make(map[string]struct{})
	confirmed := make(map[string]*confirmedLabel)
	var order []string

	for _, modelID := range c.active.Snapshot() {
		detections, ok := c.inferModel(run.ctx, modelID, frame)
		if !ok {
			continue
		}

		pair := c.thresholds.Lookup(modelID)
		for _, det := range detections {
			if det.Model == "" {
				det.Model = modelID
			}
			switch pair.Classify(det.Confidence) {
			case Discarded:
				continue
			case DisplayOnly:
				drawn = append(drawn, det)
				continue
			}

			drawn = append(drawn, det)
			seen[det.Label] = struct{}{}

			elapsed, ok := tracker.Update(det.Label, now)
			if !ok {
				continue
			}
			prev, exists := confirmed[det.Label]
			if !exists {
				order = append(order, det.Label)
				confirmed[det.Label] = &confirmedLabel{detection: det, elapsedMs: elapsed.Milliseconds()}
			} else if det.Confidence > prev.detection.Confidence {
				prev.detection = det
			}
		}
	}

	tracker.Reconcile(seen)

	annotated := frame.Data
	if c.annotator != nil && len(drawn) > 0 {
		out, err := c.annotator.Annotate(frame.Data, drawn)
		if err != nil {
			log.Printf("[Pipeline] Annotation failed on frame %d: %v", frame.Seq, err)
		} else {
			annotated = out
		}
	}

	// A run that Stop has given up on must not touch shared state
	run.commitMu.Lock()
	defer run.commitMu.Unlock()
	if run.stopping() {
		log.Printf("[Pipeline] Discarding frame %d from stopped run on camera %s", frame.Seq, run.camera.ID)
		return
	}

	c.stats.framesProcessed.Add(1)
	c.stats.detections.Add(uint64(len(drawn)))
	c.stats.lastFrameTime.Store(now.Unix())

	for _, label := range order {
		conf := confirmed[label]
		if !c.gate.TryAccept(now) {
			c.stats.eventsThrottled.Add(1)
			continue
		}

		event := &AnomalyEvent{
			ID:         uuid.NewString(),
			Camera:     run.camera,
			Model:      conf.detection.Model,
			Label:      label,
			Confidence: conf.detection.Confidence,
			Timestamp:  now,
			FrameSeq:   frame.Seq,
		}
		c.stats.eventsAccepted.Add(1)
		log.Printf("[Pipeline] Anomaly confirmed: %s from %s (%.2f) after %dms on camera %s",
			label, event.Model, event.Confidence, conf.elapsedMs, run.camera.ID)

		if c.dispatcher != nil && !c.dispatcher.Dispatch(event, annotated) {
			log.Printf("[Pipeline] Event %s was not dispatched", event.ID)
		}
	}

	c.buffer.Publish(annotated)
}

// inferModel resolves and runs one model. Failures are logged and isolated to that model.
func (c *Controller) inferModel(ctx context.Context, modelID string, frame *Frame) (dets []Detection, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.stats.modelErrors.Add(1)
			log.Printf("[Pipeline] Model %s panicked: %v", modelID, r)
			dets, ok = nil, false
		}
	}()

	// The deadline covers a first-use load as well as inference
	if c.config.ModelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ModelTimeout)
		defer cancel()
	}

	detector, err := c.models.Get(ctx, modelID)
	if err != nil {
		c.stats.modelErrors.Add(1)
		log.Printf("[Pipeline] Model %s unavailable, skipping: %v", modelID, err)
		return nil, false
	}

	dets, err = detector.Infer(ctx, frame)
	if err != nil {
		c.stats.modelErrors.Add(1)
		log.Printf("[Pipeline] Inference failed for model %s: %v", modelID, err)
		return nil, false
	}
	return dets, true
}
