package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DispatcherConfig configures the AlertDispatcher
type DispatcherConfig struct {
	QueueSize int           // Pending events before new ones are dropped
	Workers   int           // Background workers draining the queue
	OpTimeout time.Duration // Deadline for each sub-operation
}

// DispatchStats contains dispatcher counters
type DispatchStats struct {
	Enqueued        uint64 `json:"enqueued"`
	Dropped         uint64 `json:"dropped"`
	Completed       uint64 `json:"completed"`
	NotifyErrors    uint64 `json:"notify_errors"`
	PersistErrors   uint64 `json:"persist_errors"`
	BroadcastErrors uint64 `json:"broadcast_errors"`
}

type dispatchJob struct {
	event *AnomalyEvent
	frame []byte
}

// AlertDispatcher hands confirmed anomalies to the notification sink, the event
// store and the broadcaster on background workers. Dispatch never blocks the caller.
type AlertDispatcher struct {
	notifier    NotificationSink
	store       EventStore
	broadcaster Broadcaster
	config      DispatcherConfig

	queue   chan dispatchJob
	wg      sync.WaitGroup
	closed  atomic.Bool
	closeMu sync.RWMutex

	onError func(*DispatchError)

	enqueued        atomic.Uint64
	dropped         atomic.Uint64
	completed       atomic.Uint64
	notifyErrors    atomic.Uint64
	persistErrors   atomic.Uint64
	broadcastErrors atomic.Uint64
}

// NewAlertDispatcher creates a dispatcher and starts its workers.
// Any collaborator may be nil, in which case that sub-operation is skipped.
func NewAlertDispatcher(notifier NotificationSink, store EventStore, broadcaster Broadcaster, config DispatcherConfig) *AlertDispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 32
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 30 * time.Second
	}

	d := &AlertDispatcher{
		notifier:    notifier,
		store:       store,
		broadcaster: broadcaster,
		config:      config,
		queue:       make(chan dispatchJob, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	log.Printf("[Dispatcher] Started %d worker(s), queue size %d", config.Workers, config.QueueSize)
	return d
}

// OnError registers a hook invoked for every failed sub-operation
func (d *AlertDispatcher) OnError(fn func(*DispatchError)) {
	d.closeMu.Lock()
	d.onError = fn
	d.closeMu.Unlock()
}

// Dispatch enqueues an event and a private copy of its frame.
// Returns false when the event was dropped (queue full or dispatcher closed).
func (d *AlertDispatcher) Dispatch(event *AnomalyEvent, frame []byte) bool {
	if event == nil {
		return false
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed.Load() {
		d.dropped.Add(1)
		return false
	}

	evCopy := *event
	owned := make([]byte, len(frame))
	copy(owned, frame)

	select {
	case d.queue <- dispatchJob{event: &evCopy, frame: owned}:
		d.enqueued.Add(1)
		return true
	default:
		d.dropped.Add(1)
		log.Printf("[Dispatcher] Queue full, dropping event %s (%s)", event.ID, event.Label)
		return false
	}
}

// Close stops accepting events, drains the queue and waits for the workers
func (d *AlertDispatcher) Close() {
	d.closeMu.Lock()
	if d.closed.Swap(true) {
		d.closeMu.Unlock()
		return
	}
	close(d.queue)
	d.closeMu.Unlock()

	d.wg.Wait()
	log.Printf("[Dispatcher] Closed")
}

// Stats returns a snapshot of the counters
func (d *AlertDispatcher) Stats() DispatchStats {
	return DispatchStats{
		Enqueued:        d.enqueued.Load(),
		Dropped:         d.dropped.Load(),
		Completed:       d.completed.Load(),
		NotifyErrors:    d.notifyErrors.Load(),
		PersistErrors:   d.persistErrors.Load(),
		BroadcastErrors: d.broadcastErrors.Load(),
	}
}

func (d *AlertDispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.run(job)
		d.completed.Add(1)
	}
}

// run performs the three sub-operations. None of them can suppress another.
func (d *AlertDispatcher) run(job dispatchJob) {
	event := job.event

	if d.notifier != nil {
		err := d.withTimeout(func(ctx context.Context) error {
			return d.notifier.SendAnomaly(ctx, event, job.frame)
		})
		if err != nil {
			d.notifyErrors.Add(1)
			d.report(&DispatchError{Op: OpNotify, EventID: event.ID, Err: err})
		} else {
			log.Printf("[Dispatcher] Notification sent for %s (%s)", event.ID, event.Label)
		}
	}

	var location string
	if d.store != nil {
		err := d.withTimeout(func(ctx context.Context) error {
			var err error
			location, err = d.store.Persist(ctx, event, job.frame)
			return err
		})
		if err != nil {
			location = ""
			d.persistErrors.Add(1)
			d.report(&DispatchError{Op: OpPersist, EventID: event.ID, Err: err})
		} else {
			log.Printf("[Dispatcher] Event %s stored at %s", event.ID, location)
		}
	}

	if d.broadcaster != nil {
		if err := d.broadcast(event.Summary(location)); err != nil {
			d.broadcastErrors.Add(1)
			d.report(&DispatchError{Op: OpBroadcast, EventID: event.ID, Err: err})
		}
	}
}

func (d *AlertDispatcher) withTimeout(fn func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.OpTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (d *AlertDispatcher) broadcast(summary *AnomalySummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	d.broadcaster.Publish(summary)
	return nil
}

func (d *AlertDispatcher) report(err *DispatchError) {
	if errors.Is(err.Err, context.DeadlineExceeded) {
		log.Printf("[Dispatcher] %s timed out for event %s", err.Op, err.EventID)
	} else {
		log.Printf("[Dispatcher] %v", err)
	}

	d.closeMu.RLock()
	hook := d.onError
	d.closeMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}
