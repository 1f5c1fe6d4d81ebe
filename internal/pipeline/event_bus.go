package pipeline

import (
	"sync"
)

// AnomalyHandler receives anomaly summaries
type AnomalyHandler interface {
	// OnAnomaly is called once per dispatched anomaly
	OnAnomaly(summary *AnomalySummary)
}

// AnomalyHandlerFunc adapts a function to AnomalyHandler
type AnomalyHandlerFunc func(summary *AnomalySummary)

// OnAnomaly implements AnomalyHandler
func (f AnomalyHandlerFunc) OnAnomaly(summary *AnomalySummary) { f(summary) }

// EventBus provides pub/sub for anomaly summaries.
// Live listeners (WebSocket hub, message brokers, analytics) subscribe to it.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter string // Empty string means receive all cameras
	channel      chan *AnomalySummary
	handler      AnomalyHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for summaries from all cameras
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler AnomalyHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeCamera registers a handler for summaries from a specific camera
func (b *EventBus) SubscribeCamera(cameraID string, handler AnomalyHandler) func() {
	return b.add(&eventSubscription{cameraFilter: cameraID, handler: handler})
}

// SubscribeChannel returns a buffered channel that receives summaries.
// Summaries are dropped for a subscriber whose channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *AnomalySummary, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *AnomalySummary, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends a summary to all subscribers. Implements Broadcaster.
func (b *EventBus) Publish(summary *AnomalySummary) {
	if summary == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != "" && sub.cameraFilter != summary.CameraID {
			continue
		}

		// Handlers run on the dispatcher worker, in dispatch order.
		if sub.handler != nil {
			sub.handler.OnAnomaly(summary)
		} else if sub.channel != nil {
			select {
			case sub.channel <- summary:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

// Ensure EventBus implements Broadcaster
var _ Broadcaster = (*EventBus)(nil)
