// Package messaging forwards anomaly summaries to external brokers.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"securo/internal/pipeline"
)

// Publisher sends one anomaly summary to a broker
type Publisher interface {
	Name() string
	Publish(ctx context.Context, summary *pipeline.AnomalySummary) error
	Close() error
}

// Encode is the wire form shared by every broker
func Encode(summary *pipeline.AnomalySummary) ([]byte, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal anomaly %s: %w", summary.ID, err)
	}
	return payload, nil
}

// Run publishes summaries from events until ctx is cancelled or the channel closes.
// Subscribe the channel with EventBus.SubscribeChannel so a slow broker never
// holds up the dispatcher.
func Run(ctx context.Context, events <-chan *pipeline.AnomalySummary, p Publisher, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	log.Printf("[Messaging] %s publisher started", p.Name())

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Messaging] %s publisher stopped", p.Name())
			return
		case summary, ok := <-events:
			if !ok {
				log.Printf("[Messaging] %s event channel closed", p.Name())
				return
			}
			pubCtx, cancel := context.WithTimeout(ctx, timeout)
			if err := p.Publish(pubCtx, summary); err != nil {
				log.Printf("[Messaging] %s failed to publish anomaly %s: %v", p.Name(), summary.ID, err)
			}
			cancel()
		}
	}
}
