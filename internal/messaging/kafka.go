package messaging

import (
	"context"
	"fmt"
	"log"

	"github.com/IBM/sarama"

	"securo/internal/pipeline"
)

// KafkaPublisher writes anomaly summaries to a Kafka topic keyed by camera ID
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Name implements Publisher
func (k *KafkaPublisher) Name() string { return "kafka" }

// Publish sends one message. The producer is synchronous; ctx is not consulted.
func (k *KafkaPublisher) Publish(ctx context.Context, summary *pipeline.AnomalySummary) error {
	payload, err := Encode(summary)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(summary.CameraID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(summary.Event)},
		},
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka send failed: %w", err)
	}
	log.Printf("[Messaging] Sent anomaly %s to Kafka topic=%s partition=%d offset=%d", summary.ID, k.topic, partition, offset)
	return nil
}

// Close flushes and closes the producer
func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}

var _ Publisher = (*KafkaPublisher)(nil)
