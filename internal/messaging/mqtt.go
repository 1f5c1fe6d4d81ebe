package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"securo/internal/pipeline"
)

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // e.g., "securo/anomalies/{camera}"
}

// MQTTPublisher publishes anomaly summaries at QoS 1
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(config MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[Messaging] MQTT connection established to %s", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[Messaging] MQTT connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewMQTTPublisherWithClient(client, config.Topic), nil
}

// NewMQTTPublisherWithClient wraps a connected client
func NewMQTTPublisherWithClient(client mqtt.Client, topic string) *MQTTPublisher {
	if topic == "" {
		topic = "securo/anomalies/{camera}"
	}
	return &MQTTPublisher{client: client, topic: topic}
}

// Name implements Publisher
func (m *MQTTPublisher) Name() string { return "mqtt" }

// Publish sends the summary to the camera's topic
func (m *MQTTPublisher) Publish(ctx context.Context, summary *pipeline.AnomalySummary) error {
	payload, err := Encode(summary)
	if err != nil {
		return err
	}

	topic := formatTopic(m.topic, summary.CameraID)
	token := m.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (m *MQTTPublisher) Close() error {
	m.client.Disconnect(250)
	return nil
}

// formatTopic replaces {camera} with the camera ID
func formatTopic(pattern, cameraID string) string {
	return strings.ReplaceAll(pattern, "{camera}", cameraID)
}

var _ Publisher = (*MQTTPublisher)(nil)
