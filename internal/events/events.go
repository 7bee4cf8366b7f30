// Package events publishes job lifecycle events over MQTT.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Event types
const (
	JobQueued    = "job.queued"
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
	ExportReady  = "export.ready"
	ExportFailed = "export.failed"
)

// Event is the payload published for every job transition
type Event struct {
	Type         string    `json:"type"`
	JobID        string    `json:"job_id"`
	Status       string    `json:"status,omitempty"`
	Seconds      int       `json:"seconds,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	SpeakingTime [2]int    `json:"speaking_time"`
	Swapped      bool      `json:"swapped,omitempty"`
	Artifact     string    `json:"artifact,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher delivers events somewhere
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// MQTTConfig holds MQTT client configuration
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // e.g. "podviz/jobs/{job_id}"
}

// MQTTPublisher publishes events to a per-job topic
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTPublisher{client: client, topic: cfg.Topic}, nil
}

// Publish sends ev with QoS 1, waiting until ctx is done for the ack
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := FormatTopic(p.topic, ev.JobID)
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}

	log.WithFields(log.Fields{"topic": topic, "type": ev.Type}).Debug("event published")
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// FormatTopic replaces the {job_id} placeholder
func FormatTopic(pattern, jobID string) string {
	return strings.ReplaceAll(pattern, "{job_id}", jobID)
}
