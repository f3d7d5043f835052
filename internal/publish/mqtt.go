// Package publish fans stored samples out to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/sample"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Options configures the MQTT publisher
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
}

// Payload is the JSON document published for each sample
type Payload struct {
	DeviceID   string                 `json:"device_id"`
	DeviceName string                 `json:"device_name,omitempty"`
	Sample     sample.BiometricSample `json:"sample"`
}

// MQTTPublisher publishes samples to <prefix>/<device-id>/samples.
// The broker connection is opened on first use and reused.
type MQTTPublisher struct {
	opts   Options
	logger *logrus.Logger

	// newClient is swapped in tests
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTTPublisher creates a publisher. An empty client id gets a random one.
func NewMQTTPublisher(opts Options, logger *logrus.Logger) *MQTTPublisher {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ClientID == "" {
		opts.ClientID = "ringsync-" + uuid.NewString()
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "ringsync"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &MQTTPublisher{
		opts:      opts,
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

// Topic returns the topic samples of a peripheral are published to
func (p *MQTTPublisher) Topic(peripheralID string) string {
	id := strings.NewReplacer("/", "_", "+", "_", "#", "_", ":", "").Replace(strings.ToLower(peripheralID))
	return fmt.Sprintf("%s/%s/samples", strings.TrimSuffix(p.opts.TopicPrefix, "/"), id)
}

// Publish sends s as JSON and waits for the broker acknowledgement or ctx
func (p *MQTTPublisher) Publish(ctx context.Context, peripheral device.DiscoveredDevice, s sample.BiometricSample) error {
	body, err := json.Marshal(Payload{
		DeviceID:   peripheral.ID,
		DeviceName: peripheral.Name,
		Sample:     s.Normalized(),
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	client, err := p.connect(ctx)
	if err != nil {
		return err
	}

	topic := p.Topic(peripheral.ID)
	token := client.Publish(topic, p.opts.QoS, p.opts.Retained, body)
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":  topic,
		"device": peripheral.DisplayName(),
		"bytes":  len(body),
	}).Debug("Sample published")
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(250)
		p.client = nil
	}
}

func (p *MQTTPublisher) connect(ctx context.Context) (mqtt.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnectionOpen() {
		return p.client, nil
	}

	o := mqtt.NewClientOptions()
	o.AddBroker(p.opts.Broker)
	o.SetClientID(p.opts.ClientID)
	if p.opts.Username != "" {
		o.SetUsername(p.opts.Username)
	}
	if p.opts.Password != "" {
		o.SetPassword(p.opts.Password)
	}
	o.SetAutoReconnect(true)
	o.SetCleanSession(true)
	o.SetConnectTimeout(p.opts.ConnectTimeout)

	client := p.newClient(o)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", p.opts.Broker, err)
	}

	p.logger.WithFields(logrus.Fields{
		"broker":    p.opts.Broker,
		"client_id": p.opts.ClientID,
	}).Info("Connected to MQTT broker")
	p.client = client
	return client, nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrPublishTimeout, ctx.Err())
	}
}
