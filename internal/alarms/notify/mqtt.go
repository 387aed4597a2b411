package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/eventing"
)

// MQTTClientConfig configures the broker connection.
type MQTTClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// NewMQTTClient connects to the broker. The client reconnects on its own
// after the first successful connection.
func NewMQTTClient(ctx context.Context, cfg MQTTClientConfig) (paho.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: empty broker")
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// MQTTPublishClient is the subset of paho.Client used for publishing.
type MQTTPublishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// MQTTPublisher publishes lifecycle messages wrapped in an envelope to
// <prefix>/<tenant>/<entityType>/<entityId>.
type MQTTPublisher struct {
	client      MQTTPublishClient
	topicPrefix string
	qos         byte
	timeout     time.Duration
}

// NewMQTTPublisher constructs a publisher.
func NewMQTTPublisher(client MQTTPublishClient, topicPrefix string, qos byte) (*MQTTPublisher, error) {
	if client == nil {
		return nil, errors.New("mqtt publisher: nil client")
	}
	if qos > 2 {
		return nil, fmt.Errorf("mqtt publisher: invalid qos %d", qos)
	}
	return &MQTTPublisher{
		client:      client,
		topicPrefix: strings.Trim(topicPrefix, "/"),
		qos:         qos,
		timeout:     5 * time.Second,
	}, nil
}

// Topic returns the topic a message for target is published to.
func (p *MQTTPublisher) Topic(tenantID string, target alarms.EntityID) string {
	parts := []string{tenantID, string(target.Type), target.ID}
	if p.topicPrefix != "" {
		parts = append([]string{p.topicPrefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// PushLifecycleMessage implements application.LifecyclePublisher.
func (p *MQTTPublisher) PushLifecycleMessage(ctx context.Context, tenantID string, target alarms.EntityID, msg application.LifecycleMessage, eventType string) error {
	meta := eventing.MetaFromContext(ctx, tenantID)
	meta.TenantID = tenantID
	meta.EventType = eventType
	meta.EntityID = target.String()
	meta.OccurredAt = msg.OccurredAt
	env, err := eventing.BuildEnvelope(msg, meta)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(tenantID, target), p.qos, false, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt publisher: publish timed out after %s", p.timeout)
	}
}
