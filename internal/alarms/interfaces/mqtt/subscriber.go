package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	alarmapp "alarm-engine/internal/alarms/application"
)

const subscribeTimeout = 10 * time.Second

// Client is the subset of paho.Client used by the subscriber.
type Client interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

// Ingester accepts one raw inbound message.
type Ingester interface {
	Ingest(ctx context.Context, data []byte) (alarmapp.Event, error)
}

// Subscriber feeds inbound MQTT messages to the ingester.
type Subscriber struct {
	client   Client
	ingester Ingester
	topic    string
	qos      byte
	logger   *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewSubscriber constructs a subscriber for topic. Wildcards are allowed.
func NewSubscriber(client Client, ingester Ingester, topic string, qos byte, logger *zap.Logger) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("mqtt subscriber: nil client")
	}
	if ingester == nil {
		return nil, errors.New("mqtt subscriber: nil ingester")
	}
	if topic == "" {
		return nil, errors.New("mqtt subscriber: empty topic")
	}
	if qos > 2 {
		return nil, fmt.Errorf("mqtt subscriber: invalid qos %d", qos)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{client: client, ingester: ingester, topic: topic, qos: qos, logger: logger}, nil
}

// Start subscribes and blocks until the broker acknowledges the subscription.
// Messages are ingested with ctx until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	token := s.client.Subscribe(s.topic, s.qos, s.handle)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("mqtt subscribed", zap.String("topic", s.topic), zap.Uint8("qos", s.qos))
	return nil
}

// Stop removes the subscription.
func (s *Subscriber) Stop(ctx context.Context) error {
	return waitToken(ctx, s.client.Unsubscribe(s.topic))
}

func (s *Subscriber) handle(_ paho.Client, msg paho.Message) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	ev, err := s.ingester.Ingest(ctx, msg.Payload())
	if err != nil {
		s.logger.Warn("mqtt message rejected",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	s.logger.Debug("mqtt message queued",
		zap.String("topic", msg.Topic()),
		zap.String("event_id", ev.ID))
}

func waitToken(ctx context.Context, token paho.Token) error {
	timer := time.NewTimer(subscribeTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out")
	}
}
