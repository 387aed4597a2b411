package notify

import (
	"context"
	"errors"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

// MultiPublisher fans lifecycle messages out to several publishers.
type MultiPublisher struct {
	publishers []application.LifecyclePublisher
}

// NewMultiPublisher constructs a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(publishers ...application.LifecyclePublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// PushLifecycleMessage forwards the message to every publisher and joins their errors.
func (m *MultiPublisher) PushLifecycleMessage(ctx context.Context, tenantID string, target alarms.EntityID, msg application.LifecycleMessage, eventType string) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, p := range m.publishers {
		if err := p.PushLifecycleMessage(ctx, tenantID, target, msg, eventType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of publishers.
func (m *MultiPublisher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.publishers)
}
