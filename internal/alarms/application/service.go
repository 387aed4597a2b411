package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/audit"
	"alarm-engine/internal/auth"
	"alarm-engine/internal/observability/metrics"
)

// EventSink accepts events for asynchronous evaluation.
type EventSink interface {
	Submit(ev Event) error
}

// Service handles operator actions on stored alarms.
type Service struct {
	query     AlarmQuery
	store     AlarmStore
	sink      EventSink
	publisher LifecyclePublisher
	audit     audit.Logger
	clock     Clock
	logger    *zap.Logger
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithServicePublisher assigns the lifecycle publisher for manual clears.
func WithServicePublisher(publisher LifecyclePublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithAuditLogger records operator actions.
func WithAuditLogger(logger audit.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithServiceLogger assigns a logger.
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an alarm service.
func NewService(query AlarmQuery, store AlarmStore, sink EventSink, opts ...ServiceOption) (*Service, error) {
	if query == nil || store == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if sink == nil {
		return nil, errors.New("alarms: nil event sink")
	}
	service := &Service{
		query:  query,
		store:  store,
		sink:   sink,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// AckAlarm acknowledges an alarm.
func (s *Service) AckAlarm(ctx context.Context, id string) (*alarms.Alarm, error) {
	alarm, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alarm.Active() || alarm.Acknowledged {
		return alarm, nil
	}
	acked, err := s.query.Acknowledge(ctx, alarm.ID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if acked == nil {
		return nil, alarms.ErrNotFound
	}
	s.submit(Event{Kind: EventAlarmAck, TenantID: acked.TenantID, Entity: acked.Originator, TS: acked.AckedAt, Alarm: acked})
	s.record(ctx, "alarm.ack", acked)
	return acked, nil
}

// ClearAlarm clears an alarm manually and notifies the owning coordinator.
func (s *Service) ClearAlarm(ctx context.Context, id string) (*alarms.Alarm, error) {
	alarm, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alarm.Active() {
		return alarm, nil
	}
	clearedAt := s.clock.Now().UTC()
	cleared, err := s.store.ClearActive(ctx, alarm.ID, clearedAt, alarm.Details)
	if err != nil {
		return nil, err
	}
	if cleared == nil {
		return alarm, nil
	}
	s.submit(Event{Kind: EventAlarmClear, TenantID: cleared.TenantID, Entity: cleared.Originator, TS: clearedAt, Alarm: cleared})
	s.notify(ctx, *cleared)
	s.record(ctx, "alarm.clear", cleared)
	return cleared, nil
}

// ListAlarms returns the active alarms of an originator. The caller's tenant
// takes precedence over tenantID.
func (s *Service) ListAlarms(ctx context.Context, tenantID string, originator alarms.EntityID) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if err := originator.Validate(); err != nil {
		return nil, err
	}
	if ctxTenant := auth.TenantIDFromContext(ctx); ctxTenant != "" {
		tenantID = ctxTenant
	}
	if tenantID == "" {
		return nil, errors.New("alarms: tenant id required")
	}
	return s.query.ListActive(ctx, tenantID, originator)
}

func (s *Service) load(ctx context.Context, id string) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if id == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	alarm, err := s.query.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	if err := auth.CheckTenant(ctx, alarm.TenantID); err != nil {
		return nil, err
	}
	return alarm, nil
}

func (s *Service) submit(ev Event) {
	if err := s.sink.Submit(ev); err != nil {
		s.logger.Warn("alarm notification not queued",
			zap.String("kind", string(ev.Kind)),
			zap.String("alarm_id", ev.Alarm.ID),
			zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, action string, alarm *alarms.Alarm) {
	if s.audit == nil {
		return
	}
	entry := audit.FromContext(ctx, audit.Entry{
		TenantID:     alarm.TenantID,
		Action:       action,
		ResourceType: "alarm",
		ResourceID:   alarm.ID,
		EntityID:     alarm.Originator.String(),
	})
	if err := s.audit.Log(ctx, entry); err != nil {
		s.logger.Warn("audit log failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, alarm alarms.Alarm) {
	metrics.IncLifecycleEvent(alarms.EventAlarmCleared)
	if s.publisher == nil {
		return
	}
	msg := LifecycleMessage{
		EventType:  alarms.EventAlarmCleared,
		TenantID:   alarm.TenantID,
		Target:     alarm.Originator,
		Originator: alarm.Originator,
		RuleID:     alarm.RuleID,
		Action:     alarms.Action{Kind: alarms.ActionClear},
		Alarm:      alarm,
		OccurredAt: alarm.ClearedAt,
	}
	if err := s.publisher.PushLifecycleMessage(ctx, alarm.TenantID, alarm.Originator, msg, alarms.EventAlarmCleared); err != nil {
		metrics.IncPublishFailure()
		s.logger.Warn("lifecycle publish failed", zap.String("alarm_id", alarm.ID), zap.Error(err))
	}
}
