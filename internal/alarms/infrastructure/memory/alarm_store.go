package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

type activeKey struct {
	originator alarms.EntityID
	alarmType  string
}

// AlarmStore keeps alarms in memory.
type AlarmStore struct {
	mu     sync.Mutex
	byID   map[string]*alarms.Alarm
	active map[activeKey]string
}

// NewAlarmStore constructs an empty store.
func NewAlarmStore() *AlarmStore {
	return &AlarmStore{
		byID:   make(map[string]*alarms.Alarm),
		active: make(map[activeKey]string),
	}
}

// CreateOrUpdateActive creates the active alarm or updates its severity and details.
func (s *AlarmStore) CreateOrUpdateActive(ctx context.Context, req application.AlarmRequest) (application.AlarmResult, error) {
	if err := ctx.Err(); err != nil {
		return application.AlarmResult{}, err
	}
	at := req.At.UTC()
	key := activeKey{originator: req.Originator, alarmType: req.Rule.Type()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[key]; ok {
		alarm := s.byID[id]
		result := application.AlarmResult{SeverityChanged: alarm.Severity != req.Severity}
		alarm.Severity = req.Severity
		if len(req.Details) > 0 {
			alarm.Details = append(json.RawMessage(nil), req.Details...)
		}
		alarm.EndAt = at
		alarm.UpdatedAt = at
		result.Alarm = *alarm
		return result, nil
	}
	alarm := &alarms.Alarm{
		ID:          uuid.NewString(),
		TenantID:    req.TenantID,
		Type:        req.Rule.Type(),
		RuleID:      req.Rule.ID,
		Originator:  req.Originator,
		Severity:    req.Severity,
		Status:      alarms.StatusActive,
		Propagation: req.Rule.Propagation,
		Details:     append(json.RawMessage(nil), req.Details...),
		StartAt:     at,
		EndAt:       at,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
	s.byID[alarm.ID] = alarm
	s.active[key] = alarm.ID
	return application.AlarmResult{Alarm: *alarm, Created: true}, nil
}

// ClearActive clears an active alarm. It returns nil when the alarm is unknown or already cleared.
func (s *AlarmStore) ClearActive(ctx context.Context, alarmID string, at time.Time, details json.RawMessage) (*alarms.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.byID[alarmID]
	if !ok || !alarm.Active() {
		return nil, nil
	}
	at = at.UTC()
	alarm.Status = alarms.StatusCleared
	alarm.ClearedAt = at
	alarm.EndAt = at
	alarm.UpdatedAt = at
	if len(details) > 0 {
		alarm.Details = append(json.RawMessage(nil), details...)
	}
	delete(s.active, activeKey{originator: alarm.Originator, alarmType: alarm.Type})
	out := *alarm
	return &out, nil
}

// FindActiveByOriginatorAndType returns the active alarm or nil.
func (s *AlarmStore) FindActiveByOriginatorAndType(ctx context.Context, originator alarms.EntityID, alarmType string) (*alarms.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[activeKey{originator: originator, alarmType: alarmType}]
	if !ok {
		return nil, nil
	}
	out := *s.byID[id]
	return &out, nil
}

// GetByID returns an alarm or nil.
func (s *AlarmStore) GetByID(ctx context.Context, id string) (*alarms.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	out := *alarm
	return &out, nil
}

// ListActive returns the active alarms of an originator ordered by start time.
func (s *AlarmStore) ListActive(ctx context.Context, tenantID string, originator alarms.EntityID) ([]alarms.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alarms.Alarm
	for key, id := range s.active {
		if key.originator != originator {
			continue
		}
		alarm := s.byID[id]
		if alarm.TenantID != tenantID {
			continue
		}
		out = append(out, *alarm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// Acknowledge marks an alarm acknowledged.
func (s *AlarmStore) Acknowledge(ctx context.Context, id string, at time.Time) (*alarms.Alarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	if !alarm.Acknowledged {
		alarm.Acknowledged = true
		alarm.AckedAt = at.UTC()
		alarm.UpdatedAt = at.UTC()
	}
	out := *alarm
	return &out, nil
}
