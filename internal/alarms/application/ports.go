package application

import (
	"context"
	"encoding/json"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// AttributeStore reads the latest stored values of an entity.
type AttributeStore interface {
	GetLatest(ctx context.Context, entity alarms.EntityID, keyType alarms.KeyType, keys []string) (map[string]alarms.Entry, error)
}

// AttributeObserver is implemented by attribute stores that cache values and need
// to see the values carried by inbound events.
type AttributeObserver interface {
	Observe(ctx context.Context, entity alarms.EntityID, snapshot alarms.Snapshot)
}

// AlarmRequest asks the alarm store to create or update the active alarm.
type AlarmRequest struct {
	TenantID   string
	Rule       *alarms.AlarmRule
	Originator alarms.EntityID
	Severity   alarms.Severity
	Details    json.RawMessage
	At         time.Time
}

// AlarmResult is the authoritative outcome of CreateOrUpdateActive.
type AlarmResult struct {
	Alarm           alarms.Alarm
	Created         bool
	SeverityChanged bool
}

// AlarmStore persists alarm instances. CreateOrUpdateActive must be idempotent
// for the same originator, alarm type and severity.
type AlarmStore interface {
	CreateOrUpdateActive(ctx context.Context, req AlarmRequest) (AlarmResult, error)
	// ClearActive clears the alarm and returns it, or nil when it was not active.
	ClearActive(ctx context.Context, alarmID string, at time.Time, details json.RawMessage) (*alarms.Alarm, error)
	FindActiveByOriginatorAndType(ctx context.Context, originator alarms.EntityID, alarmType string) (*alarms.Alarm, error)
}

// AlarmQuery backs the alarm API.
type AlarmQuery interface {
	GetByID(ctx context.Context, id string) (*alarms.Alarm, error)
	ListActive(ctx context.Context, tenantID string, originator alarms.EntityID) ([]alarms.Alarm, error)
	Acknowledge(ctx context.Context, id string, at time.Time) (*alarms.Alarm, error)
}

// OwnershipResolver walks the entity ownership chain.
type OwnershipResolver interface {
	CustomerOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, bool, error)
	TenantOf(ctx context.Context, entity alarms.EntityID) (alarms.EntityID, error)
}

// RelationResolver finds related entities for RELATED alarm targets.
type RelationResolver interface {
	Related(ctx context.Context, from alarms.EntityID, relationType string) ([]alarms.EntityID, error)
}

// LifecyclePublisher delivers lifecycle messages downstream.
type LifecyclePublisher interface {
	PushLifecycleMessage(ctx context.Context, tenantID string, target alarms.EntityID, msg LifecycleMessage, eventType string) error
}

// RuleSource lists the rules the engine evaluates.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]alarms.AlarmRule, error)
}

// RuleStateStore persists condition states keyed by entity and rule.
type RuleStateStore interface {
	Load(ctx context.Context, entity alarms.EntityID, ruleID string) (map[string]alarms.ConditionState, error)
	Save(ctx context.Context, entity alarms.EntityID, ruleID string, states map[string]alarms.ConditionState) error
	Delete(ctx context.Context, entity alarms.EntityID, ruleID string) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// LifecycleMessage is the payload of an outbound lifecycle notification.
type LifecycleMessage struct {
	EventType  string              `json:"eventType"`
	TenantID   string              `json:"tenantId"`
	Target     alarms.EntityID     `json:"target"`
	Originator alarms.EntityID     `json:"originator"`
	RuleID     string              `json:"ruleId"`
	RuleName   string              `json:"ruleName"`
	Action     alarms.Action       `json:"action"`
	Alarm      alarms.Alarm        `json:"alarm"`
	Metadata   alarms.SpecMetadata `json:"metadata"`
	OccurredAt time.Time           `json:"occurredAt"`
}
