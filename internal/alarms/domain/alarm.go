package alarms

import (
	"encoding/json"
	"time"
)

const (
	StatusActive  = "active"
	StatusCleared = "cleared"
)

// Lifecycle message event types.
const (
	EventAlarmCreated         = "Alarm Created"
	EventAlarmUpdated         = "Alarm Updated"
	EventAlarmSeverityUpdated = "Alarm Severity Updated"
	EventAlarmCleared         = "Alarm Cleared"
)

// Alarm represents an alarm instance raised from a rule evaluation.
type Alarm struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         string          `json:"type"`
	RuleID       string          `json:"rule_id"`
	Originator   EntityID        `json:"originator"`
	Severity     Severity        `json:"severity"`
	Status       string          `json:"status"`
	Acknowledged bool            `json:"acknowledged"`
	Propagation  Propagation     `json:"propagation"`
	Details      json.RawMessage `json:"details,omitempty"`
	StartAt      time.Time       `json:"start_at"`
	EndAt        time.Time       `json:"end_at,omitempty"`
	AckedAt      time.Time       `json:"acked_at,omitempty"`
	ClearedAt    time.Time       `json:"cleared_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Active reports whether the alarm is not cleared.
func (a Alarm) Active() bool { return a.Status != StatusCleared }

// ActionKind is the net lifecycle decision for one rule and event.
type ActionKind string

const (
	ActionNone           ActionKind = "NONE"
	ActionCreate         ActionKind = "CREATE"
	ActionUpdateSeverity ActionKind = "UPDATE_SEVERITY"
	ActionClear          ActionKind = "CLEAR"
)

// Action is a lifecycle decision with its target severity.
type Action struct {
	Kind     ActionKind `json:"kind"`
	Severity Severity   `json:"severity,omitempty"`
}

// None is the empty decision.
var None = Action{Kind: ActionNone}
