package application

import (
	"sort"
	"time"

	alarms "alarm-engine/internal/alarms/domain"
)

// EventKind names an inbound message type.
type EventKind string

const (
	EventTelemetry         EventKind = "POST_TELEMETRY_REQUEST"
	EventAttributes        EventKind = "POST_ATTRIBUTES_REQUEST"
	EventAttributesDeleted EventKind = "ATTRIBUTES_DELETED"
	EventAlarmClear        EventKind = "ALARM_CLEAR"
	EventAlarmDelete       EventKind = "ALARM_DELETE"
	EventAlarmAck          EventKind = "ALARM_ACK"
	EventEntityAssigned    EventKind = "ENTITY_ASSIGNED"
	EventEntityUnassigned  EventKind = "ENTITY_UNASSIGNED"
)

// Valid returns true when the kind is supported.
func (k EventKind) Valid() bool {
	switch k {
	case EventTelemetry, EventAttributes, EventAttributesDeleted, EventAlarmClear,
		EventAlarmDelete, EventAlarmAck, EventEntityAssigned, EventEntityUnassigned:
		return true
	default:
		return false
	}
}

func (k EventKind) alarmNotification() bool {
	return k == EventAlarmClear || k == EventAlarmDelete || k == EventAlarmAck
}

// TelemetryGroup is a set of time-series values sharing one timestamp.
type TelemetryGroup struct {
	TS     time.Time
	Values map[string]alarms.Value
}

// Event is an inbound message concerning one entity.
type Event struct {
	ID        string
	Kind      EventKind
	TenantID  string
	Entity    alarms.EntityID
	ProfileID string
	TS        time.Time
	// Telemetry carries the time-series groups of a telemetry post.
	Telemetry []TelemetryGroup
	// Attributes carries an attribute post.
	Attributes map[string]alarms.Value
	// DeletedKeys carries an attributes-deleted notification.
	DeletedKeys []string
	// Alarm carries an alarm clear/delete/ack notification.
	Alarm *alarms.Alarm
}

// Snapshots converts the event into evaluation snapshots in timestamp order.
func (e Event) Snapshots() []alarms.Snapshot {
	switch e.Kind {
	case EventTelemetry:
		groups := make([]TelemetryGroup, 0, len(e.Telemetry))
		for _, g := range e.Telemetry {
			if g.TS.IsZero() {
				g.TS = e.TS
			}
			groups = append(groups, g)
		}
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].TS.Before(groups[j].TS) })
		out := make([]alarms.Snapshot, 0, len(groups))
		for _, g := range groups {
			entries := make(map[alarms.Key]alarms.Entry, len(g.Values))
			for name, v := range g.Values {
				entries[alarms.Key{Type: alarms.KeyTimeSeries, Name: name}] = alarms.Entry{Value: v, TS: g.TS}
			}
			out = append(out, alarms.NewSnapshot(g.TS, entries, nil))
		}
		return out
	case EventAttributes:
		entries := make(map[alarms.Key]alarms.Entry, len(e.Attributes))
		for name, v := range e.Attributes {
			entries[alarms.Key{Type: alarms.KeyAttribute, Name: name}] = alarms.Entry{Value: v, TS: e.TS}
		}
		return []alarms.Snapshot{alarms.NewSnapshot(e.TS, entries, nil)}
	case EventAttributesDeleted:
		deleted := make([]alarms.Key, 0, len(e.DeletedKeys))
		for _, name := range e.DeletedKeys {
			deleted = append(deleted, alarms.Key{Type: alarms.KeyAttribute, Name: name})
		}
		return []alarms.Snapshot{alarms.NewSnapshot(e.TS, nil, deleted)}
	default:
		return nil
	}
}
