package interfaces

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

// ErrBadEvent marks an inbound message that cannot be decoded.
var ErrBadEvent = errors.New("ingest: bad event")

// Message is the inbound wire format shared by the HTTP and MQTT entry points.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenantId"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	ProfileID  string          `json:"profileId"`
	TS         json.RawMessage `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

type telemetryGroup struct {
	TS     json.RawMessage `json:"ts"`
	Values map[string]any  `json:"values"`
}

type deletedKeys struct {
	Keys []string `json:"keys"`
}

type assignment struct {
	CustomerID string `json:"customerId"`
}

// Decoded is a decoded inbound message. Customer is set for assignment events.
type Decoded struct {
	Event    alarmapp.Event
	Customer alarms.EntityID
}

// Decode parses one inbound message. now stamps messages without a timestamp.
func Decode(data []byte, now time.Time) (Decoded, error) {
	var msg Message
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	return msg.Decode(now)
}

// Decode converts the message into an engine event.
func (m Message) Decode(now time.Time) (Decoded, error) {
	kind := alarmapp.EventKind(strings.ToUpper(strings.TrimSpace(m.Type)))
	if !kind.Valid() {
		return Decoded{}, fmt.Errorf("%w: unsupported type %q", ErrBadEvent, m.Type)
	}
	ts, err := parseTimestamp(m.TS, now)
	if err != nil {
		return Decoded{}, err
	}
	out := Decoded{Event: alarmapp.Event{
		ID:        m.ID,
		Kind:      kind,
		TenantID:  m.TenantID,
		Entity:    alarms.EntityID{Type: alarms.EntityType(strings.ToUpper(m.EntityType)), ID: m.EntityID},
		ProfileID: m.ProfileID,
		TS:        ts,
	}}

	switch kind {
	case alarmapp.EventTelemetry:
		groups, err := decodeTelemetry(m.Data, ts)
		if err != nil {
			return Decoded{}, err
		}
		out.Event.Telemetry = groups
	case alarmapp.EventAttributes:
		values, err := decodeValues(m.Data)
		if err != nil {
			return Decoded{}, err
		}
		out.Event.Attributes = values
	case alarmapp.EventAttributesDeleted:
		keys, err := decodeDeleted(m.Data)
		if err != nil {
			return Decoded{}, err
		}
		out.Event.DeletedKeys = keys
	case alarmapp.EventAlarmAck, alarmapp.EventAlarmClear, alarmapp.EventAlarmDelete:
		var alarm alarms.Alarm
		if err := json.Unmarshal(m.Data, &alarm); err != nil || alarm.ID == "" {
			return Decoded{}, fmt.Errorf("%w: alarm payload", ErrBadEvent)
		}
		out.Event.Alarm = &alarm
		if out.Event.Entity.IsZero() {
			out.Event.Entity = alarm.Originator
		}
		if out.Event.TenantID == "" {
			out.Event.TenantID = alarm.TenantID
		}
		return out, nil
	case alarmapp.EventEntityAssigned, alarmapp.EventEntityUnassigned:
		var payload assignment
		if len(m.Data) > 0 {
			if err := json.Unmarshal(m.Data, &payload); err != nil {
				return Decoded{}, fmt.Errorf("%w: assignment payload", ErrBadEvent)
			}
		}
		if kind == alarmapp.EventEntityAssigned {
			if payload.CustomerID == "" {
				return Decoded{}, fmt.Errorf("%w: customerId required", ErrBadEvent)
			}
			out.Customer = alarms.EntityID{Type: alarms.EntityCustomer, ID: payload.CustomerID}
		}
	}

	if m.TenantID == "" {
		return Decoded{}, fmt.Errorf("%w: tenantId required", ErrBadEvent)
	}
	if err := out.Event.Entity.Validate(); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	return out, nil
}

// decodeTelemetry accepts a flat key/value object, a {ts, values} object or
// an array of {ts, values} objects.
func decodeTelemetry(data json.RawMessage, fallback time.Time) ([]alarmapp.TelemetryGroup, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty telemetry", ErrBadEvent)
	}
	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := unmarshalNumbers(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: telemetry array", ErrBadEvent)
		}
	} else {
		raw = []json.RawMessage{trimmed}
	}
	groups := make([]alarmapp.TelemetryGroup, 0, len(raw))
	for _, item := range raw {
		var probe map[string]json.RawMessage
		if err := unmarshalNumbers(item, &probe); err != nil {
			return nil, fmt.Errorf("%w: telemetry entry", ErrBadEvent)
		}
		_, hasValues := probe["values"]
		if !hasValues {
			values, err := decodeValues(item)
			if err != nil {
				return nil, err
			}
			groups = append(groups, alarmapp.TelemetryGroup{TS: fallback, Values: values})
			continue
		}
		var group telemetryGroup
		if err := unmarshalNumbers(item, &group); err != nil {
			return nil, fmt.Errorf("%w: telemetry entry", ErrBadEvent)
		}
		ts, err := parseTimestamp(group.TS, fallback)
		if err != nil {
			return nil, err
		}
		values := make(map[string]alarms.Value, len(group.Values))
		for key, v := range group.Values {
			if parsed, ok := alarms.ParseScalar(v); ok {
				values[key] = parsed
			}
		}
		groups = append(groups, alarmapp.TelemetryGroup{TS: ts, Values: values})
	}
	return groups, nil
}

func decodeValues(data json.RawMessage) (map[string]alarms.Value, error) {
	var raw map[string]any
	if err := unmarshalNumbers(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: values object", ErrBadEvent)
	}
	values := make(map[string]alarms.Value, len(raw))
	for key, v := range raw {
		if parsed, ok := alarms.ParseScalar(v); ok {
			values[key] = parsed
		}
	}
	return values, nil
}

func decodeDeleted(data json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	var keys []string
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return nil, fmt.Errorf("%w: deleted keys", ErrBadEvent)
		}
	} else {
		var payload deletedKeys
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("%w: deleted keys", ErrBadEvent)
		}
		keys = payload.Keys
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no deleted keys", ErrBadEvent)
	}
	sort.Strings(keys)
	return keys, nil
}

func unmarshalNumbers(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// parseTimestamp accepts epoch seconds, epoch milliseconds or RFC3339.
func parseTimestamp(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	trimmed := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if trimmed == "" || trimmed == "null" {
		return fallback.UTC(), nil
	}
	if value, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if value > 1e12 {
			return time.UnixMilli(value).UTC(), nil
		}
		return time.Unix(value, 0).UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: invalid ts %q", ErrBadEvent, trimmed)
}
