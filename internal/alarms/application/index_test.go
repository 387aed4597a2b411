package application

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "alarm-engine/internal/alarms/domain"
)

func TestBuildFilterIndex(t *testing.T) {
	pumps := escalationRule()
	pumps.ID = "pumps"
	pumps.Sources = []alarms.SourceFilter{{EntityType: alarms.EntityDevice, ProfileIDs: []string{"pump"}}}

	wide := escalationRule()
	wide.ID = "any"
	wide.Sources = []alarms.SourceFilter{
		{EntityType: alarms.EntityDevice},
		{EntityType: alarms.EntityDevice, EntityIDs: []string{"dev-9"}},
		{EntityType: alarms.EntityAsset},
	}

	disabled := escalationRule()
	disabled.ID = "disabled"
	disabled.Enabled = false

	broken := escalationRule()
	broken.ID = "broken"
	broken.CreateConditions = nil

	other := escalationRule()
	other.ID = "other"
	other.TenantID = "t2"

	idx, errs := BuildFilterIndex([]alarms.AlarmRule{pumps, wide, disabled, broken, other}, nil)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], alarms.ErrInvalidRule))
	assert.Equal(t, 3, idx.Len())

	ids := func(rules []*alarms.AlarmRule) []string {
		out := make([]string, 0, len(rules))
		for _, r := range rules {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, []string{"any", "pumps"}, ids(idx.Match("t1", device, "pump")))
	assert.Equal(t, []string{"any"}, ids(idx.Match("t1", device, "fan")))
	assert.Equal(t, []string{"any"}, ids(idx.Match("t1", alarms.EntityID{Type: alarms.EntityAsset, ID: "a1"}, "")))
	assert.Empty(t, idx.Match("t1", alarms.EntityID{Type: alarms.EntityCustomer, ID: "c1"}, ""))
	assert.Equal(t, []string{"other"}, ids(idx.Match("t2", device, "")))

	var none *FilterIndex
	assert.Zero(t, none.Len())
	assert.Nil(t, none.Match("t1", device, ""))
}

func TestEventSnapshotsOrderTelemetryGroups(t *testing.T) {
	received := at(10)
	ev := Event{
		Kind:   EventTelemetry,
		Entity: device,
		TS:     received,
		Telemetry: []TelemetryGroup{
			{TS: at(2), Values: map[string]alarms.Value{"temperature": alarms.Number(30)}},
			{TS: at(1), Values: map[string]alarms.Value{"temperature": alarms.Number(20)}},
			{Values: map[string]alarms.Value{"humidity": alarms.Number(70)}},
		},
	}
	snaps := ev.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, at(1), snaps[0].TS())
	assert.Equal(t, at(2), snaps[1].TS())
	assert.Equal(t, received, snaps[2].TS())

	entry, ok := snaps[0].Get(alarms.Key{Type: alarms.KeyTimeSeries, Name: "temperature"})
	require.True(t, ok)
	assert.Equal(t, 20.0, entry.Value.Num)
}

func TestEventSnapshotsAttributes(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	posted := Event{Kind: EventAttributes, TS: ts, Attributes: map[string]alarms.Value{"limit": alarms.Number(5)}}
	snaps := posted.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, []alarms.Key{{Type: alarms.KeyAttribute, Name: "limit"}}, snaps[0].Changed())

	deleted := Event{Kind: EventAttributesDeleted, TS: ts, DeletedKeys: []string{"limit"}}
	snaps = deleted.Snapshots()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Deleted(alarms.Key{Type: alarms.KeyAttribute, Name: "limit"}))

	assert.Nil(t, Event{Kind: EventAlarmAck}.Snapshots())
}
