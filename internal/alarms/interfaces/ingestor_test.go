package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/alarms/infrastructure/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []alarmapp.Event
	err    error
}

func (s *recordingSink) Submit(ev alarmapp.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

var device = alarms.EntityID{Type: alarms.EntityDevice, ID: "dev-1"}

func TestDecodeTelemetryShapes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	flat, err := Decode([]byte(`{"type":"POST_TELEMETRY_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","ts":1700000000000,"data":{"temperature":42.5,"door":"open"}}`), now)
	require.NoError(t, err)
	require.Len(t, flat.Event.Telemetry, 1)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), flat.Event.Telemetry[0].TS)
	assert.Equal(t, alarms.Number(42.5), flat.Event.Telemetry[0].Values["temperature"])
	assert.Equal(t, alarms.String("open"), flat.Event.Telemetry[0].Values["door"])

	grouped, err := Decode([]byte(`{"type":"POST_TELEMETRY_REQUEST","tenantId":"t1","entityType":"device","entityId":"dev-1","data":[{"ts":1700000001,"values":{"temperature":40}},{"ts":1700000000,"values":{"temperature":30,"on":true}}]}`), now)
	require.NoError(t, err)
	assert.Equal(t, device, grouped.Event.Entity)
	assert.Equal(t, now, grouped.Event.TS)
	require.Len(t, grouped.Event.Telemetry, 2)
	assert.Equal(t, time.Unix(1700000001, 0).UTC(), grouped.Event.Telemetry[0].TS)
	assert.Equal(t, alarms.Boolean(true), grouped.Event.Telemetry[1].Values["on"])

	snaps := grouped.Event.Snapshots()
	require.Len(t, snaps, 2)
	assert.True(t, snaps[0].TS().Before(snaps[1].TS()))
}

func TestDecodeAttributesAndDeletes(t *testing.T) {
	now := time.Now().UTC()

	attrs, err := Decode([]byte(`{"type":"POST_ATTRIBUTES_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","ts":"2026-03-01T12:00:00Z","data":{"limit":50}}`), now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), attrs.Event.TS)
	assert.Equal(t, alarms.Number(50), attrs.Event.Attributes["limit"])

	deleted, err := Decode([]byte(`{"type":"ATTRIBUTES_DELETED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":{"keys":["b","a"]}}`), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deleted.Event.DeletedKeys)

	_, err = Decode([]byte(`{"type":"ATTRIBUTES_DELETED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":[]}`), now)
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestDecodeAlarmAndAssignment(t *testing.T) {
	now := time.Now().UTC()

	ack, err := Decode([]byte(`{"type":"ALARM_ACK","data":{"id":"a-1","tenant_id":"t1","type":"High Temperature","originator":{"entityType":"DEVICE","id":"dev-1"}}}`), now)
	require.NoError(t, err)
	require.NotNil(t, ack.Event.Alarm)
	assert.Equal(t, "a-1", ack.Event.Alarm.ID)
	assert.Equal(t, device, ack.Event.Entity)
	assert.Equal(t, "t1", ack.Event.TenantID)

	assigned, err := Decode([]byte(`{"type":"ENTITY_ASSIGNED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":{"customerId":"c1"}}`), now)
	require.NoError(t, err)
	assert.Equal(t, alarms.EntityID{Type: alarms.EntityCustomer, ID: "c1"}, assigned.Customer)

	_, err = Decode([]byte(`{"type":"ENTITY_ASSIGNED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1"}`), now)
	assert.ErrorIs(t, err, ErrBadEvent)
}

func TestDecodeRejects(t *testing.T) {
	now := time.Now().UTC()
	cases := map[string]string{
		"not json":     `{`,
		"unknown type": `{"type":"RPC_CALL","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1"}`,
		"no tenant":    `{"type":"POST_ATTRIBUTES_REQUEST","entityType":"DEVICE","entityId":"dev-1","data":{}}`,
		"bad entity":   `{"type":"POST_ATTRIBUTES_REQUEST","tenantId":"t1","entityType":"GATEWAY","entityId":"dev-1","data":{}}`,
		"bad ts":       `{"type":"POST_ATTRIBUTES_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","ts":"yesterday","data":{}}`,
		"no alarm id":  `{"type":"ALARM_CLEAR","tenantId":"t1","data":{}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload), now)
			assert.ErrorIs(t, err, ErrBadEvent)
		})
	}
}

func TestIngestorRecordsAndSubmits(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	attributes := memory.NewAttributeStore()
	directory := memory.NewDirectory()
	ingestor, err := NewIngestor(sink, WithRecorder(attributes), WithOwnershipWriter(directory))
	require.NoError(t, err)

	ev, err := ingestor.Ingest(ctx, []byte(`{"type":"POST_ATTRIBUTES_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","ts":1700000000000,"data":{"limit":50}}`))
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	latest, err := attributes.GetLatest(ctx, device, alarms.KeyAttribute, []string{"limit"})
	require.NoError(t, err)
	assert.Equal(t, alarms.Number(50), latest["limit"].Value)

	_, err = ingestor.Ingest(ctx, []byte(`{"id":"ev-2","type":"ENTITY_ASSIGNED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":{"customerId":"c1"}}`))
	require.NoError(t, err)
	customer, ok, err := directory.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c1", customer.ID)

	_, err = ingestor.Ingest(ctx, []byte(`{"type":"ENTITY_UNASSIGNED","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1"}`))
	require.NoError(t, err)
	_, ok, err = directory.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, sink.events, 3)
	assert.Equal(t, "ev-2", sink.events[1].ID)
}

func TestIngestorReportsQueueFailure(t *testing.T) {
	sink := &recordingSink{err: alarmapp.ErrQueueFull}
	ingestor, err := NewIngestor(sink)
	require.NoError(t, err)

	_, err = ingestor.Ingest(context.Background(), []byte(`{"type":"POST_TELEMETRY_REQUEST","tenantId":"t1","entityType":"DEVICE","entityId":"dev-1","data":{"temperature":1}}`))
	assert.True(t, errors.Is(err, alarmapp.ErrQueueFull))

	_, err = NewIngestor(nil)
	assert.Error(t, err)
}
