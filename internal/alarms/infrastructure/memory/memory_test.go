package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

var device = alarms.EntityID{Type: alarms.EntityDevice, ID: "device-1"}

func TestAlarmStoreCreateOrUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewAlarmStore()
	rule := &alarms.AlarmRule{ID: "rule-1", Name: "High Temperature"}
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	req := application.AlarmRequest{TenantID: "tenant-1", Rule: rule, Originator: device, Severity: alarms.SeverityWarning, At: at}

	first, err := store.CreateOrUpdateActive(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := store.CreateOrUpdateActive(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.False(t, second.SeverityChanged)
	assert.Equal(t, first.Alarm.ID, second.Alarm.ID)

	req.Severity = alarms.SeverityCritical
	third, err := store.CreateOrUpdateActive(ctx, req)
	require.NoError(t, err)
	assert.True(t, third.SeverityChanged)

	cleared, err := store.ClearActive(ctx, first.Alarm.ID, at.Add(time.Minute), nil)
	require.NoError(t, err)
	require.NotNil(t, cleared)
	assert.Equal(t, alarms.StatusCleared, cleared.Status)

	again, err := store.ClearActive(ctx, first.Alarm.ID, at.Add(2*time.Minute), nil)
	require.NoError(t, err)
	assert.Nil(t, again)

	active, err := store.FindActiveByOriginatorAndType(ctx, device, rule.Type())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestAlarmStoreAcknowledgeKeepsFirstTime(t *testing.T) {
	ctx := context.Background()
	store := NewAlarmStore()
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	res, err := store.CreateOrUpdateActive(ctx, application.AlarmRequest{
		TenantID: "tenant-1", Rule: &alarms.AlarmRule{ID: "rule-1", Name: "Leak"},
		Originator: device, Severity: alarms.SeverityMajor, At: at,
	})
	require.NoError(t, err)

	acked, err := store.Acknowledge(ctx, res.Alarm.ID, at.Add(time.Minute))
	require.NoError(t, err)
	_, err = store.Acknowledge(ctx, res.Alarm.ID, at.Add(time.Hour))
	require.NoError(t, err)
	got, err := store.GetByID(ctx, res.Alarm.ID)
	require.NoError(t, err)
	assert.Equal(t, acked.AckedAt, got.AckedAt)

	list, err := store.ListActive(ctx, "tenant-1", device)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = store.ListActive(ctx, "tenant-2", device)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAttributeStoreRecord(t *testing.T) {
	ctx := context.Background()
	store := NewAttributeStore()
	t0 := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	key := alarms.Key{Type: alarms.KeyAttribute, Name: "limit"}

	require.NoError(t, store.Record(ctx, device, alarms.NewSnapshot(t0.Add(time.Second), map[alarms.Key]alarms.Entry{key: {Value: alarms.Number(40)}}, nil)))
	require.NoError(t, store.Record(ctx, device, alarms.NewSnapshot(t0, map[alarms.Key]alarms.Entry{key: {Value: alarms.Number(10)}}, nil)))

	got, err := store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"limit"})
	require.NoError(t, err)
	assert.Equal(t, 40.0, got["limit"].Value.Num)

	other, err := store.GetLatest(ctx, device, alarms.KeyTimeSeries, []string{"limit"})
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.Record(ctx, device, alarms.NewSnapshot(t0.Add(time.Minute), nil, []alarms.Key{key})))
	got, err = store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"limit"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory()
	customer := alarms.EntityID{Type: alarms.EntityCustomer, ID: "customer-1"}
	tenant := alarms.EntityID{Type: alarms.EntityTenant, ID: "tenant-1"}

	_, err := dir.TenantOf(ctx, device)
	assert.ErrorIs(t, err, alarms.ErrNotFound)

	require.NoError(t, dir.Assign(ctx, device, customer, tenant))
	got, ok, err := dir.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, customer, got)

	require.NoError(t, dir.Assign(ctx, device, alarms.EntityID{}, tenant))
	_, ok, err = dir.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.False(t, ok)

	asset := alarms.EntityID{Type: alarms.EntityAsset, ID: "asset-1"}
	dir.Relate(device, "Contains", asset)
	related, err := dir.Related(ctx, device, "Contains")
	require.NoError(t, err)
	assert.Equal(t, []alarms.EntityID{asset}, related)
}
