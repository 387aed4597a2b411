package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/migrations"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	require.NoError(t, migrations.Apply(ctx, db))
	for _, table := range []string{"alarms", "alarm_rules", "alarm_rule_states", "entity_attributes", "entity_owners", "entity_relations", "audit_logs"} {
		_, err := db.ExecContext(ctx, "DELETE FROM "+table)
		require.NoError(t, err)
	}
	return db
}

func numberPtr(v float64) *alarms.Value {
	n := alarms.Number(v)
	return &n
}

func testRule() *alarms.AlarmRule {
	return &alarms.AlarmRule{
		ID:        "rule-pg-1",
		TenantID:  "tenant-pg",
		Name:      "High Temperature",
		AlarmType: "High Temperature",
		Arguments: map[string]alarms.Argument{
			"temperature": {Type: alarms.ValueNumeric, Source: alarms.SourceTimeSeries, Key: "temperature", Scope: alarms.ScopeEntity},
			"limit":       {Type: alarms.ValueNumeric, Source: alarms.SourceConstant, Value: numberPtr(50)},
		},
		CreateConditions: []alarms.SeverityCondition{{
			Severity: alarms.SeverityCritical,
			Condition: alarms.Condition{
				Filter: alarms.Simple("temperature", alarms.OperatorGreater, "limit"),
				Spec:   alarms.Spec{Type: alarms.SpecSimple},
			},
		}},
		Sources:     []alarms.SourceFilter{{EntityType: alarms.EntityDevice}},
		Propagation: alarms.Propagation{Propagate: true, RelationTypes: []string{"Contains"}},
		Enabled:     true,
	}
}

func TestAlarmRuleRepositoryUpsertBumpsVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAlarmRuleRepository(db)

	rule := testRule()
	require.NoError(t, repo.Upsert(ctx, rule))
	assert.Equal(t, int64(1), rule.Version)
	require.NoError(t, repo.Upsert(ctx, rule))
	assert.Equal(t, int64(2), rule.Version)

	loaded, err := repo.GetByID(ctx, rule.TenantID, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(2), loaded.Version)
	assert.Equal(t, rule.Arguments["limit"].Value.Num, loaded.Arguments["limit"].Value.Num)

	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)

	var audits int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs WHERE resource_id = $1", rule.ID).Scan(&audits))
	assert.Equal(t, 2, audits)

	missing, err := repo.GetByID(ctx, rule.TenantID, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAlarmRepositoryLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAlarmRepository(db)
	rule := testRule()
	device := alarms.EntityID{Type: alarms.EntityDevice, ID: "device-pg-1"}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := repo.CreateOrUpdateActive(ctx, application.AlarmRequest{
		TenantID: rule.TenantID, Rule: rule, Originator: device,
		Severity: alarms.SeverityWarning, Details: json.RawMessage(`{"data":"42"}`), At: at,
	})
	require.NoError(t, err)
	assert.True(t, created.Created)
	assert.Equal(t, alarms.StatusActive, created.Alarm.Status)
	assert.True(t, created.Alarm.Propagation.Propagate)

	again, err := repo.CreateOrUpdateActive(ctx, application.AlarmRequest{
		TenantID: rule.TenantID, Rule: rule, Originator: device, Severity: alarms.SeverityWarning, At: at,
	})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.False(t, again.SeverityChanged)
	assert.Equal(t, created.Alarm.ID, again.Alarm.ID)
	assert.JSONEq(t, `{"data":"42"}`, string(again.Alarm.Details))

	escalated, err := repo.CreateOrUpdateActive(ctx, application.AlarmRequest{
		TenantID: rule.TenantID, Rule: rule, Originator: device, Severity: alarms.SeverityCritical, At: at.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.True(t, escalated.SeverityChanged)
	assert.Equal(t, alarms.SeverityCritical, escalated.Alarm.Severity)

	found, err := repo.FindActiveByOriginatorAndType(ctx, device, rule.Type())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.Alarm.ID, found.ID)

	acked, err := repo.Acknowledge(ctx, found.ID, at.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, acked)
	assert.True(t, acked.Acknowledged)
	reacked, err := repo.Acknowledge(ctx, found.ID, at.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, acked.AckedAt, reacked.AckedAt)

	list, err := repo.ListActive(ctx, rule.TenantID, device)
	require.NoError(t, err)
	require.Len(t, list, 1)

	cleared, err := repo.ClearActive(ctx, found.ID, at.Add(5*time.Minute), nil)
	require.NoError(t, err)
	require.NotNil(t, cleared)
	assert.Equal(t, alarms.StatusCleared, cleared.Status)
	assert.Equal(t, at.Add(5*time.Minute), cleared.ClearedAt)

	twice, err := repo.ClearActive(ctx, found.ID, at.Add(6*time.Minute), nil)
	require.NoError(t, err)
	assert.Nil(t, twice)

	none, err := repo.FindActiveByOriginatorAndType(ctx, device, rule.Type())
	require.NoError(t, err)
	assert.Nil(t, none)

	next, err := repo.CreateOrUpdateActive(ctx, application.AlarmRequest{
		TenantID: rule.TenantID, Rule: rule, Originator: device, Severity: alarms.SeverityWarning, At: at.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.True(t, next.Created)
	assert.NotEqual(t, created.Alarm.ID, next.Alarm.ID)
}

func TestAlarmRuleStateRepositoryRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAlarmRuleStateRepository(db)
	device := alarms.EntityID{Type: alarms.EntityDevice, ID: "device-pg-2"}

	states, err := repo.Load(ctx, device, "rule-pg-1")
	require.NoError(t, err)
	assert.Nil(t, states)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	saved := map[string]alarms.ConditionState{
		"CRITICAL": {Spec: alarms.SpecDuration, Phase: alarms.PhaseArmed, Start: start, LastEventAt: start.Add(2 * time.Second), Elapsed: 2 * time.Second, Last: alarms.True},
	}
	require.NoError(t, repo.Save(ctx, device, "rule-pg-1", saved))
	saved["CRITICAL"] = alarms.ConditionState{Spec: alarms.SpecDuration, Phase: alarms.PhaseFired, Start: start, LastEventAt: start.Add(6 * time.Second), Elapsed: 6 * time.Second, Last: alarms.True}
	require.NoError(t, repo.Save(ctx, device, "rule-pg-1", saved))

	states, err = repo.Load(ctx, device, "rule-pg-1")
	require.NoError(t, err)
	require.Contains(t, states, "CRITICAL")
	assert.Equal(t, alarms.PhaseFired, states["CRITICAL"].Phase)
	assert.Equal(t, 6*time.Second, states["CRITICAL"].Elapsed)
	assert.True(t, states["CRITICAL"].Start.Equal(start))

	require.NoError(t, repo.Delete(ctx, device, "rule-pg-1"))
	states, err = repo.Load(ctx, device, "rule-pg-1")
	require.NoError(t, err)
	assert.Nil(t, states)
}

func TestAttributeRepositoryRecordKeepsNewest(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewAttributeRepository(db)
	device := alarms.EntityID{Type: alarms.EntityDevice, ID: "device-pg-3"}
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, device, alarms.NewSnapshot(t0.Add(time.Minute), map[alarms.Key]alarms.Entry{
		{Type: alarms.KeyAttribute, Name: "limit"}:  {Value: alarms.Number(40)},
		{Type: alarms.KeyAttribute, Name: "label"}:  {Value: alarms.String("boiler")},
		{Type: alarms.KeyAttribute, Name: "active"}: {Value: alarms.Boolean(true)},
	}, nil)))
	require.NoError(t, repo.Record(ctx, device, alarms.NewSnapshot(t0, map[alarms.Key]alarms.Entry{
		{Type: alarms.KeyAttribute, Name: "limit"}: {Value: alarms.Number(10)},
	}, nil)))

	got, err := repo.GetLatest(ctx, device, alarms.KeyAttribute, []string{"limit", "label", "active", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 40.0, got["limit"].Value.Num)
	assert.Equal(t, "boiler", got["label"].Value.Str)
	assert.True(t, got["active"].Value.Bool)
	assert.NotContains(t, got, "missing")

	require.NoError(t, repo.Record(ctx, device, alarms.NewSnapshot(t0.Add(2*time.Minute), nil,
		[]alarms.Key{{Type: alarms.KeyAttribute, Name: "label"}})))
	got, err = repo.GetLatest(ctx, device, alarms.KeyAttribute, []string{"label"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOwnershipRepository(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewOwnershipRepository(db)
	device := alarms.EntityID{Type: alarms.EntityDevice, ID: "device-pg-4"}
	customer := alarms.EntityID{Type: alarms.EntityCustomer, ID: "customer-pg"}
	tenant := alarms.EntityID{Type: alarms.EntityTenant, ID: "tenant-pg"}

	_, err := repo.TenantOf(ctx, device)
	assert.ErrorIs(t, err, alarms.ErrNotFound)

	require.NoError(t, repo.Assign(ctx, device, customer, tenant))
	got, ok, err := repo.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, customer, got)
	owner, err := repo.TenantOf(ctx, device)
	require.NoError(t, err)
	assert.Equal(t, tenant, owner)

	require.NoError(t, repo.Assign(ctx, device, alarms.EntityID{}, tenant))
	_, ok, err = repo.CustomerOf(ctx, device)
	require.NoError(t, err)
	assert.False(t, ok)

	asset := alarms.EntityID{Type: alarms.EntityAsset, ID: "asset-pg"}
	_, err = db.ExecContext(ctx, `
INSERT INTO entity_relations (from_type, from_id, relation_type, to_type, to_id)
VALUES ($1, $2, $3, $4, $5)`, string(device.Type), device.ID, "Contains", string(asset.Type), asset.ID)
	require.NoError(t, err)
	related, err := repo.Related(ctx, device, "Contains")
	require.NoError(t, err)
	assert.Equal(t, []alarms.EntityID{asset}, related)
}
