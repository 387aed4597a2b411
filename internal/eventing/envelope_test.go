package eventing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name string `json:"name"`
}

func TestBuildEnvelopeDefaults(t *testing.T) {
	env, err := BuildEnvelope(sample{Name: "x"}, Meta{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, env.EventID, env.CorrelationID)
	assert.Equal(t, "eventing.sample", env.EventType)
	assert.Equal(t, 1, env.SchemaVersion)
	assert.False(t, env.OccurredAt.IsZero())
	assert.JSONEq(t, `{"name":"x"}`, string(env.Payload))

	_, err = BuildEnvelope(nil, Meta{})
	require.Error(t, err)
}

func TestBuildEnvelopeFromContext(t *testing.T) {
	ctx := WithCorrelationID(WithTenantID(context.Background(), "tenant-2"), "event-9")
	meta := MetaFromContext(ctx, "fallback")
	meta.EventType = "Alarm Created"
	meta.OccurredAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))

	env, err := BuildEnvelope(&sample{Name: "y"}, meta)
	require.NoError(t, err)
	assert.Equal(t, "tenant-2", env.TenantID)
	assert.Equal(t, "event-9", env.CorrelationID)
	assert.Equal(t, "Alarm Created", env.EventType)
	assert.Equal(t, time.UTC, env.OccurredAt.Location())

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"correlation_id":"event-9"`)

	assert.Equal(t, "fallback", MetaFromContext(context.Background(), "fallback").TenantID)
}
