package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "alarm-engine/internal/alarms/domain"
)

type countingBackend struct {
	values map[string]alarms.Entry
	calls  [][]string
}

func (b *countingBackend) GetLatest(_ context.Context, _ alarms.EntityID, _ alarms.KeyType, keys []string) (map[string]alarms.Entry, error) {
	b.calls = append(b.calls, keys)
	out := make(map[string]alarms.Entry)
	for _, k := range keys {
		if e, ok := b.values[k]; ok {
			out[k] = e
		}
	}
	return out, nil
}

var device = alarms.EntityID{Type: alarms.EntityDevice, ID: "d1"}

func TestAttributeStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	backend := &countingBackend{values: map[string]alarms.Entry{
		"threshold": {Value: alarms.Number(30), TS: ts},
	}}
	store, err := NewAttributeStore(backend, NewMemoryCache(time.Minute), nil)
	require.NoError(t, err)

	got, err := store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"threshold", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 30.0, got["threshold"].Value.Num)
	assert.NotContains(t, got, "missing")

	_, err = store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"threshold"})
	require.NoError(t, err)
	require.Len(t, backend.calls, 1)
}

func TestAttributeStore_ObserveUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	backend := &countingBackend{values: map[string]alarms.Entry{}}
	store, err := NewAttributeStore(backend, NewMemoryCache(time.Minute), nil)
	require.NoError(t, err)

	key := alarms.Key{Type: alarms.KeyAttribute, Name: "threshold"}
	store.Observe(ctx, device, alarms.NewSnapshot(ts, map[alarms.Key]alarms.Entry{key: {Value: alarms.Number(12)}}, nil))
	got, err := store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"threshold"})
	require.NoError(t, err)
	assert.Equal(t, 12.0, got["threshold"].Value.Num)
	assert.Empty(t, backend.calls)

	store.Observe(ctx, device, alarms.NewSnapshot(ts, nil, []alarms.Key{key}))
	got, err = store.GetLatest(ctx, device, alarms.KeyAttribute, []string{"threshold"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, backend.calls, 1)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := NewRedisClient(RedisConfig{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
	c, err := NewRedisCache(client, time.Minute)
	require.NoError(t, err)

	entry := alarms.Entry{Value: alarms.String("on"), TS: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, c.Set(ctx, "test:mode", entry))
	got, ok, err := c.Get(ctx, "test:mode")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "on", got.Value.Str)
	assert.True(t, entry.TS.Equal(got.TS))

	require.NoError(t, c.Delete(ctx, "test:mode"))
	_, ok, err = c.Get(ctx, "test:mode")
	require.NoError(t, err)
	assert.False(t, ok)
}
