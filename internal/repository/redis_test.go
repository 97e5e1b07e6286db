package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/plugin"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestPluginHealthStore(t *testing.T) {
	mr, client := setupMiniRedis(t)
	store := NewPluginHealthStore(client, "", 90*time.Second, zap.NewNop())
	ctx := context.Background()

	missing, err := store.GetHealth(ctx, "mock-bp")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.SaveHealth(ctx, models.PluginHealth{PluginID: "mock-bp", Status: models.HealthHealthy}))
	require.NoError(t, store.SaveHealth(ctx, models.PluginHealth{PluginID: "fitbit", Status: models.HealthError, ErrorCount: 2}))

	h, err := store.GetHealth(ctx, "fitbit")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, models.HealthError, h.Status)
	assert.Equal(t, 2, h.ErrorCount)

	all, err := store.ListHealth(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "fitbit", all[0].PluginID)
	assert.Equal(t, "mock-bp", all[1].PluginID)

	assert.Equal(t, 90*time.Second, mr.TTL(DefaultHealthKeyPrefix+"fitbit"))
	mr.FastForward(2 * time.Minute)
	all, err = store.ListHealth(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPluginEventStream(t *testing.T) {
	mr, client := setupMiniRedis(t)
	sink := NewPluginEventStream(client, "vitals:plugin:events", zap.NewNop())

	event := plugin.Event{
		ID:        "evt-1",
		Type:      plugin.EventDeviceConnected,
		PluginID:  "mock-bp",
		DeviceID:  "bp-1",
		Timestamp: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sink.PublishEvent(context.Background(), event))

	entries, err := mr.Stream("vitals:plugin:events")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	fields := make(map[string]string)
	values := entries[0].Values
	for i := 0; i+1 < len(values); i += 2 {
		fields[values[i]] = values[i+1]
	}
	require.Contains(t, fields, "data")
	var got plugin.Event
	require.NoError(t, json.Unmarshal([]byte(fields["data"]), &got))
	assert.Equal(t, event, got)
}
