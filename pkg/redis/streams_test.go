package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestPublishToStream_StringifiesValues(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	_, err := PublishToStream(ctx, client, "s1", map[string]interface{}{
		"count": 3,
		"ratio": 0.5,
		"ok":    true,
		"tags":  []string{"a"},
	})
	require.NoError(t, err)

	msgs, err := client.XRange(ctx, "s1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "3", msgs[0].Values["count"])
	assert.Equal(t, "0.5", msgs[0].Values["ratio"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.Equal(t, `["a"]`, msgs[0].Values["tags"])
}

func TestCreateConsumerGroup_Idempotent(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "raw", "g1"))
	require.NoError(t, CreateConsumerGroup(ctx, client, "raw", "g1"))
}

func TestReadFromStream_ReturnsPublishedJSON(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "raw", "g1"))
	_, err := PublishJSONToStream(ctx, client, "raw", map[string]interface{}{"device_id": "d1"})
	require.NoError(t, err)

	msgs, err := ReadFromStream(ctx, client, "raw", "g1", "c1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "d1", decoded["device_id"])
	require.NoError(t, Ack(ctx, client, "raw", "g1", msgs[0].ID))
}
