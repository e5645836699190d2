package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestRedis 启动内嵌 Redis 并返回包装好的客户端
func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := NewWithClient(rdb, zap.NewNop())
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestClient_IncrementRateLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	for i := int64(1); i <= 5; i++ {
		count, err := client.IncrementRateLimit("webhook:sender:alice@example.com", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}
}

func TestClient_WindowExpiryResetsCounter(t *testing.T) {
	client, mr := setupTestRedis(t)

	count, err := client.IncrementRateLimit("webhook:recipient:abc@onetime.email", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = client.IncrementRateLimit("webhook:recipient:abc@onetime.email", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Advance past the window, the key disappears and counting restarts
	mr.FastForward(61 * time.Second)

	count, err = client.IncrementRateLimit("webhook:recipient:abc@onetime.email", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClient_GetRateLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	// Missing key reads as zero
	count, err := client.GetRateLimit("webhook:sender:nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = client.IncrementRateLimit("webhook:sender:bob@example.com", time.Minute)
	require.NoError(t, err)

	count, err = client.GetRateLimit("webhook:sender:bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClient_Ping(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}
