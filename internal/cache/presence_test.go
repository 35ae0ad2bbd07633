package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-hub/internal/config"
)

func newTestMirror(t *testing.T) *PresenceMirror {
	t.Helper()
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	client, err := NewRedisClient(config.RedisConfig{Address: addr})
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewPresenceMirror(client, "test:"+uuid.NewString(), time.Minute)
}

func TestPresenceMirrorRoundTrip(t *testing.T) {
	m := newTestMirror(t)
	ctx := context.Background()

	online, lastSeen, err := m.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
	assert.Nil(t, lastSeen)

	require.NoError(t, m.SetOnline(ctx, 1))
	online, _, err = m.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.True(t, online)

	ttl, err := m.client.TTL(ctx, m.keyFor(1)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SetOffline(ctx, 1, at))
	online, lastSeen, err = m.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.False(t, online)
	require.NotNil(t, lastSeen)
	assert.True(t, at.Equal(*lastSeen))

	t.Cleanup(func() { m.client.Del(context.Background(), m.keyFor(1)) })
}

func TestPresenceMirrorDefaults(t *testing.T) {
	m := NewPresenceMirror(nil, "", 0)
	assert.Equal(t, "chat:presence:user:9", m.keyFor(9))
	assert.Equal(t, 24*time.Hour, m.ttl)
}
