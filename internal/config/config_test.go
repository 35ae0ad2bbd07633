package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Hub.PresenceGrace)
	assert.Equal(t, 256, cfg.Hub.SendBuffer)
	assert.Equal(t, 5*time.Second, cfg.Hub.PersistTimeout)
	assert.Equal(t, "chat:presence", cfg.Redis.PresencePrefix)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}
