package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, "default", cfg.TenantID)
	assert.Equal(t, "chat.messages", cfg.BrokerExchange)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 60*time.Second, cfg.RecencyWindow)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Zero(t, cfg.MaxReconnectAttempts)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CHATSYNC_USERNAME", "alice")
	t.Setenv("CHATSYNC_TENANT_ID", "acme")
	t.Setenv("CHATSYNC_LISTEN_ADDR", ":9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, ":9999", cfg.ListenAddr)
}
