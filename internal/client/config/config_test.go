package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "fieldsync.db", c.StorePath)
	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 30*time.Second, c.SyncInterval)
	assert.Equal(t, 10*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 15*time.Second, c.RemoteCallTimeout)
	assert.Equal(t, 4, c.PushConcurrency)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, "manual", c.AutoResolve)
	assert.Empty(t, c.AccessToken)
	assert.Empty(t, c.MetricsAddr)
}

func TestLoadConfig_Precedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	t.Chdir(t.TempDir())

	path := writeFile(t, `{"server_endpoint_addr": "json:1", "store_path": "json.db", "sync_interval": "1m"}`)
	t.Setenv("FIELDSYNC_SERVER_ADDR", "env:2")
	t.Setenv("FIELDSYNC_PUSH_CONCURRENCY", "8")
	os.Args = []string{"fieldsync", "-c", path, "-a", "flag:3"}

	cfg := LoadConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "flag:3", cfg.ServerEndpointAddr)
	assert.Equal(t, "json.db", cfg.StorePath)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Equal(t, 8, cfg.PushConcurrency)
}
