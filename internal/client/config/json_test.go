package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })
	os.Args = append([]string{"fieldsync"}, args...)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fieldsync.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseJson_OverlaysOnlyPresentKeys(t *testing.T) {
	path := writeFile(t, `{
		"store_path": "/data/site-7.db",
		"server_endpoint_addr": "sync.example:443",
		"sync_interval": "2m",
		"remote_call_timeout": 5000000000,
		"pull_page_size": 250,
		"auto_resolve": "last_write_wins",
		"log_format": "json"
	}`)
	withArgs(t, "-c", path)

	var got Config
	got.LoadDefaults()
	parseJson(&got)

	var want Config
	want.LoadDefaults()
	want.StorePath = "/data/site-7.db"
	want.ServerEndpointAddr = "sync.example:443"
	want.SyncInterval = 2 * time.Minute
	want.RemoteCallTimeout = 5 * time.Second
	want.PullPageSize = 250
	want.AutoResolve = "last_write_wins"
	want.LogFormat = "json"

	assert.Empty(t, cmp.Diff(want, got))
}

func TestParseJson_ZeroValuesDoNotClobberDefaults(t *testing.T) {
	path := writeFile(t, `{"push_concurrency": 0, "backoff_min": "0s", "access_token": ""}`)
	withArgs(t, "-config", path)

	var got Config
	got.LoadDefaults()
	parseJson(&got)

	assert.Equal(t, 4, got.PushConcurrency)
	assert.Equal(t, 2*time.Second, got.BackoffMin)
	assert.Empty(t, got.AccessToken)
}

func TestParseJson_WithoutFlagLeavesConfig(t *testing.T) {
	withArgs(t, "-d", "other.db")

	got := Config{StorePath: "mine.db", OnlineCheckInterval: 42 * time.Second}
	parseJson(&got)

	assert.Equal(t, Config{StorePath: "mine.db", OnlineCheckInterval: 42 * time.Second}, got)
}

func TestParseJson_Failures(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		withArgs(t, "-c", filepath.Join(t.TempDir(), "absent.json"))
		require.Panics(t, func() { parseJson(&Config{}) })
	})

	t.Run("bad duration", func(t *testing.T) {
		withArgs(t, "-c", writeFile(t, `{"sync_interval": "soon"}`))
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
