package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestParseEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FIELDSYNC_STORE_PATH", "/var/lib/fieldsync.db")
	t.Setenv("FIELDSYNC_ACCESS_TOKEN", "tok")
	t.Setenv("FIELDSYNC_BACKOFF_MIN", "500ms")
	t.Setenv("FIELDSYNC_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("FIELDSYNC_AUTO_RESOLVE", "last_write_wins")

	var got Config
	got.LoadDefaults()
	parseEnv(&got)

	var want Config
	want.LoadDefaults()
	want.StorePath = "/var/lib/fieldsync.db"
	want.AccessToken = "tok"
	want.BackoffMin = 500 * time.Millisecond
	want.AutoResolve = "last_write_wins"

	assert.Empty(t, cmp.Diff(want, got))
}
