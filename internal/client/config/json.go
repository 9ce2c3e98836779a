package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// keep the value already in Config.
type JsonConfig struct {
	StorePath           string         `json:"store_path"`
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	AccessToken         string         `json:"access_token"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	RemoteCallTimeout   timex.Duration `json:"remote_call_timeout"`
	PushConcurrency     int            `json:"push_concurrency"`
	PullPageSize        int            `json:"pull_page_size"`
	AutoResolve         string         `json:"auto_resolve"`
	MaxAttempts         int            `json:"max_attempts"`
	BackoffMin          timex.Duration `json:"backoff_min"`
	BackoffMax          timex.Duration `json:"backoff_max"`
	LogLevel            string         `json:"log_level"`
	LogFormat           string         `json:"log_format"`
	LogFile             string         `json:"log_file"`
	MetricsAddr         string         `json:"metrics_addr"`
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.StorePath, jc.StorePath)
	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.AccessToken, jc.AccessToken)
	setString(&cfg.AutoResolve, jc.AutoResolve)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)

	setInt(&cfg.PushConcurrency, jc.PushConcurrency)
	setInt(&cfg.PullPageSize, jc.PullPageSize)
	setInt(&cfg.MaxAttempts, jc.MaxAttempts)

	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.RemoteCallTimeout, jc.RemoteCallTimeout)
	setDuration(&cfg.BackoffMin, jc.BackoffMin)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
