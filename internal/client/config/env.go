package config

import "github.com/dmitrijs2005/fieldsync/internal/envx"

const envPrefix = "FIELDSYNC_"

// parseEnv overlays Config with FIELDSYNC_* variables. A .env file in the
// working directory is loaded first; unparsable values are ignored.
func parseEnv(cfg *Config) {
	envx.LoadDotEnv()

	cfg.StorePath = envx.String(envPrefix+"STORE_PATH", cfg.StorePath)
	cfg.ServerEndpointAddr = envx.String(envPrefix+"SERVER_ADDR", cfg.ServerEndpointAddr)
	cfg.AccessToken = envx.String(envPrefix+"ACCESS_TOKEN", cfg.AccessToken)
	cfg.SyncInterval = envx.Duration(envPrefix+"SYNC_INTERVAL", cfg.SyncInterval)
	cfg.OnlineCheckInterval = envx.Duration(envPrefix+"ONLINE_CHECK_INTERVAL", cfg.OnlineCheckInterval)
	cfg.RemoteCallTimeout = envx.Duration(envPrefix+"REMOTE_CALL_TIMEOUT", cfg.RemoteCallTimeout)
	cfg.PushConcurrency = envx.Int(envPrefix+"PUSH_CONCURRENCY", cfg.PushConcurrency)
	cfg.PullPageSize = envx.Int(envPrefix+"PULL_PAGE_SIZE", cfg.PullPageSize)
	cfg.AutoResolve = envx.String(envPrefix+"AUTO_RESOLVE", cfg.AutoResolve)
	cfg.MaxAttempts = envx.Int(envPrefix+"MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.BackoffMin = envx.Duration(envPrefix+"BACKOFF_MIN", cfg.BackoffMin)
	cfg.BackoffMax = envx.Duration(envPrefix+"BACKOFF_MAX", cfg.BackoffMax)
	cfg.LogLevel = envx.String(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envx.String(envPrefix+"LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = envx.String(envPrefix+"LOG_FILE", cfg.LogFile)
	cfg.MetricsAddr = envx.String(envPrefix+"METRICS_ADDR", cfg.MetricsAddr)
}
