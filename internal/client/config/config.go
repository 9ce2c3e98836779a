package config

import "time"

// Config holds runtime settings for the fieldsync CLI.
type Config struct {
	StorePath          string
	ServerEndpointAddr string
	AccessToken        string

	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
	RemoteCallTimeout   time.Duration
	PushConcurrency     int
	PullPageSize        int
	AutoResolve         string

	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration

	LogLevel    string
	LogFormat   string
	LogFile     string
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.StorePath = "fieldsync.db"
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.SyncInterval = 30 * time.Second
	c.OnlineCheckInterval = 10 * time.Second
	c.RemoteCallTimeout = 15 * time.Second
	c.PushConcurrency = 4
	c.PullPageSize = 100
	c.AutoResolve = "manual"
	c.MaxAttempts = 5
	c.BackoffMin = 2 * time.Second
	c.BackoffMax = 5 * time.Minute
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.LogFile = "fieldsync.log"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON, the environment and command-line flags. Later sources take precedence
// over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
