package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is the on-disk shape of the server config. Durations accept
// "90s" strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	PullPageLimit               int            `json:"pull_page_limit"`
	LogLevel                    string         `json:"log_level"`
	LogFormat                   string         `json:"log_format"`
}

// parseJson overlays Config with the file named by -c or -config, if any.
// Keys missing from the file leave the current value alone. It panics when
// the file cannot be read or parsed.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.AccessTokenValidityDuration.Duration > 0 {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.PullPageLimit > 0 {
		config.PullPageLimit = c.PullPageLimit
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		config.LogFormat = c.LogFormat
	}
}
