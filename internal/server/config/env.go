package config

import "github.com/dmitrijs2005/fieldsync/internal/envx"

const envPrefix = "FIELDSYNC_SERVER_"

func parseEnv(cfg *Config) {
	envx.LoadDotEnv()

	cfg.EndpointAddrGRPC = envx.String(envPrefix+"ADDR", cfg.EndpointAddrGRPC)
	cfg.DatabaseDSN = envx.String(envPrefix+"DATABASE_DSN", cfg.DatabaseDSN)
	cfg.SecretKey = envx.String(envPrefix+"SECRET_KEY", cfg.SecretKey)
	cfg.AccessTokenValidityDuration = envx.Duration(envPrefix+"TOKEN_TTL", cfg.AccessTokenValidityDuration)
	cfg.PullPageLimit = envx.Int(envPrefix+"PULL_PAGE_LIMIT", cfg.PullPageLimit)
	cfg.LogLevel = envx.String(envPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envx.String(envPrefix+"LOG_FORMAT", cfg.LogFormat)
}
