// Package config loads runtime configuration for the fieldsync CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Environment variables prefixed FIELDSYNC_, including a .env file in the
//     working directory (see parseEnv).
//  4. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   path of the local SQLite store
//	-a string   address:port of the backend gRPC endpoint
//	-k string   access token (JWT)
//	-s int      periodic sync interval (seconds)
//	-i int      online status check interval (seconds)
//	-w int      concurrent push workers
//	-r string   auto-resolve policy: manual or last_write_wins
//	-l string   log level
//	-f string   log file
//	-m string   metrics listen address (empty disables)
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "store_path": "fieldsync.db",
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "sync_interval": "30s",
//	  "backoff_min": "2s",
//	  "auto_resolve": "manual"
//	}
package config
