// Package envx reads typed settings from environment variables. A value that
// does not parse leaves the fallback in place.
package envx

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env from the working directory if it exists. Variables
// already set in the process win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func String(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func Int(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

// Duration accepts Go duration strings such as "30s" or "2m".
func Duration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
