package config

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// parseFlags populates Config from command-line flags:
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-d string   PostgreSQL DSN
//	-s string   token HMAC secret
//	-t int      issued token validity, minutes
//	-p int      pull page limit
//	-l string   log level
//
// os.Args is filtered first, so -c and -issue-token pass through untouched.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-p", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	tokenTTL := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	fs.IntVar(&config.PullPageLimit, "p", config.PullPageLimit, "pull page limit")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*tokenTTL) * time.Minute
}
