package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// parseFlags populates Config fields from command-line flags. os.Args is
// filtered with flagx.FilterArgs first so unrelated flags do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-a", "-k", "-s", "-i", "-w", "-r", "-l", "-f", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.StorePath, "d", cfg.StorePath, "path of the local store")
	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.AccessToken, "k", cfg.AccessToken, "access token")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.IntVar(&cfg.PushConcurrency, "w", cfg.PushConcurrency, "concurrent push workers")
	fs.StringVar(&cfg.AutoResolve, "r", cfg.AutoResolve, "conflict auto-resolve policy: manual or last_write_wins")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFile, "f", cfg.LogFile, "log file")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
