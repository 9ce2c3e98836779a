package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/app"
	"github.com/dmitrijs2005/fieldsync/internal/client/cli"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg := config.LoadConfig()

	// The REPL owns the terminal, so logs go to a rotated file.
	logFile := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
	defer logFile.Close()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := app.Open(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer h.Close()

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, logger)
	}

	go func() {
		if err := h.Run(ctx); err != nil {
			logger.Error(ctx, "sync engine stopped", "error", err)
		}
	}()

	cli.NewApp(h, os.Stdin, os.Stdout).Run(ctx)
}

func serveMetrics(ctx context.Context, addr string, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info(ctx, "metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "metrics endpoint failed", "error", err)
	}
}
