// Package connectivity probes the backend and reports online/offline
// transitions to the sync service.
package connectivity

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Pinger is the health probe. The sync backend implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sink receives connectivity transitions.
type Sink interface {
	SetOnline(online bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(bool)

func (f SinkFunc) SetOnline(online bool) { f(online) }

const (
	defaultInterval     = 10 * time.Second
	defaultProbeTimeout = 3 * time.Second
	defaultRetries      = 2
	defaultRetryDelay   = 500 * time.Millisecond
)

// Watcher pings the backend on an interval. A probe only counts as failed
// after its retries are exhausted, so one dropped packet does not flap the
// sync service offline.
type Watcher struct {
	pinger       Pinger
	sink         Sink
	interval     time.Duration
	probeTimeout time.Duration
	retries      uint64
	retryDelay   time.Duration
	logger       logging.Logger

	known  bool
	online bool
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithProbeTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.probeTimeout = d
		}
	}
}

// WithRetries sets how many extra pings a probe makes, delay apart, before
// reporting offline.
func WithRetries(n uint64, delay time.Duration) Option {
	return func(w *Watcher) {
		w.retries = n
		if delay > 0 {
			w.retryDelay = delay
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func New(p Pinger, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		pinger:       p,
		sink:         sink,
		interval:     defaultInterval,
		probeTimeout: defaultProbeTimeout,
		retries:      defaultRetries,
		retryDelay:   defaultRetryDelay,
		logger:       logging.Discard(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run probes immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs one probe and forwards the result if it changed. The first
// probe is always forwarded. Run calls Check from a single goroutine.
func (w *Watcher) Check(ctx context.Context) bool {
	online := w.Probe(ctx)
	if ctx.Err() != nil {
		return w.online
	}
	if w.known && online == w.online {
		return online
	}
	w.known = true
	w.online = online
	if online {
		w.logger.Info(ctx, "backend reachable, switching to online mode")
	} else {
		w.logger.Warn(ctx, "backend unreachable, switching to offline mode")
	}
	w.sink.SetOnline(online)
	return online
}

// Probe pings the backend, retrying with a constant delay.
func (w *Watcher) Probe(ctx context.Context) bool {
	b := retry.WithMaxRetries(w.retries, retry.NewConstant(w.retryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, w.probeTimeout)
		defer cancel()
		if err := w.pinger.Ping(pctx); err != nil {
			w.logger.Debug(ctx, "ping failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return err == nil
}
