// Package app is the composition root of the fieldsync client. A Handle owns
// one store, one queue, one data manager and one sync service; the CLI gets
// it by injection.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/fieldsync/internal/client/backend"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/datamanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/client/syncsvc"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"golang.org/x/sync/errgroup"
)

type Handle struct {
	Records Records
	// Data and Sync are nil in remote-only mode.
	Data    *datamanager.Manager
	Sync    *syncsvc.Service
	Tokens  *backend.StaticTokenSource
	Backend backend.Backend

	store   *store.Store
	watcher *connectivity.Watcher
	closers []io.Closer
	logger  logging.Logger
}

type options struct {
	backend backend.Backend
	logger  logging.Logger
}

type Option func(*options)

// WithBackend replaces the gRPC backend. Used by tests.
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Open wires the client. When the local store cannot be opened the handle
// degrades to remote-only mode instead of failing.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Handle, error) {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	autoResolve, err := syncsvc.ParseAutoResolve(cfg.AutoResolve)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		Tokens: backend.NewStaticTokenSource(cfg.AccessToken),
		logger: o.logger.With("module", "app"),
	}

	h.Backend = o.backend
	if h.Backend == nil {
		b, err := backend.Dial(cfg.ServerEndpointAddr, h.Tokens)
		if err != nil {
			return nil, err
		}
		h.Backend = b
		h.closers = append(h.closers, b)
	}

	st, err := store.Open(ctx, cfg.StorePath,
		store.WithLogger(o.logger),
		store.WithMigrations(datamanager.Migrations()...),
	)
	switch {
	case errors.Is(err, common.ErrStorageUnavailable):
		h.logger.Error(ctx, "local store unavailable, running remote-only", "path", cfg.StorePath, "error", err)
		h.Records = remoteRecords{backend: h.Backend, pageSize: cfg.PullPageSize, timeout: cfg.RemoteCallTimeout}
		h.watcher = connectivity.New(h.Backend, connectivity.SinkFunc(func(bool) {}),
			connectivity.WithInterval(cfg.OnlineCheckInterval), connectivity.WithLogger(o.logger))
		return h, nil
	case err != nil:
		_ = h.Close()
		return nil, err
	}
	h.store = st

	q := queue.New(st, queue.Policy{
		MaxAttempts:   cfg.MaxAttempts,
		BackoffMin:    cfg.BackoffMin,
		BackoffMax:    cfg.BackoffMax,
		JitterPercent: queue.DefaultPolicy().JitterPercent,
	}, queue.WithLogger(o.logger))
	h.Data = datamanager.New(st, q, datamanager.WithLogger(o.logger))
	h.Records = localRecords{dm: h.Data}
	h.Sync = syncsvc.New(h.Data, q, h.Backend, syncsvc.Config{
		PushConcurrency:   cfg.PushConcurrency,
		PullPageSize:      cfg.PullPageSize,
		RemoteCallTimeout: cfg.RemoteCallTimeout,
		SyncInterval:      cfg.SyncInterval,
		AutoResolve:       autoResolve,
	}, syncsvc.WithLogger(o.logger))
	h.watcher = connectivity.New(h.Backend, h.Sync,
		connectivity.WithInterval(cfg.OnlineCheckInterval), connectivity.WithLogger(o.logger))

	h.logger.Info(ctx, "client ready", "store", cfg.StorePath, "schema_version", st.Version(), "server", cfg.ServerEndpointAddr)
	return h, nil
}

// RemoteOnly reports whether the local store is unavailable.
func (h *Handle) RemoteOnly() bool {
	return h.store == nil
}

// Run drives the sync service and the connectivity watcher until ctx is done.
func (h *Handle) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if h.Sync != nil {
		g.Go(func() error { return h.Sync.Run(ctx) })
	}
	g.Go(func() error {
		h.watcher.Run(ctx)
		return nil
	})
	return g.Wait()
}

// SetToken installs a new access token and resumes a sync service halted
// by an auth rejection.
func (h *Handle) SetToken(token string) error {
	if _, err := backend.NewStaticTokenSource(token).Token(context.Background()); err != nil {
		return fmt.Errorf("token not accepted: %w", err)
	}
	h.Tokens.Set(token)
	if h.Sync != nil {
		h.Sync.AuthRecovered()
	}
	return nil
}

// Close releases the store and the backend connection.
func (h *Handle) Close() error {
	var errs []error
	if h.store != nil {
		errs = append(errs, h.store.Close())
	}
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
