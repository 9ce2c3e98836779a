// Package syncsvc drains the outbox to the backend and merges remote changes
// into the local cache.
//
// A cycle pushes first and pulls second. Cycles never overlap: triggers that
// arrive while one runs collapse into a single follow-up cycle. Remote calls
// that have started when a cycle is cancelled run to completion and their
// results are applied, so cancellation never strands an entry in flight.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/backend"
	"github.com/dmitrijs2005/fieldsync/internal/client/datamanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/metrics"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type State string

const (
	StateIdle    State = "idle"
	StatePushing State = "pushing"
	StatePulling State = "pulling"
	StateError   State = "error"
)

var allStates = []string{string(StateIdle), string(StatePushing), string(StatePulling), string(StateError)}

// AutoResolve selects what happens when a conflict is detected.
type AutoResolve string

const (
	// ResolveManual leaves conflicts for the user (the default).
	ResolveManual AutoResolve = "manual"
	// ResolveLastWriteWins keeps whichever side changed last.
	ResolveLastWriteWins AutoResolve = "last_write_wins"
)

func ParseAutoResolve(s string) (AutoResolve, error) {
	switch AutoResolve(s) {
	case "", ResolveManual:
		return ResolveManual, nil
	case ResolveLastWriteWins:
		return ResolveLastWriteWins, nil
	}
	return "", common.Invalid("auto_resolve", fmt.Sprintf("unknown policy %q", s))
}

// ErrOffline is returned for cycles requested while the backend is unreachable.
var ErrOffline = errors.New("backend offline")

type Config struct {
	PushConcurrency   int
	BatchSize         int
	PullPageSize      int
	RemoteCallTimeout time.Duration
	SyncInterval      time.Duration
	AutoResolve       AutoResolve
}

func (c Config) withDefaults() Config {
	if c.PushConcurrency <= 0 {
		c.PushConcurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.PullPageSize <= 0 {
		c.PullPageSize = 100
	}
	if c.RemoteCallTimeout <= 0 {
		c.RemoteCallTimeout = 15 * time.Second
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.AutoResolve == "" {
		c.AutoResolve = ResolveManual
	}
	return c
}

type Service struct {
	cfg     Config
	dm      *datamanager.Manager
	queue   *queue.Queue
	backend backend.Backend
	logger  logging.Logger
	now     func() time.Time

	trigger chan struct{}
	cycleMu sync.Mutex

	mu          sync.Mutex
	state       State
	online      bool
	lastSync    time.Time
	lastErr     error
	cancelCycle context.CancelFunc
	started     uint64
	finished    uint64
	cycleErr    error
	done        chan struct{}
}

type Option func(*Service)

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(dm *datamanager.Manager, q *queue.Queue, b backend.Backend, cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg.withDefaults(),
		dm:      dm,
		queue:   q,
		backend: b,
		logger:  logging.Discard(),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		state:   StateIdle,
		online:  true,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("module", "syncsvc")
	metrics.SetState(string(StateIdle), allStates)
	metrics.Online.Set(1)
	return s
}

// Run recovers entries a crash left in flight and then serves triggers
// until ctx is done. The periodic timer only fires while online.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.queue.RecoverInFlight(ctx); err != nil {
		return fmt.Errorf("recover outbox: %w", err)
	}

	ticker := time.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	s.RequestSync()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.Online() {
				s.RequestSync()
			}
		case <-s.trigger:
			if err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrOffline) {
				s.logger.Debug(ctx, "cycle ended with error", "error", err)
			}
		}
	}
}

// RequestSync asks Run for a cycle. It never blocks; requests made while a
// cycle is queued are merged into it.
func (s *Service) RequestSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SyncNow requests a cycle and waits for one that started after the call.
// Run must be serving triggers.
func (s *Service) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	target := s.started + 1
	s.mu.Unlock()

	s.RequestSync()
	for {
		s.mu.Lock()
		if s.finished >= target {
			err := s.cycleErr
			s.mu.Unlock()
			return err
		}
		done := s.done
		s.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunCycle runs one push and pull cycle synchronously.
func (s *Service) RunCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.started++
	n := s.started
	s.cancelCycle = cancel
	online, state := s.online, s.state
	s.mu.Unlock()

	err := s.cycle(ctx, online, state)

	s.mu.Lock()
	s.cancelCycle = nil
	s.finished = n
	s.cycleErr = err
	close(s.done)
	s.done = make(chan struct{})
	s.mu.Unlock()
	return err
}

func (s *Service) cycle(ctx context.Context, online bool, state State) error {
	switch {
	case !online:
		return ErrOffline
	case state == StateError:
		return fmt.Errorf("%w: waiting for new credentials", common.ErrAuthRejected)
	}

	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	s.setState(StatePushing)
	if err := s.push(ctx); err != nil {
		return s.fail(ctx, "push", err)
	}
	s.setState(StatePulling)
	if err := s.pull(ctx); err != nil {
		return s.fail(ctx, "pull", err)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.lastSync = s.now()
	s.lastErr = nil
	s.mu.Unlock()
	metrics.SetState(string(StateIdle), allStates)
	s.refreshGauges(ctx)
	s.logger.Info(ctx, "sync cycle completed", "took", time.Since(start))
	return nil
}

func (s *Service) fail(ctx context.Context, phase string, err error) error {
	next := StateIdle
	if errors.Is(err, common.ErrAuthRejected) {
		next = StateError
	}
	s.mu.Lock()
	s.state = next
	s.lastErr = err
	s.mu.Unlock()
	metrics.SetState(string(next), allStates)
	s.refreshGauges(ctx)

	if next == StateError {
		s.logger.Error(ctx, "sync halted: credentials rejected", "phase", phase, "error", err)
	} else {
		s.logger.Warn(ctx, "sync cycle failed", "phase", phase, "error", err)
	}
	return err
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetState(string(st), allStates)
}

func (s *Service) refreshGauges(ctx context.Context) {
	st, err := s.queue.Stats(context.WithoutCancel(ctx))
	if err != nil {
		return
	}
	metrics.QueueBacklog.Set(float64(st.Pending + st.InFlight))
	metrics.QueueFailed.Set(float64(st.Failed))
}

// SetOnline is fed by the connectivity signal. Coming online triggers a
// cycle; going offline cancels the running one.
func (s *Service) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	cancel := s.cancelCycle
	s.mu.Unlock()

	if online {
		metrics.Online.Set(1)
	} else {
		metrics.Online.Set(0)
	}
	switch {
	case online && !was:
		s.RequestSync()
	case !online && cancel != nil:
		cancel()
	}
}

func (s *Service) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// AuthRecovered leaves the error state after the auth collaborator obtained
// new credentials, and schedules a cycle.
func (s *Service) AuthRecovered() {
	s.mu.Lock()
	recovered := s.state == StateError
	if recovered {
		s.state = StateIdle
		s.lastErr = nil
	}
	s.mu.Unlock()
	if recovered {
		metrics.SetState(string(StateIdle), allStates)
		s.RequestSync()
	}
}

// Status is the data behind the "syncing / synced / N pending" indicator.
type Status struct {
	State     State
	Online    bool
	Pending   int
	Failed    int
	Conflicts int
	LastSync  time.Time
	LastError string
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	st, err := s.dm.Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Status{
		State:     s.state,
		Online:    s.online,
		Pending:   st.PendingEntries,
		Failed:    st.FailedEntries,
		Conflicts: st.Conflicts,
		LastSync:  s.lastSync,
	}
	if s.lastErr != nil {
		out.LastError = s.lastErr.Error()
	}
	return out, nil
}

// remote bounds a backend call. The call outlives cycle cancellation so its
// result can still be applied.
func (s *Service) remote(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RemoteCallTimeout)
}
