// Package datamanager is the domain API over the local cache. Every write
// updates the record and appends its outbox entry in one store transaction,
// and is visible to the next read immediately. Reads never touch the
// network.
package datamanager

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// Manager owns the typed collections of one local store.
type Manager struct {
	store  *store.Store
	queue  *queue.Queue
	notify *Notifier
	now    func() time.Time
	logger logging.Logger

	Assets  *Collection[models.Asset]
	Vessels *Collection[models.Vessel]
	Scans   *Collection[models.Scan]
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(st *store.Store, q *queue.Queue, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		queue:  q,
		notify: NewNotifier(),
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("module", "datamanager")
	m.Assets = newCollection[models.Asset](m)
	m.Vessels = newCollection[models.Vessel](m)
	m.Scans = newCollection[models.Scan](m)
	return m
}

// Scope lists the collections a transaction touching records of type t needs.
func Scope(t models.EntityType) []string {
	return []string{t.Collection(), queue.Collection, CursorCollection}
}

// WithTx runs fn in one transaction over the records of t, the queue and
// the cursors. The queue handed to fn is bound to that transaction.
func (m *Manager) WithTx(ctx context.Context, t models.EntityType, fn func(ctx context.Context, tx store.KV, q *queue.Queue) error) error {
	return m.store.WithTransaction(ctx, Scope(t), func(ctx context.Context, tx store.KV) error {
		return fn(ctx, tx, m.queue.Bind(tx))
	})
}

// Subscribe returns a stream of changes to records of type t, fed by local
// writes, push acknowledgements and pulled remote changes. Slow subscribers
// miss events rather than block writers. Call the returned func to stop.
func (m *Manager) Subscribe(t models.EntityType) (<-chan Change, func()) {
	return m.notify.Subscribe(t)
}

// Publish fans a change out to subscribers. Used by the sync service.
func (m *Manager) Publish(c Change) {
	m.notify.Publish(c)
}

// GetRaw loads a record of any type, tombstones included.
func (m *Manager) GetRaw(ctx context.Context, t models.EntityType, id string) (models.RawRecord, error) {
	return store.GetJSON[models.RawRecord](ctx, m.store, t.Collection(), id)
}

// AttentionKind says why an item needs the user.
type AttentionKind string

const (
	AttentionFailed   AttentionKind = "failed"
	AttentionConflict AttentionKind = "conflict"
)

// AttentionItem is one row of the "needs attention" list.
type AttentionItem struct {
	Kind       AttentionKind
	EntityType models.EntityType
	EntityID   string
	Reason     string
	// Entry is set for failed outbox entries.
	Entry *models.QueueEntry
	// Local and Remote are set for conflicts.
	Local  json.RawMessage
	Remote *models.RemoteSnapshot
}

// NeedsAttention lists failed outbox entries and conflicting records.
func (m *Manager) NeedsAttention(ctx context.Context) ([]AttentionItem, error) {
	failed, err := m.queue.Failed(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]AttentionItem, 0, len(failed))
	for _, e := range failed {
		e := e
		items = append(items, AttentionItem{
			Kind:       AttentionFailed,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Reason:     e.LastError,
			Entry:      &e,
		})
	}

	for _, t := range models.EntityTypes {
		conflicts, err := store.QueryJSON(ctx, m.store, t.Collection(), func(r models.RawRecord) bool {
			return r.SyncState == models.SyncStateConflict
		})
		if err != nil {
			return nil, err
		}
		for _, r := range conflicts {
			items = append(items, AttentionItem{
				Kind:       AttentionConflict,
				EntityType: t,
				EntityID:   r.ID,
				Reason:     "local and remote changes diverged",
				Local:      r.Data,
				Remote:     r.Remote,
			})
		}
	}
	return items, nil
}

// Stats backs the "syncing / synced / N pending" indicator.
type Stats struct {
	PendingEntries int
	FailedEntries  int
	Conflicts      int
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	qs, err := m.queue.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{PendingEntries: qs.Pending + qs.InFlight, FailedEntries: qs.Failed}
	for _, t := range models.EntityTypes {
		conflicts, err := store.QueryJSON(ctx, m.store, t.Collection(), func(r models.RawRecord) bool {
			return r.SyncState == models.SyncStateConflict
		})
		if err != nil {
			return Stats{}, err
		}
		st.Conflicts += len(conflicts)
	}
	return st, nil
}

// RetryFailed makes a failed outbox entry eligible for push again.
func (m *Manager) RetryFailed(ctx context.Context, entryID string) error {
	e, err := m.queue.Retry(ctx, entryID)
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "failed entry retried", "entry_id", entryID, "entity_id", e.EntityID)
	return nil
}

// DiscardFailed abandons a failed outbox entry. If it was the entity's last
// outstanding mutation the local record is reverted: a record the backend
// never confirmed is purged, anything else goes back to synced and the
// type's pull cursor is reset so the next pull restores the server copy.
func (m *Manager) DiscardFailed(ctx context.Context, entryID string) error {
	entry, err := m.queue.Get(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != models.StatusFailed {
		return queue.ErrNotEligible
	}

	t := entry.EntityType
	kind := ChangeLocal
	err = m.WithTx(ctx, t, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		if _, err := q.Discard(ctx, entryID); err != nil {
			return err
		}
		remaining, err := q.ForEntity(ctx, t, entry.EntityID)
		if err != nil || len(remaining) > 0 {
			return err
		}

		rec, err := store.GetJSON[models.RawRecord](ctx, tx, t.Collection(), entry.EntityID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Version == 0 {
			kind = ChangePurged
			return tx.Delete(ctx, t.Collection(), rec.ID)
		}
		if rec.SyncState == models.SyncStateConflict {
			return nil
		}
		rec.SyncState = models.SyncStateSynced
		rec.Dirty = false
		rec.Deleted = false
		if err := store.PutJSON(ctx, tx, t.Collection(), rec.ID, rec); err != nil {
			return err
		}
		return ResetCursor(ctx, tx, t)
	})
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "failed entry discarded", "entry_id", entryID, "entity_id", entry.EntityID)
	m.Publish(Change{Type: t, ID: entry.EntityID, Kind: kind})
	return nil
}
