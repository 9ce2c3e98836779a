package datamanager

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Resolution picks the winning side of a conflict.
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	TakeRemote Resolution = "take_remote"
)

func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case KeepLocal, TakeRemote:
		return Resolution(s), nil
	}
	return "", common.Invalid("resolution", fmt.Sprintf("unknown resolution %q", s))
}

// ResolveConflict settles a conflicting record.
//
// KeepLocal rebases the local state onto the remote version: outstanding
// entries are replaced by one mutation that carries the whole local
// document, so the backend ends up with exactly what the user sees.
// TakeRemote discards local changes and adopts the retained snapshot.
func (m *Manager) ResolveConflict(ctx context.Context, t models.EntityType, id string, r Resolution) error {
	if _, err := ParseResolution(string(r)); err != nil {
		return err
	}

	kind := ChangeResolved
	err := m.WithTx(ctx, t, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		rec, err := store.GetJSON[models.RawRecord](ctx, tx, t.Collection(), id)
		if err != nil {
			return err
		}
		if rec.SyncState != models.SyncStateConflict {
			return fmt.Errorf("%w: %s %s is %s", common.ErrNotInConflict, t, id, rec.SyncState)
		}
		if rec.Remote == nil {
			return fmt.Errorf("%w: remote copy of %s %s is not known yet", common.ErrConflict, t, id)
		}
		if r == TakeRemote {
			if rec.Remote.Deleted {
				kind = ChangePurged
			}
			return takeRemote(ctx, tx, q, rec)
		}

		if _, err := q.DropEntity(ctx, t, id); err != nil {
			return err
		}

		remote := rec.Remote
		var e models.QueueEntry
		switch {
		case rec.Deleted && remote.Deleted:
			kind = ChangePurged
			return tx.Delete(ctx, t.Collection(), id)
		case rec.Deleted:
			e = models.QueueEntry{Operation: models.OpDelete}
		case remote.Deleted:
			e = models.QueueEntry{Operation: models.OpCreate, Payload: rec.Data}
		default:
			e = models.QueueEntry{Operation: models.OpUpdate, Payload: rec.Data}
		}
		e.EntityType = t
		e.EntityID = id

		serverAt := remote.UpdatedAt
		rec.Version = remote.Version
		rec.ServerUpdatedAt = &serverAt
		rec.Remote = nil
		rec.Dirty = true
		rec.SyncState = models.SyncStatePending
		rec.LocalUpdatedAt = m.now()
		if err := store.PutJSON(ctx, tx, t.Collection(), id, rec); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, e)
		return err
	})
	if err != nil {
		return err
	}

	m.logger.Info(ctx, "conflict resolved", "entity_type", t, "entity_id", id, "resolution", r)
	m.Publish(Change{Type: t, ID: id, Kind: kind})
	return nil
}

// adoptRemote replaces rec's local state with its retained remote snapshot.
func adoptRemote(rec models.RawRecord) models.RawRecord {
	serverAt := rec.Remote.UpdatedAt
	return models.RawRecord{
		ID:              rec.ID,
		Type:            rec.Type,
		Data:            rec.Remote.Data,
		Version:         rec.Remote.Version,
		LocalUpdatedAt:  serverAt,
		ServerUpdatedAt: &serverAt,
		SyncState:       models.SyncStateSynced,
	}
}

// takeRemote drops the entity's outbox entries and replaces the record with
// its remote snapshot, purging it when the remote side was deleted.
func takeRemote(ctx context.Context, tx store.KV, q *queue.Queue, rec models.RawRecord) error {
	if rec.Remote == nil {
		return fmt.Errorf("%w: no remote snapshot for %s", common.ErrConflict, rec.ID)
	}
	if _, err := q.DropEntity(ctx, rec.Type, rec.ID); err != nil {
		return err
	}
	if rec.Remote.Deleted {
		return tx.Delete(ctx, rec.Type.Collection(), rec.ID)
	}
	return store.PutJSON(ctx, tx, rec.Type.Collection(), rec.ID, adoptRemote(rec))
}
