package syncsvc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/client/datamanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/metrics"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// pull fetches remote changes for every type, parents first.
func (s *Service) pull(ctx context.Context) error {
	for _, t := range models.EntityTypes {
		if err := s.pullType(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) pullType(ctx context.Context, t models.EntityType) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur, err := s.dm.Cursor(ctx, t)
		if err != nil {
			return err
		}

		callCtx, cancel := s.remote(ctx)
		cs, err := s.backend.PullChangesSince(callCtx, t, cur.Token, s.cfg.PullPageSize)
		cancel()
		if err != nil {
			return err
		}

		changes, err := s.applyPage(context.WithoutCancel(ctx), t, cs)
		if err != nil {
			return err
		}
		metrics.PulledRecords.WithLabelValues(string(t)).Add(float64(len(cs.Records)))
		for _, c := range changes {
			s.dm.Publish(c)
			if c.Kind == datamanager.ChangeConflict {
				metrics.Conflicts.WithLabelValues(string(t), "pull").Inc()
				s.autoResolve(ctx, t, c.ID)
			}
		}
		if len(cs.Records) > 0 {
			s.logger.Debug(ctx, "pulled page", "entity_type", t, "records", len(cs.Records), "cursor", cs.NextCursor)
		}

		if !cs.HasMore || cs.NextCursor == "" || cs.NextCursor == cur.Token {
			return nil
		}
	}
}

// applyPage merges one page and advances the cursor in a single
// transaction, so an interrupted pull refetches the page.
func (s *Service) applyPage(ctx context.Context, t models.EntityType, cs models.ChangeSet) ([]datamanager.Change, error) {
	var changes []datamanager.Change
	err := s.dm.WithTx(ctx, t, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		changes = changes[:0]
		for _, r := range cs.Records {
			kind, err := s.merge(ctx, tx, q, t, r)
			if err != nil {
				return err
			}
			if kind != "" {
				changes = append(changes, datamanager.Change{Type: t, ID: r.ID, Kind: kind})
			}
		}
		if cs.NextCursor == "" {
			return nil
		}
		return datamanager.SaveCursor(ctx, tx, models.Cursor{EntityType: t, Token: cs.NextCursor, UpdatedAt: s.now()})
	})
	return changes, err
}

// merge applies one remote record to the local cache:
//
//   - absent locally: inserted as synced (remote tombstones are skipped)
//   - synced: overwritten, or purged by a remote tombstone
//   - pending: a newer remote change puts the record in conflict and holds
//     its entries; anything else is an echo and is ignored
//   - conflict: the retained remote snapshot is refreshed when the remote
//     has moved past it
func (s *Service) merge(ctx context.Context, tx store.KV, q *queue.Queue, t models.EntityType, r models.ServerRecord) (datamanager.ChangeKind, error) {
	coll := t.Collection()
	local, err := store.GetJSON[models.RawRecord](ctx, tx, coll, r.ID)
	if errors.Is(err, common.ErrNotFound) {
		if r.Deleted {
			return "", nil
		}
		return datamanager.ChangeRemote, store.PutJSON(ctx, tx, coll, r.ID, fromServer(t, r))
	}
	if err != nil {
		return "", err
	}

	switch local.SyncState {
	case models.SyncStatePending:
		if !remoteNewer(local, r) {
			return "", nil
		}
		local.SyncState = models.SyncStateConflict
		local.Remote = r.Snapshot()
		if err := store.PutJSON(ctx, tx, coll, r.ID, local); err != nil {
			return "", err
		}
		return datamanager.ChangeConflict, q.Hold(ctx, t, r.ID, common.ErrConflict)

	case models.SyncStateConflict:
		if local.Remote != nil && r.Version <= local.Remote.Version {
			return "", nil
		}
		local.Remote = r.Snapshot()
		return datamanager.ChangeConflict, store.PutJSON(ctx, tx, coll, r.ID, local)

	default:
		if r.Version < local.Version {
			return "", nil
		}
		if r.Deleted {
			return datamanager.ChangePurged, tx.Delete(ctx, coll, r.ID)
		}
		return datamanager.ChangeRemote, store.PutJSON(ctx, tx, coll, r.ID, fromServer(t, r))
	}
}

// remoteNewer reports whether r is a change the local side has not seen.
// Versions decide when both sides carry one; otherwise the server
// timestamps are compared. A record the backend never confirmed cannot
// have been changed remotely, so a copy of it is our own unacknowledged
// create coming back.
func remoteNewer(local models.RawRecord, r models.ServerRecord) bool {
	if local.Version > 0 && r.Version > 0 {
		return r.Version > local.Version
	}
	if local.ServerUpdatedAt == nil {
		return false
	}
	return r.UpdatedAt.After(*local.ServerUpdatedAt)
}

func fromServer(t models.EntityType, r models.ServerRecord) models.RawRecord {
	at := r.UpdatedAt
	return models.RawRecord{
		ID:              r.ID,
		Type:            t,
		Data:            r.Data,
		Version:         r.Version,
		LocalUpdatedAt:  at,
		ServerUpdatedAt: &at,
		SyncState:       models.SyncStateSynced,
	}
}

// autoResolve applies last-writer-wins when configured: the side with the
// later modification time is kept.
func (s *Service) autoResolve(ctx context.Context, t models.EntityType, id string) {
	if s.cfg.AutoResolve != ResolveLastWriteWins {
		return
	}
	ctx = context.WithoutCancel(ctx)
	rec, err := s.dm.GetRaw(ctx, t, id)
	if err != nil || rec.SyncState != models.SyncStateConflict || rec.Remote == nil {
		return
	}
	choice := datamanager.TakeRemote
	if rec.LocalUpdatedAt.After(rec.Remote.UpdatedAt) {
		choice = datamanager.KeepLocal
	}
	if err := s.dm.ResolveConflict(ctx, t, id, choice); err != nil {
		s.logger.Warn(ctx, "automatic conflict resolution failed", "entity_type", t, "entity_id", id, "error", err)
		return
	}
	s.logger.Info(ctx, "conflict resolved automatically", "entity_type", t, "entity_id", id, "resolution", choice)
}
