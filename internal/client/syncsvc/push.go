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
	"golang.org/x/sync/errgroup"
)

// push drains eligible entries until none are left. Each entry is tried at
// most once per cycle.
func (s *Service) push(ctx context.Context) error {
	seen := make(map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.queue.PeekNextBatch(ctx, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		fresh := batch[:0]
		for _, e := range batch {
			if _, ok := seen[e.ID]; !ok {
				fresh = append(fresh, e)
			}
		}
		if len(fresh) == 0 {
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.PushConcurrency)
		for _, e := range fresh {
			if gctx.Err() != nil {
				break
			}
			seen[e.ID] = struct{}{}
			g.Go(func() error { return s.pushEntry(gctx, e) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// pushEntry sends one entry and settles it. Only errors that must stop the
// whole cycle are returned.
func (s *Service) pushEntry(ctx context.Context, e models.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err := s.queue.MarkInFlight(ctx, e.ID)
	if errors.Is(err, queue.ErrNotEligible) || errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var base int64
	rec, err := s.dm.GetRaw(ctx, entry.EntityType, entry.EntityID)
	switch {
	case err == nil:
		base = rec.Version
	case !errors.Is(err, common.ErrNotFound):
		_, _ = s.queue.Requeue(context.WithoutCancel(ctx), entry.ID, err)
		return err
	}

	m := models.Mutation{
		MutationID:  entry.ID,
		Type:        entry.EntityType,
		ID:          entry.EntityID,
		BaseVersion: base,
		Payload:     entry.Payload,
	}
	callCtx, cancel := s.remote(ctx)
	ack, err := s.send(callCtx, entry.Operation, m)
	cancel()

	return s.settle(context.WithoutCancel(ctx), entry, ack, err)
}

func (s *Service) send(ctx context.Context, op models.Operation, m models.Mutation) (models.ServerRecord, error) {
	switch op {
	case models.OpCreate:
		return s.backend.PushCreate(ctx, m)
	case models.OpUpdate:
		return s.backend.PushUpdate(ctx, m)
	default:
		err := s.backend.PushDelete(ctx, m)
		if errors.Is(err, common.ErrNotFound) {
			// Already gone remotely: the delete has the intended effect.
			err = nil
		}
		return models.ServerRecord{Type: m.Type, ID: m.ID, Deleted: true}, err
	}
}

func (s *Service) settle(ctx context.Context, entry models.QueueEntry, ack models.ServerRecord, cause error) error {
	log := s.logger.With("entity_type", entry.EntityType, "entity_id", entry.EntityID,
		"entry_id", entry.ID, "operation", entry.Operation)
	outcome := func(o string) {
		metrics.PushResults.WithLabelValues(string(entry.EntityType), string(entry.Operation), o).Inc()
	}

	switch {
	case cause == nil:
		id, err := s.applyAck(ctx, entry, ack)
		if err != nil {
			log.Error(ctx, "apply push result", "error", err)
			return err
		}
		outcome("ok")
		log.Debug(ctx, "pushed", "version", ack.Version)
		s.dm.Publish(datamanager.Change{Type: entry.EntityType, ID: id, Kind: datamanager.ChangeAck})
		return nil

	case errors.Is(cause, common.ErrAuthRejected):
		outcome("auth")
		if _, err := s.queue.Requeue(ctx, entry.ID, cause); err != nil {
			log.Error(ctx, "requeue after auth failure", "error", err)
		}
		return cause

	case errors.Is(cause, common.ErrConflict):
		if err := s.pushConflict(ctx, entry, cause); err != nil {
			log.Warn(ctx, "conflict snapshot unavailable, retrying later", "error", err)
			s.markFailed(ctx, entry, cause, outcome)
			return nil
		}
		outcome("conflict")
		log.Warn(ctx, "push rejected: remote changed", "error", cause)
		return nil

	case errors.Is(cause, common.ErrValidation):
		outcome("failed")
		if _, err := s.queue.MarkFailedPermanent(ctx, entry.ID, cause); err != nil {
			return err
		}
		log.Warn(ctx, "push rejected permanently", "error", cause)
		return nil

	default:
		s.markFailed(ctx, entry, cause, outcome)
		return nil
	}
}

func (s *Service) markFailed(ctx context.Context, entry models.QueueEntry, cause error, outcome func(string)) {
	updated, err := s.queue.MarkFailed(ctx, entry.ID, cause)
	if err != nil {
		s.logger.Error(ctx, "mark entry failed", "entry_id", entry.ID, "error", err)
		return
	}
	if updated.Status == models.StatusFailed {
		outcome("failed")
		s.logger.Warn(ctx, "retry ceiling reached", "entry_id", entry.ID, "attempts", updated.AttemptCount, "error", cause)
		return
	}
	outcome("transient")
	s.logger.Info(ctx, "push failed, will retry", "entry_id", entry.ID, "attempts", updated.AttemptCount,
		"next_attempt_at", updated.NextAttemptAt, "error", cause)
}

// applyAck writes the server-confirmed state and completes the entry in one
// transaction. A response for an entry that is no longer in flight (a
// duplicate, or one already settled) is ignored. It returns the entity id,
// which changes when the backend assigned its own.
func (s *Service) applyAck(ctx context.Context, entry models.QueueEntry, ack models.ServerRecord) (string, error) {
	t := entry.EntityType
	id := entry.EntityID
	err := s.dm.WithTx(ctx, t, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		cur, err := q.Get(ctx, entry.ID)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Status != models.StatusInFlight {
			return nil
		}

		rec, err := store.GetJSON[models.RawRecord](ctx, tx, t.Collection(), id)
		missing := errors.Is(err, common.ErrNotFound)
		if err != nil && !missing {
			return err
		}

		if entry.Operation == models.OpDelete {
			if !missing {
				if err := tx.Delete(ctx, t.Collection(), id); err != nil {
					return err
				}
			}
			return q.MarkCompleted(ctx, entry.ID)
		}

		if ack.ID != "" && ack.ID != id {
			if !missing {
				if err := tx.Delete(ctx, t.Collection(), id); err != nil {
					return err
				}
				rec.ID = ack.ID
			}
			if err := q.Rekey(ctx, t, id, ack.ID); err != nil {
				return err
			}
			id = ack.ID
		}
		if err := q.MarkCompleted(ctx, entry.ID); err != nil {
			return err
		}
		if missing {
			return nil
		}

		remaining, err := q.ForEntity(ctx, t, id)
		if err != nil {
			return err
		}
		at := ack.UpdatedAt
		rec.Version = ack.Version
		rec.ServerUpdatedAt = &at
		if len(remaining) == 0 && rec.SyncState != models.SyncStateConflict {
			if len(ack.Data) > 0 {
				rec.Data = ack.Data
			}
			rec.Dirty = false
			rec.SyncState = models.SyncStateSynced
		}
		return store.PutJSON(ctx, tx, t.Collection(), id, rec)
	})
	return id, err
}

// pushConflict parks the entity after the backend refused a stale base
// version: the record enters conflict with the current remote copy and its
// entries are held until the user resolves it.
func (s *Service) pushConflict(ctx context.Context, entry models.QueueEntry, cause error) error {
	t := entry.EntityType
	callCtx, cancel := s.remote(ctx)
	remote, err := s.backend.FetchRecord(callCtx, t, entry.EntityID)
	cancel()
	var snap *models.RemoteSnapshot
	switch {
	case err == nil:
		snap = remote.Snapshot()
	case errors.Is(err, common.ErrNotFound):
		snap = &models.RemoteSnapshot{Deleted: true, UpdatedAt: s.now()}
	default:
		return err
	}

	err = s.dm.WithTx(ctx, t, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		if _, err := q.Requeue(ctx, entry.ID, cause); err != nil {
			return err
		}
		if err := q.Hold(ctx, t, entry.EntityID, cause); err != nil {
			return err
		}
		rec, err := store.GetJSON[models.RawRecord](ctx, tx, t.Collection(), entry.EntityID)
		if err != nil {
			return err
		}
		rec.SyncState = models.SyncStateConflict
		rec.Remote = snap
		return store.PutJSON(ctx, tx, t.Collection(), rec.ID, rec)
	})
	if err != nil {
		return err
	}

	metrics.Conflicts.WithLabelValues(string(t), "push").Inc()
	s.dm.Publish(datamanager.Change{Type: t, ID: entry.EntityID, Kind: datamanager.ChangeConflict})
	s.autoResolve(ctx, t, entry.EntityID)
	return nil
}
