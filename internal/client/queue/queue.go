// Package queue is the durable outbox of local mutations awaiting push.
//
// Entries live in the "sync_queue" collection of the local store. They are
// processed in strict FIFO order per entity (type and id) and concurrently
// across entities:
// PeekNextBatch only ever hands out the oldest entry of each entity, and an
// entity whose oldest entry is in flight, held, backing off or failed is
// skipped entirely.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/jsonx"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/google/uuid"
)

// Collection is the store collection holding queue entries.
const Collection = "sync_queue"

// ErrNotEligible is returned when an entry is not in the state an operation
// expects (for example MarkInFlight on an entry that is already in flight).
var ErrNotEligible = errors.New("queue entry not eligible")

// Transactor opens store transactions. *store.Store implements it.
type Transactor interface {
	WithTransaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx store.KV) error) error
}

// Queue is bound either to a Transactor (each call runs in its own
// transaction) or, through Bind, to a caller's open transaction.
type Queue struct {
	db     Transactor
	kv     store.KV
	policy Policy
	now    func() time.Time
	logger logging.Logger
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

func New(db Transactor, policy Policy, opts ...Option) *Queue {
	q := &Queue{db: db, policy: policy.withDefaults(), now: time.Now, logger: logging.Discard()}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("module", "queue")
	return q
}

// Bind returns a copy of q that works inside tx. The transaction must
// include Collection in its scope.
func (q *Queue) Bind(tx store.KV) *Queue {
	c := *q
	c.kv = tx
	return &c
}

func (q *Queue) Policy() Policy {
	return q.policy
}

func (q *Queue) run(ctx context.Context, fn func(ctx context.Context, kv store.KV) error) error {
	if q.kv != nil {
		return fn(ctx, q.kv)
	}
	return q.db.WithTransaction(ctx, []string{Collection}, fn)
}

func (q *Queue) all(ctx context.Context, kv store.KV) ([]models.QueueEntry, error) {
	return store.QueryJSON[models.QueueEntry](ctx, kv, Collection, nil)
}

// entityKey identifies one outbox lane. Ids are only unique within a type.
type entityKey struct {
	t  models.EntityType
	id string
}

func keyOf(e models.QueueEntry) entityKey {
	return entityKey{t: e.EntityType, id: e.EntityID}
}

func (q *Queue) forEntity(ctx context.Context, kv store.KV, t models.EntityType, entityID string) ([]models.QueueEntry, error) {
	k := entityKey{t: t, id: entityID}
	return store.QueryJSON(ctx, kv, Collection, func(e models.QueueEntry) bool { return keyOf(e) == k })
}

func (q *Queue) get(ctx context.Context, kv store.KV, id string) (models.QueueEntry, error) {
	return store.GetJSON[models.QueueEntry](ctx, kv, Collection, id)
}

func (q *Queue) put(ctx context.Context, kv store.KV, e models.QueueEntry) error {
	return store.PutJSON(ctx, kv, Collection, e.ID, e)
}

// EnqueueResult tells the caller what Enqueue did with the new mutation.
type EnqueueResult struct {
	Entry models.QueueEntry
	// Coalesced is set when the mutation was folded into an existing entry.
	Coalesced bool
	// Cancelled is set when a delete cancelled a create that never reached
	// the backend: no entry remains and the caller should purge the record.
	Cancelled bool
}

// coalescible reports whether e can still absorb later edits: it is pending
// and has never been sent, so the backend cannot have seen its payload under
// this mutation id.
func coalescible(e models.QueueEntry) bool {
	return e.Status == models.StatusPending && e.AttemptCount == 0
}

// Enqueue appends a mutation, coalescing it into the entity's last entry
// when that entry has not been sent yet:
//
//   - update after create: the patch is applied to the create's document
//   - update after update: the patches are composed, unless they cannot be
//     (see jsonx.Merge), in which case a new entry is appended
//   - delete after update: the update becomes the delete
//   - delete after a lone create: both vanish (Cancelled)
//
// New entries inherit the hold flag of the entity's existing entries.
func (q *Queue) Enqueue(ctx context.Context, e models.QueueEntry) (EnqueueResult, error) {
	if e.EntityID == "" || !e.EntityType.Valid() {
		return EnqueueResult{}, common.Invalid("entry", "entity type and id are required")
	}

	var res EnqueueResult
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		existing, err := q.forEntity(ctx, kv, e.EntityType, e.EntityID)
		if err != nil {
			return err
		}

		if len(existing) > 0 {
			last := existing[len(existing)-1]
			if e.Operation == models.OpCreate {
				return fmt.Errorf("%w: %s %s has outstanding mutations", common.ErrAlreadyExists, e.EntityType, e.EntityID)
			}
			if last.Operation == models.OpDelete {
				return fmt.Errorf("%w: %s %s already has a pending delete", common.ErrNotFound, e.EntityType, e.EntityID)
			}

			folded := coalescible(last)
			if folded && e.Operation == models.OpUpdate && last.Operation == models.OpUpdate {
				merged, err := jsonx.Merge(last.Payload, e.Payload)
				switch {
				case errors.Is(err, jsonx.ErrNotComposable):
					folded = false
				case err != nil:
					return err
				default:
					last.Payload = merged
				}
			}
			if folded {
				switch {
				case e.Operation == models.OpUpdate && last.Operation == models.OpCreate:
					merged, err := jsonx.MergePatch(last.Payload, e.Payload)
					if err != nil {
						return err
					}
					last.Payload = merged
				case e.Operation == models.OpDelete && last.Operation == models.OpCreate && len(existing) == 1:
					if err := kv.Delete(ctx, Collection, last.ID); err != nil {
						return err
					}
					res = EnqueueResult{Entry: last, Cancelled: true}
					return nil
				case e.Operation == models.OpDelete && last.Operation == models.OpUpdate:
					last.Operation = models.OpDelete
					last.Payload = nil
				}
				if err := q.put(ctx, kv, last); err != nil {
					return err
				}
				res = EnqueueResult{Entry: last, Coalesced: true}
				return nil
			}
			e.Held = last.Held
		}

		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.EnqueuedAt = q.now()
		e.Status = models.StatusPending
		e.AttemptCount = 0
		e.NextAttemptAt = nil
		if err := q.put(ctx, kv, e); err != nil {
			return err
		}
		res = EnqueueResult{Entry: e}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	q.logger.Debug(ctx, "enqueued", "entity_type", e.EntityType, "entity_id", e.EntityID,
		"operation", e.Operation, "coalesced", res.Coalesced, "cancelled", res.Cancelled)
	return res, nil
}

// PeekNextBatch returns up to max entries (max <= 0 means no cap), at most
// one per entity: the entity's oldest entry, and only if it is eligible now.
func (q *Queue) PeekNextBatch(ctx context.Context, max int) ([]models.QueueEntry, error) {
	var batch []models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		entries, err := q.all(ctx, kv)
		if err != nil {
			return err
		}
		now := q.now()
		seen := make(map[entityKey]struct{})
		for _, e := range entries {
			k := keyOf(e)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if !e.Eligible(now) {
				continue
			}
			batch = append(batch, e)
			if max > 0 && len(batch) == max {
				break
			}
		}
		return nil
	})
	return batch, err
}

// update loads entry id, applies fn and writes it back.
func (q *Queue) update(ctx context.Context, id string, fn func(e *models.QueueEntry) error) (models.QueueEntry, error) {
	var out models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		e, err := q.get(ctx, kv, id)
		if err != nil {
			return err
		}
		if err := fn(&e); err != nil {
			return err
		}
		out = e
		return q.put(ctx, kv, e)
	})
	return out, err
}

// Get returns the entry or common.ErrNotFound.
func (q *Queue) Get(ctx context.Context, id string) (models.QueueEntry, error) {
	var out models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		var err error
		out, err = q.get(ctx, kv, id)
		return err
	})
	return out, err
}

// MarkInFlight claims a pending entry and returns its current contents,
// which may include edits coalesced after the entry was peeked.
func (q *Queue) MarkInFlight(ctx context.Context, id string) (models.QueueEntry, error) {
	return q.update(ctx, id, func(e *models.QueueEntry) error {
		if !e.Eligible(q.now()) {
			return fmt.Errorf("%w: %s is %s", ErrNotEligible, e.ID, e.Status)
		}
		e.Status = models.StatusInFlight
		return nil
	})
}

// MarkCompleted purges the entry. Completing an unknown entry is a no-op, so
// replays and duplicate responses are harmless.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.run(ctx, func(ctx context.Context, kv store.KV) error {
		return kv.Delete(ctx, Collection, id)
	})
}

// MarkFailed records a retryable failure. Below the attempt ceiling the entry
// goes back to pending behind a backoff delay; at the ceiling it fails.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) (models.QueueEntry, error) {
	return q.update(ctx, id, func(e *models.QueueEntry) error {
		e.AttemptCount++
		e.LastError = errText(cause)
		if e.AttemptCount >= q.policy.MaxAttempts {
			e.Status = models.StatusFailed
			e.NextAttemptAt = nil
			return nil
		}
		next := q.now().Add(q.policy.Delay(e.AttemptCount))
		e.Status = models.StatusPending
		e.NextAttemptAt = &next
		return nil
	})
}

// MarkFailedPermanent fails the entry without further automatic retries.
func (q *Queue) MarkFailedPermanent(ctx context.Context, id string, cause error) (models.QueueEntry, error) {
	return q.update(ctx, id, func(e *models.QueueEntry) error {
		e.AttemptCount++
		e.LastError = errText(cause)
		e.Status = models.StatusFailed
		e.Permanent = true
		e.NextAttemptAt = nil
		return nil
	})
}

// Requeue returns an in-flight entry to pending without counting an attempt.
// Used when a push was never answered for reasons unrelated to the entry.
func (q *Queue) Requeue(ctx context.Context, id string, cause error) (models.QueueEntry, error) {
	return q.update(ctx, id, func(e *models.QueueEntry) error {
		e.Status = models.StatusPending
		if cause != nil {
			e.LastError = errText(cause)
		}
		return nil
	})
}

// Retry makes a failed entry eligible again with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) (models.QueueEntry, error) {
	return q.update(ctx, id, func(e *models.QueueEntry) error {
		if e.Status != models.StatusFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotEligible, e.ID, e.Status)
		}
		e.Status = models.StatusPending
		e.AttemptCount = 0
		e.Permanent = false
		e.NextAttemptAt = nil
		return nil
	})
}

// Discard removes an entry regardless of state and returns what was removed.
func (q *Queue) Discard(ctx context.Context, id string) (models.QueueEntry, error) {
	var out models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		e, err := q.get(ctx, kv, id)
		if err != nil {
			return err
		}
		out = e
		return kv.Delete(ctx, Collection, id)
	})
	return out, err
}

// RecoverInFlight resets entries left in flight by a crash. The backend
// deduplicates by entry id, so resending them is safe.
func (q *Queue) RecoverInFlight(ctx context.Context) (int, error) {
	var n int
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		entries, err := q.all(ctx, kv)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Status != models.StatusInFlight {
				continue
			}
			e.Status = models.StatusPending
			if err := q.put(ctx, kv, e); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if n > 0 {
		q.logger.Info(ctx, "recovered in-flight entries", "count", n)
	}
	return n, err
}

// Hold parks every entry of an entity until Release, recording reason.
func (q *Queue) Hold(ctx context.Context, t models.EntityType, entityID string, reason error) error {
	return q.setHeld(ctx, t, entityID, true, reason)
}

func (q *Queue) Release(ctx context.Context, t models.EntityType, entityID string) error {
	return q.setHeld(ctx, t, entityID, false, nil)
}

func (q *Queue) setHeld(ctx context.Context, t models.EntityType, entityID string, held bool, reason error) error {
	return q.run(ctx, func(ctx context.Context, kv store.KV) error {
		entries, err := q.forEntity(ctx, kv, t, entityID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			e.Held = held
			if reason != nil {
				e.LastError = errText(reason)
			}
			if err := q.put(ctx, kv, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Rekey moves an entity's entries to a server-assigned id.
func (q *Queue) Rekey(ctx context.Context, t models.EntityType, oldID, newID string) error {
	return q.run(ctx, func(ctx context.Context, kv store.KV) error {
		entries, err := q.forEntity(ctx, kv, t, oldID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			e.EntityID = newID
			if err := q.put(ctx, kv, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// DropEntity removes every entry of an entity and returns how many went.
func (q *Queue) DropEntity(ctx context.Context, t models.EntityType, entityID string) (int, error) {
	var n int
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		entries, err := q.forEntity(ctx, kv, t, entityID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := kv.Delete(ctx, Collection, e.ID); err != nil {
				return err
			}
		}
		n = len(entries)
		return nil
	})
	return n, err
}

// ForEntity lists an entity's entries, oldest first.
func (q *Queue) ForEntity(ctx context.Context, t models.EntityType, entityID string) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		var err error
		out, err = q.forEntity(ctx, kv, t, entityID)
		return err
	})
	return out, err
}

// All lists every entry, oldest first.
func (q *Queue) All(ctx context.Context) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := q.run(ctx, func(ctx context.Context, kv store.KV) error {
		var err error
		out, err = q.all(ctx, kv)
		return err
	})
	return out, err
}

// Failed lists entries needing user attention.
func (q *Queue) Failed(ctx context.Context) ([]models.QueueEntry, error) {
	all, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueEntry, 0)
	for _, e := range all {
		if e.Status == models.StatusFailed {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats counts entries by state. Held entries are also counted under their status.
type Stats struct {
	Pending  int
	InFlight int
	Failed   int
	Held     int
}

func (s Stats) Total() int {
	return s.Pending + s.InFlight + s.Failed
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	all, err := q.All(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, e := range all {
		switch e.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusInFlight:
			s.InFlight++
		case models.StatusFailed:
			s.Failed++
		}
		if e.Held {
			s.Held++
		}
	}
	return s, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
