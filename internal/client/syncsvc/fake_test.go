package syncsvc

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/backend"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/jsonx"
)

// fakeBackend is an in-memory backend with per-record versions drawn from
// one counter, idempotent mutation ids and stale-base detection.
type fakeBackend struct {
	backend.Backend

	mu       sync.Mutex
	records  map[string]models.ServerRecord
	results  map[string]models.ServerRecord
	version  int64
	now      time.Time
	pushes   []models.Mutation
	remapIDs bool

	// pushErr, when set, is consulted before every push.
	pushErr func(m models.Mutation) error
	pullErr error
	// entered and release, when set, make pushes announce themselves and
	// wait for release (or their context).
	entered chan string
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records: make(map[string]models.ServerRecord),
		results: make(map[string]models.ServerRecord),
		now:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func key(t models.EntityType, id string) string { return string(t) + "/" + id }

func (f *fakeBackend) gate(ctx context.Context, m models.Mutation) error {
	if f.entered != nil {
		f.entered <- m.ID
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, m)
	if f.pushErr != nil {
		return f.pushErr(m)
	}
	return nil
}

// put stores a record under the next version. Callers hold mu.
func (f *fakeBackend) put(r models.ServerRecord) models.ServerRecord {
	f.version++
	f.now = f.now.Add(time.Second)
	r.Version = f.version
	r.UpdatedAt = f.now
	f.records[key(r.Type, r.ID)] = r
	return r
}

// remoteEdit simulates a change made by another device.
func (f *fakeBackend) remoteEdit(t models.EntityType, id, data string, deleted bool) models.ServerRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.put(models.ServerRecord{Type: t, ID: id, Data: []byte(data), Deleted: deleted})
}

func (f *fakeBackend) record(t models.EntityType, id string) (models.ServerRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key(t, id)]
	return r, ok
}

func (f *fakeBackend) pushed() []models.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Mutation(nil), f.pushes...)
}

func (f *fakeBackend) PushCreate(ctx context.Context, m models.Mutation) (models.ServerRecord, error) {
	if err := f.gate(ctx, m); err != nil {
		return models.ServerRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[m.MutationID]; ok {
		return r, nil
	}
	id := m.ID
	if f.remapIDs {
		id = "srv-" + m.ID
	}
	if cur, ok := f.records[key(m.Type, id)]; ok && (!cur.Deleted || cur.Version != m.BaseVersion) {
		return models.ServerRecord{}, fmt.Errorf("%w: %s exists", common.ErrConflict, id)
	}
	r := f.put(models.ServerRecord{Type: m.Type, ID: id, Data: m.Payload})
	f.results[m.MutationID] = r
	return r, nil
}

func (f *fakeBackend) PushUpdate(ctx context.Context, m models.Mutation) (models.ServerRecord, error) {
	if err := f.gate(ctx, m); err != nil {
		return models.ServerRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[m.MutationID]; ok {
		return r, nil
	}
	cur, ok := f.records[key(m.Type, m.ID)]
	if !ok || cur.Deleted {
		return models.ServerRecord{}, fmt.Errorf("%w: %w", common.ErrValidation, common.ErrNotFound)
	}
	if cur.Version != m.BaseVersion {
		return models.ServerRecord{}, fmt.Errorf("%w: base %d, current %d", common.ErrConflict, m.BaseVersion, cur.Version)
	}
	data, err := jsonx.MergePatch(cur.Data, m.Payload)
	if err != nil {
		return models.ServerRecord{}, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	cur.Data = data
	r := f.put(cur)
	f.results[m.MutationID] = r
	return r, nil
}

func (f *fakeBackend) PushDelete(ctx context.Context, m models.Mutation) error {
	if err := f.gate(ctx, m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.results[m.MutationID]; ok {
		return nil
	}
	cur, ok := f.records[key(m.Type, m.ID)]
	if !ok || cur.Deleted {
		return fmt.Errorf("%w: %w", common.ErrValidation, common.ErrNotFound)
	}
	if cur.Version != m.BaseVersion {
		return fmt.Errorf("%w: stale delete", common.ErrConflict)
	}
	cur.Deleted = true
	cur.Data = nil
	f.results[m.MutationID] = f.put(cur)
	return nil
}

func (f *fakeBackend) PullChangesSince(_ context.Context, t models.EntityType, cursor string, limit int) (models.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return models.ChangeSet{}, f.pullErr
	}
	var after int64
	if cursor != "" {
		after, _ = strconv.ParseInt(cursor, 10, 64)
	}
	var out []models.ServerRecord
	for _, r := range f.records {
		if r.Type == t && r.Version > after {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	cs := models.ChangeSet{NextCursor: cursor}
	if len(out) > limit {
		out, cs.HasMore = out[:limit], true
	}
	cs.Records = out
	if len(out) > 0 {
		cs.NextCursor = strconv.FormatInt(out[len(out)-1].Version, 10)
	}
	return cs, nil
}

func (f *fakeBackend) FetchRecord(_ context.Context, t models.EntityType, id string) (models.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key(t, id)]
	if !ok {
		return models.ServerRecord{}, fmt.Errorf("%w: %w", common.ErrValidation, common.ErrNotFound)
	}
	return r, nil
}

func (f *fakeBackend) Ping(context.Context) error { return nil }
