package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/backend"
	clientmodels "github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:0", logging.Discard(), &fakeRecords{}, "secret", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()

	srv := NewGRPCServer("127.0.0.1:99999", logging.Discard(), &fakeRecords{}, "secret", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Run(ctx); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}

// memRecords is an in-memory record service with the same version rules as
// the Postgres-backed one.
type memRecords struct {
	mu      sync.Mutex
	version int64
	rows    map[string]*models.Record
}

func newMemRecords() *memRecords {
	return &memRecords{rows: map[string]*models.Record{}}
}

func key(tenant, typ, id string) string { return tenant + "/" + typ + "/" + id }

func (m *memRecords) Push(_ context.Context, tenantID string, mut models.Mutation) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.rows[key(tenantID, mut.EntityType, mut.ID)]
	live := cur != nil && !cur.Deleted
	next := &models.Record{TenantID: tenantID, EntityType: mut.EntityType, ID: mut.ID}
	switch mut.Operation {
	case models.OpCreate:
		if live {
			return nil, fmt.Errorf("%w: exists", common.ErrConflict)
		}
		next.Data = mut.Payload
	case models.OpUpdate:
		if !live {
			return nil, common.ErrNotFound
		}
		if cur.Version != mut.BaseVersion {
			return nil, fmt.Errorf("%w: stale", common.ErrConflict)
		}
		next.Data = mut.Payload
	case models.OpDelete:
		if !live {
			return nil, common.ErrNotFound
		}
		next.Deleted = true
	}
	m.version++
	next.Version = m.version
	next.UpdatedAt = time.Now().UTC()
	m.rows[key(tenantID, mut.EntityType, mut.ID)] = next
	return next, nil
}

func (m *memRecords) Pull(_ context.Context, tenantID, entityType, cursor string, limit int) ([]*models.Record, string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	after, _ := strconv.ParseInt(cursor, 10, 64)
	var out []*models.Record
	for _, r := range m.rows {
		if r.TenantID == tenantID && r.EntityType == entityType && r.Version > after {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	next := cursor
	if len(out) > 0 {
		next = strconv.FormatInt(out[len(out)-1].Version, 10)
	}
	return out, next, hasMore, nil
}

func (m *memRecords) Get(_ context.Context, tenantID, entityType, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[key(tenantID, entityType, id)]
	if !ok {
		return nil, common.ErrNotFound
	}
	return r, nil
}

const testSecret = "e2e-secret"

func startServer(t *testing.T, rs recordService) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer("bufnet", logging.Discard(), rs, testSecret, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return lis
}

func dialBackend(t *testing.T, lis *bufconn.Listener, tokens backend.TokenSource) *backend.GRPCBackend {
	t.Helper()
	b, err := backend.Dial("passthrough:///bufnet", tokens,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func tokenFor(t *testing.T, tenant string, ttl time.Duration) string {
	t.Helper()
	token, err := auth.GenerateToken(tenant, []byte(testSecret), ttl)
	require.NoError(t, err)
	return token
}

func TestEndToEnd_ClientBackend(t *testing.T) {
	lis := startServer(t, newMemRecords())
	b := dialBackend(t, lis, backend.NewStaticTokenSource(tokenFor(t, "acme", time.Hour)))
	ctx := context.Background()

	created, err := b.PushCreate(ctx, clientmodels.Mutation{
		MutationID: "m-1", Type: clientmodels.EntityAsset, ID: "a-1",
		Payload: json.RawMessage(`{"name":"Pump house","location":"Dock 4"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, clientmodels.EntityAsset, created.Type)

	_, err = b.PushCreate(ctx, clientmodels.Mutation{MutationID: "m-2", Type: clientmodels.EntityAsset, ID: "a-1", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, common.ErrConflict)

	_, err = b.PushUpdate(ctx, clientmodels.Mutation{MutationID: "m-3", Type: clientmodels.EntityAsset, ID: "a-1", BaseVersion: 0, Payload: json.RawMessage(`{"name":"x"}`)})
	assert.ErrorIs(t, err, common.ErrConflict)

	updated, err := b.PushUpdate(ctx, clientmodels.Mutation{MutationID: "m-4", Type: clientmodels.EntityAsset, ID: "a-1", BaseVersion: 1, Payload: json.RawMessage(`{"name":"Pump house 2","location":"Dock 4"}`)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	page, err := b.PullChangesSince(ctx, clientmodels.EntityAsset, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "2", page.NextCursor)
	assert.False(t, page.HasMore)
	assert.JSONEq(t, `{"name":"Pump house 2","location":"Dock 4"}`, string(page.Records[0].Data))

	err = b.PushDelete(ctx, clientmodels.Mutation{MutationID: "m-5", Type: clientmodels.EntityAsset, ID: "a-404"})
	assert.ErrorIs(t, err, common.ErrNotFound)

	fetched, err := b.FetchRecord(ctx, clientmodels.EntityAsset, "a-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetched.Version)

	require.NoError(t, b.Ping(ctx))
}

func TestEndToEnd_TenantsAreIsolated(t *testing.T) {
	lis := startServer(t, newMemRecords())
	acme := dialBackend(t, lis, backend.NewStaticTokenSource(tokenFor(t, "acme", time.Hour)))
	globex := dialBackend(t, lis, backend.NewStaticTokenSource(tokenFor(t, "globex", time.Hour)))
	ctx := context.Background()

	_, err := acme.PushCreate(ctx, clientmodels.Mutation{MutationID: "m-1", Type: clientmodels.EntityScan, ID: "s-1", Payload: json.RawMessage(`{"method":"UT"}`)})
	require.NoError(t, err)

	page, err := globex.PullChangesSince(ctx, clientmodels.EntityScan, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

// refreshingTokens starts with an expired token the local check cannot see
// and swaps in a fresh one on Refresh.
type refreshingTokens struct {
	mu        sync.Mutex
	token     string
	fresh     string
	refreshes int
}

func (r *refreshingTokens) Token(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token, nil
}

func (r *refreshingTokens) Refresh(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshes++
	r.token = r.fresh
	return nil
}

func TestEndToEnd_ExpiredTokenIsRefreshed(t *testing.T) {
	lis := startServer(t, newMemRecords())
	tokens := &refreshingTokens{
		token: tokenFor(t, "acme", -time.Minute),
		fresh: tokenFor(t, "acme", time.Hour),
	}
	b := dialBackend(t, lis, tokens)

	_, err := b.PullChangesSince(context.Background(), clientmodels.EntityVessel, "", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.refreshes)
}

func TestEndToEnd_WrongSecretRejected(t *testing.T) {
	lis := startServer(t, newMemRecords())
	forged, err := auth.GenerateToken("acme", []byte("other"), time.Hour)
	require.NoError(t, err)
	b := dialBackend(t, lis, backend.NewStaticTokenSource(forged))

	_, err = b.PullChangesSince(context.Background(), clientmodels.EntityVessel, "", 10)
	assert.ErrorIs(t, err, common.ErrAuthRejected)
}
