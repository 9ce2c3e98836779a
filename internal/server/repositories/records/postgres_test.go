package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestGet_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data, version, updated_at, deleted FROM records`)).
		WithArgs("acme", "asset", "a-1").
		WillReturnRows(sqlmock.NewRows([]string{"data", "version", "updated_at", "deleted"}).
			AddRow([]byte(`{"name":"x"}`), int64(7), t0, false))

	rec, err := repo.Get(context.Background(), "acme", "asset", "a-1")
	require.NoError(t, err)
	assert.Equal(t, &models.Record{
		TenantID: "acme", EntityType: "asset", ID: "a-1",
		Data: json.RawMessage(`{"name":"x"}`), Version: 7, UpdatedAt: t0,
	}, rec)
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT data, version`).
		WithArgs("acme", "asset", "nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "acme", "asset", "nope")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestGet_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT data, version`).WillReturnError(errors.New("conn reset"))

	_, err := repo.Get(context.Background(), "acme", "asset", "a-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestUpsert(t *testing.T) {
	q := `INSERT INTO records .* ON CONFLICT \(tenant_id, entity_type, id\) DO UPDATE SET`

	t.Run("writes the row", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).
			WithArgs("acme", "asset", "a-1", []byte(`{"name":"x"}`), int64(3), t0, false).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Upsert(context.Background(), &models.Record{
			TenantID: "acme", EntityType: "asset", ID: "a-1",
			Data: json.RawMessage(`{"name":"x"}`), Version: 3, UpdatedAt: t0,
		})
		assert.NoError(t, err)
	})

	t.Run("tombstone stores null data", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).
			WithArgs("acme", "asset", "a-1", nil, int64(4), t0, true).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Upsert(context.Background(), &models.Record{
			TenantID: "acme", EntityType: "asset", ID: "a-1", Version: 4, UpdatedAt: t0, Deleted: true,
		})
		assert.NoError(t, err)
	})

	t.Run("unexpected rows affected", func(t *testing.T) {
		repo, mock := newRepoWithMock(t)
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Upsert(context.Background(), &models.Record{TenantID: "acme", EntityType: "asset", ID: "a-1"})
		assert.ErrorContains(t, err, "unexpected rows affected: 0")
	})
}

func TestSelectSince(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, data, version, updated_at, deleted FROM records .* ORDER BY version\s+LIMIT \$4`).
		WithArgs("acme", "vessel", int64(5), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "version", "updated_at", "deleted"}).
			AddRow("v-1", []byte(`{"tag":"A"}`), int64(6), t0, false).
			AddRow("v-2", nil, int64(8), t0, true))

	got, err := repo.SelectSince(context.Background(), "acme", "vessel", 5, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "v-1", got[0].ID)
	assert.Equal(t, int64(8), got[1].Version)
	assert.True(t, got[1].Deleted)
	assert.Empty(t, got[1].Data)
}

func TestSelectSince_ScanError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT id, data`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "version", "updated_at", "deleted"}).
			AddRow("v-1", nil, "not-a-number", t0, false))

	_, err := repo.SelectSince(context.Background(), "acme", "vessel", 0, 10)
	assert.Error(t, err)
}
