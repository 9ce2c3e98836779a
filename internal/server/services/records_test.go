package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*RecordService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	s := NewRecordService(db, repomanager.NewPostgresRepositoryManager())
	s.now = func() time.Time { return now }
	return s, mock
}

func expectNoMutation(mock sqlmock.Sqlmock, mutationID string) {
	mock.ExpectQuery(`SELECT result FROM mutations`).
		WithArgs("acme", mutationID).
		WillReturnError(sql.ErrNoRows)
}

func expectCurrent(mock sqlmock.Sqlmock, id string, data string, version int64, deleted bool) {
	q := mock.ExpectQuery(`SELECT data, version, updated_at, deleted FROM records`).
		WithArgs("acme", "asset", id)
	if version == 0 {
		q.WillReturnError(sql.ErrNoRows)
		return
	}
	var raw []byte
	if data != "" {
		raw = []byte(data)
	}
	q.WillReturnRows(sqlmock.NewRows([]string{"data", "version", "updated_at", "deleted"}).
		AddRow(raw, version, now.Add(-time.Hour), deleted))
}

func expectWrite(mock sqlmock.Sqlmock, mutationID string, version int64, deleted bool) {
	mock.ExpectQuery(`INSERT INTO tenant_versions`).
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"current"}).AddRow(version))
	mock.ExpectExec(`INSERT INTO records`).
		WithArgs("acme", "asset", "a-1", sqlmock.AnyArg(), version, now, deleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO mutations`).
		WithArgs("acme", mutationID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestPush_Create(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-1")
	expectCurrent(mock, "a-1", "", 0, false)
	expectWrite(mock, "m-1", 1, false)
	mock.ExpectCommit()

	rec, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-1", Operation: models.OpCreate, EntityType: "asset", ID: "a-1",
		Payload: json.RawMessage(`{"name":"Pump house"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.JSONEq(t, `{"name":"Pump house"}`, string(rec.Data))
}

func TestPush_CreateOverTombstone(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-2")
	expectCurrent(mock, "a-1", "", 4, true)
	expectWrite(mock, "m-2", 5, false)
	mock.ExpectCommit()

	rec, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-2", Operation: models.OpCreate, EntityType: "asset", ID: "a-1",
		Payload: json.RawMessage(`{"name":"again"}`),
	})
	require.NoError(t, err)
	assert.False(t, rec.Deleted)
	assert.Equal(t, int64(5), rec.Version)
}

func TestPush_CreateExistingConflicts(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-1")
	expectCurrent(mock, "a-1", `{"name":"x"}`, 3, false)
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-1", Operation: models.OpCreate, EntityType: "asset", ID: "a-1",
		Payload: json.RawMessage(`{"name":"y"}`),
	})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestPush_UpdateMergesPatch(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-3")
	expectCurrent(mock, "a-1", `{"name":"a","location":"dock 4"}`, 5, false)
	expectWrite(mock, "m-3", 9, false)
	mock.ExpectCommit()

	rec, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-3", Operation: models.OpUpdate, EntityType: "asset", ID: "a-1",
		BaseVersion: 5, Payload: json.RawMessage(`{"name":"b"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.Version)
	assert.JSONEq(t, `{"name":"b","location":"dock 4"}`, string(rec.Data))
}

func TestPush_UpdateStaleBaseConflicts(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-3")
	expectCurrent(mock, "a-1", `{"name":"a"}`, 6, false)
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-3", Operation: models.OpUpdate, EntityType: "asset", ID: "a-1",
		BaseVersion: 5, Payload: json.RawMessage(`{"name":"b"}`),
	})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestPush_UpdateMissing(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-4")
	expectCurrent(mock, "a-1", "", 0, false)
	mock.ExpectRollback()

	_, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-4", Operation: models.OpUpdate, EntityType: "asset", ID: "a-1",
		BaseVersion: 1, Payload: json.RawMessage(`{"name":"b"}`),
	})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPush_DeleteTombstones(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectBegin()
	expectNoMutation(mock, "m-5")
	expectCurrent(mock, "a-1", `{"name":"a"}`, 2, false)
	expectWrite(mock, "m-5", 3, true)
	mock.ExpectCommit()

	rec, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-5", Operation: models.OpDelete, EntityType: "asset", ID: "a-1", BaseVersion: 2,
	})
	require.NoError(t, err)
	assert.True(t, rec.Deleted)
	assert.Nil(t, rec.Data)
}

func TestPush_ReplayReturnsStoredResult(t *testing.T) {
	s, mock := newService(t)

	stored, err := json.Marshal(models.Record{
		TenantID: "acme", EntityType: "asset", ID: "a-1",
		Data: json.RawMessage(`{"name":"a"}`), Version: 4, UpdatedAt: now,
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT result FROM mutations`).
		WithArgs("acme", "m-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(stored))
	mock.ExpectCommit()

	rec, err := s.Push(context.Background(), "acme", models.Mutation{
		MutationID: "m-1", Operation: models.OpCreate, EntityType: "asset", ID: "a-1",
		Payload: json.RawMessage(`{"name":"a"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Version)
	assert.Equal(t, "a-1", rec.ID)
}

func TestPush_Validation(t *testing.T) {
	s, _ := newService(t)

	tests := []struct {
		name string
		m    models.Mutation
	}{
		{"no mutation id", models.Mutation{Operation: models.OpDelete, EntityType: "asset", ID: "a"}},
		{"no id", models.Mutation{MutationID: "m", Operation: models.OpDelete, EntityType: "asset"}},
		{"payload not object", models.Mutation{MutationID: "m", Operation: models.OpCreate, EntityType: "asset", ID: "a", Payload: json.RawMessage(`[1]`)}},
		{"unknown operation", models.Mutation{MutationID: "m", Operation: "upsert", EntityType: "asset", ID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Push(context.Background(), "acme", tt.m)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestPull_Pages(t *testing.T) {
	s, mock := newService(t)

	rows := sqlmock.NewRows([]string{"id", "data", "version", "updated_at", "deleted"}).
		AddRow("a-1", []byte(`{"name":"a"}`), int64(11), now, false).
		AddRow("a-2", nil, int64(12), now, true).
		AddRow("a-3", []byte(`{"name":"c"}`), int64(14), now, false)
	mock.ExpectQuery(`SELECT id, data, version, updated_at, deleted FROM records`).
		WithArgs("acme", "asset", int64(10), 3).
		WillReturnRows(rows)

	recs, next, more, err := s.Pull(context.Background(), "acme", "asset", "10", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "12", next)
	assert.True(t, more)
	assert.True(t, recs[1].Deleted)
}

func TestPull_EmptyKeepsCursor(t *testing.T) {
	s, mock := newService(t)

	mock.ExpectQuery(`SELECT id, data`).
		WithArgs("acme", "scan", int64(0), DefaultPageSize+1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data", "version", "updated_at", "deleted"}))

	recs, next, more, err := s.Pull(context.Background(), "acme", "scan", "", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, "", next)
	assert.False(t, more)
}

func TestPull_BadCursor(t *testing.T) {
	s, _ := newService(t)

	_, _, _, err := s.Pull(context.Background(), "acme", "asset", "abc", 10)
	assert.ErrorIs(t, err, common.ErrValidation)
}
