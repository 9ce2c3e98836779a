package mutations

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPostgresRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT result FROM mutations`).
		WithArgs("acme", "m-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow([]byte(`{"version":3}`)))
	got, err := repo.Get(ctx, "acme", "m-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3}`, string(got))

	mock.ExpectQuery(`SELECT result FROM mutations`).
		WithArgs("acme", "m-2").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.Get(ctx, "acme", "m-2")
	assert.ErrorIs(t, err, common.ErrNotFound)

	mock.ExpectExec(`INSERT INTO mutations`).
		WithArgs("acme", "m-2", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(ctx, "acme", "m-2", []byte(`{}`)))

	mock.ExpectExec(`INSERT INTO mutations`).WillReturnError(errors.New("duplicate key"))
	assert.Error(t, repo.Save(ctx, "acme", "m-2", []byte(`{}`)))

	assert.NoError(t, mock.ExpectationsWereMet())
}
