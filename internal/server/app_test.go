package server

import (
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueToken(t *testing.T) {
	cfg := &config.Config{SecretKey: "s3cret", AccessTokenValidityDuration: time.Hour}

	token, err := IssueToken(cfg, "acme")
	require.NoError(t, err)

	tenant, err := auth.GetTenantIDFromToken(token, []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant)

	_, err = IssueToken(cfg, "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestNewApp_DoesNotConnectEagerly(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabaseDSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable"

	app, err := NewApp(cfg, io.Discard)
	require.NoError(t, err)
	require.NoError(t, app.db.Close())
}
