// Package server wires the reference sync backend: PostgreSQL storage,
// schema migrations and the gRPC endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	gs "github.com/dmitrijs2005/fieldsync/internal/server/grpc"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewApp(c *config.Config, out io.Writer) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat, out)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		repomanager: repomanager.NewPostgresRepositoryManager(),
	}, nil
}

// Run migrates the schema and serves gRPC until ctx is cancelled.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()

	app.logger.Info(ctx, "Starting app...")

	if err := app.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	rs := services.NewRecordService(app.db, app.repomanager)
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, rs, app.config.SecretKey, app.config.PullPageLimit)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server stopped", "error", err)
		return err
	}
	app.logger.Info(ctx, "App stopped")
	return nil
}

// IssueToken signs an access token for tenantID with the configured secret.
func IssueToken(c *config.Config, tenantID string) (string, error) {
	return auth.GenerateToken(tenantID, []byte(c.SecretKey), c.AccessTokenValidityDuration)
}
