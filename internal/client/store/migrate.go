package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/fieldsync/internal/client/store/migrations"
	"github.com/pressly/goose/v3"
)

// FirstDataVersion is the lowest version available to caller migrations;
// version 1 is the store's own table layout.
const FirstDataVersion = 2

// Migration is a data migration run inside one transaction when the schema
// moves past Version. From is the version the store was at before this step.
// Up must leave every collection it owns in the new shape.
type Migration struct {
	Version int64
	Name    string
	Up      func(ctx context.Context, tx KV, from int64) error
}

func (s *Store) migrate(ctx context.Context, extra []Migration) error {
	sort.Slice(extra, func(i, j int) bool { return extra[i].Version < extra[j].Version })

	goMigrations := make([]*goose.Migration, 0, len(extra))
	for _, m := range extra {
		if m.Version < FirstDataVersion {
			return fmt.Errorf("migration %q: version %d is reserved", m.Name, m.Version)
		}
		goMigrations = append(goMigrations, goose.NewGoMigration(m.Version, &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				from, err := appliedBefore(ctx, tx, m.Version)
				if err != nil {
					return err
				}
				s.logger.Info(ctx, "running data migration", "version", m.Version, "name", m.Name, "from", from)
				return m.Up(ctx, &kv{q: tx, now: s.now}, from)
			},
		}, nil))
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, migrations.FS,
		goose.WithGoMigrations(goMigrations...),
		goose.WithDisableGlobalRegistry(true),
	)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug(ctx, "migration applied", "version", r.Source.Version, "took", r.Duration)
	}

	v, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	s.version = v
	return nil
}

func appliedBefore(ctx context.Context, tx *sql.Tx, version int64) (int64, error) {
	var from int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM goose_db_version WHERE is_applied = 1 AND version_id < ?`,
		version,
	).Scan(&from)
	if err != nil {
		return 0, fmt.Errorf("read applied version: %w", err)
	}
	return from, nil
}
