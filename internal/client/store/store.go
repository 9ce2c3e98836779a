// Package store is the persistent local key/value store behind the offline
// cache. Every collection lives in one SQLite file so a single transaction
// can span entity data, the sync queue and the pull cursors.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database. Used by tests.
const MemoryPath = ":memory:"

// Item is one stored value with its position in insertion order.
type Item struct {
	Key       string
	Value     []byte
	Seq       int64
	UpdatedAt time.Time
}

// KV is the key/value contract. *Store implements it with one statement per
// call; the handle passed to WithTransaction implements it inside a single
// transaction limited to the declared collections.
type KV interface {
	Put(ctx context.Context, collection, key string, value []byte) error
	// Get returns common.ErrNotFound when the key is absent.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, collection, key string) error
	// QueryAll returns matching items in insertion order. A nil predicate
	// matches everything.
	QueryAll(ctx context.Context, collection string, pred func(Item) bool) ([]Item, error)
	Count(ctx context.Context, collection string) (int, error)
}

// Store owns the SQLite handle.
type Store struct {
	db      *sql.DB
	logger  logging.Logger
	now     func() time.Time
	version int64
	kv
}

type options struct {
	logger     logging.Logger
	now        func() time.Time
	migrations []Migration
}

type Option func(*options)

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMigrations registers data migrations that run after the built-in schema.
func WithMigrations(m ...Migration) Option {
	return func(o *options) { o.migrations = append(o.migrations, m...) }
}

// Open opens (creating if needed) the store at path and brings its schema up
// to date. Any failure is reported as common.ErrStorageUnavailable so callers
// can fall back to remote-only mode.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	o := options{logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if path != MemoryPath {
		if _, err := filex.EnsureParentDir(path); err != nil {
			return nil, unavailable(err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable(err)
	}
	// One connection: SQLite allows a single writer, and an in-memory
	// database only lives as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, unavailable(err)
		}
	}

	s := &Store{
		db:     db,
		logger: o.logger.With("module", "store"),
		now:    o.now,
		kv:     kv{q: db, now: o.now},
	}
	if err := s.migrate(ctx, o.migrations); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	return s, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", common.ErrStorageUnavailable, err)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Version reports the schema version applied at Open.
func (s *Store) Version() int64 {
	return s.version
}

// WithTransaction runs fn inside one transaction. Writes to the listed
// collections commit together or not at all; touching any other collection
// through tx fails with common.ErrCollectionOutOfScope. fn must only use tx:
// calling methods on s directly from inside fn blocks on the single
// connection.
func (s *Store) WithTransaction(ctx context.Context, collections []string, fn func(ctx context.Context, tx KV) error) error {
	if len(collections) == 0 {
		return errors.New("store: transaction needs at least one collection")
	}
	scope := make(map[string]struct{}, len(collections))
	for _, c := range collections {
		scope[c] = struct{}{}
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return fn(ctx, &kv{q: q, now: s.now, scope: scope})
	})
}

// kv implements KV over any dbx.DBTX. A non-nil scope restricts the
// collections it may touch.
type kv struct {
	q     dbx.DBTX
	now   func() time.Time
	scope map[string]struct{}
}

func (k *kv) check(collection string) error {
	if collection == "" {
		return errors.New("store: empty collection name")
	}
	if k.scope == nil {
		return nil
	}
	if _, ok := k.scope[collection]; !ok {
		return fmt.Errorf("%w: %s", common.ErrCollectionOutOfScope, collection)
	}
	return nil
}

func (k *kv) Put(ctx context.Context, collection, key string, value []byte) error {
	if err := k.check(collection); err != nil {
		return err
	}
	query := `INSERT INTO records (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	if _, err := k.q.ExecContext(ctx, query, collection, key, value, k.now().UnixNano()); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

func (k *kv) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if err := k.check(collection); err != nil {
		return nil, err
	}
	var body []byte
	err := k.q.QueryRowContext(ctx, `SELECT body FROM records WHERE collection = ? AND id = ?`, collection, key).Scan(&body)
	if dbx.IsNoRows(err) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return body, nil
}

func (k *kv) Delete(ctx context.Context, collection, key string) error {
	if err := k.check(collection); err != nil {
		return err
	}
	if _, err := k.q.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (k *kv) QueryAll(ctx context.Context, collection string, pred func(Item) bool) ([]Item, error) {
	if err := k.check(collection); err != nil {
		return nil, err
	}
	rows, err := k.q.QueryContext(ctx, `SELECT id, body, seq, updated_at FROM records WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it      Item
			updated int64
		)
		if err := rows.Scan(&it.Key, &it.Value, &it.Seq, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		it.UpdatedAt = time.Unix(0, updated)
		if pred == nil || pred(it) {
			items = append(items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return items, nil
}

func (k *kv) Count(ctx context.Context, collection string) (int, error) {
	if err := k.check(collection); err != nil {
		return 0, err
	}
	var n int
	if err := k.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return n, nil
}
