package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Bucket names for the two logical tables shared by the pipeline.
const (
	BucketSERP = "serp"
	BucketPage = "page"
)

// Store is a TTL-agnostic key/value store backed by SQLite. Rows carry a
// creation timestamp; the store itself never expires anything. Callers decide
// staleness, so a stale entry and a missing entry look identical to them.
// Writes are upserts with last-writer-wins semantics, which is acceptable
// because entries are idempotent derived data.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    bucket     TEXT NOT NULL,
    key        TEXT NOT NULL,
    payload    BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (bucket, key)
);`

// Open opens (and if needed creates) a store at path. Use ":memory:" for an
// ephemeral store in tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache path not configured")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite handles concurrent writers poorly over multiple connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the payload and creation time for key, or ok=false when absent.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, time.Time, bool, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, false, errors.New("cache store not configured")
	}
	var payload []byte
	var unix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM entries WHERE bucket = ? AND key = ?`,
		bucket, key).Scan(&payload, &unix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return payload, time.Unix(unix, 0).UTC(), true, nil
}

// Upsert writes payload under key, replacing any previous row and resetting
// its creation time.
func (s *Store) Upsert(ctx context.Context, bucket, key string, payload []byte) error {
	if s == nil || s.db == nil {
		return errors.New("cache store not configured")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (bucket, key, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (bucket, key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		bucket, key, payload, time.Now().UTC().Unix())
	return err
}

// PurgeOlderThan deletes rows in bucket older than age and reports how many
// were removed. Intended for operational cleanup, not correctness: readers
// already treat stale rows as misses.
func (s *Store) PurgeOlderThan(ctx context.Context, bucket string, age time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("cache store not configured")
	}
	cutoff := time.Now().UTC().Add(-age).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE bucket = ? AND created_at < ?`, bucket, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Bucket binds a Store to one logical table and a TTL, and downgrades all
// store failures to cache misses / dropped writes so callers never have to
// handle cache errors.
type Bucket struct {
	Store *Store
	Name  string
	TTL   time.Duration
}

// Get returns a fresh payload for key, or ok=false on miss, stale entry,
// unconfigured store, or store error.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, bool) {
	if b == nil || b.Store == nil {
		return nil, false
	}
	payload, createdAt, ok, err := b.Store.Get(ctx, b.Name, key)
	if err != nil {
		log.Warn().Err(err).Str("bucket", b.Name).Msg("cache read failed; treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if b.TTL > 0 && time.Since(createdAt) > b.TTL {
		return nil, false
	}
	return payload, true
}

// Put writes payload under key. Failures are logged and swallowed: a cache
// write must never fail the work that produced the payload.
func (b *Bucket) Put(ctx context.Context, key string, payload []byte) {
	if b == nil || b.Store == nil {
		return
	}
	if err := b.Store.Upsert(ctx, b.Name, key, payload); err != nil {
		log.Warn().Err(err).Str("bucket", b.Name).Msg("cache write failed; continuing")
	}
}
