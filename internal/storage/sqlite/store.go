package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Datastore implements datastore.Batching at compile time.
var _ datastore.Batching = (*Datastore)(nil)

// Datastore is a go-datastore backed by a single sqlite key/value table.
type Datastore struct {
	db     *sql.DB
	name   string
	dbPath string
}

// OpenDatastore opens (creating if needed) the state database for name
// under basePath.
func OpenDatastore(basePath, name string) (*Datastore, error) {
	dir := filepath.Join(basePath, "state", name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := db.Exec(
		`INSERT INTO store_meta (name, created_at) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, now); err != nil {
		db.Close()
		return nil, fmt.Errorf("record store metadata: %w", err)
	}

	return &Datastore{
		db:     db,
		name:   name,
		dbPath: dbPath,
	}, nil
}

func (s *Datastore) Name() string {
	return s.name
}

func (s *Datastore) DBPath() string {
	return s.dbPath
}

func (s *Datastore) Close() error {
	return s.db.Close()
}

func (s *Datastore) Get(ctx context.Context, key datastore.Key) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key.String()).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, datastore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Datastore) Has(ctx context.Context, key datastore.Key) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM kv WHERE key = ?`, key.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Datastore) GetSize(ctx context.Context, key datastore.Key) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx,
		`SELECT length(value) FROM kv WHERE key = ?`, key.String()).Scan(&size)
	if err == sql.ErrNoRows {
		return -1, datastore.ErrNotFound
	}
	if err != nil {
		return -1, err
	}
	return size, nil
}

func (s *Datastore) Put(ctx context.Context, key datastore.Key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key.String(), value)
	return err
}

func (s *Datastore) Delete(ctx context.Context, key datastore.Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key.String())
	return err
}

func (s *Datastore) Sync(ctx context.Context, prefix datastore.Key) error {
	return nil
}

// Query narrows rows by prefix in SQL and applies the rest of q in memory.
func (s *Datastore) Query(ctx context.Context, q query.Query) (query.Results, error) {
	var (
		rows *sql.Rows
		err  error
	)
	prefix := datastore.NewKey(q.Prefix).String()
	if prefix == "/" {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	} else {
		// Keys under prefix sort between "prefix/" and "prefix0".
		rows, err = s.db.QueryContext(ctx,
			`SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
			prefix+"/", prefix+"0")
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []query.Entry
	for rows.Next() {
		var e query.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		e.Size = len(e.Value)
		if q.KeysOnly {
			e.Value = nil
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return query.NaiveQueryApply(q, query.ResultsWithEntries(q, entries)), nil
}

func (s *Datastore) Batch(ctx context.Context) (datastore.Batch, error) {
	return &batch{ds: s, ops: make(map[datastore.Key]batchOp)}, nil
}

type batchOp struct {
	value  []byte
	delete bool
}

type batch struct {
	ds  *Datastore
	ops map[datastore.Key]batchOp
}

func (b *batch) Put(ctx context.Context, key datastore.Key, value []byte) error {
	b.ops[key] = batchOp{value: value}
	return nil
}

func (b *batch) Delete(ctx context.Context, key datastore.Key) error {
	b.ops[key] = batchOp{delete: true}
	return nil
}

// Commit applies every buffered operation in one sqlite transaction.
func (b *batch) Commit(ctx context.Context) error {
	tx, err := b.ds.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return err
	}
	defer upsert.Close()

	del, err := tx.PrepareContext(ctx, `DELETE FROM kv WHERE key = ?`)
	if err != nil {
		return err
	}
	defer del.Close()

	for key, op := range b.ops {
		if op.delete {
			_, err = del.ExecContext(ctx, key.String())
		} else {
			_, err = upsert.ExecContext(ctx, key.String(), op.value)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	b.ops = make(map[datastore.Key]batchOp)
	return nil
}
