package docstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	sqliteCreateTable = `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, key)
	)`

	sqliteList = `SELECT key, data FROM documents WHERE collection = ? ORDER BY key`
	sqliteGet  = `SELECT data FROM documents WHERE collection = ? AND key = ?`

	sqliteUpsert = `INSERT INTO documents (collection, key, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`

	sqliteDelete = `DELETE FROM documents WHERE collection = ? AND key = ?`

	sqliteInsertIfAbsent = `INSERT INTO documents (collection, key, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, key) DO NOTHING`

	sqliteUpdateIfQuantity = `UPDATE documents SET data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE collection = ? AND key = ? AND json_extract(data, '$.quantity') = ?`

	sqliteDeleteIfQuantity = `DELETE FROM documents WHERE collection = ? AND key = ? AND json_extract(data, '$.quantity') = ?`
)

// SQLiteStore keeps documents of every collection in one SQLite table.
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

// NewSQLiteStore opens the database file at path and ensures the table exists.
func NewSQLiteStore(ctx context.Context, path, collection string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !os.IsExist(err) {
		return nil, errors.Wrap(err, "failed to create parent directory for sqlite db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite db")
	}
	// one writer at a time keeps SQLITE_BUSY away from concurrent callers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteCreateTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create documents table")
	}

	if collection == "" {
		collection = DefaultCollection
	}
	return &SQLiteStore{db: db, collection: collection}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "sqlite ping failed")
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, sqliteList, s.collection)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		doc, err := decodeDocument([]byte(data))
		if err != nil {
			return nil, errors.Wrapf(err, "document %s", key)
		}
		entries = append(entries, Entry{Key: key, Document: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	return entries, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, sqliteGet, s.collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentMissing
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to get document %s", key)
	}
	return decodeDocument([]byte(data))
}

func (s *SQLiteStore) Set(ctx context.Context, key string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsert, s.collection, key, string(data))
	return errors.Wrapf(err, "failed to set document %s", key)
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, sqliteDelete, s.collection, key)
	return errors.Wrapf(err, "failed to delete document %s", key)
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	var (
		res sql.Result
		err error
	)

	switch {
	case expected <= 0 && next <= 0:
		_, err = s.Get(ctx, key)
		if errors.Is(err, ErrDocumentMissing) {
			return true, nil
		}
		return false, err

	case expected <= 0:
		var data []byte
		if data, err = encodeDocument(Document{Quantity: next}); err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx, sqliteInsertIfAbsent, s.collection, key, string(data))

	case next <= 0:
		res, err = s.db.ExecContext(ctx, sqliteDeleteIfQuantity, s.collection, key, expected)

	default:
		var data []byte
		if data, err = encodeDocument(Document{Quantity: next}); err != nil {
			return false, err
		}
		res, err = s.db.ExecContext(ctx, sqliteUpdateIfQuantity, string(data), s.collection, key, expected)
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}
	return affected == 1, nil
}
