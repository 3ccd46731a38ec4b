package docstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const defaultPostgresDSN = "postgres://localhost/pantry?sslmode=disable"

// pgxConn is the subset of *pgxpool.Pool used by PostgresStore; pgxmock pools satisfy it.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

const (
	pgCreateTable = `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (collection, key)
	)`

	pgList = `SELECT key, data FROM documents WHERE collection = $1 ORDER BY key COLLATE "C"`
	pgGet  = `SELECT data FROM documents WHERE collection = $1 AND key = $2`

	pgUpsert = `INSERT INTO documents (collection, key, data, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

	pgDelete = `DELETE FROM documents WHERE collection = $1 AND key = $2`

	pgInsertIfAbsent = `INSERT INTO documents (collection, key, data, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key) DO NOTHING`

	pgUpdateIfQuantity = `UPDATE documents SET data = $3, updated_at = NOW()
		WHERE collection = $1 AND key = $2 AND (data->>'quantity')::int = $4`

	pgDeleteIfQuantity = `DELETE FROM documents WHERE collection = $1 AND key = $2 AND (data->>'quantity')::int = $3`
)

// PostgresStore keeps documents of every collection in one table.
type PostgresStore struct {
	conn       pgxConn
	collection string
}

// OpenPostgresStore connects to dsn (falls back to a local default), pings, and ensures the table exists.
func OpenPostgresStore(ctx context.Context, dsn, collection string) (*PostgresStore, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	s := NewPostgresStore(pool, collection)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing connection without touching the schema.
func NewPostgresStore(conn pgxConn, collection string) *PostgresStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &PostgresStore{conn: conn, collection: collection}
}

// EnsureSchema creates the documents table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, pgCreateTable)
	return errors.Wrap(err, "failed to create documents table")
}

func (s *PostgresStore) Close() error {
	s.conn.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.conn.Ping(ctx), "postgres ping failed")
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.conn.Query(ctx, pgList, s.collection)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		doc, err := decodeDocument(data)
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

func (s *PostgresStore) Get(ctx context.Context, key string) (Document, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, pgGet, s.collection, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentMissing
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to get document %s", key)
	}
	return decodeDocument(data)
}

func (s *PostgresStore) Set(ctx context.Context, key string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, pgUpsert, s.collection, key, data)
	return errors.Wrapf(err, "failed to set document %s", key)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.conn.Exec(ctx, pgDelete, s.collection, key)
	return errors.Wrapf(err, "failed to delete document %s", key)
}

// CompareAndSwap pushes the quantity guard into a single conditional statement.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	var (
		tag pgconn.CommandTag
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
		tag, err = s.conn.Exec(ctx, pgInsertIfAbsent, s.collection, key, data)

	case next <= 0:
		tag, err = s.conn.Exec(ctx, pgDeleteIfQuantity, s.collection, key, expected)

	default:
		var data []byte
		if data, err = encodeDocument(Document{Quantity: next}); err != nil {
			return false, err
		}
		tag, err = s.conn.Exec(ctx, pgUpdateIfQuantity, s.collection, key, data, expected)
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}

	return tag.RowsAffected() == 1, nil
}
