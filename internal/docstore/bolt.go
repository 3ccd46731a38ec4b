package docstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// BoltStore keeps one collection in a BoltDB bucket.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
}

// NewBoltStore opens (or creates) the BoltDB file at path.
func NewBoltStore(path, collection string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create parent directory for bolt db")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt db")
	}

	s := &BoltStore{db: db, bucket: []byte(collection)}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to create bucket %s", collection)
	}

	return s, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}
		return nil
	})
}

func (s *BoltStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}

		cursor := bucket.Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			doc, err := decodeDocument(value)
			if err != nil {
				return errors.Wrapf(err, "document %s", key)
			}
			entries = append(entries, Entry{Key: string(key), Document: doc})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}

	return entries, nil
}

func (s *BoltStore) Get(ctx context.Context, key string) (Document, error) {
	var doc Document

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}

		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrDocumentMissing
		}

		var err error
		doc, err = decodeDocument(data)
		return err
	})
	if errors.Is(err, ErrDocumentMissing) {
		return Document{}, ErrDocumentMissing
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to get document %s", key)
	}

	return doc, nil
}

func (s *BoltStore) Set(ctx context.Context, key string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}
		return bucket.Put([]byte(key), data)
	})
	return errors.Wrapf(err, "failed to set document %s", key)
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}
		return bucket.Delete([]byte(key))
	})
	return errors.Wrapf(err, "failed to delete document %s", key)
}

// CompareAndSwap runs the guard and the write in one bolt write transaction.
func (s *BoltStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	swapped := false

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(s.bucket)
		if bucket == nil {
			return errors.Errorf("bucket %s not found", s.bucket)
		}

		current := 0
		if data := bucket.Get([]byte(key)); data != nil {
			doc, err := decodeDocument(data)
			if err != nil {
				return err
			}
			current = doc.Quantity
		}
		if current != expected {
			return nil
		}

		swapped = true
		if next <= 0 {
			return bucket.Delete([]byte(key))
		}
		data, err := encodeDocument(Document{Quantity: next})
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}

	return swapped, nil
}
