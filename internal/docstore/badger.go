package docstore

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BadgerStore keeps one collection under a key prefix in BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// NewBadgerStore opens (or creates) the BadgerDB directory at path. Keys are
// prefixed with "collection:", so a collection name may not contain ':'.
func NewBadgerStore(path, collection string, logger *logrus.Logger) (*BadgerStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if strings.Contains(collection, ":") {
		return nil, errors.Errorf("badger collection %q must not contain ':'", collection)
	}
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger db")
	}

	return &BadgerStore{db: db, prefix: collection + ":"}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger db is closed")
	}
	return nil
}

func (s *BadgerStore) key(name string) []byte {
	return []byte(s.prefix + name)
}

func (s *BadgerStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])

			err := item.Value(func(val []byte) error {
				doc, err := decodeDocument(val)
				if err != nil {
					return errors.Wrapf(err, "document %s", key)
				}
				entries = append(entries, Entry{Key: key, Document: doc})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}

	return entries, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) (Document, error) {
	var doc Document

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = s.read(txn, key)
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

func (s *BadgerStore) read(txn *badger.Txn, key string) (Document, error) {
	item, err := txn.Get(s.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Document{}, ErrDocumentMissing
	}
	if err != nil {
		return Document{}, err
	}

	var doc Document
	err = item.Value(func(val []byte) error {
		doc, err = decodeDocument(val)
		return err
	})
	return doc, err
}

func (s *BadgerStore) Set(ctx context.Context, key string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), data)
	})
	return errors.Wrapf(err, "failed to set document %s", key)
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	return errors.Wrapf(err, "failed to delete document %s", key)
}

// CompareAndSwap relies on badger's optimistic transactions: a concurrent writer
// to the same key makes the commit fail with ErrConflict, reported as not swapped.
func (s *BadgerStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	swapped := false

	err := s.db.Update(func(txn *badger.Txn) error {
		current := 0
		doc, err := s.read(txn, key)
		switch {
		case errors.Is(err, ErrDocumentMissing):
		case err != nil:
			return err
		default:
			current = doc.Quantity
		}
		if current != expected {
			return nil
		}

		swapped = true
		if next <= 0 {
			return txn.Delete(s.key(key))
		}
		data, err := encodeDocument(Document{Quantity: next})
		if err != nil {
			return err
		}
		return txn.Set(s.key(key), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}

	return swapped, nil
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct {
	logger *logrus.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
