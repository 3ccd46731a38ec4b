package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used for tests and throwaway sessions.
type MemoryStore struct {
	docs   map[string]Document
	mutex  sync.RWMutex
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

var errMemoryClosed = errors.New("memory store is closed")

func (s *MemoryStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return errMemoryClosed
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Entry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return nil, errMemoryClosed
	}

	keys := make([]string, 0, len(s.docs))
	for key := range s.docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, Entry{Key: key, Document: s.docs[key]})
	}
	return entries, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Document, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.closed {
		return Document{}, errMemoryClosed
	}

	doc, ok := s.docs[key]
	if !ok {
		return Document{}, ErrDocumentMissing
	}
	return doc, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, doc Document) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return errMemoryClosed
	}

	s.docs[key] = doc
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return errMemoryClosed
	}

	delete(s.docs, key)
	return nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return false, errMemoryClosed
	}

	current := 0
	if doc, ok := s.docs[key]; ok {
		current = doc.Quantity
	}
	if current != expected {
		return false, nil
	}

	if next <= 0 {
		delete(s.docs, key)
	} else {
		s.docs[key] = Document{Quantity: next}
	}
	return true, nil
}
