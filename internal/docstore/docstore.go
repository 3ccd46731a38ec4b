package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDocumentMissing is returned by Get when no document exists for the key.
// Callers treat it as a normal branch, not a failure.
var ErrDocumentMissing = errors.New("document missing")

// Document is the persisted body of one pantry entry. The key lives outside the body.
type Document struct {
	Quantity int `json:"quantity"`
}

// Entry pairs a document with its key, as returned by List.
type Entry struct {
	Key      string
	Document Document
}

// Store is a collection of documents keyed by item name.
type Store interface {
	// List returns every document in ascending key order.
	List(ctx context.Context) ([]Entry, error)

	// Get returns ErrDocumentMissing when the key is absent.
	Get(ctx context.Context, key string) (Document, error)

	// Set creates or fully overwrites the document for key.
	Set(ctx context.Context, key string, doc Document) error

	// Delete removes the document; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Swapper is implemented by stores that can change a document only if it still
// holds the expected quantity. A quantity of 0 means "absent" for expected and
// "delete" for next. It reports false without error when the guard did not match.
type Swapper interface {
	CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error)
}

func encodeDocument(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}
