package docstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis backend. Addr may be host:port or a redis:// URL.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	Collection string
}

// RedisStore keeps one collection in a single Redis hash: field = item name, value = JSON document.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore builds a client; the connection itself is established lazily.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	clientOpts, err := redisClientOptions(opts)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreWithClient(redis.NewClient(clientOpts), opts.Collection), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, collection string) *RedisStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &RedisStore{client: client, hash: "pantry:" + collection}
}

func redisClientOptions(opts RedisOptions) (*redis.Options, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis url")
		}
		if opts.Password != "" {
			parsed.Password = opts.Password
		}
		return parsed, nil
	}

	return &redis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 2 * time.Second,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.client.Ping(ctx).Err(), "redis ping failed")
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		doc, err := decodeDocument([]byte(raw[key]))
		if err != nil {
			return nil, errors.Wrapf(err, "document %s", key)
		}
		entries = append(entries, Entry{Key: key, Document: doc})
	}
	return entries, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Document, error) {
	data, err := s.client.HGet(ctx, s.hash, key).Bytes()
	if err == redis.Nil {
		return Document{}, ErrDocumentMissing
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "failed to get document %s", key)
	}
	return decodeDocument(data)
}

func (s *RedisStore) Set(ctx context.Context, key string, doc Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.client.HSet(ctx, s.hash, key, data).Err(), "failed to set document %s", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(s.client.HDel(ctx, s.hash, key).Err(), "failed to delete document %s", key)
}

// CompareAndSwap watches the collection hash; a concurrent write aborts the
// MULTI block and is reported as not swapped.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	swapped := false

	txf := func(tx *redis.Tx) error {
		current := 0
		data, err := tx.HGet(ctx, s.hash, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			doc, err := decodeDocument(data)
			if err != nil {
				return err
			}
			current = doc.Quantity
		}
		if current != expected {
			return nil
		}

		var payload []byte
		if next > 0 {
			payload, err = encodeDocument(Document{Quantity: next})
			if err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next <= 0 {
				pipe.HDel(ctx, s.hash, key)
			} else {
				pipe.HSet(ctx, s.hash, key, payload)
			}
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}

	err := s.client.Watch(ctx, txf, s.hash)
	if err == redis.TxFailedErr {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to swap document %s", key)
	}
	return swapped, nil
}
