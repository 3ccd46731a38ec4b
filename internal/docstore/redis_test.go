package docstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreUnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	store := NewRedisStoreWithClient(client, testCollection)
	defer store.Close()

	ctx := context.Background()

	_, err := store.List(ctx)
	assert.Error(t, err)

	_, err = store.Get(ctx, "eggs")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDocumentMissing)

	assert.Error(t, store.Set(ctx, "eggs", Document{Quantity: 1}))
	assert.Error(t, store.Ping(ctx))
}

func TestRedisClientOptions(t *testing.T) {
	opts, err := redisClientOptions(RedisOptions{Addr: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = redisClientOptions(RedisOptions{DB: 3})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
}

// TestRedisStoreContract runs the shared contract against a live server when one is configured.
func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv(testRedisEnv)
	if addr == "" {
		t.Skipf("%s not set", testRedisEnv)
	}

	tests := []struct {
		name string
		test func(*testing.T, Store)
	}{
		{"GetMissingDocument", testGetMissingDocument},
		{"SetAndGet", testSetAndGet},
		{"SetOverwrites", testSetOverwrites},
		{"DeleteIsTolerant", testDeleteIsTolerant},
		{"ListIsOrderedByKey", testListIsOrderedByKey},
		{"CompareAndSwap", testCompareAndSwap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Collection: testCollection + "-" + tt.name})
			require.NoError(t, err)
			defer store.Close()
			defer store.client.Del(ctx, store.hash)

			tt.test(t, store)
		})
	}
}
