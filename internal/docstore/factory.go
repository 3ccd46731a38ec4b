package docstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Type selects a document store backend.
type Type string

const (
	TypeBolt     Type = "bolt"
	TypeBadger   Type = "badger"
	TypeRedis    Type = "redis"
	TypePostgres Type = "postgres"
	TypeSQLite   Type = "sqlite"
	TypeMemory   Type = "memory"
)

const DefaultCollection = "pantry"

// Options carries everything any backend may need; each backend reads its own fields.
type Options struct {
	Type       Type
	Collection string
	Path       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	Logger *logrus.Logger
}

// Open creates the store selected by opts.Type.
//
// Store Types:
// - bolt: single-file B+ tree, one bucket per collection (default)
// - badger: LSM-tree directory, keys prefixed by collection
// - redis: hosted, one hash per collection
// - postgres: hosted, documents table
// - sqlite: single file, documents table
// - memory: process local, lost on exit
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	switch opts.Type {
	case TypeBolt, "":
		path := opts.Path
		if !strings.HasSuffix(path, ".bolt") {
			path = path + ".bolt"
		}
		return NewBoltStore(path, opts.Collection)

	case TypeBadger:
		return NewBadgerStore(opts.Path, opts.Collection, opts.Logger)

	case TypeRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:       opts.RedisAddr,
			Password:   opts.RedisPassword,
			DB:         opts.RedisDB,
			Collection: opts.Collection,
		})

	case TypePostgres:
		return OpenPostgresStore(ctx, opts.PostgresDSN, opts.Collection)

	case TypeSQLite:
		path := opts.Path
		if !strings.HasSuffix(path, ".sqlite") {
			path = path + ".sqlite"
		}
		return NewSQLiteStore(ctx, path, opts.Collection)

	case TypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", opts.Type)
	}
}

// ParseType normalizes a user supplied backend name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeBolt, TypeBadger, TypeRedis, TypePostgres, TypeSQLite, TypeMemory:
		return t, nil
	case "":
		return TypeBolt, nil
	default:
		return "", fmt.Errorf("unsupported store type: %s", s)
	}
}

// Describe returns a short description of each backend.
func Describe() map[Type]string {
	return map[Type]string{
		TypeBolt:     "Compact B+ tree database in a single file. Good default for one machine.",
		TypeBadger:   "LSM-tree database in a directory. Fast writes, large value logs.",
		TypeRedis:    "Hosted Redis hash. Shared by every client pointed at the same server.",
		TypePostgres: "Hosted Postgres table. Shared by every client pointed at the same database.",
		TypeSQLite:   "Single file SQL database through the pure Go driver.",
		TypeMemory:   "In-process map. Nothing survives a restart.",
	}
}
