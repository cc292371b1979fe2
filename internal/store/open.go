package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	DatabaseURL    string
	RedisAddr      string
	RedisKeyPrefix string
	SQLitePath     string
}

// Opened is a ready repository plus the handles needed to health-check and release it.
type Opened struct {
	Repo Repository
	// Redis is set for the redis backend so callers can share the connection.
	Redis            *redis.Client
	MigrationVersion int64

	healthy func(context.Context) bool
	close   func() error
}

// Healthy reports whether the backing service answers.
func (o *Opened) Healthy(ctx context.Context) bool {
	if o.healthy == nil {
		return true
	}
	return o.healthy(ctx)
}

// Close releases the backend connection.
func (o *Opened) Close() error {
	if o.close == nil {
		return nil
	}
	return o.close()
}

// Open connects the configured backend. Postgres is migrated before use.
func Open(ctx context.Context, opts Options) (*Opened, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return &Opened{Repo: NewMemory()}, nil
	case BackendRedis:
		r := NewRedis(opts.RedisAddr)
		if !r.Healthy(ctx) {
			_ = r.Close()
			return nil, fmt.Errorf("redis %s not reachable", opts.RedisAddr)
		}
		return &Opened{
			Repo:    NewRedisRepository(r.Client, opts.RedisKeyPrefix),
			Redis:   r.Client,
			healthy: r.Healthy,
			close:   r.Close,
		}, nil
	case BackendPostgres:
		db, err := NewDB(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		version, err := Migrate(ctx, db.Client)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Opened{
			Repo:             NewPostgresRepository(db.Client),
			MigrationVersion: version,
			healthy:          db.Healthy,
			close:            db.Close,
		}, nil
	case BackendSQLite:
		db, err := NewSQLite(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Opened{
			Repo:    NewSQLiteRepository(db),
			healthy: db.Healthy,
			close:   db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
