package session

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/session/inmemory"
	pgstore "github.com/mohammad-safakhou/wayfarer/session/postgres"
	redisstore "github.com/mohammad-safakhou/wayfarer/session/redis"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

// Store persists one checkpoint per session.
//
// Create fails with session_models.ErrExists when the id is taken. Save is a
// compare-and-swap on Revision: it succeeds only while the stored revision
// equals cp.Revision and returns the checkpoint as written (revision bumped).
// Load returns session_models.ErrNotFound for unknown or expired sessions.
type Store interface {
	Create(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error)
	Load(ctx context.Context, sessionID string) (session_models.Checkpoint, error)
	Save(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error)
	List(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error)
	Close() error
}

type StoreType string

const (
	InMemoryStore StoreType = "inmemory"
	RedisStore    StoreType = "redis"
	PostgresStore StoreType = "postgres"
)

var (
	_ Store = (*inmemory.Store)(nil)
	_ Store = (*redisstore.Store)(nil)
	_ Store = (*pgstore.Store)(nil)
)

// NewStore builds the configured checkpoint store.
func NewStore(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch StoreType(cfg.SessionStore) {
	case InMemoryStore, "":
		return inmemory.NewInMemorySessionStore(cfg.SessionTTL), nil
	case RedisStore:
		timeout := cfg.Redis.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client, err := redisstore.Conn(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, timeout)
		if err != nil {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		return redisstore.NewRedisSessionStore(client, cfg.Redis.KeyPrefix, cfg.SessionTTL), nil
	case PostgresStore:
		st, err := pgstore.NewWithDSN(ctx, cfg.Postgres.DSN(), cfg.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("postgres session store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.SessionStore)
	}
}
