package redis_session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/wayfarer/session/session_models"
	"github.com/redis/go-redis/v9"
)

// Store keeps one JSON checkpoint per session key plus a set indexing all ids.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "wayfarer"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (store *Store) key(id string) string { return fmt.Sprintf("%s:checkpoint:%s", store.prefix, id) }
func (store *Store) indexKey() string     { return store.prefix + ":checkpoints" }

func (store *Store) Create(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	now := time.Now().UTC()
	cp.Revision = 1
	cp.CreatedAt = now
	cp.UpdatedAt = now
	data, err := json.Marshal(cp)
	if err != nil {
		return session_models.Checkpoint{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	ok, err := store.client.SetNX(ctx, store.key(cp.SessionID), data, store.ttl).Result()
	if err != nil {
		return session_models.Checkpoint{}, err
	}
	if !ok {
		return session_models.Checkpoint{}, session_models.ErrExists
	}
	if err := store.client.SAdd(ctx, store.indexKey(), cp.SessionID).Err(); err != nil {
		return session_models.Checkpoint{}, err
	}
	return cp, nil
}

func (store *Store) Load(ctx context.Context, sessionID string) (session_models.Checkpoint, error) {
	data, err := store.client.Get(ctx, store.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session_models.Checkpoint{}, session_models.ErrNotFound
	}
	if err != nil {
		return session_models.Checkpoint{}, err
	}
	return decode(data)
}

// Save performs an optimistic WATCH/MULTI update guarded by the revision.
func (store *Store) Save(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	key := store.key(cp.SessionID)
	var written session_models.Checkpoint
	err := store.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return session_models.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		if current.Revision != cp.Revision {
			return session_models.ErrConflict
		}
		next := cp
		next.Revision = current.Revision + 1
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, store.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		written = next
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return session_models.Checkpoint{}, session_models.ErrConflict
	}
	if err != nil {
		return session_models.Checkpoint{}, err
	}
	return written, nil
}

func (store *Store) List(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error) {
	ids, err := store.client.SMembers(ctx, store.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.key(id)
	}
	vals, err := store.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var (
		out     []session_models.Checkpoint
		expired []interface{}
	)
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		cp, err := decode([]byte(s))
		if err != nil {
			return nil, err
		}
		if cp.MatchesStages(stages...) {
			out = append(out, cp)
		}
	}
	if len(expired) > 0 {
		_ = store.client.SRem(ctx, store.indexKey(), expired...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (store *Store) Close() error { return store.client.Close() }

func decode(data []byte) (session_models.Checkpoint, error) {
	var cp session_models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return session_models.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}
