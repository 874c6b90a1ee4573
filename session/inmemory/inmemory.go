package inmemory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Store keeps checkpoints in process memory. Values are stored serialized so
// callers never share pointers with the store.
type Store struct {
	sessions map[string]entry
	ttl      time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

// NewInMemorySessionStore returns a store whose checkpoints expire ttl after
// their last write (ttl <= 0 disables expiry).
func NewInMemorySessionStore(ttl time.Duration) *Store {
	return &Store{sessions: make(map[string]entry), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source; used by tests to exercise expiry.
func (store *Store) WithClock(now func() time.Time) *Store {
	store.now = now
	return store
}

func (store *Store) Create(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.live(cp.SessionID); ok {
		return session_models.Checkpoint{}, session_models.ErrExists
	}
	now := store.now().UTC()
	cp.Revision = 1
	cp.CreatedAt = now
	cp.UpdatedAt = now
	return cp, store.put(cp)
}

func (store *Store) Load(ctx context.Context, sessionID string) (session_models.Checkpoint, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	e, ok := store.live(sessionID)
	if !ok {
		return session_models.Checkpoint{}, session_models.ErrNotFound
	}
	return decode(e.data)
}

func (store *Store) Save(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	e, ok := store.live(cp.SessionID)
	if !ok {
		return session_models.Checkpoint{}, session_models.ErrNotFound
	}
	current, err := decode(e.data)
	if err != nil {
		return session_models.Checkpoint{}, err
	}
	if current.Revision != cp.Revision {
		return session_models.Checkpoint{}, session_models.ErrConflict
	}
	cp.Revision = current.Revision + 1
	cp.CreatedAt = current.CreatedAt
	cp.UpdatedAt = store.now().UTC()
	return cp, store.put(cp)
}

func (store *Store) List(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	out := make([]session_models.Checkpoint, 0, len(store.sessions))
	for id := range store.sessions {
		e, ok := store.live(id)
		if !ok {
			continue
		}
		cp, err := decode(e.data)
		if err != nil {
			return nil, err
		}
		if cp.MatchesStages(stages...) {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (store *Store) Close() error { return nil }

// live must be called with the lock held.
func (store *Store) live(id string) (entry, bool) {
	e, ok := store.sessions[id]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !store.now().Before(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}

func (store *Store) put(cp session_models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	e := entry{data: data}
	if store.ttl > 0 {
		e.expiresAt = store.now().Add(store.ttl)
	}
	store.sessions[cp.SessionID] = e
	return nil
}

func decode(data []byte) (session_models.Checkpoint, error) {
	var cp session_models.Checkpoint
	err := json.Unmarshal(data, &cp)
	return cp, err
}
