package postgres_session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

// Store persists checkpoints in the pipeline_checkpoints table
// (see migrations/000001_pipeline_checkpoints.up.sql).
type Store struct {
	DB  *sql.DB
	TTL time.Duration
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db, TTL: ttl}, nil
}

func (s *Store) expiresAt() sql.NullTime {
	if s.TTL <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().UTC().Add(s.TTL), Valid: true}
}

const selectColumns = `session_id, stage, state, revision, error, decided_by, created_at, updated_at`

func (s *Store) Create(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	if cp.SessionID == "" {
		return session_models.Checkpoint{}, fmt.Errorf("session_id is required")
	}
	stateBytes, err := json.Marshal(cp.State)
	if err != nil {
		return session_models.Checkpoint{}, fmt.Errorf("marshal pipeline state: %w", err)
	}
	cp.Revision = 1
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO pipeline_checkpoints (session_id, stage, state, revision, error, decided_by, created_at, updated_at, expires_at)
VALUES ($1,$2,$3,1,$4,$5,NOW(),NOW(),$6)
ON CONFLICT (session_id) DO NOTHING
RETURNING created_at, updated_at`, cp.SessionID, string(cp.Stage), stateBytes, cp.Error, cp.DecidedBy, s.expiresAt())
	if err := row.Scan(&cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session_models.Checkpoint{}, session_models.ErrExists
		}
		return session_models.Checkpoint{}, err
	}
	return cp, nil
}

func (s *Store) Load(ctx context.Context, sessionID string) (session_models.Checkpoint, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+selectColumns+`
FROM pipeline_checkpoints
WHERE session_id = $1 AND (expires_at IS NULL OR expires_at > NOW())`, sessionID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session_models.Checkpoint{}, session_models.ErrNotFound
	}
	return cp, err
}

// Save updates the row only while its revision still equals cp.Revision.
func (s *Store) Save(ctx context.Context, cp session_models.Checkpoint) (session_models.Checkpoint, error) {
	stateBytes, err := json.Marshal(cp.State)
	if err != nil {
		return session_models.Checkpoint{}, fmt.Errorf("marshal pipeline state: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `
UPDATE pipeline_checkpoints SET
  stage      = $2,
  state      = $3,
  revision   = revision + 1,
  error      = $4,
  decided_by = $5,
  updated_at = NOW(),
  expires_at = $6
WHERE session_id = $1 AND revision = $7 AND (expires_at IS NULL OR expires_at > NOW())
RETURNING revision, created_at, updated_at`, cp.SessionID, string(cp.Stage), stateBytes, cp.Error, cp.DecidedBy, s.expiresAt(), cp.Revision)
	if err := row.Scan(&cp.Revision, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return session_models.Checkpoint{}, err
		}
		if _, loadErr := s.Load(ctx, cp.SessionID); loadErr != nil {
			return session_models.Checkpoint{}, loadErr
		}
		return session_models.Checkpoint{}, session_models.ErrConflict
	}
	return cp, nil
}

func (s *Store) List(ctx context.Context, stages ...session_models.Stage) ([]session_models.Checkpoint, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(stages) == 0 {
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM pipeline_checkpoints
WHERE expires_at IS NULL OR expires_at > NOW()
ORDER BY created_at`)
	} else {
		names := make([]string, len(stages))
		for i, st := range stages {
			names[i] = string(st)
		}
		rows, err = s.DB.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM pipeline_checkpoints
WHERE stage = ANY($1) AND (expires_at IS NULL OR expires_at > NOW())
ORDER BY created_at`, pq.Array(names))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session_models.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// PruneExpired deletes rows whose TTL elapsed and reports how many were removed.
func (s *Store) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM pipeline_checkpoints WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.DB.Close() }

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row scanner) (session_models.Checkpoint, error) {
	var (
		cp         session_models.Checkpoint
		stage      string
		stateBytes []byte
	)
	if err := row.Scan(&cp.SessionID, &stage, &stateBytes, &cp.Revision, &cp.Error, &cp.DecidedBy, &cp.CreatedAt, &cp.UpdatedAt); err != nil {
		return session_models.Checkpoint{}, err
	}
	cp.Stage = session_models.Stage(stage)
	if len(stateBytes) > 0 {
		if err := json.Unmarshal(stateBytes, &cp.State); err != nil {
			return session_models.Checkpoint{}, fmt.Errorf("decode pipeline state: %w", err)
		}
	}
	return cp, nil
}
