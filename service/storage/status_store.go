package storage

import (
	"context"
	"sync"
	"time"

	"PPresence/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// StatusStore persists each user's self-reported state.
type StatusStore interface {
	// GetStatus returns ok=false when nothing was stored yet.
	GetStatus(ctx context.Context, userID string) (state string, ok bool, err error)
	SetStatus(ctx context.Context, userID, state string) error
}

type MemoryStatus struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemoryStatus() *MemoryStatus {
	return &MemoryStatus{m: make(map[string]string)}
}

func (s *MemoryStatus) GetStatus(_ context.Context, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[userID]
	return v, ok, nil
}

func (s *MemoryStatus) SetStatus(_ context.Context, userID, state string) error {
	s.mu.Lock()
	s.m[userID] = state
	s.mu.Unlock()
	return nil
}

// RedisStatus keeps all states in one hash: <prefix>:status (user -> state).
type RedisStatus struct {
	rdb *redis.Client
	key string
}

func NewRedisStatus(rdb *redis.Client, prefix string) *RedisStatus {
	if prefix == "" {
		prefix = "pp"
	}
	return &RedisStatus{rdb: rdb, key: prefix + ":status"}
}

func (s *RedisStatus) GetStatus(ctx context.Context, userID string) (string, bool, error) {
	v, err := s.rdb.HGet(ctx, s.key, userID).Result()
	if errs.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "redis hget status", "user", userID)
	}
	return v, true, nil
}

func (s *RedisStatus) SetStatus(ctx context.Context, userID, state string) error {
	return errs.WrapMsg(s.rdb.HSet(ctx, s.key, userID, state).Err(), "redis hset status", "user", userID)
}

const userStatusDDL = `CREATE TABLE IF NOT EXISTS user_status (
	user_id    TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgStatus stores states in the user_status table.
type PgStatus struct {
	pool *pgxpool.Pool
}

// NewPgStatus connects and makes sure the table exists.
func NewPgStatus(ctx context.Context, dsn string) (*PgStatus, error) {
	if dsn == "" {
		return nil, errs.ErrConfig.WrapMsg("database url missing")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errs.WrapMsg(err, "unable to connect to database")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "database ping")
	}
	if _, err := pool.Exec(ctx, userStatusDDL); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "create user_status")
	}
	return &PgStatus{pool: pool}, nil
}

func (s *PgStatus) GetStatus(ctx context.Context, userID string) (string, bool, error) {
	var state string
	err := s.pool.QueryRow(ctx, `SELECT state FROM user_status WHERE user_id = $1`, userID).Scan(&state)
	if errs.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "select status", "user", userID)
	}
	return state, true, nil
}

func (s *PgStatus) SetStatus(ctx context.Context, userID, state string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO user_status (user_id, state, updated_at) VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`, userID, state)
	return errs.WrapMsg(err, "upsert status", "user", userID)
}

func (s *PgStatus) Close() { s.pool.Close() }
