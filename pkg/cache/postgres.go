package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of a pgx pool the Postgres store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps entries in the research_cache table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the research_cache table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS research_cache (
			key TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL,
			last_accessed_at TIMESTAMP WITH TIME ZONE NOT NULL,
			hit_count BIGINT NOT NULL DEFAULT 0,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create research_cache table: %w", err)
	}
	if _, err := s.db.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_cache_last_accessed ON research_cache(last_accessed_at)"); err != nil {
		return fmt.Errorf("failed to create index on research_cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key string) (*Entry, error) {
	var (
		e    Entry
		data []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT key, data, created_at, last_accessed_at, hit_count, expires_at
		FROM research_cache WHERE key = $1
	`, key).Scan(&e.Key, &data, &e.CreatedAt, &e.LastAccessedAt, &e.HitCount, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Data = data
	return &e, nil
}

func (s *PostgresStore) Save(ctx context.Context, e *Entry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO research_cache (key, data, created_at, last_accessed_at, hit_count, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			data = EXCLUDED.data,
			last_accessed_at = EXCLUDED.last_accessed_at,
			hit_count = EXCLUDED.hit_count,
			expires_at = EXCLUDED.expires_at
	`, e.Key, []byte(e.Data), e.CreatedAt, e.LastAccessedAt, e.HitCount, e.ExpiresAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM research_cache WHERE key = $1", key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM research_cache").Scan(&n)
	return n, err
}

func (s *PostgresStore) EvictOldest(ctx context.Context) (string, error) {
	var key string
	err := s.db.QueryRow(ctx, `
		DELETE FROM research_cache
		WHERE key = (SELECT key FROM research_cache ORDER BY last_accessed_at ASC LIMIT 1)
		RETURNING key
	`).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return key, err
}

func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM research_cache WHERE expires_at < $1", now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
