package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists cooldown marks so the window survives restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS intake_cooldowns (
			chat_id TEXT PRIMARY KEY,
			marked_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intake_cooldowns_marked ON intake_cooldowns (marked_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init cooldown schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, chatID string) (time.Time, bool, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT marked_at FROM intake_cooldowns WHERE chat_id=$1`,
		chatID,
	).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query cooldown: %w", err)
	}
	return at.UTC(), true, nil
}

func (s *PostgresStore) Put(ctx context.Context, chatID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intake_cooldowns (chat_id, marked_at) VALUES ($1, $2)
		 ON CONFLICT (chat_id) DO UPDATE SET marked_at=EXCLUDED.marked_at`,
		chatID,
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save cooldown: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, chatID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM intake_cooldowns WHERE chat_id=$1`, chatID); err != nil {
		return fmt.Errorf("delete cooldown: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
