// Package postgres stores conversation threads in PostgreSQL.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/store"
	"github.com/MrWong99/parley/pkg/conversation"
)

var _ store.Store = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS threads (
    id            TEXT         PRIMARY KEY,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    finalized_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS thread_messages (
    thread_id   TEXT         NOT NULL REFERENCES threads (id) ON DELETE CASCADE,
    id          TEXT         NOT NULL,
    seq         INTEGER      NOT NULL,
    role        TEXT         NOT NULL,
    kind        TEXT         NOT NULL DEFAULT 'speech',
    text        TEXT         NOT NULL,
    call_id     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (thread_id, id)
);

CREATE INDEX IF NOT EXISTS idx_thread_messages_seq
    ON thread_messages (thread_id, seq);

CREATE INDEX IF NOT EXISTS idx_threads_updated_at
    ON threads (updated_at DESC);
`

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed thread store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveMessages implements [store.Store]. New messages get the next sequence
// number of the thread; existing ones keep their position.
func (s *Store) SaveMessages(ctx context.Context, threadID string, msgs []conversation.Message) error {
	if err := store.ValidateThreadID(threadID); err != nil {
		return err
	}

	const upsertThread = `
		INSERT INTO threads (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET updated_at = now(), finalized_at = NULL`

	const upsertMessage = `
		INSERT INTO thread_messages (thread_id, id, seq, role, kind, text, call_id, created_at)
		VALUES ($1, $2,
		        (SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_messages WHERE thread_id = $1),
		        $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id, id) DO UPDATE SET text = EXCLUDED.text`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertThread, threadID); err != nil {
			return fmt.Errorf("upsert thread: %w", err)
		}
		for _, m := range msgs {
			kind := m.Kind
			if kind == "" {
				kind = conversation.KindSpeech
			}
			if _, err := tx.Exec(ctx, upsertMessage,
				threadID, m.ID, string(m.Role), string(kind), m.Text, m.CallID, m.CreatedAt,
			); err != nil {
				return fmt.Errorf("upsert message %s: %w", m.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres store: save messages: %w", err)
	}
	return nil
}

// LoadHistory implements [store.Store].
func (s *Store) LoadHistory(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if err := store.ValidateThreadID(threadID); err != nil {
		return nil, err
	}
	if err := s.exists(ctx, threadID); err != nil {
		return nil, err
	}

	const q = `
		SELECT id, role, kind, text, call_id, created_at
		FROM   thread_messages
		WHERE  thread_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, threadID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load history: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conversation.Message, error) {
		var (
			m          conversation.Message
			role, kind string
		)
		if err := row.Scan(&m.ID, &role, &kind, &m.Text, &m.CallID, &m.CreatedAt); err != nil {
			return conversation.Message{}, err
		}
		m.Role, m.Kind = conversation.Role(role), conversation.Kind(kind)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []conversation.Message{}
	}
	return msgs, nil
}

// FinalizeThread implements [store.Store].
func (s *Store) FinalizeThread(ctx context.Context, threadID string) error {
	if err := store.ValidateThreadID(threadID); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE threads SET finalized_at = now(), updated_at = now() WHERE id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("postgres store: finalize thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: %s: %w", threadID, store.ErrThreadNotFound)
	}
	return nil
}

// Threads implements [store.Store].
func (s *Store) Threads(ctx context.Context) ([]store.Thread, error) {
	const q = `
		SELECT t.id, t.created_at, t.updated_at, t.finalized_at,
		       (SELECT COUNT(*) FROM thread_messages m WHERE m.thread_id = t.id)
		FROM   threads t
		ORDER  BY t.updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list threads: %w", err)
	}
	threads, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Thread, error) {
		var (
			t         store.Thread
			finalized *time.Time
			count     int64
		)
		if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &finalized, &count); err != nil {
			return store.Thread{}, err
		}
		if finalized != nil {
			t.FinalizedAt = *finalized
		}
		t.Messages = int(count)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan threads: %w", err)
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	return threads, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exists(ctx context.Context, threadID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM threads WHERE id = $1`, threadID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres store: %s: %w", threadID, store.ErrThreadNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres store: lookup thread: %w", err)
	}
	return nil
}
