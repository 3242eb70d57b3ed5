package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := initSchema(ctx, pool); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_kind TEXT NOT NULL,
			owner_key TEXT NOT NULL,
			topic TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner
			ON conversations (owner_kind, owner_key, updated_at DESC);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq BIGINT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (conversation_id, seq)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init conversation schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByOwner(ctx context.Context, owner OwnerRef, topic string) (Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_kind, owner_key, topic, title, version, created_at, updated_at
		 FROM conversations
		 WHERE owner_kind = $1 AND owner_key = $2 AND topic = $3
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		owner.Kind, owner.Key, topic,
	)
	return s.scanConversation(ctx, row)
}

func (s *PostgresStore) FindByID(ctx context.Context, id string, owner OwnerRef) (Conversation, error) {
	// Ownership filter lives in the query itself so a foreign id can never
	// surface another owner's conversation.
	row := s.pool.QueryRow(ctx,
		`SELECT id, owner_kind, owner_key, topic, title, version, created_at, updated_at
		 FROM conversations
		 WHERE id = $1 AND owner_kind = $2 AND owner_key = $3`,
		id, owner.Kind, owner.Key,
	)
	return s.scanConversation(ctx, row)
}

func (s *PostgresStore) scanConversation(ctx context.Context, row pgx.Row) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.Owner.Kind, &c.Owner.Key, &c.Topic, &c.Title, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	turns, err := s.loadTurns(ctx, c.ID)
	if err != nil {
		return Conversation{}, err
	}
	c.Turns = turns
	return c, nil
}

func (s *PostgresStore) loadTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		 FROM conversation_turns
		 WHERE conversation_id = $1
		 ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Create(ctx context.Context, owner OwnerRef, topic, title string) (Conversation, error) {
	now := time.Now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Topic:     topic,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, owner_kind, owner_key, topic, title, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $6)`,
		c.ID, owner.Kind, owner.Key, topic, title, now,
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return c, nil
}

// AppendTurns appends turns and bumps the version in one transaction. The
// version predicate on the UPDATE is the optimistic-concurrency check: a
// concurrent append that committed first makes this call fail with
// ErrVersionConflict instead of silently losing turns.
func (s *PostgresStore) AppendTurns(ctx context.Context, id string, baseVersion int64, turns []Turn) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	var newVersion int64
	err = tx.QueryRow(ctx,
		`UPDATE conversations SET version = version + 1, updated_at = $3
		 WHERE id = $1 AND version = $2
		 RETURNING version`,
		id, baseVersion, now,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			return 0, fmt.Errorf("check conversation: %w", checkErr)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, fmt.Errorf("bump version: %w", err)
	}

	var nextSeq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns WHERE conversation_id = $1`, id,
	).Scan(&nextSeq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	for i, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO conversation_turns (id, conversation_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, id, nextSeq+int64(i), t.Role, t.Content, t.CreatedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return newVersion, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner OwnerRef) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_kind, owner_key, topic, title, version, created_at, updated_at
		 FROM conversations
		 WHERE owner_kind = $1 AND owner_key = $2
		 ORDER BY updated_at DESC`,
		owner.Kind, owner.Key,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Owner.Kind, &c.Owner.Key, &c.Topic, &c.Title, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for i := range out {
		turns, err := s.loadTurns(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Turns = turns
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string, owner OwnerRef) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND owner_kind = $2 AND owner_key = $3`,
		id, owner.Kind, owner.Key,
	)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error { return nil }
