package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	attachment_url  TEXT,
	attachment_type TEXT CHECK (attachment_type IN ('image', 'video', 'audio', 'file'))
);
CREATE INDEX IF NOT EXISTS messages_direction_idx ON messages (sender_id, receiver_id, created_at);
CREATE INDEX IF NOT EXISTS messages_receiver_idx ON messages (receiver_id, created_at);
CREATE TABLE IF NOT EXISTS conversation_reads (
	viewer_id      TEXT NOT NULL,
	counterpart_id TEXT NOT NULL,
	read_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (viewer_id, counterpart_id)
);
`

const messageColumns = `id::text, sender_id, receiver_id, content, created_at, COALESCE(attachment_url, ''), COALESCE(attachment_type, '')`

// Store is the relational message log. The database assigns id and created_at.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a store with a connection pool.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, content, attachment_url, attachment_type)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING `+messageColumns,
		string(msg.SenderID), string(msg.ReceiverID), msg.Content, msg.AttachmentURL, string(msg.AttachmentType),
	)
	return scanMessage(row)
}

func (s *Store) Query(ctx context.Context, a, b chat.UserID, since *time.Time) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at ASC, id ASC
	`, string(a), string(b), since)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *Store) ListForUser(ctx context.Context, user chat.UserID) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
	`, string(user))
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (s *Store) HasMessage(ctx context.Context, from, to chat.UserID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE sender_id = $1 AND receiver_id = $2)
	`, string(from), string(to)).Scan(&exists)
	return exists, err
}

// MarkRead upserts the marker; GREATEST keeps it from moving backwards.
func (s *Store) MarkRead(ctx context.Context, viewer, counterpart chat.UserID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_reads (viewer_id, counterpart_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (viewer_id, counterpart_id)
		DO UPDATE SET read_at = GREATEST(conversation_reads.read_at, EXCLUDED.read_at)
	`, string(viewer), string(counterpart), at.UTC())
	return err
}

func (s *Store) ReadMarkers(ctx context.Context, viewer chat.UserID) (map[chat.UserID]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counterpart_id, read_at FROM conversation_reads WHERE viewer_id = $1
	`, string(viewer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[chat.UserID]time.Time)
	for rows.Next() {
		var counterpart string
		var at time.Time
		if err := rows.Scan(&counterpart, &at); err != nil {
			return nil, err
		}
		out[chat.UserID(counterpart)] = at
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (chat.Message, error) {
	var (
		msg                  chat.Message
		id, sender, receiver string
		kind                 string
	)
	if err := row.Scan(&id, &sender, &receiver, &msg.Content, &msg.CreatedAt, &msg.AttachmentURL, &kind); err != nil {
		return chat.Message{}, err
	}
	msg.ID = chat.MessageID(id)
	msg.SenderID = chat.UserID(sender)
	msg.ReceiverID = chat.UserID(receiver)
	msg.AttachmentType = chat.AttachmentKind(kind)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]chat.Message, error) {
	defer rows.Close()
	out := make([]chat.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

var (
	_ policies.MessageStore = (*Store)(nil)
	_ policies.ReadMarkers  = (*Store)(nil)
)
