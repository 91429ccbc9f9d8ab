package scylla

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

const messageColumns = `message_id, sender_id, receiver_id, content, created_at, attachment_url, attachment_type`

var errNoSession = errors.New("scylla session not initialized")

// Store keeps the message log denormalized per pair, per user and per direction.
// Every append writes all views in one logged batch.
type Store struct {
	session *gocql.Session
	logger  *slog.Logger

	mu    sync.Mutex
	clock func() time.Time
	last  time.Time
}

func NewStore(session *gocql.Session, logger *slog.Logger) *Store {
	return &Store{session: session, logger: logger, clock: time.Now}
}

// nextTimestamp returns a millisecond timestamp strictly after the previous one.
func (s *Store) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC().Truncate(time.Millisecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Millisecond)
	}
	s.last = now
	return now
}

func (s *Store) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if s.session == nil {
		return chat.Message{}, errNoSession
	}
	at := s.nextTimestamp()
	id := gocql.UUIDFromTime(at)
	msg.ID = chat.MessageID(id.String())
	msg.CreatedAt = at

	row := []any{id, string(msg.SenderID), string(msg.ReceiverID), msg.Content, at, msg.AttachmentURL, string(msg.AttachmentType)}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages_by_pair (pair_key, `+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{chat.PairKey(msg.SenderID, msg.ReceiverID)}, row...)...)
	batch.Query(`INSERT INTO messages_by_user (user_id, `+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{string(msg.SenderID)}, row...)...)
	if msg.ReceiverID != msg.SenderID {
		batch.Query(`INSERT INTO messages_by_user (user_id, `+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			append([]any{string(msg.ReceiverID)}, row...)...)
	}
	batch.Query(`INSERT INTO message_directions (sender_id, receiver_id, first_at) VALUES (?, ?, ?)`,
		string(msg.SenderID), string(msg.ReceiverID), at)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) Query(ctx context.Context, a, b chat.UserID, since *time.Time) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	var q *gocql.Query
	if since != nil {
		q = s.session.Query(`SELECT `+messageColumns+` FROM messages_by_pair WHERE pair_key = ? AND created_at >= ?`,
			chat.PairKey(a, b), since.UTC().Truncate(time.Millisecond))
	} else {
		q = s.session.Query(`SELECT `+messageColumns+` FROM messages_by_pair WHERE pair_key = ?`, chat.PairKey(a, b))
	}
	return scanMessages(q.WithContext(ctx).Iter())
}

func (s *Store) ListForUser(ctx context.Context, user chat.UserID) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages_by_user WHERE user_id = ?`, string(user)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	return scanMessages(iter)
}

func (s *Store) HasMessage(ctx context.Context, from, to chat.UserID) (bool, error) {
	if s.session == nil {
		return false, errNoSession
	}
	var firstAt time.Time
	err := s.session.
		Query(`SELECT first_at FROM message_directions WHERE sender_id = ? AND receiver_id = ? LIMIT 1`, string(from), string(to)).
		WithContext(ctx).
		Scan(&firstAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkRead moves the marker forward with lightweight transactions. A marker that
// is already at or past at is left untouched.
func (s *Store) MarkRead(ctx context.Context, viewer, counterpart chat.UserID, at time.Time) error {
	if s.session == nil {
		return errNoSession
	}
	at = at.UTC().Truncate(time.Millisecond)
	existing := map[string]any{}
	applied, err := s.session.
		Query(`INSERT INTO conversation_reads (viewer_id, counterpart_id, read_at) VALUES (?, ?, ?) IF NOT EXISTS`,
			string(viewer), string(counterpart), at).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil || applied {
		return err
	}
	current, _ := existing["read_at"].(time.Time)
	if !at.After(current) {
		return nil
	}
	_, err = s.session.
		Query(`UPDATE conversation_reads SET read_at = ? WHERE viewer_id = ? AND counterpart_id = ? IF read_at < ?`,
			at, string(viewer), string(counterpart), at).
		WithContext(ctx).
		MapScanCAS(map[string]any{})
	return err
}

func (s *Store) ReadMarkers(ctx context.Context, viewer chat.UserID) (map[chat.UserID]time.Time, error) {
	if s.session == nil {
		return nil, errNoSession
	}
	iter := s.session.
		Query(`SELECT counterpart_id, read_at FROM conversation_reads WHERE viewer_id = ?`, string(viewer)).
		WithContext(ctx).
		Consistency(gocql.One).
		Iter()
	out := make(map[chat.UserID]time.Time)
	var (
		counterpart string
		readAt      time.Time
	)
	for iter.Scan(&counterpart, &readAt) {
		out[chat.UserID(counterpart)] = readAt.UTC()
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanMessages(iter *gocql.Iter) ([]chat.Message, error) {
	var (
		id                        gocql.UUID
		sender, receiver, text    string
		createdAt                 time.Time
		attachmentURL, attachKind string
	)
	out := make([]chat.Message, 0)
	for iter.Scan(&id, &sender, &receiver, &text, &createdAt, &attachmentURL, &attachKind) {
		out = append(out, toMessage(id, sender, receiver, text, createdAt, attachmentURL, attachKind))
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func toMessage(id gocql.UUID, sender, receiver, text string, createdAt time.Time, attachmentURL, kind string) chat.Message {
	return chat.Message{
		ID:             chat.MessageID(id.String()),
		SenderID:       chat.UserID(sender),
		ReceiverID:     chat.UserID(receiver),
		Content:        text,
		CreatedAt:      createdAt.UTC(),
		AttachmentURL:  attachmentURL,
		AttachmentType: chat.AttachmentKind(kind),
	}
}

var (
	_ policies.MessageStore = (*Store)(nil)
	_ policies.ReadMarkers  = (*Store)(nil)
)
