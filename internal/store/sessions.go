package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/mindprint/internal/chat"
	"github.com/nidhogg/mindprint/internal/profile"
)

const sessionColumns = `id, profile_id, requester_id, title, message_count, created_at, updated_at`

// CreateSession stores a new chat session.
func (s *Store) CreateSession(ctx context.Context, sess *chat.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.ProfileID, sess.RequesterID, sess.Title, sess.MessageCount, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	row := s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return sess, nil
}

// ListSessions returns a requester's sessions with a profile, newest first.
func (s *Store) ListSessions(ctx context.Context, profileID, requesterID string) ([]*chat.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE profile_id = $1 AND requester_id = $2
		ORDER BY created_at DESC`, profileID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*chat.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// IncrementMessageCount bumps the session counter atomically.
func (s *Store) IncrementMessageCount(ctx context.Context, id string, delta int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("increment message count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, profile.ErrNotFound)
	}
	return nil
}

// AppendMessage stores a message in its session.
func (s *Store) AppendMessage(ctx context.Context, m *chat.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.SessionID, string(m.Role), m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a session, oldest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, sessionID, limit)
}

// ListMessages returns every message of a session in order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*chat.Message, error) {
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
}

func (s *Store) queryMessages(ctx context.Context, sql string, args ...any) ([]*chat.Message, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		var m chat.Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func scanSession(row pgx.Row) (*chat.Session, error) {
	var sess chat.Session
	err := row.Scan(&sess.ID, &sess.ProfileID, &sess.RequesterID, &sess.Title,
		&sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
