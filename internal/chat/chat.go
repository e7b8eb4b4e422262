// Package chat drives conversations with a profiled persona: it retrieves
// memories and document chunks for each turn, assembles the persona prompt
// and generates blocking or streamed replies.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

// ErrGeneration wraps a failed reply generation. No persona turn is stored.
var ErrGeneration = errors.New("generation failed")

// Role of a message author.
type Role string

const (
	RoleUser    Role = "user"
	RolePersona Role = "persona"
	RoleSystem  Role = "system"
)

// Session groups the messages of one requester with one profile.
type Session struct {
	ID           string    `json:"id"`
	ProfileID    string    `json:"profile_id"`
	RequesterID  string    `json:"requester_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one append-only turn.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Exchange is the result of a blocking send.
type Exchange struct {
	User    *Message `json:"user_message"`
	Persona *Message `json:"persona_message"`
}

// StreamEvent is one step of a streamed reply. The final event has Done set
// and carries the stored persona message, or has Err set.
type StreamEvent struct {
	Delta   string   `json:"delta,omitempty"`
	Done    bool     `json:"done,omitempty"`
	Message *Message `json:"message,omitempty"`
	Err     error    `json:"-"`
}

// Repository persists sessions and messages.
type Repository interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, profileID, requesterID string) ([]*Session, error)
	IncrementMessageCount(ctx context.Context, id string, delta int) error
	AppendMessage(ctx context.Context, m *Message) error
	// RecentMessages returns the last limit messages, oldest first.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)
}

// Profiles loads a profile on behalf of a requester, enforcing ownership.
type Profiles interface {
	Get(ctx context.Context, requester, profileID string) (*profile.Profile, error)
}

// Memories ranks and records memories.
type Memories interface {
	Relevant(ctx context.Context, profileID, query string, limit int) ([]memory.Result, error)
	Add(ctx context.Context, profileID, content string, category profile.Category, importance float64, metadata map[string]string) (*memory.Memory, error)
}

// Documents ranks document chunks.
type Documents interface {
	RelevantChunks(ctx context.Context, profileID, query string, limit int) ([]document.Result, error)
}
