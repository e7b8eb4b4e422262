package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/embedding"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/provider"
	"go.uber.org/zap"
)

// Retrieval and prompt defaults.
const (
	DefaultHistoryLimit = 20
	DefaultMemoryLimit  = 15
	DefaultChunkLimit   = 5
	DefaultMaxTokens    = 1024

	summaryExcerpt = 240
)

// Config wires an Orchestrator. Documents may be nil.
type Config struct {
	Repo         Repository
	Profiles     Profiles
	Memories     Memories
	Documents    Documents
	Generator    provider.Generator
	HistoryLimit int
	MemoryLimit  int
	ChunkLimit   int
	PerCategory  int
	MaxTokens    int
	Logger       *zap.Logger
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	repo         Repository
	profiles     Profiles
	memories     Memories
	documents    Documents
	gen          provider.Generator
	historyLimit int
	memoryLimit  int
	chunkLimit   int
	perCategory  int
	maxTokens    int
	logger       *zap.Logger
}

// NewOrchestrator creates a chat orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = DefaultChunkLimit
	}
	if cfg.PerCategory <= 0 {
		cfg.PerCategory = DefaultPerCategory
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		repo:         cfg.Repo,
		profiles:     cfg.Profiles,
		memories:     cfg.Memories,
		documents:    cfg.Documents,
		gen:          cfg.Generator,
		historyLimit: cfg.HistoryLimit,
		memoryLimit:  cfg.MemoryLimit,
		chunkLimit:   cfg.ChunkLimit,
		perCategory:  cfg.PerCategory,
		maxTokens:    cfg.MaxTokens,
		logger:       cfg.Logger,
	}
}

// SetProfiles replaces the profile source. The enrollment tracker both
// serves profiles to the orchestrator and uses it as its evaluator, so one
// side is wired after construction.
func (o *Orchestrator) SetProfiles(p Profiles) {
	o.profiles = p
}

// StartSession opens a session with a profile the requester owns.
func (o *Orchestrator) StartSession(ctx context.Context, requester, profileID, title string) (*Session, error) {
	p, err := o.profiles.Get(ctx, requester, profileID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Conversation with " + p.Name
	}
	now := time.Now().UTC()
	s := &Session{
		ID:          uuid.New().String(),
		ProfileID:   p.ID,
		RequesterID: requester,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	o.logger.Info("session started", zap.String("profile", p.ID), zap.String("session", s.ID))
	return s, nil
}

// ListSessions returns the requester's sessions with a profile.
func (o *Orchestrator) ListSessions(ctx context.Context, requester, profileID string) ([]*Session, error) {
	if _, err := o.profiles.Get(ctx, requester, profileID); err != nil {
		return nil, err
	}
	ss, err := o.repo.ListSessions(ctx, profileID, requester)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ss, nil
}

// Session loads a session owned by requester.
func (o *Orchestrator) Session(ctx context.Context, requester, sessionID string) (*Session, error) {
	s, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.RequesterID != requester {
		return nil, profile.ErrForbidden
	}
	return s, nil
}

// Messages returns a session's full log in order.
func (o *Orchestrator) Messages(ctx context.Context, requester, sessionID string) ([]*Message, error) {
	if _, err := o.Session(ctx, requester, sessionID); err != nil {
		return nil, err
	}
	msgs, err := o.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// turn carries the state shared by the blocking and streaming paths.
type turn struct {
	session *Session
	profile *profile.Profile
	user    *Message
	system  string
	history []provider.Message
}

// prepare persists the user turn and assembles prompt and history.
func (o *Orchestrator) prepare(ctx context.Context, requester, sessionID, content string) (*turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("send message: %w: empty content", profile.ErrInvalidInput)
	}
	s, err := o.Session(ctx, requester, sessionID)
	if err != nil {
		return nil, err
	}
	p, err := o.profiles.Get(ctx, requester, s.ProfileID)
	if err != nil {
		return nil, err
	}
	if p.Status == profile.StatusArchived {
		return nil, profile.ErrArchived
	}

	user := &Message{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.repo.AppendMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	recent, err := o.repo.RecentMessages(ctx, s.ID, o.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	mems, err := o.memories.Relevant(ctx, p.ID, content, o.memoryLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}
	var chunks []document.Result
	if o.documents != nil {
		chunks, err = o.documents.RelevantChunks(ctx, p.ID, content, o.chunkLimit)
		if err != nil {
			return nil, fmt.Errorf("retrieve chunks: %w", err)
		}
	}
	o.logger.Debug("context retrieved",
		zap.String("session", s.ID),
		zap.Int("memories", len(mems)),
		zap.Int("chunks", len(chunks)))

	return &turn{
		session: s,
		profile: p,
		user:    user,
		system:  SystemPrompt(p, mems, chunks, o.perCategory),
		history: toHistory(recent),
	}, nil
}

// finish stores the persona turn, bumps the session counter and writes the
// rolling conversation memory.
func (o *Orchestrator) finish(ctx context.Context, t *turn, reply string) (*Message, error) {
	persona := &Message{
		ID:        uuid.New().String(),
		SessionID: t.session.ID,
		Role:      RolePersona,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if !persona.CreatedAt.After(t.user.CreatedAt) {
		persona.CreatedAt = t.user.CreatedAt.Add(time.Microsecond)
	}
	if err := o.repo.AppendMessage(ctx, persona); err != nil {
		return nil, fmt.Errorf("store persona message: %w", err)
	}
	if err := o.repo.IncrementMessageCount(ctx, t.session.ID, 2); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	summary := fmt.Sprintf("In conversation, when told %q, %s replied %q",
		embedding.Truncate(t.user.Content, summaryExcerpt),
		t.profile.Name,
		embedding.Truncate(reply, summaryExcerpt))
	if _, err := o.memories.Add(ctx, t.profile.ID, summary,
		profile.CategoryAutobiographical, memory.ImportanceConversation,
		map[string]string{"source": "chat", "session_id": t.session.ID}); err != nil {
		o.logger.Warn("store conversation memory", zap.String("session", t.session.ID), zap.Error(err))
	}
	return persona, nil
}

// SendMessage runs one blocking chat turn.
func (o *Orchestrator) SendMessage(ctx context.Context, requester, sessionID, content string) (*Exchange, error) {
	t, err := o.prepare(ctx, requester, sessionID, content)
	if err != nil {
		return nil, err
	}
	reply, err := o.gen.Generate(ctx, provider.TaskPersona, t.system, t.history, o.maxTokens)
	if err != nil {
		o.logger.Warn("persona generation failed", zap.String("session", sessionID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	persona, err := o.finish(ctx, t, strings.TrimSpace(reply))
	if err != nil {
		return nil, err
	}
	return &Exchange{User: t.user, Persona: persona}, nil
}

// SendMessageStream runs one streamed chat turn. The user turn is stored
// before it returns. The persona turn is stored only once the provider
// finishes; cancelling ctx first abandons the turn and nothing more is
// written. The events channel is closed in every case.
func (o *Orchestrator) SendMessageStream(ctx context.Context, requester, sessionID, content string) (*Message, <-chan StreamEvent, error) {
	t, err := o.prepare(ctx, requester, sessionID, content)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := o.gen.GenerateStream(ctx, provider.TaskPersona, t.system, t.history, o.maxTokens)
	if err != nil {
		o.logger.Warn("persona stream failed", zap.String("session", sessionID), zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := make(chan StreamEvent, 16)
	go o.relay(ctx, t, chunks, out)
	return t.user, out, nil
}

func (o *Orchestrator) relay(ctx context.Context, t *turn, chunks <-chan *provider.StreamChunk, out chan<- StreamEvent) {
	defer close(out)

	emit := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var reply strings.Builder
loop:
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("stream abandoned", zap.String("session", t.session.ID))
			return
		case c, ok := <-chunks:
			if !ok {
				break loop
			}
			if c.Err != nil {
				o.logger.Warn("persona stream broke", zap.String("session", t.session.ID), zap.Error(c.Err))
				emit(StreamEvent{Err: fmt.Errorf("%w: %v", ErrGeneration, c.Err)})
				return
			}
			if c.Content != "" {
				reply.WriteString(c.Content)
				if !emit(StreamEvent{Delta: c.Content}) {
					return
				}
			}
			if c.Done {
				break loop
			}
		}
	}
	if ctx.Err() != nil {
		return
	}

	persona, err := o.finish(ctx, t, strings.TrimSpace(reply.String()))
	if err != nil {
		emit(StreamEvent{Err: err})
		return
	}
	emit(StreamEvent{Done: true, Message: persona})
}

func toHistory(msgs []*Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})
		case RolePersona:
			out = append(out, provider.Message{Role: provider.RoleAssistant, Content: m.Content})
		}
	}
	return out
}
