package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/mindprint/internal/chat"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/provider"
	"github.com/nidhogg/mindprint/internal/store/memstore"
	"go.uber.org/zap"
)

type fakeGen struct {
	mu      sync.Mutex
	reply   string
	err     error
	stream  chan *provider.StreamChunk
	calls   int
	tasks   []provider.Task
	system  string
	history []provider.Message
}

func (g *fakeGen) record(task provider.Task, system string, history []provider.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.tasks = append(g.tasks, task)
	g.system = system
	g.history = append([]provider.Message(nil), history...)
}

func (g *fakeGen) Generate(_ context.Context, task provider.Task, system string, history []provider.Message, _ int) (string, error) {
	g.record(task, system, history)
	return g.reply, g.err
}

func (g *fakeGen) GenerateStream(_ context.Context, task provider.Task, system string, history []provider.Message, _ int) (<-chan *provider.StreamChunk, error) {
	g.record(task, system, history)
	if g.err != nil {
		return nil, g.err
	}
	return g.stream, nil
}

type profiles struct{ repo *memstore.Store }

func (p profiles) Get(ctx context.Context, requester, id string) (*profile.Profile, error) {
	pr, err := p.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pr.Authorize(requester); err != nil {
		return nil, err
	}
	return pr, nil
}

type fixture struct {
	repo     *memstore.Store
	memories *memory.Store
	gen      *fakeGen
	orch     *chat.Orchestrator
	profile  *profile.Profile
	session  *chat.Session
}

func newFixture(t *testing.T, historyLimit int) *fixture {
	t.Helper()
	repo := memstore.New()
	f := &fixture{
		repo:     repo,
		memories: memory.NewStore(memory.Config{Repo: repo}),
		gen:      &fakeGen{reply: "Honestly? The sea."},
	}
	f.orch = chat.NewOrchestrator(chat.Config{
		Repo:         repo,
		Profiles:     profiles{repo},
		Memories:     f.memories,
		Generator:    f.gen,
		HistoryLimit: historyLimit,
		Logger:       zap.NewNop(),
	})

	ctx := context.Background()
	f.profile = profile.New("p1", "u1", "Ada", profile.TierStandard, profile.Minimums{Interactions: 40, PerCategory: 5})
	if err := repo.CreateProfile(ctx, f.profile); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if _, err := f.memories.Add(ctx, "p1", "Q: What calms you?\nA: Watching the sea from the harbour wall", profile.CategoryEmotional, 0.7, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s, err := f.orch.StartSession(ctx, "u1", "p1", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	f.session = s
	return f
}

func (f *fixture) messages(t *testing.T) []*chat.Message {
	t.Helper()
	msgs, err := f.orch.Messages(context.Background(), "u1", f.session.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	return msgs
}

func TestSendMessagePipeline(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	ex, err := f.orch.SendMessage(ctx, "u1", f.session.ID, "What calms you down, harbour or sea?")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if ex.User.Role != chat.RoleUser || ex.Persona.Role != chat.RolePersona {
		t.Errorf("roles = %s, %s", ex.User.Role, ex.Persona.Role)
	}
	if ex.Persona.Content != "Honestly? The sea." {
		t.Errorf("persona = %q", ex.Persona.Content)
	}
	if !ex.Persona.CreatedAt.After(ex.User.CreatedAt) {
		t.Error("persona message not ordered after user message")
	}

	if f.gen.tasks[0] != provider.TaskPersona {
		t.Errorf("task = %s", f.gen.tasks[0])
	}
	if !strings.Contains(f.gen.system, "Watching the sea from the harbour wall") {
		t.Error("retrieved memory missing from prompt")
	}
	last := f.gen.history[len(f.gen.history)-1]
	if last.Role != provider.RoleUser || last.Content != "What calms you down, harbour or sea?" {
		t.Errorf("history tail = %+v", last)
	}

	if msgs := f.messages(t); len(msgs) != 2 {
		t.Errorf("stored messages = %d, want 2", len(msgs))
	}
	sess, _ := f.orch.Session(ctx, "u1", f.session.ID)
	if sess.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", sess.MessageCount)
	}

	mems, _ := f.memories.ByCategory(ctx, "p1", profile.CategoryAutobiographical)
	if len(mems) != 1 {
		t.Fatalf("conversation memories = %d, want 1", len(mems))
	}
	if mems[0].Importance != memory.ImportanceConversation || mems[0].Metadata["session_id"] != f.session.ID {
		t.Errorf("conversation memory = %+v", mems[0])
	}
	if !strings.Contains(mems[0].Content, "The sea") {
		t.Errorf("summary = %q", mems[0].Content)
	}
}

func TestSendMessageHistoryWindow(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := f.orch.SendMessage(ctx, "u1", f.session.ID, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	if len(f.gen.history) != 3 {
		t.Errorf("history = %d messages, want 3", len(f.gen.history))
	}
	if f.gen.history[2].Content != "message 3" {
		t.Errorf("history tail = %q", f.gen.history[2].Content)
	}
}

func TestSendMessageGenerationFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.err = errors.New("provider down")

	_, err := f.orch.SendMessage(context.Background(), "u1", f.session.ID, "hello")
	if !errors.Is(err, chat.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	msgs := f.messages(t)
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser {
		t.Errorf("messages = %+v, want only the user turn", msgs)
	}
	sess, _ := f.orch.Session(context.Background(), "u1", f.session.ID)
	if sess.MessageCount != 0 {
		t.Errorf("MessageCount = %d", sess.MessageCount)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.orch.SendMessage(ctx, "u1", f.session.ID, "  "); !errors.Is(err, profile.ErrInvalidInput) {
		t.Errorf("empty content err = %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, "u2", f.session.ID, "hi"); !errors.Is(err, profile.ErrForbidden) {
		t.Errorf("other requester err = %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, "u1", "missing", "hi"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("missing session err = %v", err)
	}
	if _, err := f.orch.StartSession(ctx, "u2", "p1", ""); !errors.Is(err, profile.ErrForbidden) {
		t.Errorf("foreign profile session err = %v", err)
	}
	if f.gen.calls != 0 {
		t.Errorf("generator called %d times on rejected requests", f.gen.calls)
	}
}

func TestStreamCompletes(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.stream = make(chan *provider.StreamChunk, 4)
	f.gen.stream <- &provider.StreamChunk{Content: "The "}
	f.gen.stream <- &provider.StreamChunk{Content: "sea."}
	f.gen.stream <- &provider.StreamChunk{Done: true}
	close(f.gen.stream)

	user, events, err := f.orch.SendMessageStream(context.Background(), "u1", f.session.ID, "What calms you?")
	if err != nil {
		t.Fatalf("SendMessageStream: %v", err)
	}
	if user.Role != chat.RoleUser {
		t.Errorf("user role = %s", user.Role)
	}
	var text strings.Builder
	var final chat.StreamEvent
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		text.WriteString(ev.Delta)
		if ev.Done {
			final = ev
		}
	}
	if text.String() != "The sea." {
		t.Errorf("streamed = %q", text.String())
	}
	if final.Message == nil || final.Message.Content != "The sea." {
		t.Fatalf("final event = %+v", final)
	}
	msgs := f.messages(t)
	if len(msgs) != 2 || msgs[1].ID != final.Message.ID {
		t.Errorf("stored = %+v", msgs)
	}
}

func TestStreamAbandonedWritesNoPartialTurn(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.stream = make(chan *provider.StreamChunk)
	ctx, cancel := context.WithCancel(context.Background())

	_, events, err := f.orch.SendMessageStream(ctx, "u1", f.session.ID, "Tell me a story")
	if err != nil {
		t.Fatalf("SendMessageStream: %v", err)
	}
	f.gen.stream <- &provider.StreamChunk{Content: "Once upon"}
	if ev := <-events; ev.Delta != "Once upon" {
		t.Fatalf("first event = %+v", ev)
	}
	cancel()

	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-events:
		case <-deadline:
			t.Fatal("events channel not closed after cancel")
		}
	}

	msgs := f.messages(t)
	if len(msgs) != 1 || msgs[0].Role != chat.RoleUser {
		t.Errorf("messages = %+v, want only the user turn", msgs)
	}
	sess, _ := f.orch.Session(context.Background(), "u1", f.session.ID)
	if sess.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", sess.MessageCount)
	}
	mems, _ := f.memories.ByCategory(context.Background(), "p1", profile.CategoryAutobiographical)
	if len(mems) != 0 {
		t.Errorf("conversation memory written for abandoned turn")
	}
}

func TestStreamProviderErrorWritesNoTurn(t *testing.T) {
	f := newFixture(t, 0)
	f.gen.stream = make(chan *provider.StreamChunk, 2)
	f.gen.stream <- &provider.StreamChunk{Content: "half"}
	f.gen.stream <- &provider.StreamChunk{Err: errors.New("connection reset")}
	close(f.gen.stream)

	_, events, err := f.orch.SendMessageStream(context.Background(), "u1", f.session.ID, "hi")
	if err != nil {
		t.Fatalf("SendMessageStream: %v", err)
	}
	var gotErr error
	for ev := range events {
		if ev.Err != nil {
			gotErr = ev.Err
		}
	}
	if !errors.Is(gotErr, chat.ErrGeneration) {
		t.Errorf("stream err = %v, want ErrGeneration", gotErr)
	}
	if msgs := f.messages(t); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
}

func TestSessionsListedPerRequester(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	if _, err := f.orch.StartSession(ctx, "u1", "p1", "Second"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	ss, err := f.orch.ListSessions(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(ss) != 2 {
		t.Errorf("sessions = %d, want 2", len(ss))
	}
	if f.session.Title != "Conversation with Ada" {
		t.Errorf("default title = %q", f.session.Title)
	}
	if _, err := f.orch.Messages(ctx, "u2", f.session.ID); !errors.Is(err, profile.ErrForbidden) {
		t.Errorf("Messages by other requester err = %v", err)
	}
}

func TestSendMessageUsesDocuments(t *testing.T) {
	repo := memstore.New()
	ctx := context.Background()
	gen := &fakeGen{reply: "ok"}
	docs := document.NewService(document.Config{Repo: repo})
	orch := chat.NewOrchestrator(chat.Config{
		Repo:      repo,
		Profiles:  profiles{repo},
		Memories:  memory.NewStore(memory.Config{Repo: repo}),
		Documents: docs,
		Generator: gen,
	})
	p := profile.New("p1", "u1", "Ada", profile.TierTrial, profile.Minimums{Interactions: 16, PerCategory: 2})
	repo.CreateProfile(ctx, p)
	if _, err := docs.Upload(ctx, "p1", "diary.txt", []byte("The lighthouse keeper taught me knots.")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	s, _ := orch.StartSession(ctx, "u1", "p1", "")
	if _, err := orch.SendMessage(ctx, "u1", s.ID, "who taught you about the lighthouse?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !strings.Contains(gen.system, "## From your documents") || !strings.Contains(gen.system, "lighthouse keeper") {
		t.Errorf("document block missing:\n%s", gen.system)
	}
}
