// Package memstore keeps every repository in process memory. It backs tests
// and offline runs; data does not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/mindprint/internal/chat"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/enrollment"
	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

// Store implements the memory, document, enrollment and chat repositories.
type Store struct {
	mu        sync.RWMutex
	profiles  map[string]*profile.Profile
	memories  []*memory.Memory
	documents map[string]*document.Document
	chunks    []*document.Chunk
	questions []*enrollment.Question
	sessions  map[string]*chat.Session
	messages  []*chat.Message
}

var (
	_ memory.Repository     = (*Store)(nil)
	_ document.Repository   = (*Store)(nil)
	_ enrollment.Repository = (*Store)(nil)
	_ chat.Repository       = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		profiles:  make(map[string]*profile.Profile),
		documents: make(map[string]*document.Document),
		sessions:  make(map[string]*chat.Session),
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, profile.ErrNotFound)
}

func cloneProfile(p *profile.Profile) *profile.Profile {
	cp := *p
	cp.Coverage = p.Coverage.Clone()
	if p.ConsistencyScore != nil {
		v := *p.ConsistencyScore
		cp.ConsistencyScore = &v
	}
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		cp.ActivatedAt = &t
	}
	return &cp
}

// Profiles

func (s *Store) CreateProfile(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; ok {
		return fmt.Errorf("profile %s already exists", p.ID)
	}
	s.profiles[p.ID] = cloneProfile(p)
	return nil
}

func (s *Store) GetProfile(_ context.Context, id string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, notFound("profile", id)
	}
	return cloneProfile(p), nil
}

func (s *Store) ListProfiles(_ context.Context, ownerID string) ([]*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*profile.Profile
	for _, p := range s.profiles {
		if p.OwnerID == ownerID {
			out = append(out, cloneProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateProfile(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		return notFound("profile", p.ID)
	}
	s.profiles[p.ID] = cloneProfile(p)
	return nil
}

// DeleteProfile cascades to every row the profile owns.
func (s *Store) DeleteProfile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return notFound("profile", id)
	}
	delete(s.profiles, id)

	s.memories = filter(s.memories, func(m *memory.Memory) bool { return m.ProfileID != id })
	s.chunks = filter(s.chunks, func(c *document.Chunk) bool { return c.ProfileID != id })
	s.questions = filter(s.questions, func(q *enrollment.Question) bool { return q.ProfileID != id })
	for docID, d := range s.documents {
		if d.ProfileID == id {
			delete(s.documents, docID)
		}
	}
	dropped := make(map[string]bool)
	for sid, sess := range s.sessions {
		if sess.ProfileID == id {
			dropped[sid] = true
			delete(s.sessions, sid)
		}
	}
	s.messages = filter(s.messages, func(m *chat.Message) bool { return !dropped[m.SessionID] })
	return nil
}

// Memories

func (s *Store) InsertMemory(_ context.Context, m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	cp.Embedding = nil
	s.memories = append(s.memories, &cp)
	return nil
}

func (s *Store) SetMemoryEmbedding(_ context.Context, id string, vec []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memories {
		if m.ID != id {
			continue
		}
		if m.Embedding != nil {
			return false, nil
		}
		m.Embedding = append([]float32(nil), vec...)
		return true, nil
	}
	return false, notFound("memory", id)
}

func (s *Store) ListMemories(_ context.Context, profileID string) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range s.memories {
		if m.ProfileID == profileID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = filter(s.memories, func(m *memory.Memory) bool { return m.ID != id })
	return nil
}

func (s *Store) DeleteMemories(_ context.Context, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = filter(s.memories, func(m *memory.Memory) bool { return m.ProfileID != profileID })
	return nil
}

// Documents

func (s *Store) InsertDocument(_ context.Context, d *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.documents[d.ID] = &cp
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, notFound("document", id)
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListDocuments(_ context.Context, profileID string) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*document.Document
	for _, d := range s.documents {
		if d.ProfileID == profileID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateDocumentStatus(_ context.Context, id string, status document.Status, errMsg string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return notFound("document", id)
	}
	d.Status, d.Error, d.ChunkCount = status, errMsg, chunkCount
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return notFound("document", id)
	}
	delete(s.documents, id)
	s.chunks = filter(s.chunks, func(c *document.Chunk) bool { return c.DocumentID != id })
	return nil
}

func (s *Store) DeleteDocuments(_ context.Context, profileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.documents {
		if d.ProfileID == profileID {
			delete(s.documents, id)
		}
	}
	s.chunks = filter(s.chunks, func(c *document.Chunk) bool { return c.ProfileID != profileID })
	return nil
}

func (s *Store) InsertChunk(_ context.Context, c *document.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[c.DocumentID]; !ok {
		return notFound("document", c.DocumentID)
	}
	cp := *c
	cp.Embedding = nil
	s.chunks = append(s.chunks, &cp)
	return nil
}

func (s *Store) SetChunkEmbedding(_ context.Context, id string, vec []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.ID != id {
			continue
		}
		if c.Embedding != nil {
			return false, nil
		}
		c.Embedding = append([]float32(nil), vec...)
		return true, nil
	}
	return false, notFound("chunk", id)
}

func (s *Store) ListChunks(_ context.Context, profileID string) ([]*document.Chunk, error) {
	return s.chunksWhere(func(c *document.Chunk) bool { return c.ProfileID == profileID }), nil
}

func (s *Store) ListDocumentChunks(_ context.Context, documentID string) ([]*document.Chunk, error) {
	return s.chunksWhere(func(c *document.Chunk) bool { return c.DocumentID == documentID }), nil
}

// chunksWhere keeps insertion order, which is document then chunk index.
func (s *Store) chunksWhere(keep func(*document.Chunk) bool) []*document.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*document.Chunk
	for _, c := range s.chunks {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// Questions

func (s *Store) InsertQuestion(_ context.Context, q *enrollment.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.questions = append(s.questions, &cp)
	return nil
}

func (s *Store) GetQuestion(_ context.Context, id string) (*enrollment.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.questions {
		if q.ID == id {
			cp := *q
			return &cp, nil
		}
	}
	return nil, notFound("question", id)
}

func (s *Store) ListQuestions(_ context.Context, profileID string) ([]*enrollment.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*enrollment.Question
	for _, q := range s.questions {
		if q.ProfileID == profileID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Turn < out[j].Turn })
	return out, nil
}

func (s *Store) AnswerQuestion(_ context.Context, id, answer string, at time.Time, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.questions {
		if q.ID != id {
			continue
		}
		if q.AnsweredAt != nil {
			return profile.ErrAlreadyAnswered
		}
		if _, ok := s.profiles[p.ID]; !ok {
			return notFound("profile", p.ID)
		}
		s.profiles[p.ID] = cloneProfile(p)
		q.Answer = answer
		q.AnsweredAt = &at
		return nil
	}
	return notFound("question", id)
}

// Sessions

func (s *Store) CreateSession(_ context.Context, sess *chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound("session", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ListSessions(_ context.Context, profileID, requesterID string) ([]*chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Session
	for _, sess := range s.sessions {
		if sess.ProfileID == profileID && sess.RequesterID == requesterID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) IncrementMessageCount(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return notFound("session", id)
	}
	sess.MessageCount += delta
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) AppendMessage(_ context.Context, m *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return notFound("session", m.SessionID)
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*chat.Message, error) {
	msgs, _ := s.ListMessages(ctx, sessionID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) ListMessages(_ context.Context, sessionID string) ([]*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*chat.Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := items[:0]
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	var zero T
	for i := len(out); i < len(items); i++ {
		items[i] = zero
	}
	return out
}
