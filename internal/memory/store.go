package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/vectorstore"
	"go.uber.org/zap"
)

// DefaultMinSimilarity is the cosine floor for the vector path.
const DefaultMinSimilarity = 0.3

// keywordWeight is the score added per distinct query keyword found.
const keywordWeight = 0.3

// Store owns creation and retrieval of memories.
type Store struct {
	repo          Repository
	embedder      Embedder
	index         vectorstore.Index
	runner        Runner
	minSimilarity float64
	logger        *zap.Logger
}

// Config wires a Store. Index may be nil, in which case the vector path does
// an exact scan over repository rows. Embedder and Runner may be nil to
// disable embeddings entirely.
type Config struct {
	Repo          Repository
	Embedder      Embedder
	Index         vectorstore.Index
	Runner        Runner
	MinSimilarity float64
	Logger        *zap.Logger
}

// NewStore creates a memory store.
func NewStore(cfg Config) *Store {
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Store{
		repo:          cfg.Repo,
		embedder:      cfg.Embedder,
		index:         cfg.Index,
		runner:        cfg.Runner,
		minSimilarity: cfg.MinSimilarity,
		logger:        cfg.Logger,
	}
}

// Add creates a memory synchronously and schedules its embedding. The
// returned memory never carries an embedding.
func (s *Store) Add(ctx context.Context, profileID, content string, category profile.Category, importance float64, metadata map[string]string) (*Memory, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("add memory: %w: empty content", profile.ErrInvalidInput)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("add memory: %w: %q", profile.ErrInvalidCategory, category)
	}
	m := &Memory{
		ID:         uuid.New().String(),
		ProfileID:  profileID,
		Content:    content,
		Category:   category,
		Importance: clamp01(importance),
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.InsertMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	s.logger.Debug("memory added",
		zap.String("profile", profileID),
		zap.String("memory", m.ID),
		zap.String("category", string(category)))

	s.embedLater(m.ID, profileID, content)
	return m, nil
}

func (s *Store) embedLater(id, profileID, content string) {
	if s.runner == nil || s.embedder == nil {
		return
	}
	s.runner.Submit("embed memory "+id, func(ctx context.Context) error {
		vec, ok := s.embedder.Embed(ctx, content)
		if !ok {
			return nil
		}
		written, err := s.repo.SetMemoryEmbedding(ctx, id, vec)
		if err != nil {
			return fmt.Errorf("store memory embedding: %w", err)
		}
		if !written || s.index == nil {
			return nil
		}
		return s.index.Upsert(ctx, vectorstore.Record{
			ID: id, ProfileID: profileID, Kind: vectorstore.KindMemory, Vector: vec,
		})
	})
}

// Relevant ranks the profile's memories against query. The vector path runs
// first; if it yields nothing the keyword path ranks every memory instead.
// The two paths never mix within one call.
func (s *Store) Relevant(ctx context.Context, profileID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	mems, err := s.repo.ListMemories(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("relevant memories: %w", err)
	}
	if len(mems) == 0 {
		return nil, nil
	}

	if results := s.vectorRank(ctx, profileID, query, mems, limit); len(results) > 0 {
		return results, nil
	}
	return KeywordRank(mems, query, limit), nil
}

func (s *Store) vectorRank(ctx context.Context, profileID, query string, mems []*Memory, limit int) []Result {
	if s.embedder == nil || !anyEmbedded(mems) {
		return nil
	}
	vec, ok := s.embedder.Embed(ctx, query)
	if !ok {
		return nil
	}

	var hits []vectorstore.Hit
	if s.index != nil {
		var err error
		hits, err = s.index.FindSimilar(ctx, vectorstore.Query{
			Kind:      vectorstore.KindMemory,
			ProfileID: profileID,
			Vector:    vec,
			K:         limit,
			Threshold: s.minSimilarity,
		})
		if err != nil {
			s.logger.Warn("vector index unavailable, using keywords", zap.Error(err))
			return nil
		}
	} else {
		cands := make([]vectorstore.Candidate, 0, len(mems))
		for _, m := range mems {
			cands = append(cands, vectorstore.Candidate{ID: m.ID, Vector: m.Embedding})
		}
		hits = vectorstore.Rank(cands, vec, limit, s.minSimilarity)
	}

	byID := make(map[string]*Memory, len(mems))
	for _, m := range mems {
		byID[m.ID] = m
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if m, ok := byID[h.ID]; ok {
			results = append(results, Result{Memory: m, Score: h.Score, Method: MethodVector})
		}
	}
	return results
}

// KeywordRank scores each memory as importance plus 0.3 per distinct query
// keyword it contains and returns the top limit. Ties keep input order, so
// identical inputs always produce identical output.
func KeywordRank(mems []*Memory, query string, limit int) []Result {
	kws := vectorstore.Keywords(query)
	results := make([]Result, len(mems))
	for i, m := range mems {
		hits := vectorstore.KeywordHits(m.Content, kws)
		results[i] = Result{
			Memory: m,
			Score:  m.Importance + keywordWeight*float64(hits),
			Method: MethodKeyword,
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ByCategory returns the profile's memories in one category, oldest first.
func (s *Store) ByCategory(ctx context.Context, profileID string, category profile.Category) ([]*Memory, error) {
	mems, err := s.repo.ListMemories(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("memories by category: %w", err)
	}
	out := make([]*Memory, 0, len(mems))
	for _, m := range mems {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out, nil
}

// All returns the profile's full memory history, oldest first.
func (s *Store) All(ctx context.Context, profileID string) ([]*Memory, error) {
	mems, err := s.repo.ListMemories(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return mems, nil
}

// Remove deletes one memory and its vector. It undoes an Add whose
// surrounding write failed.
func (s *Store) Remove(ctx context.Context, profileID, id string) error {
	if err := s.repo.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("remove memory: %w", err)
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, vectorstore.KindMemory, profileID, []string{id}); err != nil {
			return fmt.Errorf("remove memory vector: %w", err)
		}
	}
	s.logger.Debug("memory removed", zap.String("profile", profileID), zap.String("memory", id))
	return nil
}

// Purge deletes every memory of the profile and its vectors.
func (s *Store) Purge(ctx context.Context, profileID string) error {
	if err := s.repo.DeleteMemories(ctx, profileID); err != nil {
		return fmt.Errorf("purge memories: %w", err)
	}
	if s.index != nil {
		if err := s.index.DeleteProfile(ctx, vectorstore.KindMemory, profileID); err != nil {
			return fmt.Errorf("purge memory vectors: %w", err)
		}
	}
	return nil
}

func anyEmbedded(mems []*Memory) bool {
	for _, m := range mems {
		if len(m.Embedding) > 0 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
