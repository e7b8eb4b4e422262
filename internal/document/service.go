package document

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nidhogg/mindprint/internal/blob"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/vectorstore"
	"go.uber.org/zap"
)

// DefaultMinSimilarity is the cosine floor for the vector path.
const DefaultMinSimilarity = 0.3

// Config wires a Service. Blob, Embedder, Index and Runner are optional.
type Config struct {
	Repo          Repository
	Blob          blob.Store
	Embedder      Embedder
	Index         vectorstore.Index
	Runner        Runner
	ChunkSize     int
	ChunkOverlap  int
	MinSimilarity float64
	Logger        *zap.Logger
}

// Service ingests documents and answers chunk relevance queries.
type Service struct {
	repo          Repository
	blob          blob.Store
	embedder      Embedder
	index         vectorstore.Index
	runner        Runner
	size          int
	overlap       int
	minSimilarity float64
	logger        *zap.Logger
}

// NewService creates a document service.
func NewService(cfg Config) *Service {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 0
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		repo:          cfg.Repo,
		blob:          cfg.Blob,
		embedder:      cfg.Embedder,
		index:         cfg.Index,
		runner:        cfg.Runner,
		size:          cfg.ChunkSize,
		overlap:       cfg.ChunkOverlap,
		minSimilarity: cfg.MinSimilarity,
		logger:        cfg.Logger,
	}
}

// Upload stores the raw bytes, records the document and ingests it. An
// ingestion failure is reported through the returned document's status, not
// as an error.
func (s *Service) Upload(ctx context.Context, profileID, name string, data []byte) (*Document, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("upload document: %w: empty name", profile.ErrInvalidInput)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("upload document: %w: empty content", profile.ErrInvalidInput)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("upload document: %w: content is not UTF-8 text", profile.ErrInvalidInput)
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		Name:      name,
		Status:    StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.blob != nil {
		doc.BlobKey = blob.DocumentKey(profileID, doc.ID)
		if err := s.blob.Put(ctx, doc.BlobKey, data); err != nil {
			return nil, fmt.Errorf("upload document: %w", err)
		}
	}
	if err := s.repo.InsertDocument(ctx, doc); err != nil {
		if doc.BlobKey != "" {
			if derr := s.blob.Delete(context.WithoutCancel(ctx), doc.BlobKey); derr != nil {
				s.logger.Warn("remove orphaned document blob", zap.String("key", doc.BlobKey), zap.Error(derr))
			}
		}
		return nil, fmt.Errorf("upload document: %w", err)
	}
	s.logger.Info("document uploaded",
		zap.String("profile", profileID),
		zap.String("document", doc.ID),
		zap.Int("bytes", len(data)))

	if _, err := s.Ingest(ctx, doc, string(data)); err != nil {
		s.logger.Error("document ingestion failed", zap.String("document", doc.ID), zap.Error(err))
	}
	return doc, nil
}

// Ingest chunks text into the document and schedules one embedding per
// chunk. On failure the document moves to StatusError and the chunks
// written so far are returned alongside the error.
func (s *Service) Ingest(ctx context.Context, doc *Document, text string) (written []*Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingest panic: %v", r)
		}
		status, msg := StatusReady, ""
		if err != nil {
			status, msg = StatusError, err.Error()
		}
		if uerr := s.repo.UpdateDocumentStatus(ctx, doc.ID, status, msg, len(written)); uerr != nil {
			s.logger.Error("update document status", zap.String("document", doc.ID), zap.Error(uerr))
			if err == nil {
				err = fmt.Errorf("update document status: %w", uerr)
			}
		}
		doc.Status, doc.Error, doc.ChunkCount = status, msg, len(written)
		doc.UpdatedAt = time.Now().UTC()
	}()

	for i, content := range Split(text, s.size, s.overlap) {
		c := &Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			ProfileID:  doc.ProfileID,
			Index:      i,
			Content:    content,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.repo.InsertChunk(ctx, c); err != nil {
			return written, fmt.Errorf("insert chunk %d: %w", i, err)
		}
		written = append(written, c)
		s.embedLater(c)
	}
	s.logger.Info("document ingested",
		zap.String("document", doc.ID),
		zap.Int("chunks", len(written)))
	return written, nil
}

func (s *Service) embedLater(c *Chunk) {
	if s.runner == nil || s.embedder == nil {
		return
	}
	id, profileID, content := c.ID, c.ProfileID, c.Content
	s.runner.Submit("embed chunk "+id, func(ctx context.Context) error {
		vec, ok := s.embedder.Embed(ctx, content)
		if !ok {
			return nil
		}
		wrote, err := s.repo.SetChunkEmbedding(ctx, id, vec)
		if err != nil {
			return fmt.Errorf("store chunk embedding: %w", err)
		}
		if !wrote || s.index == nil {
			return nil
		}
		return s.index.Upsert(ctx, vectorstore.Record{
			ID: id, ProfileID: profileID, Kind: vectorstore.KindChunk, Vector: vec,
		})
	})
}

// RelevantChunks ranks the profile's chunks against query, vector path
// first. The keyword path scores by the number of distinct query keywords a
// chunk contains and drops chunks with none.
func (s *Service) RelevantChunks(ctx context.Context, profileID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	chunks, err := s.repo.ListChunks(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("relevant chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	if results := s.vectorRank(ctx, profileID, query, chunks, limit); len(results) > 0 {
		return results, nil
	}
	return KeywordRank(chunks, query, limit), nil
}

func (s *Service) vectorRank(ctx context.Context, profileID, query string, chunks []*Chunk, limit int) []Result {
	if s.embedder == nil || !anyEmbedded(chunks) {
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
			Kind:      vectorstore.KindChunk,
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
		cands := make([]vectorstore.Candidate, 0, len(chunks))
		for _, c := range chunks {
			cands = append(cands, vectorstore.Candidate{ID: c.ID, Vector: c.Embedding})
		}
		hits = vectorstore.Rank(cands, vec, limit, s.minSimilarity)
	}

	byID := make(map[string]*Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if c, ok := byID[h.ID]; ok {
			results = append(results, Result{Chunk: c, Score: h.Score, Method: MethodVector})
		}
	}
	return results
}

// KeywordRank scores chunks by distinct keyword hits, keeps those with at
// least one and returns the top limit. Ties keep input order.
func KeywordRank(chunks []*Chunk, query string, limit int) []Result {
	kws := vectorstore.Keywords(query)
	var results []Result
	for _, c := range chunks {
		hits := vectorstore.KeywordHits(c.Content, kws)
		if hits == 0 {
			continue
		}
		results = append(results, Result{Chunk: c, Score: float64(hits), Method: MethodKeyword})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	d, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// List returns a profile's documents.
func (s *Service) List(ctx context.Context, profileID string) ([]*Document, error) {
	docs, err := s.repo.ListDocuments(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Chunks returns a document's chunks in order.
func (s *Service) Chunks(ctx context.Context, documentID string) ([]*Chunk, error) {
	chunks, err := s.repo.ListDocumentChunks(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, nil
}

// Delete removes a document with its chunks, vectors and stored bytes.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	chunks, err := s.repo.ListDocumentChunks(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if s.index != nil && len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
		}
		if err := s.index.Delete(ctx, vectorstore.KindChunk, doc.ProfileID, ids); err != nil {
			return fmt.Errorf("delete chunk vectors: %w", err)
		}
	}
	if s.blob != nil && doc.BlobKey != "" {
		if err := s.blob.Delete(ctx, doc.BlobKey); err != nil {
			return fmt.Errorf("delete document blob: %w", err)
		}
	}
	s.logger.Info("document deleted", zap.String("document", id))
	return nil
}

// Purge removes every document of the profile.
func (s *Service) Purge(ctx context.Context, profileID string) error {
	if err := s.repo.DeleteDocuments(ctx, profileID); err != nil {
		return fmt.Errorf("purge documents: %w", err)
	}
	if s.index != nil {
		if err := s.index.DeleteProfile(ctx, vectorstore.KindChunk, profileID); err != nil {
			return fmt.Errorf("purge chunk vectors: %w", err)
		}
	}
	if s.blob != nil {
		if err := s.blob.DeletePrefix(ctx, blob.ProfilePrefix(profileID)); err != nil {
			return fmt.Errorf("purge document blobs: %w", err)
		}
	}
	return nil
}

func anyEmbedded(chunks []*Chunk) bool {
	for _, c := range chunks {
		if len(c.Embedding) > 0 {
			return true
		}
	}
	return false
}
