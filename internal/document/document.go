// Package document ingests uploaded text into overlapping word-window chunks
// and ranks those chunks against live queries.
package document

import (
	"context"
	"time"

	"github.com/nidhogg/mindprint/internal/tasks"
)

// Status tracks ingestion of one document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	// StatusError means ingestion stopped part way; chunks written before the
	// failure are kept.
	StatusError Status = "error"
)

// Document is an uploaded source text.
type Document struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profile_id"`
	Name       string    `json:"name"`
	BlobKey    string    `json:"blob_key"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is one word window of a document.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	ProfileID  string    `json:"profile_id"`
	Index      int       `json:"index"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Method names the ranking path that produced a result.
type Method string

const (
	MethodVector  Method = "vector"
	MethodKeyword Method = "keyword"
)

// Result is a ranked chunk.
type Result struct {
	Chunk  *Chunk  `json:"chunk"`
	Score  float64 `json:"score"`
	Method Method  `json:"method"`
}

// Repository persists documents and chunks.
type Repository interface {
	InsertDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, profileID string) ([]*Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status Status, errMsg string, chunkCount int) error
	// DeleteDocument removes the document and its chunks.
	DeleteDocument(ctx context.Context, id string) error
	DeleteDocuments(ctx context.Context, profileID string) error

	InsertChunk(ctx context.Context, c *Chunk) error
	// SetChunkEmbedding writes vec only if the chunk has none yet and
	// reports whether it did.
	SetChunkEmbedding(ctx context.Context, id string, vec []float32) (bool, error)
	// ListChunks returns a profile's chunks ordered by document creation and
	// chunk index.
	ListChunks(ctx context.Context, profileID string) ([]*Chunk, error)
	ListDocumentChunks(ctx context.Context, documentID string) ([]*Chunk, error)
}

// Embedder produces vectors; ok=false means unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Runner schedules background work.
type Runner interface {
	Submit(name string, fn tasks.Func) bool
}
