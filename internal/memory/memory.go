// Package memory stores the atomic facts learned about a profile and ranks
// them against live queries. Ranking tries vector similarity first and falls
// back to deterministic keyword scoring.
package memory

import (
	"context"
	"time"

	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/tasks"
)

// Memory is one atomic fact about a profile. Content never changes after
// creation; Embedding is written at most once, after the fact.
type Memory struct {
	ID         string            `json:"id"`
	ProfileID  string            `json:"profile_id"`
	Content    string            `json:"content"`
	Category   profile.Category  `json:"category"`
	Importance float64           `json:"importance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Method names the ranking path that produced a result.
type Method string

const (
	MethodVector  Method = "vector"
	MethodKeyword Method = "keyword"
)

// Result is a ranked memory.
type Result struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
	Method Method  `json:"method"`
}

// Repository persists memories.
type Repository interface {
	InsertMemory(ctx context.Context, m *Memory) error
	// SetMemoryEmbedding writes vec only if the memory has no embedding yet
	// and reports whether it did.
	SetMemoryEmbedding(ctx context.Context, id string, vec []float32) (bool, error)
	// ListMemories returns a profile's memories oldest first.
	ListMemories(ctx context.Context, profileID string) ([]*Memory, error)
	// DeleteMemory removes one memory; a missing id is not an error.
	DeleteMemory(ctx context.Context, id string) error
	DeleteMemories(ctx context.Context, profileID string) error
}

// Embedder produces vectors; ok=false means unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Runner schedules background work.
type Runner interface {
	Submit(name string, fn tasks.Func) bool
}

// Importance weights used by the acquisition and chat loops.
const (
	ImportanceAnswer       = 0.7
	ImportanceConversation = 0.3
)
