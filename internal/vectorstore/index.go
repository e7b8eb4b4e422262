// Package vectorstore ranks stored vectors against a query vector. Retrieval
// code talks to the Index interface so the backing store can be an exact
// in-process scan or an external vector database.
package vectorstore

import (
	"context"
	"math"
	"sort"
)

// Kind separates the record families sharing an index.
type Kind string

const (
	KindMemory Kind = "memories"
	KindChunk  Kind = "chunks"
)

// Record is one embedded row.
type Record struct {
	ID        string
	ProfileID string
	Kind      Kind
	Vector    []float32
}

// Query asks for the K most similar records of one profile whose cosine
// similarity is at least Threshold.
type Query struct {
	Kind      Kind
	ProfileID string
	Vector    []float32
	K         int
	Threshold float64
}

// Hit is a scored record id.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Index stores vectors and answers similarity queries.
type Index interface {
	Upsert(ctx context.Context, r Record) error
	FindSimilar(ctx context.Context, q Query) ([]Hit, error)
	DeleteProfile(ctx context.Context, kind Kind, profileID string) error
	Delete(ctx context.Context, kind Kind, profileID string, ids []string) error
}

// Candidate is a vector considered by Rank.
type Candidate struct {
	ID     string
	Vector []float32
}

// Rank scores candidates by cosine similarity, drops those below threshold
// and returns at most k hits ordered by descending score. Equal scores keep
// candidate order.
func Rank(cands []Candidate, query []float32, k int, threshold float64) []Hit {
	if k <= 0 || len(query) == 0 {
		return nil
	}
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		if len(c.Vector) == 0 {
			continue
		}
		s := Cosine(c.Vector, query)
		if s < threshold {
			continue
		}
		hits = append(hits, Hit{ID: c.ID, Score: s})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
