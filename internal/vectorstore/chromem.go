package vectorstore

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
)

// Chromem is an embedded Index built on chromem-go. Each (kind, profile)
// pair gets its own collection, so queries never cross profiles. When Path
// is set the database is persisted to disk.
type Chromem struct {
	db *chromem.DB
}

// ChromemConfig configures the embedded database.
type ChromemConfig struct {
	Path     string `json:"path"`
	Compress bool   `json:"compress"`
}

// NewChromem opens (or creates) the embedded vector database.
func NewChromem(cfg ChromemConfig) (*Chromem, error) {
	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem at %s: %w", cfg.Path, err)
		}
	}
	return &Chromem{db: db}, nil
}

func chromemCollection(kind Kind, profileID string) string {
	return fmt.Sprintf("%s_%s", kind, profileID)
}

// noEmbedding makes chromem fail loudly if a document ever arrives without a
// precomputed vector.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: vectors must be precomputed")
}

// Upsert adds r to its profile collection.
func (c *Chromem) Upsert(ctx context.Context, r Record) error {
	name := chromemCollection(r.Kind, r.ProfileID)
	col, err := c.db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("chromem collection %s: %w", name, err)
	}
	doc := chromem.Document{
		ID:        r.ID,
		Metadata:  map[string]string{"profile_id": r.ProfileID},
		Embedding: append([]float32(nil), r.Vector...),
		Content:   r.ID,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem add %s: %w", r.ID, err)
	}
	return nil
}

// FindSimilar queries the profile's collection and applies the threshold.
func (c *Chromem) FindSimilar(ctx context.Context, q Query) ([]Hit, error) {
	col := c.db.GetCollection(chromemCollection(q.Kind, q.ProfileID), noEmbedding)
	if col == nil || q.K <= 0 {
		return nil, nil
	}
	n := q.K
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, q.Vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < q.Threshold {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// DeleteProfile drops the profile's collection for kind.
func (c *Chromem) DeleteProfile(_ context.Context, kind Kind, profileID string) error {
	name := chromemCollection(kind, profileID)
	if err := c.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("chromem delete %s: %w", name, err)
	}
	return nil
}

// Delete removes individual records from the profile's collection.
func (c *Chromem) Delete(ctx context.Context, kind Kind, profileID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	name := chromemCollection(kind, profileID)
	col := c.db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem delete from %s: %w", name, err)
	}
	return nil
}
