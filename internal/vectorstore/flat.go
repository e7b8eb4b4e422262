package vectorstore

import (
	"context"
	"sync"
)

type flatKey struct {
	kind      Kind
	profileID string
}

// Flat is an in-process Index doing brute-force cosine search. Vectors are
// partitioned per profile so a query only scans its own profile.
type Flat struct {
	mu    sync.RWMutex
	parts map[flatKey][]Candidate
}

// NewFlat returns an empty in-process index.
func NewFlat() *Flat {
	return &Flat{parts: make(map[flatKey][]Candidate)}
}

// Upsert stores or replaces r's vector.
func (f *Flat) Upsert(_ context.Context, r Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := flatKey{r.Kind, r.ProfileID}
	part := f.parts[key]
	for i := range part {
		if part[i].ID == r.ID {
			part[i].Vector = r.Vector
			return nil
		}
	}
	f.parts[key] = append(part, Candidate{ID: r.ID, Vector: r.Vector})
	return nil
}

// FindSimilar ranks the profile's vectors against q.
func (f *Flat) FindSimilar(_ context.Context, q Query) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Rank(f.parts[flatKey{q.Kind, q.ProfileID}], q.Vector, q.K, q.Threshold), nil
}

// DeleteProfile drops every vector of kind owned by profileID.
func (f *Flat) DeleteProfile(_ context.Context, kind Kind, profileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.parts, flatKey{kind, profileID})
	return nil
}

// Delete removes the given ids from the profile's partition.
func (f *Flat) Delete(_ context.Context, kind Kind, profileID string, ids []string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := flatKey{kind, profileID}
	part := f.parts[key]
	kept := make([]Candidate, 0, len(part))
	for _, c := range part {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	f.parts[key] = kept
	return nil
}

// Len reports the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, part := range f.parts {
		n += len(part)
	}
	return n
}
