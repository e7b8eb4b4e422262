package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/mindprint/internal/memory"
)

// InsertMemory stores a memory. The embedding column is normally empty here
// and filled later by SetMemoryEmbedding.
func (s *Store) InsertMemory(ctx context.Context, m *memory.Memory) error {
	var metaJSON []byte
	if len(m.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO memories (id, profile_id, content, category, importance, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ProfileID, m.Content, string(m.Category), m.Importance, metaJSON, nullVector(m.Embedding), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// SetMemoryEmbedding writes vec only if the memory has no embedding yet.
func (s *Store) SetMemoryEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE memories SET embedding = $2
		WHERE id = $1 AND embedding IS NULL`, id, vec)
	if err != nil {
		return false, fmt.Errorf("set memory embedding %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListMemories returns a profile's memories oldest first.
func (s *Store) ListMemories(ctx context.Context, profileID string) ([]*memory.Memory, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, profile_id, content, category, importance, metadata, embedding, created_at
		FROM memories
		WHERE profile_id = $1
		ORDER BY created_at ASC, id ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		var m memory.Memory
		var metaJSON []byte
		if err := rows.Scan(&m.ID, &m.ProfileID, &m.Content, &m.Category, &m.Importance,
			&metaJSON, &m.Embedding, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMemory removes one memory.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// DeleteMemories removes every memory of a profile.
func (s *Store) DeleteMemories(ctx context.Context, profileID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM memories WHERE profile_id = $1`, profileID); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

// nullVector keeps an empty embedding NULL so the write-once guard holds.
func nullVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
