package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/mindprint/internal/document"
	"github.com/nidhogg/mindprint/internal/profile"
)

const documentColumns = `id, profile_id, name, blob_key, status, error, chunk_count, created_at, updated_at`

// InsertDocument stores a document record.
func (s *Store) InsertDocument(ctx context.Context, d *document.Document) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.ProfileID, d.Name, d.BlobKey, string(d.Status), d.Error, d.ChunkCount, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	row := s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	d, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	return d, nil
}

// ListDocuments returns a profile's documents oldest first.
func (s *Store) ListDocuments(ctx context.Context, profileID string) ([]*document.Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE profile_id = $1
		ORDER BY created_at ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus records the outcome of ingestion.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status document.Status, errMsg string, chunkCount int) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, error = $3, chunk_count = $4, updated_at = now()
		WHERE id = $1`, id, string(status), errMsg, chunkCount)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, profile.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, profile.ErrNotFound)
	}
	return nil
}

// DeleteDocuments removes every document of a profile.
func (s *Store) DeleteDocuments(ctx context.Context, profileID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE profile_id = $1`, profileID); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*document.Document, error) {
	var d document.Document
	err := row.Scan(&d.ID, &d.ProfileID, &d.Name, &d.BlobKey, &d.Status, &d.Error,
		&d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Chunks

// InsertChunk stores one chunk.
func (s *Store) InsertChunk(ctx context.Context, c *document.Chunk) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chunks (id, document_id, profile_id, idx, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.DocumentID, c.ProfileID, c.Index, c.Content, nullVector(c.Embedding), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// SetChunkEmbedding writes vec only if the chunk has no embedding yet.
func (s *Store) SetChunkEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE chunks SET embedding = $2
		WHERE id = $1 AND embedding IS NULL`, id, vec)
	if err != nil {
		return false, fmt.Errorf("set chunk embedding %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListChunks returns a profile's chunks by document age then chunk index.
func (s *Store) ListChunks(ctx context.Context, profileID string) ([]*document.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT c.id, c.document_id, c.profile_id, c.idx, c.content, c.embedding, c.created_at
		FROM chunks c JOIN documents d ON d.id = c.document_id
		WHERE c.profile_id = $1
		ORDER BY d.created_at ASC, d.id ASC, c.idx ASC`, profileID)
}

// ListDocumentChunks returns one document's chunks in order.
func (s *Store) ListDocumentChunks(ctx context.Context, documentID string) ([]*document.Chunk, error) {
	return s.queryChunks(ctx, `
		SELECT id, document_id, profile_id, idx, content, embedding, created_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY idx ASC`, documentID)
}

func (s *Store) queryChunks(ctx context.Context, sql string, arg string) ([]*document.Chunk, error) {
	rows, err := s.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []*document.Chunk
	for rows.Next() {
		var c document.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ProfileID, &c.Index, &c.Content,
			&c.Embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
