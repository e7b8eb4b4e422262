package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/mindprint/internal/profile"
	"go.uber.org/zap"
)

// GraphRepository keeps memories in Neo4j as
// (:Profile)-[:REMEMBERS]->(:Memory)-[:IN_CATEGORY]->(:Category).
type GraphRepository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraphRepository connects to Neo4j.
func NewGraphRepository(uri, user, password string, logger *zap.Logger) (*GraphRepository, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &GraphRepository{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *GraphRepository) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *GraphRepository) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints the repository relies on.
func (g *GraphRepository) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT profile_id IF NOT EXISTS FOR (p:Profile) REQUIRE p.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure neo4j schema: %w", err)
		}
	}
	return nil
}

// InsertMemory creates the memory node and links it to its profile and
// category.
func (g *GraphRepository) InsertMemory(ctx context.Context, m *Memory) error {
	meta := ""
	if len(m.Metadata) > 0 {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(data)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (p:Profile {id: $profileId})
		 MERGE (c:Category {name: $category})
		 CREATE (m:Memory {
			id: $id, profile_id: $profileId, content: $content,
			category: $category, importance: $importance,
			metadata: $metadata, created_at: $createdAt
		 })
		 CREATE (p)-[:REMEMBERS]->(m)
		 CREATE (m)-[:IN_CATEGORY]->(c)`,
		map[string]any{
			"id":         m.ID,
			"profileId":  m.ProfileID,
			"content":    m.Content,
			"category":   string(m.Category),
			"importance": m.Importance,
			"metadata":   meta,
			"createdAt":  m.CreatedAt.UnixMilli(),
		})
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", m.ID, err)
	}
	return nil
}

// SetMemoryEmbedding stores vec unless the memory already has one.
func (g *GraphRepository) SetMemoryEmbedding(ctx context.Context, id string, vec []float32) (bool, error) {
	values := make([]float64, len(vec))
	for i, v := range vec {
		values[i] = float64(v)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})
		 WHERE m.embedding IS NULL
		 SET m.embedding = $vec
		 RETURN count(m) AS updated`,
		map[string]any{"id": id, "vec": values})
	if err != nil {
		return false, fmt.Errorf("set memory embedding %s: %w", id, err)
	}
	rec, err := result.Single(ctx)
	if err != nil {
		return false, fmt.Errorf("set memory embedding %s: %w", id, err)
	}
	n, _ := rec.Get("updated")
	updated, _ := n.(int64)
	return updated > 0, nil
}

// ListMemories returns a profile's memories oldest first.
func (g *GraphRepository) ListMemories(ctx context.Context, profileID string) ([]*Memory, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Profile {id: $profileId})-[:REMEMBERS]->(m:Memory)
		 RETURN m.id AS id, m.content AS content, m.category AS category,
		        m.importance AS importance, m.metadata AS metadata,
		        m.embedding AS embedding, m.created_at AS createdAt
		 ORDER BY m.created_at ASC, m.id ASC`,
		map[string]any{"profileId": profileID})
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	var mems []*Memory
	for result.Next(ctx) {
		rec := result.Record()
		m := &Memory{ProfileID: profileID}
		if v, ok := rec.Get("id"); ok && v != nil {
			m.ID = v.(string)
		}
		if v, ok := rec.Get("content"); ok && v != nil {
			m.Content = v.(string)
		}
		if v, ok := rec.Get("category"); ok && v != nil {
			m.Category = profile.Category(v.(string))
		}
		if v, ok := rec.Get("importance"); ok && v != nil {
			m.Importance = v.(float64)
		}
		if v, ok := rec.Get("metadata"); ok && v != nil {
			if s := v.(string); s != "" {
				if err := json.Unmarshal([]byte(s), &m.Metadata); err != nil {
					g.logger.Warn("bad memory metadata", zap.String("memory", m.ID), zap.Error(err))
				}
			}
		}
		if v, ok := rec.Get("embedding"); ok && v != nil {
			m.Embedding = toFloat32s(v)
		}
		if v, ok := rec.Get("createdAt"); ok && v != nil {
			m.CreatedAt = time.UnixMilli(v.(int64)).UTC()
		}
		mems = append(mems, m)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return mems, nil
}

// DeleteMemory detaches and deletes a single memory node.
func (g *GraphRepository) DeleteMemory(ctx context.Context, id string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, `MATCH (m:Memory {id: $id}) DETACH DELETE m`,
		map[string]any{"id": id}); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	return nil
}

// DeleteMemories detaches and deletes every memory of the profile.
func (g *GraphRepository) DeleteMemories(ctx context.Context, profileID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (m:Memory {profile_id: $profileId})
		 DETACH DELETE m
		 WITH count(*) AS removed
		 MATCH (p:Profile {id: $profileId})
		 DETACH DELETE p`,
		map[string]any{"profileId": profileID})
	if err != nil {
		return fmt.Errorf("delete memories of %s: %w", profileID, err)
	}
	return nil
}

func toFloat32s(v any) []float32 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(list))
	for _, x := range list {
		if f, ok := x.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}
