//go:build integration

package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
)

func startGraph(t *testing.T) *memory.GraphRepository {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	repo, err := memory.NewGraphRepository(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatalf("NewGraphRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close(ctx) })
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return repo
}

func TestGraphRepository(t *testing.T) {
	repo := startGraph(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, c := range []string{"I grew up by the sea", "I distrust easy answers"} {
		m := &memory.Memory{
			ID: []string{"g1", "g2"}[i], ProfileID: "p-graph", Content: c,
			Category: profile.CategoryAutobiographical, Importance: 0.7,
			Metadata:  map[string]string{"turn": "1"},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.InsertMemory(ctx, m); err != nil {
			t.Fatalf("InsertMemory: %v", err)
		}
	}

	ok, err := repo.SetMemoryEmbedding(ctx, "g1", []float32{1, 0})
	if err != nil || !ok {
		t.Fatalf("SetMemoryEmbedding = %v, %v", ok, err)
	}
	if ok, _ := repo.SetMemoryEmbedding(ctx, "g1", []float32{0, 1}); ok {
		t.Error("embedding overwritten")
	}

	mems, err := repo.ListMemories(ctx, "p-graph")
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(mems) != 2 || mems[0].ID != "g1" || mems[1].ID != "g2" {
		t.Fatalf("memories = %+v", mems)
	}
	if len(mems[0].Embedding) != 2 || mems[0].Embedding[0] != 1 || mems[1].Embedding != nil {
		t.Errorf("embeddings = %v / %v", mems[0].Embedding, mems[1].Embedding)
	}
	if mems[0].Metadata["turn"] != "1" || mems[0].Category != profile.CategoryAutobiographical {
		t.Errorf("memory = %+v", mems[0])
	}

	store := memory.NewStore(memory.Config{Repo: repo})
	res, err := store.Relevant(ctx, "p-graph", "where did you grew up?", 5)
	if err != nil || len(res) == 0 || res[0].Memory.ID != "g1" {
		t.Errorf("Relevant = %+v, %v", res, err)
	}

	if err := repo.DeleteMemories(ctx, "p-graph"); err != nil {
		t.Fatalf("DeleteMemories: %v", err)
	}
	if mems, _ := repo.ListMemories(ctx, "p-graph"); len(mems) != 0 {
		t.Errorf("memories after delete = %d", len(mems))
	}
}
