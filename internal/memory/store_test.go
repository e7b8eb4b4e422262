package memory_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/mindprint/internal/memory"
	"github.com/nidhogg/mindprint/internal/profile"
	"github.com/nidhogg/mindprint/internal/store/memstore"
	"github.com/nidhogg/mindprint/internal/tasks"
	"github.com/nidhogg/mindprint/internal/vectorstore"
	"go.uber.org/zap"
)

// vocabEmbedder maps text to a bag-of-words vector over a fixed vocabulary.
type vocabEmbedder struct {
	vocab []string
	down  atomic.Bool
	calls atomic.Int32
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, bool) {
	e.calls.Add(1)
	if e.down.Load() {
		return nil, false
	}
	lower := strings.ToLower(text)
	vec := make([]float32, len(e.vocab))
	for i, w := range e.vocab {
		if strings.Contains(lower, w) {
			vec[i] = 1
		}
	}
	return vec, true
}

type fixture struct {
	repo  *memstore.Store
	queue *tasks.Queue
	emb   *vocabEmbedder
	store *memory.Store
}

func newFixture(t *testing.T, index vectorstore.Index) *fixture {
	t.Helper()
	f := &fixture{
		repo:  memstore.New(),
		queue: tasks.NewQueue(2, time.Second, zap.NewNop()),
		emb:   &vocabEmbedder{vocab: []string{"river", "music", "family", "work"}},
	}
	t.Cleanup(func() { f.queue.Close(context.Background()) })
	f.store = memory.NewStore(memory.Config{
		Repo:     f.repo,
		Embedder: f.emb,
		Index:    index,
		Runner:   f.queue,
		Logger:   zap.NewNop(),
	})
	return f
}

func (f *fixture) add(t *testing.T, content string, c profile.Category, importance float64) *memory.Memory {
	t.Helper()
	m, err := f.store.Add(context.Background(), "p1", content, c, importance, nil)
	if err != nil {
		t.Fatalf("Add(%q): %v", content, err)
	}
	return m
}

func TestRelevantWithEmbeddingsUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.emb.down.Store(true)

	added := f.add(t, "I grew up in Lisbon, next to the river", profile.CategoryAutobiographical, 0.7)
	results, err := f.store.Relevant(context.Background(), "p1", "Tell me about Lisbon", 5)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != added.ID {
		t.Fatalf("results = %+v, want the memory just added", results)
	}
	if results[0].Method != memory.MethodKeyword {
		t.Errorf("Method = %s, want keyword", results[0].Method)
	}
	if got, want := results[0].Score, 0.7+0.3; abs(got-want) > 1e-9 {
		t.Errorf("Score = %v, want %v", got, want)
	}
}

func TestRelevantKeywordDeterministic(t *testing.T) {
	f := newFixture(t, nil)
	f.emb.down.Store(true)
	for _, content := range []string{
		"Sunday dinners with family were loud",
		"Music keeps me calm at work",
		"My family moved twice before I was ten",
		"Work is where I feel most useful",
		"I never learned to swim",
	} {
		f.add(t, content, profile.CategoryAutobiographical, 0.5)
	}

	first, err := f.store.Relevant(context.Background(), "p1", "family and work", 3)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.store.Relevant(context.Background(), "p1", "family and work", 3)
		if err != nil {
			t.Fatalf("Relevant: %v", err)
		}
		if !reflect.DeepEqual(ids(first), ids(again)) {
			t.Fatalf("ordering changed: %v then %v", ids(first), ids(again))
		}
	}
	if len(first) != 3 {
		t.Fatalf("len = %d, want 3", len(first))
	}
}

func TestRelevantVectorPathExcludesKeyword(t *testing.T) {
	for name, index := range map[string]vectorstore.Index{
		"scan": nil,
		"flat": vectorstore.NewFlat(),
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, index)
			river := f.add(t, "The river behind our house flooded every spring", profile.CategoryAutobiographical, 0.1)
			f.add(t, "Music at work helps me focus", profile.CategoryPreferences, 0.9)
			f.queue.Drain()

			results, err := f.store.Relevant(context.Background(), "p1", "what about the river", 5)
			if err != nil {
				t.Fatalf("Relevant: %v", err)
			}
			if len(results) != 1 {
				t.Fatalf("results = %d, want only the similar memory", len(results))
			}
			if results[0].Memory.ID != river.ID || results[0].Method != memory.MethodVector {
				t.Errorf("result = %+v", results[0])
			}
		})
	}
}

func TestRelevantVectorMissFallsBackToKeywords(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, "Swimming in cold lakes is my favourite thing", profile.CategoryPreferences, 0.4)
	f.queue.Drain()

	results, err := f.store.Relevant(context.Background(), "p1", "cold lakes", 5)
	if err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if len(results) != 1 || results[0].Method != memory.MethodKeyword {
		t.Fatalf("results = %+v, want one keyword result", results)
	}
}

func TestRelevantSkipsQueryEmbedWhenNothingEmbedded(t *testing.T) {
	f := newFixture(t, nil)
	f.emb.down.Store(true)
	f.add(t, "I love the river", profile.CategoryPreferences, 0.5)
	f.queue.Drain()
	before := f.emb.calls.Load()

	if _, err := f.store.Relevant(context.Background(), "p1", "river", 5); err != nil {
		t.Fatalf("Relevant: %v", err)
	}
	if after := f.emb.calls.Load(); after != before {
		t.Errorf("embed calls went from %d to %d, want no query embedding", before, after)
	}
}

func TestAddReturnsBeforeEmbedding(t *testing.T) {
	f := newFixture(t, nil)
	m := f.add(t, "Family first", profile.CategoryValues, 0.7)
	if m.Embedding != nil {
		t.Error("returned memory carries an embedding")
	}
	f.queue.Drain()

	mems, err := f.store.All(context.Background(), "p1")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(mems) != 1 || len(mems[0].Embedding) == 0 {
		t.Fatalf("embedding not written back: %+v", mems)
	}
}

func TestEmbeddingWrittenAtMostOnce(t *testing.T) {
	repo := memstore.New()
	ctx := context.Background()
	m := &memory.Memory{ID: "m1", ProfileID: "p1", Content: "x", Category: profile.CategoryValues}
	if err := repo.InsertMemory(ctx, m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	ok, err := repo.SetMemoryEmbedding(ctx, "m1", []float32{1, 0})
	if err != nil || !ok {
		t.Fatalf("first SetMemoryEmbedding = %v, %v", ok, err)
	}
	ok, err = repo.SetMemoryEmbedding(ctx, "m1", []float32{0, 1})
	if err != nil || ok {
		t.Fatalf("second SetMemoryEmbedding = %v, %v; want false", ok, err)
	}
	mems, _ := repo.ListMemories(ctx, "p1")
	if mems[0].Embedding[0] != 1 {
		t.Errorf("embedding overwritten: %v", mems[0].Embedding)
	}
}

func TestAddValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.store.Add(ctx, "p1", "  ", profile.CategoryValues, 0.5, nil); !errors.Is(err, profile.ErrInvalidInput) {
		t.Errorf("empty content err = %v", err)
	}
	if _, err := f.store.Add(ctx, "p1", "x", profile.Category("hobbies"), 0.5, nil); !errors.Is(err, profile.ErrInvalidCategory) {
		t.Errorf("bad category err = %v", err)
	}
	m, err := f.store.Add(ctx, "p1", "x", profile.CategoryValues, 3, nil)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if m.Importance != 1 {
		t.Errorf("Importance = %v, want clamped to 1", m.Importance)
	}
}

func TestByCategoryAndPurge(t *testing.T) {
	index := vectorstore.NewFlat()
	f := newFixture(t, index)
	f.add(t, "Honesty above all", profile.CategoryValues, 0.7)
	f.add(t, "I hum when I work", profile.CategoryLinguistic, 0.7)
	f.add(t, "Family before career", profile.CategoryValues, 0.7)
	f.queue.Drain()

	vals, err := f.store.ByCategory(context.Background(), "p1", profile.CategoryValues)
	if err != nil {
		t.Fatalf("ByCategory: %v", err)
	}
	if len(vals) != 2 || vals[0].Content != "Honesty above all" {
		t.Errorf("ByCategory = %+v", vals)
	}

	if err := f.store.Purge(context.Background(), "p1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	all, _ := f.store.All(context.Background(), "p1")
	if len(all) != 0 {
		t.Errorf("memories left after purge: %d", len(all))
	}
	if index.Len() != 0 {
		t.Errorf("vectors left after purge: %d", index.Len())
	}
}

func TestKeywordRankScoring(t *testing.T) {
	mems := []*memory.Memory{
		{ID: "a", Content: "nothing relevant", Importance: 0.9},
		{ID: "b", Content: "The Garden", Importance: 0.5},
		{ID: "c", Content: "a garden party", Importance: 0.5},
		{ID: "d", Content: "garden and kitchen", Importance: 0.5},
	}
	got := memory.KeywordRank(mems, "garden kitchen", 4)
	want := []string{"d", "a", "b", "c"} // 1.1, 0.9, then b and c tied at 0.8 in input order
	for i, r := range got {
		if r.Memory.ID != want[i] {
			t.Fatalf("order = %v, want %v", resultIDs(got), want)
		}
	}
	if got := memory.KeywordRank(mems, "garden", 1); len(got) != 1 || got[0].Memory.ID != "a" {
		t.Errorf("limit 1 = %v", resultIDs(got))
	}
}

func ids(rs []memory.Result) []string { return resultIDs(rs) }

func resultIDs(rs []memory.Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Memory.ID
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
