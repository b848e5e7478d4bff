package memory

import (
	"context"
	"testing"

	"github.com/riyogarta/synebot/internal/agent"
)

type fakeStore struct {
	inserted   []agent.Memory
	updated    map[int64]agent.Memory
	candidates []agent.Memory
	recallPool []agent.Memory
	dim        int
	dimKnown   bool
	wipeCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{updated: make(map[int64]agent.Memory)}
}

func (f *fakeStore) InsertMemory(ctx context.Context, m agent.Memory) (int64, error) {
	m.ID = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, m)
	return m.ID, nil
}

func (f *fakeStore) UpdateMemory(ctx context.Context, id int64, content string, importance float64, embedding []float32) error {
	f.updated[id] = agent.Memory{ID: id, Content: content, Importance: importance, Embedding: embedding}
	return nil
}

func (f *fakeStore) SimilarCandidates(ctx context.Context, userID int64, category agent.MemoryCategory) ([]agent.Memory, error) {
	return f.candidates, nil
}

func (f *fakeStore) RecallCandidates(ctx context.Context, limit int) ([]agent.Memory, error) {
	return f.recallPool, nil
}

func (f *fakeStore) GetEmbeddingDimension(ctx context.Context) (int, bool, error) {
	return f.dim, f.dimKnown, nil
}

func (f *fakeStore) SetEmbeddingDimension(ctx context.Context, dim int) error {
	f.dim = dim
	f.dimKnown = true
	return nil
}

func (f *fakeStore) WipeMemories(ctx context.Context) (int, error) {
	f.wipeCalls++
	n := len(f.inserted) + len(f.recallPool)
	f.inserted = nil
	f.recallPool = nil
	return n, nil
}

type fakeEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := f.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbeddingDimension() int { return f.dim }

func TestStoreInsertsUnconditionally(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakeEmbedder{dim: 3}, 0)

	m, err := e.Store(context.Background(), "likes tea", agent.CategoryPreference, "user_confirmed", 1, 0.5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID == 0 {
		t.Error("expected a non-zero id")
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
}

func TestStoreIfNewInsertsWhenNoSimilarCandidate(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakeEmbedder{dim: 3}, 0)

	_, isNew, err := e.StoreIfNew(context.Background(), 1, "likes coffee", agent.CategoryPreference, 0.5, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isNew {
		t.Error("expected a fresh insert with no candidates")
	}
}

func TestStoreIfNewUpdatesNearDuplicateInPlace(t *testing.T) {
	store := newFakeStore()
	store.candidates = []agent.Memory{
		{ID: 7, Content: "lives in Jakarta", Embedding: []float32{1, 0, 0}},
	}
	embedder := &fakeEmbedder{dim: 3, vectors: map[string][]float32{
		"lives in Bandung": {1, 0, 0}, // identical vector => similarity 1.0
	}}
	e := New(store, embedder, 0)

	m, isNew, err := e.StoreIfNew(context.Background(), 1, "lives in Bandung", agent.CategoryFact, 0.7, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isNew {
		t.Error("expected an update, not a fresh insert")
	}
	if m.ID != 7 {
		t.Errorf("expected updated memory to keep id 7, got %d", m.ID)
	}
	if _, ok := store.updated[7]; !ok {
		t.Error("expected UpdateMemory to be called for id 7")
	}
	if len(store.inserted) != 0 {
		t.Error("expected no new insert when a near-duplicate was found")
	}
}

func TestRecallFiltersPrivateCategoriesForOtherUsers(t *testing.T) {
	store := newFakeStore()
	store.recallPool = []agent.Memory{
		{ID: 1, UserID: 2, Category: agent.CategoryHealth, Embedding: []float32{1, 0, 0}},
		{ID: 2, UserID: 1, Category: agent.CategoryFact, Embedding: []float32{1, 0, 0}},
	}
	e := New(store, &fakeEmbedder{dim: 3}, 0)

	out, err := e.Recall(context.Background(), 1, agent.AccessFriend, "query", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Memory.ID != 2 {
		t.Errorf("expected only the requester's own fact memory to survive, got %+v", out)
	}
}

func TestRecallAllowsAdminToSeePrivateMemories(t *testing.T) {
	store := newFakeStore()
	store.recallPool = []agent.Memory{
		{ID: 1, UserID: 2, Category: agent.CategoryHealth, Embedding: []float32{1, 0, 0}},
	}
	e := New(store, &fakeEmbedder{dim: 3}, 0)

	out, err := e.Recall(context.Background(), 1, agent.AccessAdmin, "query", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("expected admin to see the private memory, got %d results", len(out))
	}
}

func TestEnsureEmbeddingDimensionDetectsChangeAndWipes(t *testing.T) {
	store := newFakeStore()
	store.dim, store.dimKnown = 768, true
	store.inserted = []agent.Memory{{ID: 1, Content: "stale"}}
	e := New(store, &fakeEmbedder{dim: 1024}, 0)

	changed, previous, current, wiped, err := e.EnsureEmbeddingDimension(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || previous != 768 || current != 1024 {
		t.Errorf("expected a detected dimension change 768->1024, got changed=%v prev=%d cur=%d", changed, previous, current)
	}
	if wiped != 1 {
		t.Errorf("expected 1 memory wiped, got %d", wiped)
	}
	if store.wipeCalls != 1 {
		t.Errorf("expected WipeMemories to be called once, got %d", store.wipeCalls)
	}
	if store.dim != 1024 || !store.dimKnown {
		t.Errorf("expected the new dimension to be persisted, got dim=%d known=%v", store.dim, store.dimKnown)
	}
}

func TestEnsureEmbeddingDimensionRecordsFirstKnownDimension(t *testing.T) {
	store := newFakeStore()
	e := New(store, &fakeEmbedder{dim: 1024}, 0)

	changed, _, current, wiped, err := e.EnsureEmbeddingDimension(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Error("expected no change flagged the first time a dimension is recorded")
	}
	if wiped != 0 {
		t.Errorf("expected no wipe the first time a dimension is recorded, got %d", wiped)
	}
	if current != 1024 || !store.dimKnown {
		t.Error("expected the dimension to be persisted for next time")
	}
}
