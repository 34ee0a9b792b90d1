package search

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/kalambet/recall/internal/inference"
	"github.com/kalambet/recall/internal/profile"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

type mockEmbedder struct {
	calls int
	err   error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{0.1, 0.2}, nil
}

type mockVectors struct {
	matches []vector.Match
	calls   int
}

func (m *mockVectors) Query(_ []float32, _ int, _ string, _ float32) ([]vector.Match, error) {
	m.calls++
	return m.matches, nil
}

type mockStore struct {
	memoryHits   []storage.SearchHit
	chunkHits    []storage.SearchHit
	memories     map[string]storage.Memory
	chunks       map[string]storage.Chunk
	keywordCalls int
}

func (m *mockStore) SearchMemories(_, _ string, _ int) ([]storage.SearchHit, error) {
	m.keywordCalls++
	return m.memoryHits, nil
}

func (m *mockStore) SearchChunks(_ string, _ int) ([]storage.SearchHit, error) {
	m.keywordCalls++
	return m.chunkHits, nil
}

func (m *mockStore) GetMemory(id string) (storage.Memory, error) {
	if mem, ok := m.memories[id]; ok {
		return mem, nil
	}
	return storage.Memory{}, storage.ErrNotFound
}

func (m *mockStore) GetChunk(id string) (storage.Chunk, error) {
	if ch, ok := m.chunks[id]; ok {
		return ch, nil
	}
	return storage.Chunk{}, storage.ErrNotFound
}

type mockReranker struct {
	ranked []inference.RankedID
	err    error
	calls  int
}

func (m *mockReranker) Rerank(_ context.Context, _ string, _ []inference.Candidate) ([]inference.RankedID, error) {
	m.calls++
	return m.ranked, m.err
}

type mockProfiles struct {
	facts profile.Facts
	err   error
	calls int
}

func (m *mockProfiles) GetProfile(_ context.Context, _ string) (profile.Facts, error) {
	m.calls++
	return m.facts, m.err
}

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}

func TestSearch_HybridWeightedMerge(t *testing.T) {
	// m1 is found by both branches: vector 0.9, best keyword rank.
	// m2 is keyword-only, last of two hits.
	vectors := &mockVectors{matches: []vector.Match{
		{ID: "m1", Kind: "memory", SourceID: "m1", Score: 0.9},
	}}
	store := &mockStore{
		memoryHits: []storage.SearchHit{
			{ID: "m1", Content: "first memory"},
			{ID: "m2", Content: "second memory"},
		},
	}
	e := NewEngine(&mockEmbedder{}, vectors, store, nil, nil)

	results, err := e.Search(context.Background(), Options{Query: "anything", Mode: ModeHybrid, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results.Memories) != 2 {
		t.Fatalf("got %d memories, want 2", len(results.Memories))
	}
	if results.Memories[0].ID != "m1" || results.Memories[1].ID != "m2" {
		t.Fatalf("order = [%s %s], want [m1 m2]", results.Memories[0].ID, results.Memories[1].ID)
	}
	approx(t, results.Memories[0].Score, 0.7*0.9+0.3*1.0, "m1 score")
	approx(t, results.Memories[1].Score, 0.3*0.5, "m2 score")
	if results.Total != 2 {
		t.Errorf("Total = %d, want 2", results.Total)
	}
	if results.TimingMS < 0 {
		t.Errorf("TimingMS = %d", results.TimingMS)
	}
}

func TestSearch_KeywordRankDecay(t *testing.T) {
	hits := make([]storage.SearchHit, 5)
	for i := range hits {
		hits[i] = storage.SearchHit{ID: fmt.Sprintf("m%d", i), Content: "text"}
	}
	store := &mockStore{memoryHits: hits}
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, store, nil, nil)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results.Memories) != 5 {
		t.Fatalf("got %d memories, want 5", len(results.Memories))
	}
	// Linear decay from 1.0 to 0.5 across the list.
	for i, want := range []float64{1.0, 0.875, 0.75, 0.625, 0.5} {
		approx(t, results.Memories[i].Score, want, fmt.Sprintf("rank %d score", i))
	}
}

func TestSearch_ModeExclusivity(t *testing.T) {
	emb := &mockEmbedder{}
	vectors := &mockVectors{}
	store := &mockStore{}
	e := NewEngine(emb, vectors, store, nil, nil)

	if _, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword}); err != nil {
		t.Fatalf("keyword search: %v", err)
	}
	if emb.calls != 0 || vectors.calls != 0 {
		t.Errorf("keyword mode touched the vector branch (embed=%d query=%d)", emb.calls, vectors.calls)
	}

	store.keywordCalls = 0
	if _, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeVector}); err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if store.keywordCalls != 0 {
		t.Errorf("vector mode ran %d keyword queries", store.keywordCalls)
	}
}

func TestSearch_VectorOnlyHitsAreHydrated(t *testing.T) {
	vectors := &mockVectors{matches: []vector.Match{
		{ID: "c1", Kind: "chunk", SourceID: "doc-1", Score: 0.85},
		{ID: "gone", Kind: "chunk", SourceID: "doc-2", Score: 0.8},
	}}
	store := &mockStore{
		chunks: map[string]storage.Chunk{
			"c1": {ID: "c1", DocumentID: "doc-1", Content: "chunk body"},
		},
	}
	e := NewEngine(&mockEmbedder{}, vectors, store, nil, nil)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeVector, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 (stale vector dropped)", len(results.Chunks))
	}
	if results.Chunks[0].Content != "chunk body" {
		t.Errorf("content = %q, want hydrated row content", results.Chunks[0].Content)
	}
	if results.Chunks[0].DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", results.Chunks[0].DocumentID)
	}
}

func TestSearch_TruncatesPerCategory(t *testing.T) {
	var memHits, chunkHits []storage.SearchHit
	for i := 0; i < 8; i++ {
		memHits = append(memHits, storage.SearchHit{ID: fmt.Sprintf("m%d", i), Content: "m"})
		chunkHits = append(chunkHits, storage.SearchHit{ID: fmt.Sprintf("c%d", i), DocumentID: "d", Content: "c"})
	}
	store := &mockStore{memoryHits: memHits, chunkHits: chunkHits}
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, store, nil, nil)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, Limit: 7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// ceil(7/2) = 4 per category.
	if len(results.Memories) != 4 {
		t.Errorf("got %d memories, want 4", len(results.Memories))
	}
	if len(results.Chunks) != 4 {
		t.Errorf("got %d chunks, want 4", len(results.Chunks))
	}
}

func TestSearch_RerankReplacesScores(t *testing.T) {
	store := &mockStore{
		memoryHits: []storage.SearchHit{
			{ID: "m1", Content: "first"},
			{ID: "m2", Content: "second"},
		},
	}
	reranker := &mockReranker{ranked: []inference.RankedID{
		{ID: "m2", FinalScore: 0.99},
		{ID: "m1", FinalScore: 0.10},
		{ID: "stranger", FinalScore: 1.0},
	}}
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, store, reranker, nil)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, Rerank: true, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if reranker.calls != 1 {
		t.Fatalf("reranker called %d times, want 1", reranker.calls)
	}
	if len(results.Memories) != 2 {
		t.Fatalf("got %d memories, want 2 (rerank must not introduce ids)", len(results.Memories))
	}
	if results.Memories[0].ID != "m2" {
		t.Errorf("top result = %s, want m2 after rerank", results.Memories[0].ID)
	}
	approx(t, results.Memories[0].Score, 0.99, "m2 reranked score")
	approx(t, results.Memories[1].Score, 0.10, "m1 reranked score")
}

func TestSearch_RerankFailureKeepsOrdering(t *testing.T) {
	store := &mockStore{
		memoryHits: []storage.SearchHit{
			{ID: "m1", Content: "first"},
			{ID: "m2", Content: "second"},
		},
	}
	reranker := &mockReranker{err: fmt.Errorf("model timeout")}
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, store, reranker, nil)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, Rerank: true, Limit: 10})
	if err != nil {
		t.Fatalf("Search must not fail when rerank degrades: %v", err)
	}
	if results.Memories[0].ID != "m1" {
		t.Errorf("top result = %s, want m1 (original order)", results.Memories[0].ID)
	}
	approx(t, results.Memories[0].Score, 1.0, "m1 keyword score preserved")
}

func TestSearch_ProfileGracefulDegradation(t *testing.T) {
	store := &mockStore{memoryHits: []storage.SearchHit{{ID: "m1", Content: "x"}}}

	profiles := &mockProfiles{facts: profile.Facts{Static: []string{"likes go"}}}
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, store, nil, profiles)

	results, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, IncludeProfile: true, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results.Profile == nil || len(results.Profile.Static) != 1 {
		t.Errorf("profile missing from results: %+v", results.Profile)
	}

	failing := &mockProfiles{err: fmt.Errorf("db locked")}
	e = NewEngine(&mockEmbedder{}, &mockVectors{}, store, nil, failing)
	results, err = e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, IncludeProfile: true, Limit: 10})
	if err != nil {
		t.Fatalf("Search must not fail on profile errors: %v", err)
	}
	if results.Profile != nil {
		t.Error("failed profile lookup must omit the profile, not fail")
	}
	if len(results.Memories) != 1 {
		t.Errorf("results lost alongside profile failure")
	}

	skipped := &mockProfiles{}
	e = NewEngine(&mockEmbedder{}, &mockVectors{}, store, nil, skipped)
	if _, err := e.Search(context.Background(), Options{Query: "q", Mode: ModeKeyword, IncludeProfile: false, Limit: 10}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if skipped.calls != 0 {
		t.Error("IncludeProfile=false still queried the profile source")
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	e := NewEngine(&mockEmbedder{}, &mockVectors{}, &mockStore{}, nil, nil)
	if _, err := e.Search(context.Background(), Options{Query: ""}); err == nil {
		t.Fatal("expected error for empty query")
	}
	if _, err := e.Search(context.Background(), Options{Query: "q", Mode: "telepathic"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
