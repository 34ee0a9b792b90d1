// Package search implements hybrid retrieval: vector similarity and FTS5
// keyword matches are merged with weighted scores, optionally reranked by a
// scoring model, and returned grouped into memories and document chunks.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/recall/internal/inference"
	"github.com/kalambet/recall/internal/profile"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

// Search mode names.
const (
	ModeVector  = "vector"
	ModeKeyword = "keyword"
	ModeHybrid  = "hybrid"
)

// Score weighting for hybrid mode, and the similarity floor below which
// vector matches are discarded.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
	minSimilarity = 0.70
)

// Options controls one search call. Use DefaultOptions as the base; the zero
// value is not a usable configuration.
type Options struct {
	Query          string
	UserID         string
	Limit          int
	Mode           string
	IncludeProfile bool
	Rerank         bool
}

// DefaultOptions returns the baseline search configuration.
func DefaultOptions() Options {
	return Options{
		Limit:          10,
		Mode:           ModeHybrid,
		IncludeProfile: true,
	}
}

// Item is one search result.
type Item struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id,omitempty"`
	Content    string    `json:"content"`
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// Results is the grouped outcome of one search call.
type Results struct {
	Memories []Item         `json:"memories"`
	Chunks   []Item         `json:"chunks"`
	Profile  *profile.Facts `json:"profile,omitempty"`
	Total    int            `json:"total"`
	TimingMS int64          `json:"timing_ms"`
}

// QueryEmbedder embeds the search query.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher runs similarity queries against the vector index.
type VectorSearcher interface {
	Query(embedding []float32, topK int, kind string, minScore float32) ([]vector.Match, error)
}

// KeywordStore runs FTS queries and hydrates content for vector-only hits.
type KeywordStore interface {
	SearchMemories(query, userID string, limit int) ([]storage.SearchHit, error)
	SearchChunks(query string, limit int) ([]storage.SearchHit, error)
	GetMemory(id string) (storage.Memory, error)
	GetChunk(id string) (storage.Chunk, error)
}

// Reranker rescores candidates against the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []inference.Candidate) ([]inference.RankedID, error)
}

// ProfileSource supplies user profile facts for search responses.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (profile.Facts, error)
}

// Engine merges vector and keyword retrieval into ranked results.
type Engine struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	store    KeywordStore
	reranker Reranker
	profiles ProfileSource
	logger   *slog.Logger
}

// NewEngine creates an Engine. reranker and profiles may be nil, which
// disables the corresponding option.
func NewEngine(embedder QueryEmbedder, vectors VectorSearcher, store KeywordStore, reranker Reranker, profiles ProfileSource) *Engine {
	return &Engine{
		embedder: embedder,
		vectors:  vectors,
		store:    store,
		reranker: reranker,
		profiles: profiles,
		logger:   slog.Default(),
	}
}

// candidate accumulates per-source evidence before merging. Keyword hits
// carry content; vector-only hits are hydrated from the text store.
type candidate struct {
	id           string
	documentID   string
	content      string
	vectorScore  float64
	keywordScore float64
	createdAt    time.Time
}

// Search runs one retrieval call per opts. The vector, keyword and profile
// branches run concurrently; a profile failure degrades to an absent profile
// rather than failing the search.
func (e *Engine) Search(ctx context.Context, opts Options) (*Results, error) {
	started := time.Now()

	if opts.Query == "" {
		return nil, errors.New("empty query")
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Mode != ModeVector && opts.Mode != ModeKeyword && opts.Mode != ModeHybrid {
		return nil, fmt.Errorf("unknown search mode %q", opts.Mode)
	}

	useVector := opts.Mode == ModeVector || opts.Mode == ModeHybrid
	useKeyword := opts.Mode == ModeKeyword || opts.Mode == ModeHybrid

	var (
		vectorMatches []vector.Match
		memoryHits    []storage.SearchHit
		chunkHits     []storage.SearchHit
		profileFacts  *profile.Facts
	)
	g, gctx := errgroup.WithContext(ctx)

	if useVector {
		g.Go(func() error {
			emb, err := e.embedder.Embed(gctx, opts.Query)
			if err != nil {
				return fmt.Errorf("embedding query: %w", err)
			}
			vectorMatches, err = e.vectors.Query(emb, opts.Limit, "", minSimilarity)
			if err != nil {
				return fmt.Errorf("vector query: %w", err)
			}
			return nil
		})
	}
	if useKeyword {
		g.Go(func() error {
			hits, err := e.store.SearchMemories(opts.Query, opts.UserID, opts.Limit)
			if err != nil {
				return fmt.Errorf("keyword memory search: %w", err)
			}
			memoryHits = hits
			return nil
		})
		g.Go(func() error {
			hits, err := e.store.SearchChunks(opts.Query, opts.Limit)
			if err != nil {
				return fmt.Errorf("keyword chunk search: %w", err)
			}
			chunkHits = hits
			return nil
		})
	}
	if opts.IncludeProfile && e.profiles != nil {
		g.Go(func() error {
			facts, err := e.profiles.GetProfile(gctx, opts.UserID)
			if err != nil {
				e.logger.Warn("profile lookup failed, continuing without profile", "user_id", opts.UserID, "error", err)
				return nil
			}
			profileFacts = &facts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	memories := map[string]*candidate{}
	chunks := map[string]*candidate{}

	for _, m := range vectorMatches {
		var bucket map[string]*candidate
		switch m.Kind {
		case "memory":
			bucket = memories
		case "chunk":
			bucket = chunks
		default:
			continue
		}
		bucket[m.ID] = &candidate{
			id:          m.ID,
			documentID:  m.SourceID,
			vectorScore: float64(m.Score),
		}
	}

	applyKeywordHits(memories, memoryHits)
	applyKeywordHits(chunks, chunkHits)

	e.hydrate(memories, chunks)

	perCategory := int(math.Ceil(float64(opts.Limit) / 2))
	results := &Results{
		Memories: rank(memories, opts.Mode, perCategory),
		Chunks:   rank(chunks, opts.Mode, perCategory),
		Profile:  profileFacts,
	}

	if opts.Rerank && e.reranker != nil {
		e.rerank(ctx, opts.Query, results)
	}

	results.Total = len(results.Memories) + len(results.Chunks)
	results.TimingMS = time.Since(started).Milliseconds()
	return results, nil
}

// applyKeywordHits assigns rank-decayed scores to FTS hits: the best row in a
// list gets 1.0, the worst 0.5, with a linear slope in between. A single-row
// list scores 1.0.
func applyKeywordHits(bucket map[string]*candidate, hits []storage.SearchHit) {
	n := len(hits)
	for i, h := range hits {
		score := 1.0
		if n > 1 {
			score = 1.0 - 0.5*float64(i)/float64(n-1)
		}
		if c, ok := bucket[h.ID]; ok {
			c.keywordScore = score
			c.content = h.Content
			c.documentID = h.DocumentID
			c.createdAt = h.CreatedAt
			continue
		}
		bucket[h.ID] = &candidate{
			id:           h.ID,
			documentID:   h.DocumentID,
			content:      h.Content,
			keywordScore: score,
			createdAt:    h.CreatedAt,
		}
	}
}

// hydrate fills in content for candidates found only by the vector index.
// Rows that no longer exist are dropped: the index may lag a deletion.
func (e *Engine) hydrate(memories, chunks map[string]*candidate) {
	for id, c := range memories {
		if c.content != "" {
			continue
		}
		m, err := e.store.GetMemory(id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn("hydrating memory failed", "id", id, "error", err)
			}
			delete(memories, id)
			continue
		}
		c.content = m.Content
		c.createdAt = m.CreatedAt
	}
	for id, c := range chunks {
		if c.content != "" {
			continue
		}
		ch, err := e.store.GetChunk(id)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				e.logger.Warn("hydrating chunk failed", "id", id, "error", err)
			}
			delete(chunks, id)
			continue
		}
		c.content = ch.Content
		c.documentID = ch.DocumentID
		c.createdAt = ch.CreatedAt
	}
}

// rank merges per-candidate scores for the given mode, sorts best first and
// truncates to max items. Hybrid combines both branches with a 0.7/0.3 split;
// the pure modes pass their single branch's score through unweighted.
func rank(bucket map[string]*candidate, mode string, max int) []Item {
	items := make([]Item, 0, len(bucket))
	for _, c := range bucket {
		var score float64
		switch mode {
		case ModeVector:
			score = c.vectorScore
		case ModeKeyword:
			score = c.keywordScore
		default:
			score = vectorWeight*c.vectorScore + keywordWeight*c.keywordScore
		}
		items = append(items, Item{
			ID:         c.id,
			DocumentID: c.documentID,
			Content:    c.content,
			Score:      score,
			CreatedAt:  c.createdAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > max {
		items = items[:max]
	}
	return items
}

// rerank rescores the already-truncated result set. Candidates the model
// scored get their score replaced; candidates it dropped keep their merged
// score. A rerank failure leaves the original ordering untouched. Reranking
// never introduces results that were not already present.
func (e *Engine) rerank(ctx context.Context, query string, results *Results) {
	cands := make([]inference.Candidate, 0, len(results.Memories)+len(results.Chunks))
	for _, it := range results.Memories {
		cands = append(cands, inference.Candidate{ID: it.ID, Type: "memory", Content: it.Content})
	}
	for _, it := range results.Chunks {
		cands = append(cands, inference.Candidate{ID: it.ID, Type: "chunk", Content: it.Content})
	}
	if len(cands) == 0 {
		return
	}

	ranked, err := e.reranker.Rerank(ctx, query, cands)
	if err != nil {
		e.logger.Warn("rerank failed, keeping merged ordering", "error", err)
		return
	}
	if len(ranked) == 0 {
		return
	}

	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		scores[r.ID] = r.FinalScore
	}
	rescore(results.Memories, scores)
	rescore(results.Chunks, scores)
}

func rescore(items []Item, scores map[string]float64) {
	for i := range items {
		if s, ok := scores[items[i].ID]; ok {
			items[i].Score = s
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}
