// Package embed implements the third pipeline stage: converting chunks into
// vector embeddings in bounded batches while tracking token and call cost.
package embed

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/recall/internal/pipeline"
)

// batchSize bounds concurrent outbound embedding calls. Work is parallel
// inside a batch and sequential across batches.
const batchSize = 10

// Config controls the embedding stage.
type Config struct {
	// Model is recorded on every embedding for later re-embedding runs.
	Model string
	// MaxInputLength is the model's input limit in words. Chunk content is
	// truncated to 75% of it before embedding to leave headroom for the
	// words-to-tokens ratio.
	MaxInputLength int
}

// DefaultMaxInputLength suits small local embedding models.
const DefaultMaxInputLength = 2048

// Stage embeds all chunks of a job.
type Stage struct {
	cfg Config
}

// NewStage creates the embedding stage. A zero MaxInputLength falls back to
// DefaultMaxInputLength.
func NewStage(cfg Config) *Stage {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = DefaultMaxInputLength
	}
	return &Stage{cfg: cfg}
}

func (s *Stage) Name() pipeline.Status {
	return pipeline.StatusEmbedding
}

// Run embeds every chunk, one embedding per chunk with matching IDs. A
// missing chunker result is non-retryable (there is nothing to embed); a
// failed or empty provider response is retryable.
func (s *Stage) Run(ctx context.Context, pc *pipeline.Context) error {
	if pc.Chunks == nil || len(pc.Chunks.Chunks) == 0 {
		return pipeline.NonRetryableEmbedError("no chunker result to embed", nil)
	}

	chunks := pc.Chunks.Chunks
	result := &pipeline.EmbedResult{
		Embeddings: make([]pipeline.Embedding, len(chunks)),
		Model:      s.cfg.Model,
	}
	maxWords := int(float64(s.cfg.MaxInputLength) * 0.75)

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g, gCtx := errgroup.WithContext(ctx)
		for i, ch := range batch {
			idx := start + i
			text := truncateWords(ch.Content, maxWords)
			chunkID := ch.ID
			g.Go(func() error {
				vec, err := pc.Deps.Embedder.Embed(gCtx, text)
				if err != nil {
					return pipeline.EmbedError("embedding chunk "+chunkID, err)
				}
				if len(vec) == 0 {
					return pipeline.EmbedError("empty embedding for chunk "+chunkID, nil)
				}
				result.Embeddings[idx] = pipeline.Embedding{
					ID:         chunkID,
					Vector:     vec,
					Model:      s.cfg.Model,
					TokenCount: pipeline.EstimateTokens(text),
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Cost accounting happens between batches, off the hot goroutines.
		for _, e := range result.Embeddings[start:end] {
			result.TotalTokensUsed += e.TokenCount
		}
		pc.Job.Metrics.APICallCount += len(batch)
	}

	pc.Embeddings = result
	pc.Job.Metrics.TotalTokensUsed = result.TotalTokensUsed
	return nil
}

// truncateWords limits text to the first n words.
func truncateWords(text string, n int) string {
	if n <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
