// Package chunk implements the second pipeline stage: splitting extracted
// content into bounded, overlapping segments sized for embedding. The split
// strategy is keyed by content type.
package chunk

import (
	"context"

	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/pipeline"
)

// Config bounds chunk sizes. All values are estimated tokens.
type Config struct {
	MaxTokensPerChunk int
	OverlapTokens     int
	MinChunkSize      int
}

// DefaultConfig returns the standard chunking budget.
func DefaultConfig() Config {
	return Config{
		MaxTokensPerChunk: 512,
		OverlapTokens:     50,
		MinChunkSize:      100,
	}
}

// Stage splits the extractor result into chunks.
type Stage struct {
	cfg Config
}

// NewStage creates the chunking stage. Zero config fields fall back to the
// defaults.
func NewStage(cfg Config) *Stage {
	def := DefaultConfig()
	if cfg.MaxTokensPerChunk <= 0 {
		cfg.MaxTokensPerChunk = def.MaxTokensPerChunk
	}
	if cfg.OverlapTokens <= 0 {
		cfg.OverlapTokens = def.OverlapTokens
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	return &Stage{cfg: cfg}
}

func (s *Stage) Name() pipeline.Status {
	return pipeline.StatusChunking
}

// Run chunks the extracted content. Chunks smaller than MinChunkSize are
// discarded; if that discards everything, the whole content becomes a single
// fallback chunk so nonempty input always yields at least one chunk.
func (s *Stage) Run(_ context.Context, pc *pipeline.Context) error {
	if pc.Extract == nil {
		return pipeline.ChunkError("no extractor result to chunk", nil)
	}

	content := pc.Extract.Content
	var pieces []string
	switch pc.Extract.ContentType {
	case "markdown":
		pieces = s.chunkMarkdown(content)
	case "html":
		pieces = s.chunkText(stripTags(content))
	default:
		pieces = s.chunkText(content)
	}

	// Drop undersized chunks.
	kept := pieces[:0]
	for _, p := range pieces {
		if pipeline.EstimateTokens(p) >= s.cfg.MinChunkSize {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		// Everything was undersized: fall back to one chunk with the whole content.
		kept = []string{content}
	}

	result := &pipeline.ChunkResult{
		Chunks:      make([]pipeline.Chunk, len(kept)),
		TotalChunks: len(kept),
	}
	totalTokens := 0
	for i, p := range kept {
		tokens := pipeline.EstimateTokens(p)
		totalTokens += tokens
		result.Chunks[i] = pipeline.Chunk{
			ID:         uuid.New().String(),
			Content:    p,
			Position:   i,
			TokenCount: tokens,
		}
	}
	result.AverageChunkSize = float64(totalTokens) / float64(len(kept))

	pc.Chunks = result
	pc.Job.Metrics.TotalChunks = result.TotalChunks
	pc.Job.Metrics.AverageChunkSize = result.AverageChunkSize
	return nil
}
