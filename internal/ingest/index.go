package ingest

import (
	"context"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

// ChunkStore persists chunk rows into the keyword-searchable text store.
type ChunkStore interface {
	SaveChunks(chunks []storage.Chunk) error
	DeleteChunksByDocument(documentID string) ([]string, error)
}

// VectorIndex inserts embeddings into the vector index.
type VectorIndex interface {
	Upsert(records []vector.Record) error
	Delete(id string) error
}

// indexStage persists the embedded chunks: chunk rows into the text store
// and their vectors into the vector index. Re-running the stage for the same
// document replaces its previous chunks, so a retried job stays idempotent.
type indexStage struct {
	chunks  ChunkStore
	vectors VectorIndex
}

func newIndexStage(chunks ChunkStore, vectors VectorIndex) *indexStage {
	return &indexStage{chunks: chunks, vectors: vectors}
}

func (s *indexStage) Name() pipeline.Status {
	return pipeline.StatusIndexing
}

func (s *indexStage) Run(_ context.Context, pc *pipeline.Context) error {
	if pc.Chunks == nil || pc.Embeddings == nil {
		return &pipeline.Error{Stage: pipeline.StatusIndexing, Message: "no embeddings to index"}
	}

	// Clear chunks from any previous attempt of this document.
	oldIDs, err := s.chunks.DeleteChunksByDocument(pc.Job.DocumentID)
	if err != nil {
		return pipeline.IndexError("clearing previous chunks", err)
	}
	for _, id := range oldIDs {
		// Best effort: a missing vector for a removed chunk is not a failure.
		_ = s.vectors.Delete(id)
	}

	rows := make([]storage.Chunk, len(pc.Chunks.Chunks))
	for i, ch := range pc.Chunks.Chunks {
		rows[i] = storage.Chunk{
			ID:         ch.ID,
			DocumentID: pc.Job.DocumentID,
			Content:    ch.Content,
			Position:   ch.Position,
			TokenCount: ch.TokenCount,
		}
	}
	if err := s.chunks.SaveChunks(rows); err != nil {
		return pipeline.IndexError("saving chunks", err)
	}

	records := make([]vector.Record, len(pc.Embeddings.Embeddings))
	for i, e := range pc.Embeddings.Embeddings {
		records[i] = vector.Record{
			ID:        e.ID,
			Kind:      "chunk",
			SourceID:  pc.Job.DocumentID,
			Embedding: e.Vector,
		}
	}
	if err := s.vectors.Upsert(records); err != nil {
		return pipeline.IndexError("upserting vectors", err)
	}
	return nil
}
