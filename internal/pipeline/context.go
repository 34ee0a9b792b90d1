package pipeline

import (
	"context"
	"net/http"

	"github.com/kalambet/recall/internal/storage"
)

// RowStore reads source document rows.
type RowStore interface {
	GetDocument(id string) (storage.Document, error)
}

// BlobStore fetches binary payloads by key.
type BlobStore interface {
	GetBlob(key string) ([]byte, error)
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Captioner describes images as text.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Deps bundles the collaborators a job invocation needs. It is passed
// explicitly through the Context rather than reached for globally, and is
// scoped to one job invocation.
type Deps struct {
	Rows       RowStore
	Blobs      BlobStore
	Embedder   Embedder
	Captioner  Captioner
	HTTPClient *http.Client
}

// ExtractResult is the uniform output of stage 1. Immutable once produced.
type ExtractResult struct {
	Content     string
	ContentType string // "text", "html", or "markdown"
	Meta        ExtractMeta
}

// ExtractMeta carries document metadata gathered during extraction.
type ExtractMeta struct {
	Title      string
	Author     string
	Source     string
	WordCount  int
	TokenCount int
}

// Chunk is one bounded segment of extracted content, sized for embedding.
// Chunks are never mutated after creation.
type Chunk struct {
	ID         string
	Content    string
	Position   int
	TokenCount int
	Meta       map[string]string
}

// ChunkResult is the output of stage 2.
type ChunkResult struct {
	Chunks           []Chunk
	TotalChunks      int
	AverageChunkSize float64
}

// Embedding is one chunk's vector. ID matches the originating chunk's ID.
type Embedding struct {
	ID         string
	Vector     []float32
	Model      string
	TokenCount int
}

// EmbedResult is the output of stage 3: one embedding per input chunk.
type EmbedResult struct {
	Embeddings      []Embedding
	TotalTokensUsed int
	Model           string
}

// Context threads a job and its stage results through the pipeline. Each
// stage consumes the previous stage's output and writes its own. One Context
// belongs to exactly one job; contexts for different jobs never share state.
type Context struct {
	Job  *Job
	Deps Deps

	Extract    *ExtractResult
	Chunks     *ChunkResult
	Embeddings *EmbedResult
}
