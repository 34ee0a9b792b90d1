// Package api exposes the REST surface: document ingestion, memory
// creation, job inspection, hybrid search and profile management.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/profile"
	"github.com/kalambet/recall/internal/search"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxDocumentBodySize = 10 << 20 // 10MB

// QueryEmbedder embeds memory content for synchronous indexing.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter abstracts vector index writes for the API layer.
type VectorWriter interface {
	Upsert(records []vector.Record) error
	Delete(id string) error
}

// Searcher runs retrieval calls.
type Searcher interface {
	Search(ctx context.Context, opts search.Options) (*search.Results, error)
}

// AppDeps carries the collaborators the HTTP handlers need. RerankDefault is
// the rerank behavior when a search request leaves the flag unset.
type AppDeps struct {
	Store         *storage.Store
	Search        Searcher
	Profile       *profile.Provider
	Embedder      QueryEmbedder
	Vectors       VectorWriter
	RerankDefault bool
}

// NewHandler builds the router over all API routes.
func NewHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Post("/documents", handleCreateDocument(deps))
	r.Get("/documents", handleListDocuments(deps))
	r.Get("/documents/{id}", handleGetDocument(deps))
	r.Delete("/documents/{id}", handleDeleteDocument(deps))

	r.Get("/jobs/{id}", handleGetJob(deps))

	r.Post("/memories", handleCreateMemory(deps))

	r.Post("/search", handleSearch(deps))

	r.Get("/profile/{userID}", handleGetProfile(deps))
	r.Post("/profile/{userID}/facts", handleAddFact(deps))
	r.Delete("/profile/facts/{id}", handleDeleteFact(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
