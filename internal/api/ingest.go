package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/recall/internal/pipeline"
	"github.com/kalambet/recall/internal/storage"
	"github.com/kalambet/recall/internal/vector"
)

// DocumentRequest submits a document for asynchronous ingestion. Content
// carries inline text for text/markdown/html, or base64 payload bytes for
// pdf/image. URL is required for type "url".
type DocumentRequest struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	UserID       string `json:"user_id"`
	ContainerTag string `json:"container_tag"`
	MimeType     string `json:"mime_type"`
}

func handleCreateDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var req DocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Type == "" {
			req.Type = "text"
		}

		doc := storage.Document{
			ID:           uuid.New().String(),
			UserID:       req.UserID,
			ContainerTag: req.ContainerTag,
			Type:         req.Type,
			Title:        req.Title,
			MimeType:     req.MimeType,
			CreatedAt:    time.Now().UTC(),
		}

		switch req.Type {
		case "text", "markdown", "html":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required for type %q", req.Type)
				return
			}
			doc.Content = req.Content

		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required for type \"url\"")
				return
			}
			doc.SourceURL = req.URL
			if doc.Title == "" {
				doc.Title = req.URL
			}

		case "pdf", "image":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required for type %q", req.Type)
				return
			}
			data, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			doc.BlobKey = doc.ID
			if err := deps.Store.PutBlob(doc.BlobKey, data); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store payload: %v", err)
				return
			}

		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unsupported document type %q", req.Type)
			return
		}

		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		job := storage.Job{
			ID:           uuid.New().String(),
			DocumentID:   doc.ID,
			UserID:       req.UserID,
			ContainerTag: req.ContainerTag,
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"document_id": doc.ID,
			"job_id":      job.ID,
			"status":      "queued",
		})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		// Remove the document's chunk vectors before the rows go away.
		chunkIDs, err := deps.Store.DeleteChunksByDocument(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete chunks: %v", err)
			return
		}
		if deps.Vectors != nil {
			for _, cid := range chunkIDs {
				_ = deps.Vectors.Delete(cid)
			}
		}

		err = deps.Store.DeleteDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		row, err := deps.Store.GetJob(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		job := pipeline.Job{
			ID:           row.ID,
			DocumentID:   row.DocumentID,
			UserID:       row.UserID,
			ContainerTag: row.ContainerTag,
			Status:       pipeline.Status(row.Status),
			RetryCount:   row.Attempts,
			MaxRetries:   row.MaxAttempts,
			LastError:    row.LastError,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		}
		if err := job.UnmarshalProgress(row.StepsJSON, row.MetricsJSON); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to decode job progress: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

// MemoryRequest creates a free-standing memory, indexed synchronously.
type MemoryRequest struct {
	UserID       string `json:"user_id"`
	ContainerTag string `json:"container_tag"`
	Content      string `json:"content"`
}

func handleCreateMemory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		mem := storage.Memory{
			ID:           uuid.New().String(),
			UserID:       req.UserID,
			ContainerTag: req.ContainerTag,
			Content:      req.Content,
			CreatedAt:    time.Now().UTC(),
		}
		if err := deps.Store.SaveMemory(mem); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save memory: %v", err)
			return
		}

		emb, err := deps.Embedder.Embed(r.Context(), req.Content)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to embed memory: %v", err)
			return
		}
		rec := vector.Record{
			ID:        mem.ID,
			Kind:      "memory",
			SourceID:  mem.ID,
			Embedding: emb,
			CreatedAt: mem.CreatedAt,
		}
		if err := deps.Vectors.Upsert([]vector.Record{rec}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to index memory: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{
			"id":     mem.ID,
			"status": "indexed",
		})
	}
}
