package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/recall/internal/search"
	"github.com/kalambet/recall/internal/storage"
)

// SearchRequest is the body for POST /search. Omitted optional fields fall
// back to the engine defaults (limit 10, hybrid mode, profile included) and
// the server's configured rerank setting.
type SearchRequest struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id"`
	Limit          int    `json:"limit"`
	Mode           string `json:"mode"`
	IncludeProfile *bool  `json:"include_profile"`
	Rerank         *bool  `json:"rerank"`
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		opts := search.DefaultOptions()
		opts.Rerank = deps.RerankDefault
		opts.Query = req.Query
		opts.UserID = req.UserID
		if req.Limit > 0 {
			opts.Limit = req.Limit
		}
		if req.Mode != "" {
			opts.Mode = req.Mode
		}
		if req.IncludeProfile != nil {
			opts.IncludeProfile = *req.IncludeProfile
		}
		if req.Rerank != nil {
			opts.Rerank = *req.Rerank
		}

		results, err := deps.Search.Search(r.Context(), opts)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, results)
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		facts, err := deps.Profile.GetProfile(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, facts)
	}
}

// FactRequest adds one profile fact. Kind is "static" or "dynamic".
type FactRequest struct {
	Kind string `json:"kind"`
	Fact string `json:"fact"`
}

func handleAddFact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		userID := chi.URLParam(r, "userID")

		var req FactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Fact == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fact is required")
			return
		}
		if req.Kind != "static" && req.Kind != "dynamic" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be \"static\" or \"dynamic\"")
			return
		}

		id, err := deps.Profile.Add(r.Context(), userID, req.Kind, req.Fact)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add fact: %v", err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleDeleteFact(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Profile.Remove(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "fact not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete fact: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
