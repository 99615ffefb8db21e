package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/composer"
	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/storage"
)

type memoryRequest struct {
	MemoryType string `json:"memory_type"`
	Content    string `json:"content"`
	Sentiment  string `json:"sentiment"`
	Importance int    `json:"importance"`
}

func handleCreateMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		projectID, err := identity.ResolveProjectID(r.Context(), chi.URLParam(r, "id"), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "resolving project: %v", err)
			return
		}
		if projectID == "" {
			httpError(w, http.StatusNotFound, "project not found")
			return
		}

		var req memoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}
		if req.MemoryType == "" {
			req.MemoryType = "insight"
		}
		if req.Importance == 0 {
			req.Importance = 5
		}

		m := storage.Memory{
			ID:         uuid.New().String(),
			ProjectID:  projectID,
			MemoryType: req.MemoryType,
			Content:    req.Content,
			Sentiment:  req.Sentiment,
			Importance: req.Importance,
			CreatedAt:  time.Now().UTC(),
		}
		if err := deps.Store.SaveMemory(r.Context(), m); err != nil {
			httpError(w, http.StatusInternalServerError, "saving memory: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": m.ID})
	}
}

func handleListMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := identity.ResolveProjectID(r.Context(), chi.URLParam(r, "id"), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "resolving project: %v", err)
			return
		}
		if projectID == "" {
			httpError(w, http.StatusNotFound, "project not found")
			return
		}

		limit := parseIntParam(r, "limit", composer.MemoryLimit, 100)
		memories, err := deps.Store.TopMemories(r.Context(), projectID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing memories: %v", err)
			return
		}

		type memoryView struct {
			ID         string `json:"id"`
			MemoryType string `json:"memory_type"`
			Content    string `json:"content"`
			Sentiment  string `json:"sentiment,omitempty"`
			Importance int    `json:"importance"`
		}
		out := make([]memoryView, 0, len(memories))
		for _, m := range memories {
			out = append(out, memoryView{
				ID:         m.ID,
				MemoryType: m.MemoryType,
				Content:    m.Content,
				Sentiment:  m.Sentiment,
				Importance: m.Importance,
			})
		}
		writeJSON(w, out)
	}
}

func handleDeleteMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteMemory(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "memory not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "deleting memory: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
