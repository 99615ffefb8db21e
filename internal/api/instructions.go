package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/storage"
)

type instructionRequest struct {
	ProjectID    string `json:"projectId"`
	SourceChatID string `json:"sourceChatId"`
	Instruction  string `json:"instruction"`
}

func handleCreateInstruction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req instructionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Instruction == "" {
			httpError(w, http.StatusBadRequest, "instruction is required")
			return
		}

		projectID, err := identity.ResolveProjectID(r.Context(), req.ProjectID, deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "resolving project: %v", err)
			return
		}

		i := storage.Instruction{
			ID:           uuid.New().String(),
			ProjectID:    projectID,
			SourceChatID: req.SourceChatID,
			Instruction:  req.Instruction,
			Active:       true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := deps.Store.SaveInstruction(r.Context(), i); err != nil {
			httpError(w, http.StatusInternalServerError, "saving instruction: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": i.ID})
	}
}

func handleListInstructions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instructions, err := deps.Store.ListInstructions(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing instructions: %v", err)
			return
		}

		type instructionView struct {
			ID          string `json:"id"`
			ProjectID   string `json:"project_id,omitempty"`
			Instruction string `json:"instruction"`
			Active      bool   `json:"active"`
		}
		out := make([]instructionView, 0, len(instructions))
		for _, i := range instructions {
			out = append(out, instructionView{
				ID:          i.ID,
				ProjectID:   i.ProjectID,
				Instruction: i.Instruction,
				Active:      i.Active,
			})
		}
		writeJSON(w, out)
	}
}

func handleUpdateInstruction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Active == nil {
			httpError(w, http.StatusBadRequest, "active is required")
			return
		}

		err := deps.Store.SetInstructionActive(r.Context(), chi.URLParam(r, "id"), *req.Active)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "instruction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "updating instruction: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func handleDeleteInstruction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteInstruction(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "instruction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "deleting instruction: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
