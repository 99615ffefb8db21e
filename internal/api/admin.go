package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

type projectRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req projectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "name is required")
			return
		}

		p := storage.Project{
			ID:           uuid.New().String(),
			Name:         req.Name,
			SystemPrompt: req.SystemPrompt,
			CreatedAt:    time.Now().UTC(),
		}
		if err := deps.Store.CreateProject(r.Context(), p); err != nil {
			httpError(w, http.StatusInternalServerError, "creating project: %v", err)
			return
		}
		writeJSON(w, map[string]string{"id": p.ID})
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing projects: %v", err)
			return
		}

		type projectView struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			SystemPrompt string `json:"system_prompt,omitempty"`
			CreatedAt    string `json:"created_at"`
		}
		out := make([]projectView, 0, len(projects))
		for _, p := range projects {
			out = append(out, projectView{
				ID:           p.ID,
				Name:         p.Name,
				SystemPrompt: p.SystemPrompt,
				CreatedAt:    p.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}

// configKeys are the operator settings exposed over the admin API.
var configKeys = []string{
	settings.KeyBasePrompt,
	settings.KeyAgentURL,
	settings.KeyOpenAIAPIKey,
	settings.KeyGoogleAPIKey,
	settings.KeyAnthropicAPIKey,
}

// handleGetConfig returns current settings with credential values redacted.
func handleGetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := deps.Settings.GetAll(r.Context(), configKeys...)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "reading config: %v", err)
			return
		}

		out := make(map[string]string, len(values))
		for k, v := range values {
			if strings.HasSuffix(k, "_api_key") {
				out[k] = redact(v)
			} else {
				out[k] = v
			}
		}
		writeJSON(w, out)
	}
}

func redact(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func handlePutConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var values map[string]string
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		for key, value := range values {
			if !isConfigKey(key) {
				httpError(w, http.StatusBadRequest, "unknown config key %q", key)
				return
			}
			if err := deps.Store.SetConfigValue(r.Context(), key, value); err != nil {
				httpError(w, http.StatusInternalServerError, "saving %s: %v", key, err)
				return
			}
		}
		writeJSON(w, map[string]string{"status": "updated"})
	}
}

func isConfigKey(key string) bool {
	for _, k := range configKeys {
		if k == key {
			return true
		}
	}
	return false
}
