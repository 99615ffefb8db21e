// Package api exposes the HTTP surface: the chat relay, document uploads,
// project memories and instructions, operator settings, and the MCP server
// that gives the agent tool access to project documents.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/AleenDhar/dealsense/internal/agent"
	"github.com/AleenDhar/dealsense/internal/composer"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 10 << 20 // 10MB

// AgentClient is the outbound surface to the agent server. Implemented by
// agent.Client.
type AgentClient interface {
	Chat(ctx context.Context, req agent.ChatRequest) (io.ReadCloser, error)
	Structured(ctx context.Context, req agent.ChatRequest) (string, error)
	Stop(ctx context.Context, chatID string) error
}

// Deps holds the wiring for the HTTP handlers.
type Deps struct {
	Store     *storage.Store
	Settings  settings.Provider
	Assembler *composer.Assembler
	Token     string

	// NewAgentClient builds a client for the resolved agent endpoint.
	// Defaults to agent.NewClient; tests substitute fakes.
	NewAgentClient func(baseURL string) AgentClient

	// DefaultAgentURL is used when no endpoint is configured in app_config.
	DefaultAgentURL string

	Logger *slog.Logger
}

// NewHandler builds the full API router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewAgentClient == nil {
		deps.NewAgentClient = func(baseURL string) AgentClient { return agent.NewClient(baseURL) }
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/api/chat", handleChat(deps))
		r.Post("/api/chat/stop", handleStop(deps))
		r.Get("/api/chats", handleListChats(deps))
		r.Get("/api/chats/{id}/messages", handleChatMessages(deps))

		r.Post("/api/projects", handleCreateProject(deps))
		r.Get("/api/projects", handleListProjects(deps))

		r.Post("/api/documents", handleUploadDocument(deps))
		r.Get("/api/documents", handleListDocuments(deps))
		r.Delete("/api/documents/{id}", handleDeleteDocument(deps))

		r.Get("/api/projects/{id}/memories", handleListMemories(deps))
		r.Post("/api/projects/{id}/memories", handleCreateMemory(deps))
		r.Delete("/api/memories/{id}", handleDeleteMemory(deps))

		r.Get("/api/instructions", handleListInstructions(deps))
		r.Post("/api/instructions", handleCreateInstruction(deps))
		r.Patch("/api/instructions/{id}", handleUpdateInstruction(deps))
		r.Delete("/api/instructions/{id}", handleDeleteInstruction(deps))

		r.Get("/api/admin/config", handleGetConfig(deps))
		r.Put("/api/admin/config", handlePutConfig(deps))
		r.Post("/api/admin/backfill", handleBackfill(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// resolveAgent builds a client for the currently configured agent endpoint.
// The endpoint is read fresh per request so an admin change takes effect on
// the next turn.
func (d Deps) resolveAgent(ctx context.Context) (AgentClient, error) {
	baseURL, err := d.Settings.Get(ctx, settings.KeyAgentURL)
	if err != nil {
		return nil, fmt.Errorf("reading agent endpoint: %w", err)
	}
	if baseURL == "" {
		baseURL = d.DefaultAgentURL
	}
	if baseURL == "" {
		return nil, agent.ErrNotConfigured
	}
	return d.NewAgentClient(baseURL), nil
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": fmt.Sprintf(format, args...),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
