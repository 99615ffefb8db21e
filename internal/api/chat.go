package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/agent"
	"github.com/AleenDhar/dealsense/internal/conversation"
	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

// ChatTurnRequest is the inbound payload for one chat turn. Project and
// chat IDs may be human-readable labels; they are normalized before use.
type ChatTurnRequest struct {
	ProjectID              string          `json:"projectId"`
	ChatID                 string          `json:"chatId"`
	Content                string          `json:"content"`
	PreviousMessages       []agent.Message `json:"previousMessages"`
	Model                  string          `json:"model"`
	Images                 []string        `json:"images,omitempty"`
	StructuredOutputFormat json.RawMessage `json:"structured_output_format,omitempty"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatTurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}

		ctx := r.Context()
		chatID := identity.NormalizeChatID(req.ChatID)

		projectID, err := identity.ResolveProjectID(ctx, req.ProjectID, deps.Store)
		if err != nil {
			// Project scope is enrichment; a lookup failure must not block
			// the turn.
			deps.Logger.Warn("project lookup failed, proceeding without project", "project", req.ProjectID, "error", err)
			projectID = ""
		}

		if err := ensureChat(ctx, deps, chatID, projectID, req.Content); err != nil {
			httpError(w, http.StatusInternalServerError, "preparing chat session: %v", err)
			return
		}

		userMsg := storage.ChatMessage{
			ID:      uuid.New().String(),
			ChatID:  chatID,
			Role:    "user",
			Content: req.Content,
			Type:    conversation.TypeMessage,
		}
		if len(req.Images) > 0 {
			meta, _ := json.Marshal(map[string][]string{"images": req.Images})
			userMsg.Metadata = meta
		}
		if err := deps.Store.AppendMessage(ctx, userMsg); err != nil {
			httpError(w, http.StatusInternalServerError, "saving message: %v", err)
			return
		}

		systemPrompt := deps.Assembler.Assemble(ctx, projectID, req.Content)

		apiKeys, err := deps.Settings.GetAll(ctx,
			settings.KeyOpenAIAPIKey, settings.KeyGoogleAPIKey, settings.KeyAnthropicAPIKey)
		if err != nil {
			deps.Logger.Warn("reading api keys failed", "error", err)
			apiKeys = map[string]string{}
		}

		model := req.Model
		if model == "" {
			model = agent.DefaultModel
		}

		var projectRef *string
		if projectID != "" {
			projectRef = &projectID
		}

		payload := agent.ChatRequest{
			Messages:               append(req.PreviousMessages, agent.Message{Role: "user", Content: req.Content, Images: req.Images}),
			SystemPrompt:           systemPrompt,
			Model:                  model,
			Stream:                 len(req.StructuredOutputFormat) == 0,
			ChatID:                 chatID,
			ProjectID:              projectRef,
			APIKeys:                apiKeys,
			StructuredOutputFormat: req.StructuredOutputFormat,
		}

		client, err := deps.resolveAgent(ctx)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "agent unavailable: %v", err)
			return
		}

		// The user message stays persisted if the upstream call fails:
		// at-least-once send semantics, no compensating delete.
		if len(req.StructuredOutputFormat) > 0 {
			handleStructuredTurn(w, r, deps, client, payload)
			return
		}

		rc, err := client.Chat(ctx, payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "agent request failed: %v", err)
			return
		}
		defer rc.Close()

		streamResponse(ctx, deps, w, rc, chatID)
	}
}

// ensureChat creates the chat row on first contact and refreshes
// placeholder titles with one derived from the new message.
func ensureChat(ctx context.Context, deps Deps, chatID, projectID, content string) error {
	chat, err := deps.Store.GetChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return deps.Store.CreateChat(ctx, storage.Chat{
			ID:        chatID,
			ProjectID: projectID,
			Title:     conversation.TitleFromContent(content),
		})
	}
	if err != nil {
		return err
	}

	if chat.Title == "" || chat.Title == "New Chat" {
		if err := deps.Store.UpdateChatTitle(ctx, chatID, conversation.TitleFromContent(content)); err != nil {
			deps.Logger.Warn("refreshing chat title failed", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

func handleStructuredTurn(w http.ResponseWriter, r *http.Request, deps Deps, client AgentClient, payload agent.ChatRequest) {
	output, err := client.Structured(r.Context(), payload)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "agent request failed: %v", err)
		return
	}

	assistantMsg := storage.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    payload.ChatID,
		Role:      "assistant",
		Content:   output,
		Type:      conversation.TypeMessage,
		CreatedAt: time.Now().UTC(),
	}
	if err := deps.Store.AppendMessage(r.Context(), assistantMsg); err != nil {
		deps.Logger.Error("persisting structured response failed", "chat_id", payload.ChatID, "error", err)
	}

	writeJSON(w, map[string]any{"success": true, "message": output})
}

// streamResponse pipes the upstream event stream to the caller unmodified,
// flushing per line to preserve token latency. The relayed records are the
// assistant's side of the turn; the agent cannot write to the local store,
// so they are appended to the chat history once the stream ends.
func streamResponse(ctx context.Context, deps Deps, w http.ResponseWriter, rc io.Reader, chatID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var recorder conversation.StreamRecorder
	reader := bufio.NewReader(rc)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			w.Write(line)
			flusher.Flush()
			recorder.Observe(line)
		}
		if err != nil {
			if err != io.EOF {
				deps.Logger.Error("upstream stream read error", "error", err)
				errPayload, marshalErr := json.Marshal(map[string]string{"type": "error", "error": "upstream read error"})
				if marshalErr == nil {
					w.Write([]byte("data: "))
					w.Write(errPayload)
					w.Write([]byte("\n\n"))
					flusher.Flush()
				}
			}
			break
		}
	}

	persistTurnRecords(ctx, deps, chatID, recorder.Records())
}

// persistTurnRecords appends the captured assistant records to the chat
// history. The client going away mid-stream must not lose what was already
// captured, so the writes run on a detached context.
func persistTurnRecords(ctx context.Context, deps Deps, chatID string, events []conversation.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		msg := storage.ChatMessage{
			ID:      uuid.New().String(),
			ChatID:  chatID,
			Role:    "assistant",
			Content: ev.Content,
			Type:    ev.Type,
		}
		if ev.Type == conversation.TypeToolCall || ev.Type == conversation.TypeToolResult {
			msg.Metadata = ev.Raw
		}
		if err := deps.Store.AppendMessage(ctx, msg); err != nil {
			deps.Logger.Error("persisting turn record failed", "chat_id", chatID, "type", ev.Type, "error", err)
			return
		}
	}
}

// StopRequest asks the agent server to cease generation for a chat.
type StopRequest struct {
	ChatID string `json:"chatId"`
}

func handleStop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req StopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.ChatID == "" {
			httpError(w, http.StatusBadRequest, "chatId is required")
			return
		}

		chatID := identity.NormalizeChatID(req.ChatID)

		client, err := deps.resolveAgent(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "agent unavailable: %v", err)
			return
		}

		// Stop is advisory: the upstream may keep streaming briefly after
		// acknowledging.
		if err := client.Stop(r.Context(), chatID); err != nil {
			httpError(w, http.StatusInternalServerError, "stop failed: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "stopped"})
	}
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		chats, err := deps.Store.ListChats(r.Context(), r.URL.Query().Get("projectId"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing chats: %v", err)
			return
		}

		visible := conversation.FilterVisible(chats)
		type chatSummary struct {
			ID        string `json:"id"`
			ProjectID string `json:"project_id,omitempty"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]chatSummary, 0, len(visible))
		for _, c := range visible {
			out = append(out, chatSummary{
				ID:        c.ID,
				ProjectID: c.ProjectID,
				Title:     c.Title,
				CreatedAt: c.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, out)
	}
}

// handleChatMessages returns the chat's history folded into display turns.
func handleChatMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID := identity.NormalizeChatID(chi.URLParam(r, "id"))

		if _, err := deps.Store.GetChat(r.Context(), chatID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "chat not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "loading chat: %v", err)
			return
		}

		messages, err := deps.Store.ListMessages(r.Context(), chatID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing messages: %v", err)
			return
		}

		turns := conversation.Reduce(messages)
		if turns == nil {
			turns = []conversation.Turn{}
		}
		writeJSON(w, turns)
	}
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
