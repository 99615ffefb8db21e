package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/agent"
	"github.com/AleenDhar/dealsense/internal/composer"
	"github.com/AleenDhar/dealsense/internal/conversation"
	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

const testToken = "test-token"

type fakeAgent struct {
	mu            sync.Mutex
	chatReqs      []agent.ChatRequest
	chatBody      string
	chatErr       error
	structuredOut string
	structuredErr error
	stopped       []string
}

func (f *fakeAgent) Chat(_ context.Context, req agent.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatReqs = append(f.chatReqs, req)
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return io.NopCloser(strings.NewReader(f.chatBody)), nil
}

func (f *fakeAgent) Structured(_ context.Context, req agent.ChatRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatReqs = append(f.chatReqs, req)
	return f.structuredOut, f.structuredErr
}

func (f *fakeAgent) Stop(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, chatID)
	return nil
}

func (f *fakeAgent) lastReq(t *testing.T) agent.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chatReqs) == 0 {
		t.Fatal("no agent request captured")
	}
	return f.chatReqs[len(f.chatReqs)-1]
}

func newTestAPI(t *testing.T) (http.Handler, *storage.Store, *fakeAgent) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := &fakeAgent{chatBody: "data: {\"type\":\"final\",\"content\":\"hi\"}\n\n"}
	provider := settings.NewStoreProvider(store)

	handler := NewHandler(Deps{
		Store:           store,
		Settings:        provider,
		Assembler:       composer.NewAssembler(provider, store, nil, quiet),
		Token:           testToken,
		NewAgentClient:  func(string) AgentClient { return fake },
		DefaultAgentURL: "http://agent.test",
		Logger:          quiet,
	})
	return handler, store, fake
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestChatTurnNewSession(t *testing.T) {
	h, store, fake := newTestAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  "quarterly review",
		"content": "hello",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if got := w.Body.String(); got != fake.chatBody {
		t.Errorf("relayed body = %q, want %q", got, fake.chatBody)
	}

	chatID := identity.DeterministicUUID("quarterly review")
	chat, err := store.GetChat(context.Background(), chatID)
	if err != nil {
		t.Fatalf("chat row not created: %v", err)
	}
	if chat.Title != "hello" {
		t.Errorf("title = %q, want %q", chat.Title, "hello")
	}
	if chat.ProjectID != "" {
		t.Errorf("project_id = %q, want empty", chat.ProjectID)
	}

	msgs, err := store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user message and relayed answer", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("messages[0] = %+v, want user %q", msgs[0], "hello")
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "hi" || msgs[1].Type != conversation.TypeFinal {
		t.Errorf("messages[1] = %+v, want persisted assistant answer", msgs[1])
	}

	req := fake.lastReq(t)
	if req.ChatID != chatID {
		t.Errorf("upstream chat_id = %q, want %q", req.ChatID, chatID)
	}
	if req.ProjectID != nil {
		t.Errorf("upstream project_id = %v, want nil", *req.ProjectID)
	}
	if !req.Stream {
		t.Error("upstream stream = false, want true")
	}
	if req.Model != agent.DefaultModel {
		t.Errorf("model = %q, want default", req.Model)
	}
	if req.SystemPrompt == "" {
		t.Error("system prompt is empty")
	}
	if n := len(req.Messages); n != 1 || req.Messages[n-1].Content != "hello" {
		t.Errorf("upstream messages = %+v", req.Messages)
	}
}

func TestChatTurnSameLabelSameSession(t *testing.T) {
	h, store, _ := newTestAPI(t)

	for _, content := range []string{"first", "second"} {
		w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
			"chatId":  "deal-alpha",
			"content": content,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}

	msgs, err := store.ListMessages(context.Background(), identity.DeterministicUUID("deal-alpha"))
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages in session, want 2 turns of user+assistant", len(msgs))
	}
}

func TestStreamedTurnPersistsAssistantRecords(t *testing.T) {
	h, store, fake := newTestAPI(t)
	fake.chatBody = strings.Join([]string{
		"data: {\"type\":\"thinking\",\"content\":\"Checking the filings...\"}",
		"",
		"data: {\"type\":\"tool_call\",\"tool\":\"search_documents\",\"args\":{\"query\":\"revenue\"}}",
		"",
		"data: {\"type\":\"tool_result\",\"tool\":\"search_documents\",\"result\":\"3 excerpts\"}",
		"",
		"data: {\"type\":\"status\",\"content\":\"processing\"}",
		"",
		"data: {\"type\":\"final\",\"content\":\"Revenue grew 12%.\"}",
		"",
	}, "\n") + "\n"

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  "filings review",
		"content": "how did revenue develop?",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != fake.chatBody {
		t.Errorf("relayed body = %q, want the stream unmodified", got)
	}

	chatID := identity.DeterministicUUID("filings review")
	msgs, err := store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	wantTypes := []string{conversation.TypeMessage, conversation.TypeThinking,
		conversation.TypeToolCall, conversation.TypeToolResult, conversation.TypeFinal}
	if len(msgs) != len(wantTypes) {
		t.Fatalf("got %d messages, want %d (status frames are transient): %+v", len(msgs), len(wantTypes), msgs)
	}
	for i, want := range wantTypes {
		if msgs[i].Type != want {
			t.Errorf("messages[%d].Type = %q, want %q", i, msgs[i].Type, want)
		}
	}
	for _, m := range msgs[1:] {
		if m.Role != "assistant" {
			t.Errorf("message type %q has role %q, want assistant", m.Type, m.Role)
		}
	}
	if !strings.Contains(string(msgs[2].Metadata), "search_documents") {
		t.Errorf("tool_call metadata = %s, want the tool name kept", msgs[2].Metadata)
	}
	if msgs[3].Content != "3 excerpts" {
		t.Errorf("tool_result content = %q, want %q", msgs[3].Content, "3 excerpts")
	}
	if msgs[4].Content != "Revenue grew 12%." {
		t.Errorf("final content = %q", msgs[4].Content)
	}

	// The stored records fold back into a complete assistant turn.
	w = doJSON(t, h, http.MethodGet, "/api/chats/"+chatID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("messages endpoint status = %d", w.Code)
	}
	var turns []conversation.Turn
	if err := json.Unmarshal(w.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decoding turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %+v, want user turn and assistant turn", turns)
	}
	last := turns[1]
	if last.Role != "assistant" || last.Content != "Revenue grew 12%." {
		t.Errorf("assistant turn = %+v", last)
	}
	if len(last.Steps) != 3 {
		t.Errorf("assistant steps = %+v, want thinking, tool_call, tool_result", last.Steps)
	}
	if last.Processing {
		t.Error("completed turn still marked processing")
	}
}

func TestChatTitleRefresh(t *testing.T) {
	h, store, _ := newTestAPI(t)
	ctx := context.Background()

	chatID := uuid.New().String()
	if err := store.CreateChat(ctx, storage.Chat{ID: chatID, Title: "New Chat"}); err != nil {
		t.Fatalf("creating chat: %v", err)
	}

	long := strings.Repeat("a", 60)
	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  chatID,
		"content": long,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	chat, err := store.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("loading chat: %v", err)
	}
	want := strings.Repeat("a", 50) + "..."
	if chat.Title != want {
		t.Errorf("title = %q, want %q", chat.Title, want)
	}

	// A real title is not overwritten by later turns.
	w = doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  chatID,
		"content": "something else entirely",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	chat, err = store.GetChat(ctx, chatID)
	if err != nil {
		t.Fatalf("loading chat: %v", err)
	}
	if chat.Title != want {
		t.Errorf("title changed to %q after second turn", chat.Title)
	}
}

func TestChatProjectNameResolution(t *testing.T) {
	h, store, fake := newTestAPI(t)
	ctx := context.Background()

	projectID := uuid.New().String()
	err := store.CreateProject(ctx, storage.Project{ID: projectID, Name: "Acme Deal", CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":    "acme chat",
		"content":   "what is the status?",
		"projectId": "acme deal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	req := fake.lastReq(t)
	if req.ProjectID == nil || *req.ProjectID != projectID {
		t.Fatalf("upstream project_id = %v, want %q", req.ProjectID, projectID)
	}
	chat, err := store.GetChat(ctx, identity.DeterministicUUID("acme chat"))
	if err != nil {
		t.Fatalf("loading chat: %v", err)
	}
	if chat.ProjectID != projectID {
		t.Errorf("chat project_id = %q, want %q", chat.ProjectID, projectID)
	}

	// An unknown project name degrades to no project scope, not an error.
	w = doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":    "orphan chat",
		"content":   "hello",
		"projectId": "No Such Deal",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("unknown project: status = %d, body %s", w.Code, w.Body.String())
	}
	if req := fake.lastReq(t); req.ProjectID != nil {
		t.Errorf("unknown project: upstream project_id = %v, want nil", *req.ProjectID)
	}
}

func TestChatRequiresContent(t *testing.T) {
	h, _, _ := newTestAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{"chatId": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if resp["error"] == "" {
		t.Error("error body missing error field")
	}
}

func TestChatUserMessageSurvivesUpstreamFailure(t *testing.T) {
	h, store, fake := newTestAPI(t)
	fake.chatErr = io.ErrUnexpectedEOF

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  "doomed",
		"content": "hello",
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	msgs, err := store.ListMessages(context.Background(), identity.DeterministicUUID("doomed"))
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want user message kept after upstream failure", len(msgs))
	}
}

func TestStructuredTurn(t *testing.T) {
	h, store, fake := newTestAPI(t)
	fake.structuredOut = `{"verdict":"proceed"}`

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]any{
		"chatId":                   "structured chat",
		"content":                  "summarize",
		"structured_output_format": map[string]string{"type": "object"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.Message != fake.structuredOut {
		t.Errorf("response = %+v", resp)
	}

	if req := fake.lastReq(t); req.Stream {
		t.Error("structured request has stream = true")
	}

	msgs, err := store.ListMessages(context.Background(), identity.DeterministicUUID("structured chat"))
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != "assistant" || msgs[1].Content != fake.structuredOut {
		t.Fatalf("messages = %+v, want persisted assistant reply", msgs)
	}
}

func TestStopNormalizesChatID(t *testing.T) {
	h, _, fake := newTestAPI(t)

	w := doJSON(t, h, http.MethodPost, "/api/chat/stop", map[string]string{"chatId": "quarterly review"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	want := identity.DeterministicUUID("quarterly review")
	if len(fake.stopped) != 1 || fake.stopped[0] != want {
		t.Errorf("stopped = %v, want [%s]", fake.stopped, want)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", w.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health: status = %d, want 200", w.Code)
	}
}

func TestListChatsHidesAgentGenerated(t *testing.T) {
	h, store, _ := newTestAPI(t)
	ctx := context.Background()

	if err := store.CreateChat(ctx, storage.Chat{ID: uuid.New().String(), Title: "visible chat"}); err != nil {
		t.Fatalf("creating chat: %v", err)
	}
	if err := store.CreateChat(ctx, storage.Chat{ID: uuid.New().String(), Title: conversation.SentinelPrefix + "background analysis"}); err != nil {
		t.Fatalf("creating sentinel chat: %v", err)
	}

	w := doJSON(t, h, http.MethodGet, "/api/chats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var chats []struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(chats) != 1 || chats[0].Title != "visible chat" {
		t.Errorf("chats = %+v, want only the visible chat", chats)
	}
}

func TestChatMessagesEndpoint(t *testing.T) {
	h, store, _ := newTestAPI(t)
	ctx := context.Background()

	w := doJSON(t, h, http.MethodGet, "/api/chats/"+uuid.New().String()+"/messages", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown chat: status = %d, want 404", w.Code)
	}

	chatID := uuid.New().String()
	if err := store.CreateChat(ctx, storage.Chat{ID: chatID, Title: "t"}); err != nil {
		t.Fatalf("creating chat: %v", err)
	}
	base := time.Now().UTC()
	messages := []storage.ChatMessage{
		{ID: uuid.New().String(), ChatID: chatID, Role: "user", Content: "question", CreatedAt: base},
		{ID: uuid.New().String(), ChatID: chatID, Role: "assistant", Content: "answer", CreatedAt: base.Add(time.Second)},
	}
	for _, m := range messages {
		if err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("appending message: %v", err)
		}
	}

	w = doJSON(t, h, http.MethodGet, "/api/chats/"+chatID+"/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var turns []conversation.Turn
	if err := json.Unmarshal(w.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decoding turns: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("turns = %+v", turns)
	}

	// Empty history is an empty array, not null.
	emptyID := uuid.New().String()
	if err := store.CreateChat(ctx, storage.Chat{ID: emptyID, Title: "empty"}); err != nil {
		t.Fatalf("creating chat: %v", err)
	}
	w = doJSON(t, h, http.MethodGet, "/api/chats/"+emptyID+"/messages", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty history body = %q, want []", w.Body.String())
	}
}

func TestAgentUnavailable(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := settings.NewStoreProvider(store)
	h := NewHandler(Deps{
		Store:     store,
		Settings:  provider,
		Assembler: composer.NewAssembler(provider, store, nil, quiet),
		Token:     testToken,
		Logger:    quiet,
	})

	w := doJSON(t, h, http.MethodPost, "/api/chat", map[string]string{
		"chatId":  "x",
		"content": "hello",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
