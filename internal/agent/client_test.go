package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestChatRelaysStreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.ChatID != "chat-1" || !req.Stream {
			t.Errorf("unexpected payload: %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"type\":\"token\",\"content\":\"hi\"}\n\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rc, err := c.Chat(context.Background(), ChatRequest{ChatID: "chat-1", Stream: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	body, _ := io.ReadAll(rc)
	if !strings.Contains(string(body), `"type":"token"`) {
		t.Errorf("stream body not relayed: %q", body)
	}
}

func TestChatRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	rc, err := c.Chat(context.Background(), ChatRequest{ChatID: "c"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	rc.Close()
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestChatSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Chat(context.Background(), ChatRequest{ChatID: "c"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Errorf("upstream error text not embedded: %v", err)
	}
}

func TestChatUnconfigured(t *testing.T) {
	c := NewClient("")
	if _, err := c.Chat(context.Background(), ChatRequest{}); err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestStructuredPostsToStructuredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/structured") {
			t.Errorf("expected structured endpoint, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"output": "the list"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	out, err := c.Structured(context.Background(), ChatRequest{ChatID: "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "the list" {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestStopForwardsChatID(t *testing.T) {
	var gotChatID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/stop") {
			t.Errorf("expected stop endpoint, got %s", r.URL.Path)
		}
		gotChatID = r.URL.Query().Get("chat_id")
		w.Write([]byte(`{"stopped":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Stop(context.Background(), "chat-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotChatID != "chat-42" {
		t.Errorf("chat_id not forwarded, got %q", gotChatID)
	}
}

func TestUnwrapStructured(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare output", `{"output":"answer"}`, "answer"},
		{"message field", `{"message":"answer"}`, "answer"},
		{"content field", `{"content":"answer"}`, "answer"},
		{"array wrapper", `[{"output":"answer"}]`, "answer"},
		{"data envelope", `{"success":true,"data":{"output":"answer"}}`, "answer"},
		{"array and envelope", `[{"data":{"content":"answer"}}]`, "answer"},
		{"plain text", `not json at all`, "not json at all"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UnwrapStructured([]byte(tt.raw)); got != tt.want {
				t.Errorf("UnwrapStructured(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUnwrapStructuredFallbackToRawJSON(t *testing.T) {
	got := UnwrapStructured([]byte(`{"unexpected":"shape"}`))
	if !strings.Contains(got, "unexpected") {
		t.Errorf("expected raw JSON fallback, got %q", got)
	}
}
