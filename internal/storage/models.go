package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Chat is a conversation session. ProjectID is empty for standalone chats.
type Chat struct {
	ID        string
	UserID    string
	ProjectID string
	Title     string
	CreatedAt time.Time
}

// ChatMessage is one entry in a chat. Messages are append-only and ordered
// by creation time within their chat.
type ChatMessage struct {
	ID        string
	ChatID    string
	Role      string // "user" or "assistant"
	Content   string
	Type      string // message|thinking|tool_call|tool_result|status|final|cancelled
	Metadata  json.RawMessage
	CreatedAt time.Time
}

// Project groups chats, documents, and memories under a shared system prompt.
type Project struct {
	ID           string
	OwnerID      string
	Name         string
	SystemPrompt string
	CreatedAt    time.Time
}

// Document is an uploaded file attached to a project. Content holds the
// extracted text; chunk rows are derived from it and recomputed whenever
// it changes.
type Document struct {
	ID        string
	ProjectID string
	Name      string
	FilePath  string
	Content   string
	CreatedAt time.Time
}

// Memory is a distilled insight attached to a project, ranked by importance
// for prompt inclusion.
type Memory struct {
	ID         string
	ProjectID  string
	MemoryType string // insight|preference|issue|solution|feedback|behavioral
	Content    string
	Sentiment  string
	Importance int // 1-10
	CreatedAt  time.Time
}

// Instruction is a standalone behavioral rule for the agent. ProjectID is
// empty for global instructions.
type Instruction struct {
	ID           string
	UserID       string
	ProjectID    string
	SourceChatID string
	Instruction  string
	Active       bool
	CreatedAt    time.Time
}

// Job is a queued background task (document embedding).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
