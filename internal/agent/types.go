package agent

import "encoding/json"

// DefaultModel is used when the caller does not pick one.
const DefaultModel = "anthropic:claude-sonnet-4-5"

// Message is one conversation entry in the outbound payload.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatRequest is the payload POSTed to the agent server.
type ChatRequest struct {
	Messages               []Message         `json:"messages"`
	SystemPrompt           string            `json:"system_prompt"`
	Model                  string            `json:"model"`
	Stream                 bool              `json:"stream"`
	ChatID                 string            `json:"chat_id"`
	ProjectID              *string           `json:"project_id"`
	APIKeys                map[string]string `json:"api_keys"`
	StructuredOutputFormat json.RawMessage   `json:"structured_output_format,omitempty"`
}
