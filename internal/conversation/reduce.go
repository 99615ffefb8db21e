package conversation

import (
	"encoding/json"

	"github.com/AleenDhar/dealsense/internal/storage"
)

// Step is one progress record inside an assistant turn.
type Step struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Args    string `json:"args,omitempty"`
}

// Turn is a display-level conversation entry. User turns carry content
// only; assistant turns fold the intermediate thinking and tool records
// under the answer they led to.
type Turn struct {
	ID         string `json:"id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Steps      []Step `json:"steps,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Processing bool   `json:"processing,omitempty"`
}

// Reduce folds a chat's flat tagged message log into turns. The agent
// writes each tool_call and tool_result twice: once as a numbered step
// record and once as the canonical record with source "tool_wrapper" and
// full metadata. Only the canonical copy is kept. Status records are
// dropped except for cancellation, which closes the current assistant turn.
func Reduce(messages []storage.ChatMessage) []Turn {
	var turns []Turn

	last := func() *Turn {
		if len(turns) == 0 {
			return nil
		}
		return &turns[len(turns)-1]
	}

	for _, msg := range messages {
		msgType := msg.Type
		if msgType == "" {
			msgType = TypeMessage
		}
		meta := parseMetadata(msg.Metadata)

		if msg.Role == "user" {
			turns = append(turns, Turn{ID: msg.ID, Role: "user", Content: msg.Content})
			continue
		}
		if msg.Role != "assistant" {
			continue
		}

		switch msgType {
		case TypeThinking, TypeToolCall, TypeToolResult:
			if msgType != TypeThinking && isDuplicateToolRecord(meta) {
				continue
			}
			step := buildStep(msgType, msg.Content, meta)
			if t := last(); t != nil && t.Role == "assistant" {
				t.Steps = append(t.Steps, step)
			} else {
				turns = append(turns, Turn{
					ID:         msg.ID,
					Role:       "assistant",
					Processing: true,
					Steps:      []Step{step},
				})
			}

		case TypeStatus, TypeCancelled:
			if msgType == TypeCancelled || msg.Content == "cancelled" {
				if t := last(); t != nil && t.Role == "assistant" {
					t.Cancelled = true
					t.Processing = false
				}
			}

		case TypeFinal, TypeMessage:
			if t := last(); t != nil && t.Role == "assistant" && t.Content == "" {
				t.ID = msg.ID
				t.Content = msg.Content
				t.Processing = false
			} else {
				turns = append(turns, Turn{ID: msg.ID, Role: "assistant", Content: msg.Content})
			}
		}
	}

	return turns
}

// isDuplicateToolRecord reports whether a tool record is the numbered-step
// duplicate rather than the canonical tool_wrapper copy.
func isDuplicateToolRecord(meta map[string]json.RawMessage) bool {
	if _, hasStep := meta["step"]; !hasStep {
		return false
	}
	var source string
	if raw, ok := meta["source"]; ok {
		json.Unmarshal(raw, &source)
	}
	return source != "tool_wrapper"
}

func buildStep(msgType, content string, meta map[string]json.RawMessage) Step {
	step := Step{Type: msgType}
	switch msgType {
	case TypeThinking, TypeToolResult:
		step.Content = content
	case TypeToolCall:
		step.Tool = metaString(meta, "tool", "name", "tool_name")
		if step.Tool == "" {
			step.Tool = "Unknown Tool"
		}
		if raw, ok := meta["args"]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				step.Args = s
			} else {
				step.Args = string(raw)
			}
		}
	}
	return step
}

func metaString(meta map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if raw, ok := meta[k]; ok {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func parseMetadata(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}
