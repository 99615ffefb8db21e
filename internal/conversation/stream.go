package conversation

import (
	"bytes"
	"encoding/json"
	"strings"
)

// TypeToken tags transient answer-delta frames in the relayed stream. Deltas
// are coalesced by the recorder and never stored individually.
const TypeToken = "token"

// Event is one agent progress record parsed from a relayed stream frame.
// Tool results carry their text in "result" rather than "content"; Observe
// normalizes that. Raw holds the full frame object for metadata storage.
type Event struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Result  string          `json:"result"`
	Raw     json.RawMessage `json:"-"`
}

var dataPrefix = []byte("data:")

// StreamRecorder watches the relayed event stream and collects the records
// that belong in the chat history. The agent server has no access to the
// local store, so the relay is the only place the assistant's side of a
// streamed turn can be captured.
type StreamRecorder struct {
	events   []Event
	tokens   strings.Builder
	sawFinal bool
}

// Observe parses one relayed line. Non-data lines, keep-alives, and frames
// that are not JSON objects are ignored.
func (r *StreamRecorder) Observe(line []byte) {
	payload, ok := bytes.CutPrefix(bytes.TrimSpace(line), dataPrefix)
	if !ok {
		return
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	ev.Raw = json.RawMessage(bytes.Clone(payload))

	switch ev.Type {
	case TypeThinking, TypeToolCall, TypeCancelled:
		r.events = append(r.events, ev)
	case TypeToolResult:
		if ev.Content == "" {
			ev.Content = ev.Result
		}
		r.events = append(r.events, ev)
	case TypeFinal:
		r.sawFinal = true
		r.events = append(r.events, ev)
	case TypeToken:
		r.tokens.WriteString(ev.Content)
	}
}

// Records returns the collected history records in stream order. When the
// stream carried answer deltas but no final frame, the deltas are coalesced
// into one final record so the answer is never lost.
func (r *StreamRecorder) Records() []Event {
	if !r.sawFinal && r.tokens.Len() > 0 {
		return append(r.events, Event{Type: TypeFinal, Content: r.tokens.String()})
	}
	return r.events
}
