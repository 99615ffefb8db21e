package conversation

import (
	"strings"
	"testing"
)

func observeAll(r *StreamRecorder, frames ...string) {
	for _, f := range frames {
		r.Observe([]byte(f))
	}
}

func TestStreamRecorderCapturesTurnRecords(t *testing.T) {
	var r StreamRecorder
	observeAll(&r,
		"data: {\"type\":\"thinking\",\"content\":\"Calling search_documents...\"}\n",
		"\n",
		"data: {\"type\":\"tool_call\",\"tool\":\"search_documents\",\"args\":{\"query\":\"revenue\"}}\n",
		"data: {\"type\":\"tool_result\",\"tool\":\"search_documents\",\"result\":\"3 chunks\"}\n",
		"data: {\"type\":\"final\",\"content\":\"Revenue grew 12%.\"}\n",
	)

	records := r.Records()
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4: %+v", len(records), records)
	}

	wantTypes := []string{TypeThinking, TypeToolCall, TypeToolResult, TypeFinal}
	for i, want := range wantTypes {
		if records[i].Type != want {
			t.Errorf("records[%d].Type = %q, want %q", i, records[i].Type, want)
		}
	}

	// Tool results carry their text in "result".
	if records[2].Content != "3 chunks" {
		t.Errorf("tool_result content = %q, want %q", records[2].Content, "3 chunks")
	}
	if records[3].Content != "Revenue grew 12%." {
		t.Errorf("final content = %q", records[3].Content)
	}
	if !strings.Contains(string(records[1].Raw), "search_documents") {
		t.Errorf("tool_call raw frame lost: %s", records[1].Raw)
	}
}

func TestStreamRecorderCoalescesTokenDeltas(t *testing.T) {
	var r StreamRecorder
	observeAll(&r,
		"data: {\"type\":\"token\",\"content\":\"The answer \"}\n",
		"data: {\"type\":\"token\",\"content\":\"is 42.\"}\n",
	)

	records := r.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 coalesced final: %+v", len(records), records)
	}
	if records[0].Type != TypeFinal || records[0].Content != "The answer is 42." {
		t.Errorf("coalesced record = %+v", records[0])
	}
}

func TestStreamRecorderPrefersExplicitFinal(t *testing.T) {
	var r StreamRecorder
	observeAll(&r,
		"data: {\"type\":\"token\",\"content\":\"partial\"}\n",
		"data: {\"type\":\"final\",\"content\":\"The full answer.\"}\n",
	)

	records := r.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1: %+v", len(records), records)
	}
	if records[0].Content != "The full answer." {
		t.Errorf("content = %q, want the explicit final", records[0].Content)
	}
}

func TestStreamRecorderIgnoresTransientFrames(t *testing.T) {
	var r StreamRecorder
	observeAll(&r,
		"data: {\"type\":\"status\",\"content\":\"processing\"}\n",
		"data: [DONE]\n",
		": keep-alive\n",
		"event: message\n",
		"data: not json\n",
		"data: {\"type\":\"unknown_kind\",\"content\":\"x\"}\n",
	)

	if records := r.Records(); len(records) != 0 {
		t.Errorf("got %d records from transient frames, want 0: %+v", len(records), records)
	}
}

func TestStreamRecorderKeepsCancellation(t *testing.T) {
	var r StreamRecorder
	observeAll(&r,
		"data: {\"type\":\"thinking\",\"content\":\"working\"}\n",
		"data: {\"type\":\"cancelled\",\"content\":\"cancelled\"}\n",
	)

	records := r.Records()
	if len(records) != 2 || records[1].Type != TypeCancelled {
		t.Fatalf("records = %+v, want thinking then cancelled", records)
	}
}
