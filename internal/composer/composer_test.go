package composer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

type fakeContextStore struct {
	prompt         string
	promptErr      error
	memories       []storage.Memory
	memoriesErr    error
	docNames       []string
	docErr         error
	instructions   []storage.Instruction
	instructionErr error
}

func (f *fakeContextStore) GetProjectPrompt(context.Context, string) (string, error) {
	return f.prompt, f.promptErr
}
func (f *fakeContextStore) TopMemories(context.Context, string, int) ([]storage.Memory, error) {
	return f.memories, f.memoriesErr
}
func (f *fakeContextStore) ListDocumentNames(context.Context, string) ([]string, error) {
	return f.docNames, f.docErr
}
func (f *fakeContextStore) ActiveInstructions(context.Context, string) ([]storage.Instruction, error) {
	return f.instructions, f.instructionErr
}

type fakeSearcher struct {
	chunks []retrieval.ScoredChunk
	err    error
}

func (f *fakeSearcher) Search(context.Context, string, string) ([]retrieval.ScoredChunk, error) {
	return f.chunks, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fullStore() *fakeContextStore {
	return &fakeContextStore{
		prompt: "Focus on the Acme acquisition.",
		memories: []storage.Memory{
			{MemoryType: "insight", Content: "Buyer prefers cash deals", Importance: 9},
			{MemoryType: "issue", Content: "Valuation gap unresolved", Importance: 7},
		},
		docNames: []string{"deal-memo.pdf", "term-sheet.docx"},
		instructions: []storage.Instruction{
			{Instruction: "Always cite the source document."},
		},
	}
}

func TestAssembleSectionOrdering(t *testing.T) {
	searcher := &fakeSearcher{chunks: []retrieval.ScoredChunk{
		{Chunk: retrieval.Chunk{Content: "The purchase price is $40M."}, Score: 0.8},
	}}
	a := NewAssembler(settings.Static{settings.KeyBasePrompt: "You are a deal analyst."}, fullStore(), searcher, quietLogger())

	prompt := a.Assemble(context.Background(), "proj-1", "What is the price?")

	markers := []string{
		"You are a deal analyst.",
		"Focus on the Acme acquisition.",
		"[INSIGHT] Buyer prefers cash deals (Importance: 9/10)",
		"deal-memo.pdf",
		ExcerptsHeading,
		"- Always cite the source document.",
	}
	prev := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", m, prompt)
		}
		if idx <= prev {
			t.Errorf("section %q out of order (index %d after %d)", m, idx, prev)
		}
		prev = idx
	}
}

func TestAssembleRAGFallbackToManifest(t *testing.T) {
	searcher := &fakeSearcher{} // zero hits above threshold
	a := NewAssembler(settings.Static{}, fullStore(), searcher, quietLogger())

	prompt := a.Assemble(context.Background(), "proj-1", "unrelated question")

	if strings.Contains(prompt, ExcerptsHeading) {
		t.Error("excerpts heading present despite zero hits")
	}
	if !strings.Contains(prompt, "deal-memo.pdf") || !strings.Contains(prompt, "term-sheet.docx") {
		t.Error("file manifest missing on retrieval miss")
	}
	if !strings.Contains(prompt, "get_file_content") {
		t.Error("manifest missing tool-lookup instruction")
	}
}

func TestAssembleRAGErrorDegradesSilently(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store down")}
	a := NewAssembler(settings.Static{}, fullStore(), searcher, quietLogger())

	prompt := a.Assemble(context.Background(), "proj-1", "question")
	if strings.Contains(prompt, ExcerptsHeading) {
		t.Error("excerpts heading present despite retrieval failure")
	}
	if !strings.Contains(prompt, settings.DefaultBasePrompt) {
		t.Error("base prompt missing")
	}
}

func TestAssembleNoProject(t *testing.T) {
	store := fullStore()
	a := NewAssembler(settings.Static{}, store, &fakeSearcher{}, quietLogger())

	prompt := a.Assemble(context.Background(), "", "hello")

	if !strings.Contains(prompt, settings.DefaultBasePrompt) {
		t.Error("default persona missing")
	}
	if strings.Contains(prompt, "Project Memory Context") || strings.Contains(prompt, "Project Files") {
		t.Error("project sections present without a project")
	}
	// Global instructions still apply without a project.
	if !strings.Contains(prompt, "Always cite the source document.") {
		t.Error("instructions missing without project")
	}
}

func TestAssembleSubFetchFailuresOmitSections(t *testing.T) {
	store := fullStore()
	store.memoriesErr = errors.New("db locked")
	store.docErr = errors.New("db locked")
	a := NewAssembler(settings.Static{}, store, nil, quietLogger())

	prompt := a.Assemble(context.Background(), "proj-1", "question")

	if strings.Contains(prompt, "Project Memory Context") {
		t.Error("memory section present despite fetch failure")
	}
	if strings.Contains(prompt, "Project Files") {
		t.Error("manifest present despite fetch failure")
	}
	if !strings.Contains(prompt, "Focus on the Acme acquisition.") {
		t.Error("surviving sections should still render")
	}
}

func TestAssembleConfiguredBasePrompt(t *testing.T) {
	a := NewAssembler(settings.Static{settings.KeyBasePrompt: "Custom persona."}, &fakeContextStore{}, nil, quietLogger())
	prompt := a.Assemble(context.Background(), "", "hi")
	if !strings.HasPrefix(prompt, "Custom persona.") {
		t.Errorf("expected configured persona first, got %q", prompt)
	}
}
