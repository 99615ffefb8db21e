// Package composer builds the system prompt for an outbound chat turn.
// Section order is fixed: persona, project prompt, memories, file manifest,
// retrieved excerpts, behavioral instructions. Stable context comes first so
// the volatile, query-specific material sits closest to the conversation.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/settings"
	"github.com/AleenDhar/dealsense/internal/storage"
)

// MemoryLimit caps how many project memories are rendered into one prompt.
const MemoryLimit = 10

// ExcerptsHeading delimits the retrieved-excerpt section. Tests and the
// fallback logic key off its presence.
const ExcerptsHeading = "## Relevant Document Excerpts"

// ContextStore is the read surface the assembler needs. Implemented by
// storage.Store.
type ContextStore interface {
	GetProjectPrompt(ctx context.Context, projectID string) (string, error)
	TopMemories(ctx context.Context, projectID string, limit int) ([]storage.Memory, error)
	ListDocumentNames(ctx context.Context, projectID string) ([]string, error)
	ActiveInstructions(ctx context.Context, projectID string) ([]storage.Instruction, error)
}

// Searcher runs retrieval for the current user message. Implemented by
// retrieval.Searcher; nil disables the excerpt section entirely.
type Searcher interface {
	Search(ctx context.Context, projectID, query string) ([]retrieval.ScoredChunk, error)
}

// Assembler builds system prompts. It is query-only: no chat, message, or
// memory state is mutated during assembly.
type Assembler struct {
	settings settings.Provider
	store    ContextStore
	searcher Searcher
	logger   *slog.Logger
}

// NewAssembler wires an assembler. searcher may be nil when retrieval is not
// configured.
func NewAssembler(provider settings.Provider, store ContextStore, searcher Searcher, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{settings: provider, store: store, searcher: searcher, logger: logger}
}

// Assemble builds the system prompt for one turn. Every enrichment section
// is best-effort: a failed sub-fetch logs a warning and omits that section
// rather than failing the turn.
func (a *Assembler) Assemble(ctx context.Context, projectID, userMessage string) string {
	var b strings.Builder
	b.WriteString(a.basePrompt(ctx))

	if projectID != "" {
		a.appendProjectPrompt(ctx, &b, projectID)
		a.appendMemories(ctx, &b, projectID)
		a.appendFileManifest(ctx, &b, projectID)
		a.appendExcerpts(ctx, &b, projectID, userMessage)
	}

	a.appendInstructions(ctx, &b, projectID)

	return b.String()
}

func (a *Assembler) basePrompt(ctx context.Context) string {
	base, err := a.settings.Get(ctx, settings.KeyBasePrompt)
	if err != nil {
		a.logger.Warn("reading base prompt failed, using default", "error", err)
		return settings.DefaultBasePrompt
	}
	if base == "" {
		return settings.DefaultBasePrompt
	}
	return base
}

func (a *Assembler) appendProjectPrompt(ctx context.Context, b *strings.Builder, projectID string) {
	prompt, err := a.store.GetProjectPrompt(ctx, projectID)
	if err != nil {
		a.logger.Warn("reading project prompt failed, section omitted", "project_id", projectID, "error", err)
		return
	}
	if prompt != "" {
		b.WriteString("\n\n")
		b.WriteString(prompt)
	}
}

func (a *Assembler) appendMemories(ctx context.Context, b *strings.Builder, projectID string) {
	memories, err := a.store.TopMemories(ctx, projectID, MemoryLimit)
	if err != nil {
		a.logger.Warn("reading memories failed, section omitted", "project_id", projectID, "error", err)
		return
	}
	if len(memories) == 0 {
		return
	}

	b.WriteString("\n\n## Project Memory Context\n")
	b.WriteString("The following are important insights and context from previous conversations in this project:\n\n")
	for i, m := range memories {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(b, "[%s] %s (Importance: %d/10)", strings.ToUpper(m.MemoryType), m.Content, m.Importance)
	}
	b.WriteString("\n\nUse this context to provide more relevant and personalized responses.")
}

// appendFileManifest lists attached file names. Contents are explicitly
// tool-gated so the agent does not assume local filesystem access.
func (a *Assembler) appendFileManifest(ctx context.Context, b *strings.Builder, projectID string) {
	names, err := a.store.ListDocumentNames(ctx, projectID)
	if err != nil {
		a.logger.Warn("listing documents failed, section omitted", "project_id", projectID, "error", err)
		return
	}
	if len(names) == 0 {
		return
	}

	b.WriteString("\n\n## Project Files\nThe following files are attached to this project:\n")
	for _, name := range names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("These files are NOT on a local filesystem. To read a file's full contents, use the get_file_content tool with the file name.")
}

func (a *Assembler) appendExcerpts(ctx context.Context, b *strings.Builder, projectID, userMessage string) {
	if a.searcher == nil || userMessage == "" {
		return
	}
	chunks, err := a.searcher.Search(ctx, projectID, userMessage)
	if err != nil {
		// Retrieval is best-effort; the manifest above already tells the
		// agent how to reach full contents.
		a.logger.Warn("retrieval unavailable, continuing without excerpts", "project_id", projectID, "error", err)
		return
	}
	if len(chunks) == 0 {
		return
	}

	b.WriteString("\n\n")
	b.WriteString(ExcerptsHeading)
	b.WriteString("\nThese excerpts from the project files may be relevant to the current question:\n")
	for _, c := range chunks {
		b.WriteString("\n---\n")
		b.WriteString(c.Content)
		b.WriteString("\n")
	}
	b.WriteString("---")
}

func (a *Assembler) appendInstructions(ctx context.Context, b *strings.Builder, projectID string) {
	instructions, err := a.store.ActiveInstructions(ctx, projectID)
	if err != nil {
		a.logger.Warn("reading instructions failed, section omitted", "project_id", projectID, "error", err)
		return
	}
	if len(instructions) == 0 {
		return
	}

	b.WriteString("\n\n## Behavioral Instructions\n")
	for _, i := range instructions {
		b.WriteString("- ")
		b.WriteString(i.Instruction)
		b.WriteString("\n")
	}
}
