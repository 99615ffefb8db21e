package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for chunk storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; a pgvector-backed implementation can replace it without
// touching callers.
type VectorStore interface {
	// InsertChunks adds chunk records with their embeddings.
	InsertChunks(ctx context.Context, chunks []Chunk) error

	// Search returns the top-K chunks for the project most similar to the
	// query vector, ordered by descending similarity. No threshold is
	// applied here; that is retrieval policy, owned by Searcher.
	Search(ctx context.Context, projectID string, vector []float32, topK int) ([]ScoredChunk, error)

	// DeleteByDocument removes all chunks belonging to a document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// CountByDocument returns the number of stored chunks for a document.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// Chunk is a stored slice of document text with its embedding. ProjectID is
// denormalized from the parent document so search can scope by project
// without a join.
type Chunk struct {
	ID         string
	DocumentID string
	ProjectID  string
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredChunk is a Chunk with a cosine similarity score attached.
type ScoredChunk struct {
	Chunk
	Score float32
}
