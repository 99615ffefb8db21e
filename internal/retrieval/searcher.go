package retrieval

import (
	"context"
	"fmt"
)

// Retrieval policy constants. The threshold and K are fixed to favor
// precision over recall: injecting irrelevant excerpts into the prompt
// degrades answer quality more than a missing excerpt does, since full
// document contents remain reachable through the lookup tool.
const (
	DefaultSimilarityThreshold = 0.3
	DefaultTopK                = 5
)

// QueryEmbedder embeds query text. Implemented by embedding.Client.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher combines query embedding and vector search, applying the
// similarity threshold and result cap.
type Searcher struct {
	embedder  QueryEmbedder
	store     VectorStore
	threshold float32
	topK      int
}

// NewSearcher creates a Searcher with the default threshold and K when the
// given values are zero.
func NewSearcher(embedder QueryEmbedder, store VectorStore, threshold float32, topK int) *Searcher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Searcher{embedder: embedder, store: store, threshold: threshold, topK: topK}
}

// Search embeds the query and returns the project's chunks meeting the
// similarity threshold, at most topK, ordered by descending similarity.
// An empty result is not an error; callers degrade to the file manifest.
func (s *Searcher) Search(ctx context.Context, projectID, query string) ([]ScoredChunk, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vecs))
	}

	scored, err := s.store.Search(ctx, projectID, vecs[0], s.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	// The store returns the top-K regardless of score; drop anything under
	// the threshold.
	filtered := scored[:0]
	for _, c := range scored {
		if c.Score >= s.threshold {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}
