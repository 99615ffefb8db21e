// Package ingest runs the background pipeline that turns uploaded documents
// into searchable chunks: chunk the extracted text, embed each chunk, and
// store the vectors. Work arrives through the SQLite job queue so uploads
// return immediately.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/chunker"
	"github.com/AleenDhar/dealsense/internal/retrieval"
	"github.com/AleenDhar/dealsense/internal/storage"
)

// JobTypeDocumentEmbed is the queue type for document embedding jobs.
const JobTypeDocumentEmbed = "document_embed"

// JobStore abstracts the job queue and document lookups.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetDocument(ctx context.Context, id string) (storage.Document, error)
}

// ChunkEmbedder generates embeddings for chunk batches.
type ChunkEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter stores chunk vectors. Stale chunks from a previous version of
// the document are removed before the new set is written.
type VectorWriter interface {
	InsertChunks(ctx context.Context, chunks []retrieval.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Worker processes document_embed jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder ChunkEmbedder
	vectors  VectorWriter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ChunkEmbedder, vectors VectorWriter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_embed job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeDocumentEmbed})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// EmbedPayload is the job payload for document_embed jobs.
type EmbedPayload struct {
	DocumentID string `json:"document_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload EmbedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	texts := chunker.Split(doc.Content, chunker.DefaultMaxSize)
	if len(texts) == 0 {
		w.logger.Info("document has no embeddable text", "document_id", doc.ID)
		return nil
	}

	vecs, err := w.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	// Drop chunks from any earlier version of this document first, so a
	// content update recomputes rather than accumulates.
	if err := w.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return fmt.Errorf("removing stale chunks: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]retrieval.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = retrieval.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Content:    text,
			Embedding:  vecs[i],
			CreatedAt:  now,
		}
	}

	if err := w.vectors.InsertChunks(ctx, chunks); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	w.logger.Info("document embedded", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// EnqueueDocument queues a document_embed job for the given document.
func EnqueueDocument(ctx context.Context, store interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}, documentID string) error {
	payload, err := json.Marshal(EmbedPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeDocumentEmbed,
		PayloadJSON: string(payload),
	})
}
