// Package embedding turns text chunks into fixed-dimension vectors via the
// OpenAI embeddings API.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleenDhar/dealsense/internal/settings"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "text-embedding-3-small"

	// Upstream accepts ~2048 inputs per request; stay well under it.
	batchSize = 1000

	requestTimeout = 60 * time.Second
)

// ErrMissingAPIKey is returned when no embedding credential is resolvable,
// before any network call is attempted.
var ErrMissingAPIKey = errors.New("OpenAI API key is missing, cannot generate embeddings")

// Embedder generates embedding vectors for text chunks.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client calls the OpenAI embeddings endpoint. The API key may be set
// explicitly or resolved from the settings provider per call.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	settings   settings.Provider
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets an explicit API key, bypassing settings resolution.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBaseURL points the client at a custom endpoint (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithModel overrides the embedding model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a Client that resolves its API key from provider when
// no explicit key is configured.
func NewClient(provider settings.Provider, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		settings:   provider,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. Inputs are
// submitted in batches; a failure in any batch aborts the whole call.
// Returns nil (not an error) for empty input.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	key, err := c.resolveKey(ctx)
	if err != nil {
		return nil, err
	}

	numBatches := (len(texts) + batchSize - 1) / batchSize
	results := make([][][]float32, numBatches)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to stay under upstream rate limits.

	for i := range numBatches {
		start := i * batchSize
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embedBatch(gCtx, key, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at offset %d: %w", start, err)
			}
			results[i] = vecs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([][]float32, 0, len(texts))
	for _, vecs := range results {
		all = append(all, vecs...)
	}
	return all, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.settings != nil {
		key, err := c.settings.Get(ctx, settings.KeyOpenAIAPIKey)
		if err != nil {
			return "", fmt.Errorf("resolving embedding credential: %w", err)
		}
		if key != "" {
			return key, nil
		}
	}
	return "", ErrMissingAPIKey
}

func (c *Client) embedBatch(ctx context.Context, key string, batch []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Data) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(parsed.Data))
	}

	// The API documents response order matching input order, but index is
	// authoritative.
	vecs := make([][]float32, len(batch))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
