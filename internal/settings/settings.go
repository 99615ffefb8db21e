// Package settings exposes operator-mutable configuration stored in the
// app_config table: provider API keys, the base persona prompt, and the
// agent endpoint. Values are read fresh on every call so an admin change
// takes effect on the next chat turn without a restart.
package settings

import (
	"context"
	"fmt"
)

// Keys present in app_config. Anything else in the table is ignored.
const (
	KeyBasePrompt      = "agent_base_prompt"
	KeyAgentURL        = "agent_api_url"
	KeyOpenAIAPIKey    = "openai_api_key"
	KeyGoogleAPIKey    = "google_api_key"
	KeyAnthropicAPIKey = "anthropic_api_key"
)

// DefaultBasePrompt is used when no base persona prompt is configured.
const DefaultBasePrompt = "You are a helpful AI assistant."

// Provider reads operator configuration. Implementations must not cache:
// the contract is always-fresh reads.
type Provider interface {
	// Get returns the value for key, or "" if unset. Absence is not an error.
	Get(ctx context.Context, key string) (string, error)
	// GetAll returns the values for the given keys; unset keys are omitted.
	GetAll(ctx context.Context, keys ...string) (map[string]string, error)
}

// ConfigStore is the storage surface Provider implementations need.
// Implemented by storage.Store.
type ConfigStore interface {
	GetConfigValue(ctx context.Context, key string) (string, error)
	GetConfigValues(ctx context.Context, keys []string) (map[string]string, error)
}

// StoreProvider is the production Provider backed by the relational store.
type StoreProvider struct {
	store ConfigStore
}

// NewStoreProvider wraps a config store.
func NewStoreProvider(store ConfigStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) Get(ctx context.Context, key string) (string, error) {
	v, err := p.store.GetConfigValue(ctx, key)
	if err != nil {
		return "", fmt.Errorf("reading setting %q: %w", key, err)
	}
	return v, nil
}

func (p *StoreProvider) GetAll(ctx context.Context, keys ...string) (map[string]string, error) {
	vals, err := p.store.GetConfigValues(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	return vals, nil
}

// Static is a fixed-value Provider for tests.
type Static map[string]string

func (s Static) Get(_ context.Context, key string) (string, error) {
	return s[key], nil
}

func (s Static) GetAll(_ context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s[k]; ok && v != "" {
			out[k] = v
		}
	}
	return out, nil
}
