package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Agent     AgentConfig
	Auth      AuthConfig
	Retrieval RetrievalConfig
	Embedding EmbeddingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type AgentConfig struct {
	// URL is the default agent endpoint. The app_config table overrides it
	// at runtime when set through the admin API.
	URL string
}

type AuthConfig struct {
	Token string
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type EmbeddingConfig struct {
	Model string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:      5,
			Threshold: 0.3,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.dealsense.app) and the
// auth token falls back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/dealsense/config.json
// and the auth token must be provided via environment variable.
//
// Environment variables (DEALSENSE_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try platform keychain for the auth token if still empty.
	if cfg.Auth.Token == "" {
		if tok, err := kc.Get("dealsense", "auth_token"); err == nil && tok != "" {
			cfg.Auth.Token = tok
		}
	}

	if cfg.Auth.Token == "" {
		msg := "missing required config: API auth token. " +
			"Set it via environment variable DEALSENSE_AUTH_TOKEN" +
			authTokenHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from macOS Keychain via the security CLI.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
