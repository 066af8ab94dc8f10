// Package config provides configuration loading and structs for kioku.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv is consulted when embedding.remote.api_key is empty.
const APIKeyEnv = "KIOKU_EMBEDDING_API_KEY"

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Scanner   ScannerConfig   `yaml:"scanner"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the memory store location.
type StorageConfig struct {
	BasePath string `yaml:"base_path"`
}

// Embedding providers.
const (
	ProviderTFIDF  = "tfidf"
	ProviderRemote = "remote"
)

// EmbeddingConfig selects and tunes the embedder.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	// QueryUpdatesModel makes search queries update the TF-IDF statistics
	// like documents do. Nil means true.
	QueryUpdatesModel *bool        `yaml:"query_updates_model"`
	Remote            RemoteConfig `yaml:"remote"`
}

// QueryUpdatesModelOrDefault returns whether queries mutate the model; defaults to true when unset.
func (e *EmbeddingConfig) QueryUpdatesModelOrDefault() bool {
	if e.QueryUpdatesModel != nil {
		return *e.QueryUpdatesModel
	}
	return true
}

// RemoteConfig holds settings for the OpenAI-compatible embeddings API.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	CacheSize         int           `yaml:"cache_size"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	Timeout           time.Duration `yaml:"timeout"`

	apiKeyFromEnv bool
}

// SearchConfig holds result limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// ScannerConfig holds project scanner settings.
type ScannerConfig struct {
	Directories  []string `yaml:"directories"`
	Extensions   []string `yaml:"extensions"`
	Recursive    *bool    `yaml:"recursive"`
	GroupID      string   `yaml:"group_id"`
	MaxFileBytes int64    `yaml:"max_file_bytes"`
}

// RecursiveOrDefault returns whether to scan recursively; defaults to true when unset.
func (s *ScannerConfig) RecursiveOrDefault() bool {
	if s.Recursive != nil {
		return *s.Recursive
	}
	return true
}

// Default returns a config with every default applied and paths expanded
// against the home directory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Storage.BasePath = expandPath(cfg.Storage.BasePath, ".")
	return cfg
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.BasePath = expandPath(cfg.Storage.BasePath, configDir)
	for i := range cfg.Scanner.Directories {
		cfg.Scanner.Directories[i] = expandPath(cfg.Scanner.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. An API key taken from the environment is
// not written.
func Save(path string, cfg *Config) error {
	out := *cfg
	if out.Embedding.Remote.apiKeyFromEnv {
		out.Embedding.Remote.APIKey = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}
