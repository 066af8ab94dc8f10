package config

import (
	"os"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "~/.kioku/memory"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderTFIDF
	}
	if cfg.Embedding.QueryUpdatesModel == nil {
		t := true
		cfg.Embedding.QueryUpdatesModel = &t
	}
	remote := &cfg.Embedding.Remote
	if remote.APIKey == "" {
		if key := os.Getenv(APIKeyEnv); key != "" {
			remote.APIKey = key
			remote.apiKeyFromEnv = true
		}
	}
	if remote.Model == "" {
		remote.Model = "text-embedding-3-small"
	}
	if remote.RequestsPerMinute == 0 {
		remote.RequestsPerMinute = 60
	}
	if remote.CacheSize == 0 {
		remote.CacheSize = 1000
	}
	if remote.MaxInputChars == 0 {
		remote.MaxInputChars = 8000
	}
	if remote.Timeout == 0 {
		remote.Timeout = 30 * time.Second
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Scanner.Extensions == nil {
		cfg.Scanner.Extensions = []string{
			".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rs", ".c", ".h", ".cpp",
			".rb", ".php", ".cs", ".swift", ".kt", ".md", ".txt", ".yaml", ".yml", ".json", ".toml",
		}
	}
	if cfg.Scanner.GroupID == "" {
		cfg.Scanner.GroupID = "project"
	}
	if cfg.Scanner.MaxFileBytes == 0 {
		cfg.Scanner.MaxFileBytes = 256 * 1024
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Scanner.Directories) > 0 && cfg.Scanner.Recursive == nil {
		t := true
		cfg.Scanner.Recursive = &t
	}
}
