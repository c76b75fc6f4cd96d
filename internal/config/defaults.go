package config

import (
	"path/filepath"
	"time"
)

// Embedding backends.
const (
	BackendNone   = "none"
	BackendMock   = "mock"
	BackendOllama = "ollama"
	BackendONNX   = "onnx"
)

// DefaultDataDir holds the database and indices unless overridden.
const DefaultDataDir = "/usr/local/var/bunsho/data"

// DefaultExtensions are the file types ingested by directory ingestion and the watcher.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".rst", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(DefaultDataDir, "db", "bunsho.db")
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = filepath.Join(DefaultDataDir, "indices", "bleve")
	}
	if cfg.Storage.VectorIndexType == "" {
		cfg.Storage.VectorIndexType = "sqlite-vec"
	}

	if cfg.Embedding.Backend == "" {
		cfg.Embedding.Backend = BackendNone
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Backend {
		case BackendOllama:
			cfg.Embedding.Model = "nomic-embed-text"
		case BackendONNX:
			cfg.Embedding.Model = "all-MiniLM-L6-v2"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Backend {
		case BackendONNX, BackendMock:
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.Backend == BackendONNX && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = filepath.Join(DefaultDataDir, "models", "all-MiniLM-L6-v2.onnx")
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Embedding.QueryCacheTTL == 0 {
		cfg.Embedding.QueryCacheTTL = 10 * time.Minute
	}

	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.MaxQueryLength == 0 {
		cfg.Search.MaxQueryLength = 512
	}
	if cfg.Search.MaxOrClauses == 0 {
		cfg.Search.MaxOrClauses = 32
	}
	if cfg.Search.MaxScan == 0 {
		cfg.Search.MaxScan = 1000
	}
	if cfg.Search.SnippetWidth == 0 {
		cfg.Search.SnippetWidth = 160
	}
	if cfg.Search.BatchSize == 0 {
		cfg.Search.BatchSize = 1000
	}
	if cfg.Search.MaxEmbeddings == 0 {
		cfg.Search.MaxEmbeddings = 1000000
	}
	if cfg.Search.Overfetch == 0 {
		cfg.Search.Overfetch = 2
	}

	if cfg.Render.Policy == "" {
		cfg.Render.Policy = "direct"
	}
	if cfg.Render.Window == 0 {
		cfg.Render.Window = 1
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), DefaultExtensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Debug {
			cfg.Logging.Level = "debug"
		}
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
}
