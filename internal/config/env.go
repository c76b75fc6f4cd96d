package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file settings.
const (
	EnvDataDir          = "BUNSHO_DATA_DIR"
	EnvEmbeddingBackend = "BUNSHO_EMBEDDING_BACKEND"
	EnvEmbeddingModel   = "BUNSHO_EMBEDDING_MODEL"
	EnvOllamaURL        = "BUNSHO_OLLAMA_URL"
	EnvLogLevel         = "BUNSHO_LOG_LEVEL"
	EnvServerPort       = "BUNSHO_SERVER_PORT"
)

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding variables already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies BUNSHO_* overrides read through lookup.
// BUNSHO_DATA_DIR places the database and keyword index under one directory.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if dir, ok := lookup(EnvDataDir); ok && dir != "" {
		cfg.Storage.DatabasePath = filepath.Join(dir, "db", "bunsho.db")
		cfg.Storage.BleveIndexPath = filepath.Join(dir, "indices", "bleve")
		if cfg.Storage.VectorIndexPath != "" {
			cfg.Storage.VectorIndexPath = filepath.Join(dir, "indices", "vectors.bin")
		}
	}
	if v, ok := lookup(EnvEmbeddingBackend); ok && v != "" {
		cfg.Embedding.Backend = v
	}
	if v, ok := lookup(EnvEmbeddingModel); ok && v != "" {
		cfg.Embedding.Model = v
	}
	if v, ok := lookup(EnvOllamaURL); ok && v != "" {
		cfg.Embedding.OllamaURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := lookup(EnvServerPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvServerPort, err)
		}
		cfg.Server.Port = port
	}
	return nil
}
