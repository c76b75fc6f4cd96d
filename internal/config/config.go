// Package config provides configuration loading and structs for the bunsho server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Render    RenderConfig    `yaml:"render"`
	Watch     WatchConfig     `yaml:"watch"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path" validate:"required"`
	BleveIndexPath  string `yaml:"bleve_index_path" validate:"required"`
	VectorIndexType string `yaml:"vector_index_type" validate:"oneof=sqlite-vec memory none"`
	// VectorIndexPath persists the memory vector index between runs; empty rebuilds it from storage.
	VectorIndexPath string `yaml:"vector_index_path"`
}

// EmbeddingConfig selects and configures the embedder. Backend "none" disables semantic search.
type EmbeddingConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=none mock ollama onnx"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions" validate:"gte=0"`
	OllamaURL     string        `yaml:"ollama_url" validate:"omitempty,url"`
	ModelPath     string        `yaml:"model_path"`
	MaxTokens     int           `yaml:"max_tokens" validate:"gte=0"`
	CacheSize     int           `yaml:"cache_size" validate:"gte=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gte=1"`
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl" validate:"gte=0"`
}

// Enabled reports whether an embedder is configured.
func (e EmbeddingConfig) Enabled() bool {
	return e.Backend != "" && e.Backend != BackendNone
}

// SearchConfig holds keyword and semantic search settings.
type SearchConfig struct {
	DefaultK       int  `yaml:"default_k" validate:"gte=1"`
	MaxK           int  `yaml:"max_k" validate:"gtefield=DefaultK"`
	AllowAdvanced  bool `yaml:"allow_advanced"`
	MaxQueryLength int  `yaml:"max_query_length" validate:"gte=1"`
	MaxOrClauses   int  `yaml:"max_or_clauses" validate:"gte=1"`
	// MaxScan bounds keyword hits examined when a scope filter drops results.
	MaxScan       int `yaml:"max_scan" validate:"gte=1"`
	SnippetWidth  int `yaml:"snippet_width" validate:"gte=16"`
	BatchSize     int `yaml:"batch_size" validate:"gte=1"`
	MaxEmbeddings int `yaml:"max_embeddings" validate:"gtefield=BatchSize"`
	Overfetch     int `yaml:"overfetch" validate:"gte=1"`
}

// RenderConfig holds defaults for filtered rendering.
type RenderConfig struct {
	Policy         string `yaml:"policy" validate:"oneof=direct window"`
	Window         int    `yaml:"window" validate:"gte=0"`
	ExpandHeadings *bool  `yaml:"expand_headings"`
}

// ExpandHeadingsOrDefault returns whether matched headings expand; defaults to true when unset.
func (r *RenderConfig) ExpandHeadingsOrDefault() bool {
	if r.ExpandHeadings != nil {
		return *r.ExpandHeadings
	}
	return true
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// LoggingConfig holds log level and optional rotating file output.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Load reads and parses the config file at path, applies BUNSHO_* environment
// overrides and defaults, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(&cfg, filepath.Dir(path))
}

// Default returns the configuration used when no file is given, with
// environment overrides applied. Relative paths resolve against the
// working directory.
func Default() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	return finish(&Config{}, wd)
}

func finish(cfg *Config, configDir string) (*Config, error) {
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Storage.VectorIndexPath != "" {
		cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints. The error names every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. "~/" and paths without a "./"
// prefix are relative to the home directory; "./" paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
