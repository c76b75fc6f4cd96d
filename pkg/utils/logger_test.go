package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(true) returned nil logger")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(false) returned nil logger")
		}
		_ = logger.Sync()
	})
}

func TestNewLoggerWithOptions(t *testing.T) {
	t.Run("level filters", func(t *testing.T) {
		logger, err := NewLoggerWithOptions(LogOptions{Level: "warn"})
		if err != nil {
			t.Fatal(err)
		}
		if logger.Core().Enabled(-1) {
			t.Error("debug should be disabled at warn level")
		}
	})

	t.Run("bad level", func(t *testing.T) {
		if _, err := NewLoggerWithOptions(LogOptions{Level: "loud"}); err == nil {
			t.Error("expected error for unknown level")
		}
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bunsho.log")
		logger, err := NewLoggerWithOptions(LogOptions{File: path, MaxSizeMB: 1})
		if err != nil {
			t.Fatal(err)
		}
		logger.Info("file logger ready")
		_ = logger.Sync()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "file logger ready") {
			t.Errorf("log file missing message: %s", data)
		}
	})
}
