package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bunsho.db")
	require.NoError(t, os.WriteFile(db, []byte("hello"), 0644))
	bleveDir := filepath.Join(dir, "bleve", "store")
	require.NoError(t, os.MkdirAll(bleveDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bleveDir, "root.bolt"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bleve", "index_meta.json"), []byte("c"), 0644))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{db}, 5},
		{"nested directory", []string{filepath.Join(dir, "bleve")}, 3},
		{"file and directory", []string{db, filepath.Join(dir, "bleve")}, 8},
		{"missing wal files ignored", DatabaseFiles(db), 5},
		{"empty and memory paths ignored", []string{"", ":memory:", db}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDatabaseFiles(t *testing.T) {
	assert.Nil(t, DatabaseFiles(":memory:"))
	assert.Equal(t,
		[]string{"/data/bunsho.db", "/data/bunsho.db-wal", "/data/bunsho.db-shm"},
		DatabaseFiles("/data/bunsho.db"))
}
