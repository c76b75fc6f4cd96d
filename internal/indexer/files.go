package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	metaSourcePath  = "source_path"
	metaSourceMtime = "source_mtime"
	metaSourceSize  = "source_size"
)

// fileStamp identifies the on-disk version of an ingested file. A file whose
// stamp matches the stored one is not re-parsed.
type fileStamp struct {
	path  string
	mtime int64
	size  int64
}

func stampOf(path string, info os.FileInfo) fileStamp {
	return fileStamp{path: path, mtime: info.ModTime().UnixNano(), size: info.Size()}
}

// metadata encodes the stamp as strings: UnixNano exceeds float64 precision
// once the metadata has been through JSON.
func (s fileStamp) metadata() map[string]interface{} {
	return map[string]interface{}{
		metaSourcePath:  s.path,
		metaSourceMtime: strconv.FormatInt(s.mtime, 10),
		metaSourceSize:  strconv.FormatInt(s.size, 10),
	}
}

func storedStamp(meta map[string]interface{}) fileStamp {
	path, _ := meta[metaSourcePath].(string)
	return fileStamp{path: path, mtime: metaInt(meta[metaSourceMtime]), size: metaInt(meta[metaSourceSize])}
}

func metaInt(v interface{}) int64 {
	switch n := v.(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func extensionAllowed(ext string, allowed []string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.TrimPrefix(strings.ToLower(a), ".") == ext
	})
}

// IngestDirectory ingests every regular file under dir whose extension is in
// allowedExts (every file when empty). Dot files and dot directories are
// skipped. A file that fails does not stop the walk: the failures are joined
// into the returned error and n counts the files that were ingested or found
// unchanged.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	if info, err := os.Stat(root); err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	} else if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", root)
	}

	start := time.Now()
	var failed []error
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		// follows symlinks; only regular targets are ingested
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			return nil
		}
		if _, err := idx.IngestFile(ctx, path, allowedExts); err != nil {
			idx.logger.Warn("indexer file failed", zap.String("path", path), zap.Error(err))
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		n++
		return nil
	})
	idx.logger.Info("indexer directory ingested",
		zap.String("dir", root),
		zap.Int("files", n),
		zap.Int("failed", len(failed)),
		zap.Duration("elapsed", time.Since(start)))
	if walkErr != nil {
		failed = append(failed, walkErr)
	}
	return n, errors.Join(failed...)
}
