package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
)

type watchAddRequest struct {
	Path string `json:"path" validate:"required"`
	Sync *bool  `json:"sync,omitempty"`
}

type watchDirectoryResponse struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

type watchListResponse struct {
	Directories []string `json:"directories"`
}

var errNotDirectory = errors.New("path is not a directory")

// requireWatch answers 501 when the server runs without a watcher.
func (s *Server) requireWatch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.watch == nil {
			s.respondError(w, http.StatusNotImplemented, "watch not enabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, watchListResponse{Directories: s.watch.Directories()})
}

func (s *Server) handleWatchAdd(w http.ResponseWriter, r *http.Request) {
	var req watchAddRequest
	if !s.decode(w, r, &req) {
		return
	}
	dir, err := existingDirectory(req.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.respondError(w, http.StatusNotFound, "directory not found")
		return
	case errors.Is(err, errNotDirectory):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.fail(w, "watch add failed", err)
		return
	}
	syncExisting := req.Sync == nil || *req.Sync
	if err := s.watch.AddDirectory(dir, syncExisting); err != nil {
		s.fail(w, "watch add failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, watchDirectoryResponse{Path: dir, Status: "added"})
}

// handleWatchRemove takes the directory from the path query parameter or,
// failing that, a JSON body.
func (s *Server) handleWatchRemove(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		path = body.Path
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	dir, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(dir); err != nil {
		s.fail(w, "watch remove failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, watchDirectoryResponse{Path: dir, Status: "removed"})
}

func existingDirectory(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", errNotDirectory, abs)
	}
	return abs, nil
}

// persistWatchDirectories writes the current roots back to the config file
// so they survive a restart.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch directories", zap.String("path", s.configPath), zap.Error(err))
	}
}
