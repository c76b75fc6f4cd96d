package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/keyword"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/render"
	"github.com/hyperjump/bunsho/internal/scope"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/vector"
	"github.com/hyperjump/bunsho/internal/watcher"
)

const markdownContentType = "text/markdown; charset=utf-8"

// statusFor maps a component error to an HTTP status.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, keyword.ErrInvalidQuery),
		errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, scope.ErrUnknownProject),
		errors.Is(err, scope.ErrUnknownTopic):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrExists):
		return http.StatusConflict
	case errors.Is(err, search.ErrSemanticDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.search.Search(r.Context(), &query)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if !s.decode(w, r, &query) {
		return
	}
	s.logger.Debug("semantic search request", zap.String("query", query.Query), zap.Int("k", query.K))
	response, err := s.search.SemanticSearch(r.Context(), &query)
	if err != nil {
		s.fail(w, "semantic search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if !s.decode(w, r, &input) {
		return
	}
	s.logger.Debug("ingest document request", zap.String("id", input.ID), zap.Int("bytes", len(input.Content)))
	res, err := s.indexer.IngestDocument(r.Context(), &input)
	if err != nil {
		s.fail(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

// documentView is a document as returned by the API, with its nodes.
type documentView struct {
	ID         string                 `json:"id"`
	SourcePath string                 `json:"source_path,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Bytes      int                    `json:"bytes"`
	Nodes      []*models.Node         `json:"nodes"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, "get document failed", err)
		return
	}
	nodes, err := s.storage.GetNodesByDocument(r.Context(), id)
	if err != nil {
		s.fail(w, "get document nodes failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, documentView{
		ID:         doc.ID,
		SourcePath: doc.SourcePath,
		Metadata:   doc.Metadata,
		Bytes:      len(doc.Raw),
		Nodes:      nodes,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRenderDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.render.RenderFull(r.Context(), id)
	if err != nil {
		s.fail(w, "render failed", err)
		return
	}
	if len(out) == 0 && !s.documentExists(w, r, id) {
		return
	}
	s.respondMarkdown(w, out)
}

func (s *Server) handleRenderFiltered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.RenderRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := s.renderOptions(&req)
	out, err := s.render.RenderFiltered(r.Context(), id, req.MatchedIDs, opts)
	if err != nil {
		s.fail(w, "filtered render failed", err)
		return
	}
	if len(out) == 0 && !s.documentExists(w, r, id) {
		return
	}
	s.respondMarkdown(w, out)
}

// renderOptions merges a request over the configured render defaults.
func (s *Server) renderOptions(req *models.RenderRequest) render.Options {
	opts := render.DefaultOptions()
	if s.config != nil {
		if s.config.Render.Policy != "" {
			opts.Policy = render.Policy(s.config.Render.Policy)
		}
		opts.Window = s.config.Render.Window
		opts.ExpandHeadings = s.config.Render.ExpandHeadingsOrDefault()
	}
	if req.Policy != "" {
		opts.Policy = render.Policy(req.Policy)
	}
	if req.Window > 0 {
		opts.Window = req.Window
	}
	if req.ExpandHeadings != nil {
		opts.ExpandHeadings = *req.ExpandHeadings
	}
	return opts
}

// documentExists tells an empty document apart from a missing one, writing
// the error response when it is missing.
func (s *Server) documentExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.storage.GetDocument(r.Context(), id); err != nil {
		s.fail(w, "render lookup failed", err)
		return false
	}
	return true
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.storage.GetNodeByShortID(r.Context(), chi.URLParam(r, "shortID"))
	if err != nil {
		s.fail(w, "get node failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, node)
}

func (s *Server) handleRenderNode(w http.ResponseWriter, r *http.Request) {
	shortID := chi.URLParam(r, "shortID")
	out, err := s.render.RenderNode(r.Context(), shortID)
	if err != nil {
		s.fail(w, "render node failed", err)
		return
	}
	if len(out) == 0 {
		if _, err := s.storage.GetNodeByShortID(r.Context(), shortID); err != nil {
			s.fail(w, "render node lookup failed", err)
			return
		}
	}
	s.respondMarkdown(w, out)
}

type createNamedRequest struct {
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description,omitempty" validate:"max=1024"`
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.storage.ListCollections(r.Context())
	if err != nil {
		s.fail(w, "list projects failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createNamedRequest
	if !s.decode(w, r, &req) {
		return
	}
	c := &models.Collection{Name: req.Name, Description: req.Description}
	if err := s.storage.CreateCollection(r.Context(), c); err != nil {
		s.fail(w, "create project failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, c)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var target models.Target
	if !s.decode(w, r, &target) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.storage.AddMember(r.Context(), name, target); err != nil {
		s.fail(w, "add member failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"project": name, "member": target})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.storage.ListTopics(r.Context())
	if err != nil {
		s.fail(w, "list topics failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createNamedRequest
	if !s.decode(w, r, &req) {
		return
	}
	t := &models.Topic{Name: req.Name, Description: req.Description}
	if err := s.storage.CreateTopic(r.Context(), t); err != nil {
		s.fail(w, "create topic failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, t)
}

type tagRequest struct {
	Target models.Target `json:"target"`
	Weight *float64      `json:"weight,omitempty" validate:"omitempty,gte=0"`
}

func (s *Server) handleTagTarget(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if !s.decode(w, r, &req) {
		return
	}
	weight := 1.0
	if req.Weight != nil {
		weight = *req.Weight
	}
	name := chi.URLParam(r, "name")
	if err := s.storage.TagTarget(r.Context(), name, req.Target, weight); err != nil {
		s.fail(w, "tag failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, models.TopicTag{Topic: name, Target: req.Target, Weight: weight})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	*models.Stats
	SemanticEnabled bool           `json:"semantic_enabled"`
	Watch           *watcher.Stats `json:"watch,omitempty"`
	Config          *configInfo    `json:"config,omitempty"`
}

type configInfo struct {
	DatabasePath    string `json:"database_path"`
	BleveIndexPath  string `json:"bleve_index_path"`
	VectorIndexType string `json:"vector_index_type"`
	VectorIndexPath string `json:"vector_index_path,omitempty"`
	EmbeddingModel  string `json:"embedding_model,omitempty"`
	Dimensions      int    `json:"embedding_dimensions,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var paths []string
	var info *configInfo
	if s.config != nil {
		st := s.config.Storage
		paths = append(storage.DatabaseFiles(st.DatabasePath), st.BleveIndexPath, st.VectorIndexPath)
		info = &configInfo{
			DatabasePath:    st.DatabasePath,
			BleveIndexPath:  st.BleveIndexPath,
			VectorIndexType: st.VectorIndexType,
			VectorIndexPath: st.VectorIndexPath,
		}
		if s.config.Embedding.Enabled() {
			info.EmbeddingModel = s.config.Embedding.Model
			info.Dimensions = s.config.Embedding.Dimensions
		}
	}
	stats, err := s.indexer.Stats(r.Context(), paths...)
	if err != nil {
		s.fail(w, "status failed", err)
		return
	}
	if s.vectors != nil {
		stats.VecAvailable = s.vectors.VecAvailable()
	}
	resp := statusResponse{Stats: stats, SemanticEnabled: s.search.SemanticEnabled(), Config: info}
	if s.watch != nil {
		ws := s.watch.Stats()
		resp.Watch = &ws
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondMarkdown(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", markdownContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
