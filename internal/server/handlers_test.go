package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/internal/embedding"
	"github.com/hyperjump/bunsho/internal/indexer"
	"github.com/hyperjump/bunsho/internal/keyword"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/render"
	"github.com/hyperjump/bunsho/internal/search"
	"github.com/hyperjump/bunsho/internal/semantic"
	"github.com/hyperjump/bunsho/internal/storage"
	"github.com/hyperjump/bunsho/internal/watcher"
)

const sampleDoc = "# Title\nalpha\n\nbeta\n"

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockWatchService) Stats() watcher.Stats { return watcher.Stats{Ingested: 2} }

type testServer struct {
	srv     *Server
	handler http.Handler
	store   *storage.SQLiteStorage
}

func newTestServer(t *testing.T, withSemantic bool, opts ...Option) *testServer {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", storage.WithoutVec())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	kw, err := keyword.NewBleveMemIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kw.Close() })

	var idxOpts []indexer.IndexerOption
	var engineOpts []search.EngineOption
	if withSemantic {
		emb := embedding.NewMockEmbedder(8)
		idxOpts = append(idxOpts, indexer.WithEmbedder(semantic.NewIndexer(store, emb)))
		sem, err := semantic.NewSearcher(store, emb, semantic.DefaultConfig())
		require.NoError(t, err)
		engineOpts = append(engineOpts, search.WithSemantic(sem))
	}

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Storage.DatabasePath = ":memory:"
	cfg.Storage.BleveIndexPath = ""
	cfg.Storage.VectorIndexPath = ""

	srv := NewServer(Dependencies{
		Search:  search.NewEngine(store, search.NewKeywordSearcher(kw), engineOpts...),
		Render:  render.NewEngine(store),
		Indexer: indexer.NewIndexer(store, kw, idxOpts...),
		Storage: store,
	}, cfg, zap.NewNop(), opts...)
	return &testServer{srv: srv, handler: srv.Router(), store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) ingest(t *testing.T, id, content string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: id, Content: content})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (ts *testServer) nodes(t *testing.T, docID string) []*models.Node {
	t.Helper()
	nodes, err := ts.store.GetNodesByDocument(context.Background(), docID)
	require.NoError(t, err)
	return nodes
}

func decodeSearch(t *testing.T, w *httptest.ResponseRecorder) models.SearchResponse {
	t.Helper()
	var resp models.SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	w := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestIngestAndSearch(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(t, http.MethodPost, "/api/v1/documents", models.DocumentInput{ID: "notes", Content: sampleDoc})
	require.Equal(t, http.StatusCreated, w.Code)
	var res models.IngestResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "notes", res.DocID)
	assert.Equal(t, 3, res.Nodes)

	w = ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "beta"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeSearch(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "notes", resp.Results[0].DocID)
	assert.Equal(t, "keyword", resp.Mode)
	assert.Contains(t, resp.Results[0].Snippet, "**beta**")
}

func TestSearch_errors(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"query too long", models.SearchQuery{Query: strings.Repeat("a ", 300)}, http.StatusBadRequest},
		{"negative k", models.SearchQuery{Query: "beta", K: -1}, http.StatusBadRequest},
		{"unknown project", models.SearchQuery{Query: "beta", Scope: &models.ScopeFilter{Project: "nope"}}, http.StatusBadRequest},
		{"unknown topic", models.SearchQuery{Query: "beta", Scope: &models.ScopeFilter{Topics: []string{"nope"}}}, http.StatusBadRequest},
		{"malformed body", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/search", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestSemanticSearch(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, false)
		w := ts.do(t, http.MethodPost, "/api/v1/semsearch", models.SearchQuery{Query: "beta"})
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		ts := newTestServer(t, true)
		ts.ingest(t, "notes", sampleDoc)
		w := ts.do(t, http.MethodPost, "/api/v1/semsearch", models.SearchQuery{Query: "beta", K: 2})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeSearch(t, w)
		assert.Equal(t, "semantic", resp.Mode)
		assert.Equal(t, string(semantic.StrategyStream), resp.Strategy)
		assert.Len(t, resp.Results, 2)
	})
}

func TestRenderDocument(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)

	w := ts.do(t, http.MethodGet, "/api/v1/documents/notes/render", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sampleDoc, w.Body.String())
	assert.Equal(t, markdownContentType, w.Header().Get("Content-Type"))

	w = ts.do(t, http.MethodGet, "/api/v1/documents/missing/render", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRenderDocument_emptyDocumentIsNotMissing(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "empty", "")

	w := ts.do(t, http.MethodGet, "/api/v1/documents/empty/render", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestRenderFiltered(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)
	nodes := ts.nodes(t, "notes")
	require.Len(t, nodes, 3)

	w := ts.do(t, http.MethodPost, "/api/v1/documents/notes/render",
		models.RenderRequest{MatchedIDs: []string{nodes[2].ShortID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := w.Body.String()
	assert.True(t, strings.HasPrefix(out, "# Title\n"))
	assert.Contains(t, out, "[@"+nodes[1].ShortID+" kind=paragraph bytes=6]\n")
	assert.True(t, strings.HasSuffix(out, "beta\n"))

	w = ts.do(t, http.MethodPost, "/api/v1/documents/notes/render",
		models.RenderRequest{MatchedIDs: []string{nodes[2].ShortID}, Policy: "window", Window: 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sampleDoc, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/documents/notes/render", models.RenderRequest{Policy: "everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNodes(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)
	nodes := ts.nodes(t, "notes")
	short := nodes[1].ShortID

	w := ts.do(t, http.MethodGet, "/api/v1/nodes/"+short, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var n models.Node
	require.NoError(t, json.NewDecoder(w.Body).Decode(&n))
	assert.Equal(t, nodes[1].FullID, n.FullID)

	w = ts.do(t, http.MethodGet, "/api/v1/nodes/"+strings.ToLower(short)+"/render", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alpha\n", w.Body.String())

	typed := strings.NewReplacer("0", "O", "1", "I").Replace(short)
	w = ts.do(t, http.MethodGet, "/api/v1/nodes/"+typed, nil)
	require.Equal(t, http.StatusOK, w.Code, "typed as %s", typed)

	w = ts.do(t, http.MethodGet, "/api/v1/nodes/0000/render", nil)
	if nodes[0].ShortID != "0000" && nodes[1].ShortID != "0000" && nodes[2].ShortID != "0000" {
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestGetAndDeleteDocument(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)

	w := ts.do(t, http.MethodGet, "/api/v1/documents/notes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view documentView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, len(sampleDoc), view.Bytes)
	assert.Len(t, view.Nodes, 3)

	w = ts.do(t, http.MethodDelete, "/api/v1/documents/notes", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodDelete, "/api/v1/documents/notes", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/documents/notes", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "beta"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeSearch(t, w).Results)
}

func TestProjectsAndTopics(t *testing.T) {
	ts := newTestServer(t, false)
	ts.ingest(t, "notes", sampleDoc)
	ts.ingest(t, "other", "beta again\n")

	w := ts.do(t, http.MethodPost, "/api/v1/projects", createNamedRequest{Name: "work"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/projects", createNamedRequest{Name: "work"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/projects", createNamedRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/projects/work/members",
		models.Target{Type: models.TargetDocument, ID: "notes"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = ts.do(t, http.MethodPost, "/api/v1/projects/work/members", models.Target{Type: "folder", ID: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/projects/missing/members",
		models.Target{Type: models.TargetDocument, ID: "notes"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search",
		models.SearchQuery{Query: "beta", Scope: &models.ScopeFilter{Project: "work"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeSearch(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "notes", resp.Results[0].DocID)

	w = ts.do(t, http.MethodPost, "/api/v1/topics", createNamedRequest{Name: "drafts"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/topics/drafts/tags",
		tagRequest{Target: models.Target{Type: models.TargetDocument, ID: "other"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tag models.TopicTag
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tag))
	assert.Equal(t, 1.0, tag.Weight)

	w = ts.do(t, http.MethodPost, "/api/v1/search",
		models.SearchQuery{Query: "beta", Scope: &models.ScopeFilter{Topics: []string{"drafts"}}})
	require.Equal(t, http.StatusOK, w.Code)
	resp = decodeSearch(t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "other", resp.Results[0].DocID)

	w = ts.do(t, http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = ts.do(t, http.MethodGet, "/api/v1/topics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, true, WithWatch(&mockWatchService{}, ""))
	ts.ingest(t, "notes", sampleDoc)

	w := ts.do(t, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Documents       int64            `json:"documents"`
		Nodes           int64            `json:"nodes"`
		Embeddings      map[string]int64 `json:"embeddings"`
		KeywordDocs     uint64           `json:"keyword_docs"`
		VecAvailable    bool             `json:"vec_available"`
		SemanticEnabled bool             `json:"semantic_enabled"`
		Watch           *watcher.Stats   `json:"watch"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, int64(1), out.Documents)
	assert.Equal(t, int64(3), out.Nodes)
	assert.Equal(t, int64(3), out.Embeddings["mock-8"])
	assert.Equal(t, uint64(3), out.KeywordDocs)
	assert.False(t, out.VecAvailable)
	assert.True(t, out.SemanticEnabled)
	require.NotNil(t, out.Watch)
	assert.Equal(t, int64(2), out.Watch.Ingested)
}

func TestWatchDirectories(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts := newTestServer(t, false)
		w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})

	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	ts := newTestServer(t, false, WithWatch(mock, ""))

	w := ts.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Directories []string `json:"directories"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, []string{"/tmp/docs"}, out.Directories)

	dir := t.TempDir()
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: dir})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, mock.Directories(), dir)

	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: dir + "/missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	file := filepath.Join(dir, "note.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	w = ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: file})
	assert.Equal(t, http.StatusBadRequest, w.Code, "a file is not a directory")
	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "remove needs a path")

	w = ts.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, mock.Directories(), dir)
}

func TestWatchDirectories_persistsConfig(t *testing.T) {
	mock := &mockWatchService{}
	cfgPath := t.TempDir() + "/config.yaml"
	ts := newTestServer(t, false, WithWatch(mock, cfgPath))

	dir := t.TempDir()
	w := ts.do(t, http.MethodPost, "/api/v1/watch/directories", watchAddRequest{Path: dir})
	require.Equal(t, http.StatusCreated, w.Code)

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, saved.Watch.Directories)
}
