// Package render reconstructs documents from stored bytes, either verbatim or
// with unmatched nodes collapsed into placeholders.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blockid"
	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/internal/storage"
)

// Policy decides which unmatched nodes are still expanded.
type Policy string

const (
	// PolicyDirect expands exactly the matched nodes.
	PolicyDirect Policy = "direct"
	// PolicyWindow also expands siblings within Window positions of a match.
	PolicyWindow Policy = "window"
)

// Options configures RenderFiltered.
type Options struct {
	Policy Policy
	Window int
	// ExpandHeadings emits headings in full even when unmatched.
	ExpandHeadings bool
}

// DefaultOptions expands matches only and keeps headings visible.
func DefaultOptions() Options {
	return Options{Policy: PolicyDirect, Window: 1, ExpandHeadings: true}
}

// Store is the subset of storage the renderer reads.
type Store interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetNodeByShortID(ctx context.Context, shortID string) (*models.Node, error)
	GetNodesByDocument(ctx context.Context, docID string) ([]*models.Node, error)
}

// Engine renders documents.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a render engine over store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// RenderFull returns the stored document bytes. An unknown document yields
// empty bytes and no error.
func (e *Engine) RenderFull(ctx context.Context, docID string) ([]byte, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("render document %s: %w", docID, err)
	}
	return doc.Raw, nil
}

// RenderNode returns the bytes of one node. An unknown short id yields empty bytes.
func (e *Engine) RenderNode(ctx context.Context, shortID string) ([]byte, error) {
	node, err := e.store.GetNodeByShortID(ctx, shortID)
	if errors.Is(err, storage.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("render node %s: %w", shortID, err)
	}
	doc, err := e.store.GetDocument(ctx, node.DocID)
	if errors.Is(err, storage.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("render node %s: %w", shortID, err)
	}
	if node.Start < 0 || node.End > len(doc.Raw) || node.Start > node.End {
		e.logger.Warn("node range outside document",
			zap.String("short_id", shortID), zap.Int("start", node.Start), zap.Int("end", node.End))
		return []byte{}, nil
	}
	return doc.Raw[node.Start:node.End], nil
}

// RenderFiltered walks the document's top-level nodes in order, emitting
// matched or expanded nodes verbatim and every other node as a placeholder
// line. matched may hold full or short ids. An unknown document yields empty bytes.
func (e *Engine) RenderFiltered(ctx context.Context, docID string, matched []string, opts Options) ([]byte, error) {
	doc, err := e.store.GetDocument(ctx, docID)
	if errors.Is(err, storage.ErrNotFound) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("render document %s: %w", docID, err)
	}
	nodes, err := e.store.GetNodesByDocument(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("load nodes of %s: %w", docID, err)
	}

	want := make(map[string]struct{}, len(matched))
	for _, id := range matched {
		id = strings.TrimSpace(id)
		want[id] = struct{}{}
		if blockid.IsFullID(id) {
			continue
		}
		// short ids may arrive in lower case or with I, L or O typed
		if norm, err := blockid.Normalize(id); err == nil {
			want[norm] = struct{}{}
		}
	}

	top, hit := topLevel(nodes, want)
	expand := expanded(top, hit, opts)

	var buf bytes.Buffer
	buf.Grow(len(doc.Raw))
	pos := 0
	for i, n := range top {
		if n.Start < pos || n.End > len(doc.Raw) {
			e.logger.Warn("skipping node with invalid range",
				zap.String("full_id", n.FullID), zap.Int("start", n.Start), zap.Int("end", n.End))
			continue
		}
		buf.Write(doc.Raw[pos:n.Start])
		switch {
		case expand[i], opts.ExpandHeadings && n.Kind == models.KindHeading:
			buf.Write(doc.Raw[n.Start:n.End])
		default:
			buf.Write(FormatPlaceholder(n))
			buf.WriteByte('\n')
		}
		pos = n.End
	}
	if pos < len(doc.Raw) {
		buf.Write(doc.Raw[pos:])
	}
	return buf.Bytes(), nil
}

// topLevel returns the nodes with no containing node, in document order,
// and whether each is matched directly or through a nested descendant.
func topLevel(nodes []*models.Node, want map[string]struct{}) ([]*models.Node, []bool) {
	sorted := make([]*models.Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Len() > sorted[j].Len()
	})

	isMatch := func(n *models.Node) bool {
		if _, ok := want[n.FullID]; ok {
			return true
		}
		_, ok := want[n.ShortID]
		return ok && n.ShortID != ""
	}

	var top []*models.Node
	var hit []bool
	for _, n := range sorted {
		if k := len(top) - 1; k >= 0 && top[k].Contains(n) {
			if isMatch(n) {
				hit[k] = true
			}
			continue
		}
		top = append(top, n)
		hit = append(hit, isMatch(n))
	}
	return top, hit
}

// expanded applies the policy to the direct matches.
func expanded(top []*models.Node, hit []bool, opts Options) []bool {
	out := make([]bool, len(top))
	copy(out, hit)
	if opts.Policy != PolicyWindow || opts.Window <= 0 {
		return out
	}

	siblings := make(map[string][]int)
	for i, n := range top {
		siblings[n.Parent] = append(siblings[n.Parent], i)
	}
	for _, group := range siblings {
		for gi, ti := range group {
			if !hit[ti] {
				continue
			}
			lo, hi := gi-opts.Window, gi+opts.Window
			if lo < 0 {
				lo = 0
			}
			if hi > len(group)-1 {
				hi = len(group) - 1
			}
			for k := lo; k <= hi; k++ {
				out[group[k]] = true
			}
		}
	}
	return out
}
