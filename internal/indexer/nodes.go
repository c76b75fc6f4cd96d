package indexer

import (
	"github.com/hyperjump/bunsho/internal/blockid"
	"github.com/hyperjump/bunsho/internal/markdown"
	"github.com/hyperjump/bunsho/internal/models"
)

// BuildNodes shreds raw into nodes for docID. Nodes whose full id is in
// previous keep their short id. Short ids of previous nodes that do not
// survive are released from existing first, then new nodes draw short ids
// that are not in existing, which is extended with every id handed out.
func BuildNodes(docID string, raw []byte, existing map[string]struct{}, previous map[string]*models.Node) ([]*models.Node, error) {
	blocks := markdown.Parse(raw)
	parents := markdown.Parents(blocks)
	if existing == nil {
		existing = make(map[string]struct{})
	}

	fullIDs := make([]string, len(blocks))
	survivors := make(map[string]struct{}, len(blocks))
	for i, b := range blocks {
		fullIDs[i] = blockid.FullID(docID, b.Start, b.End, string(b.Kind), raw[b.Start:b.End])
		survivors[fullIDs[i]] = struct{}{}
	}
	for full, prev := range previous {
		if _, ok := survivors[full]; !ok {
			delete(existing, prev.ShortID)
		}
	}

	nodes := make([]*models.Node, len(blocks))
	for i, b := range blocks {
		content := raw[b.Start:b.End]
		full := fullIDs[i]
		n := &models.Node{
			FullID:   full,
			DocID:    docID,
			Kind:     models.NodeKind(b.Kind),
			Title:    b.Title,
			Level:    b.Level,
			Language: b.Language,
			Start:    b.Start,
			End:      b.End,
			Position: i,
			Body:     markdown.Body(content, b),
		}
		if prev, ok := previous[full]; ok && prev.ShortID != "" {
			n.ShortID, n.Nonce = prev.ShortID, prev.Nonce
		} else {
			short, nonce, err := blockid.ShortID(full, existing)
			if err != nil {
				return nil, err
			}
			n.ShortID, n.Nonce = short, nonce
		}
		existing[n.ShortID] = struct{}{}
		if p := parents[i]; p >= 0 {
			n.Parent = nodes[p].FullID
		}
		nodes[i] = n
	}
	return nodes, nil
}
