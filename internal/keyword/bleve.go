package keyword

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// deletePage is the number of ids fetched per round when deleting a document's nodes.
const deletePage = 1000

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func nodeMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// standard analyzer: lowercase + tokenize, no stemming, so a query term
	// matches the word as written
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("body", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("short_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("doc_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	im.AddDocumentMapping("node", docMapping)
	im.DefaultType = "node"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reopened, so unchanged documents need no re-indexing.
// If the mapping changes, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, nodeMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewBleveMemIndex creates an in-memory index.
func NewBleveMemIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(nodeMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexNodes indexes nodes in one batch.
func (b *BleveIndex) IndexNodes(ctx context.Context, docs []NodeDocument) error {
	if len(docs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for i := range docs {
		if err := batch.Index(docs[i].ID, docs[i]); err != nil {
			return fmt.Errorf("failed to index node %s: %w", docs[i].ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search runs a normalized query over title and body.
func (b *BleveIndex) Search(ctx context.Context, query string, limit, offset int) ([]*KeywordResult, error) {
	q, _, err := Compile(query)
	if err != nil {
		return nil, err
	}
	if q == nil || limit <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(q, limit, offset, false)
	req.Fields = []string{"short_id", "doc_id", "kind", "title", "body"}
	req.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{
			ID:      hit.ID,
			ShortID: stringField(hit.Fields, "short_id"),
			DocID:   stringField(hit.Fields, "doc_id"),
			Kind:    stringField(hit.Fields, "kind"),
			Title:   stringField(hit.Fields, "title"),
			Body:    stringField(hit.Fields, "body"),
			Score:   hit.Score,
		}
	}
	return out, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// Delete removes a node from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DeleteDocument removes all nodes whose doc_id matches.
func (b *BleveIndex) DeleteDocument(ctx context.Context, docID string) error {
	for {
		tq := bleve.NewTermQuery(docID)
		tq.SetField("doc_id")
		req := bleve.NewSearchRequestOptions(tq, deletePage, 0, false)
		results, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(results.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range results.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return err
		}
	}
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of nodes in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Compile turns a query normalized by PrepareQuery into a Bleve query over
// the title and body fields. It also returns the plain terms and phrase
// words, for highlighting. An empty query compiles to nil.
func Compile(query string) (blevequery.Query, []string, error) {
	if query == "" {
		return nil, nil, nil
	}
	expr, err := parseAdvanced(query)
	if err != nil {
		return nil, nil, err
	}
	var terms []string
	return toBleve(expr, &terms), terms, nil
}

func toBleve(n node, terms *[]string) blevequery.Query {
	switch v := n.(type) {
	case termNode:
		*terms = append(*terms, v.text)
		return bothFields(func(field string) blevequery.Query {
			q := bleve.NewMatchQuery(v.text)
			q.SetField(field)
			return q
		})
	case phraseNode:
		*terms = append(*terms, v.words...)
		phrase := v.String()
		phrase = phrase[1 : len(phrase)-1]
		return bothFields(func(field string) blevequery.Query {
			q := bleve.NewMatchPhraseQuery(phrase)
			q.SetField(field)
			return q
		})
	case groupNode:
		return toBleve(v.inner, terms)
	case boolNode:
		children := make([]blevequery.Query, len(v.items))
		for i, it := range v.items {
			children[i] = toBleve(it, terms)
		}
		if v.op == "AND" {
			return bleve.NewConjunctionQuery(children...)
		}
		return bleve.NewDisjunctionQuery(children...)
	}
	return bleve.NewMatchNoneQuery()
}

func bothFields(build func(field string) blevequery.Query) blevequery.Query {
	return bleve.NewDisjunctionQuery(build("title"), build("body"))
}
