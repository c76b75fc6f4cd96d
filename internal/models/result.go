package models

// SearchResult is one ranked node hit.
type SearchResult struct {
	FullID  string   `json:"full_id"`
	ShortID string   `json:"short_id"`
	DocID   string   `json:"doc_id"`
	Kind    NodeKind `json:"kind"`
	Title   string   `json:"title,omitempty"`
	Score   float64  `json:"score"`
	Snippet string   `json:"snippet,omitempty"`
	Rank    int      `json:"rank"`
}

// SearchResponse wraps the results of one search.
type SearchResponse struct {
	Query     string          `json:"query"`
	Mode      string          `json:"mode"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	// Strategy is the semantic search path taken ("vector" or "stream").
	Strategy string `json:"strategy,omitempty"`
}

// Stats summarizes the index.
type Stats struct {
	Documents    int64            `json:"documents"`
	Nodes        int64            `json:"nodes"`
	Embeddings   map[string]int64 `json:"embeddings"`
	KeywordDocs  uint64           `json:"keyword_docs"`
	VecAvailable bool             `json:"vec_available"`
	DiskBytes    int64            `json:"disk_bytes"`
}

// VectorHit is a nearest-neighbour candidate from a vector index.
type VectorHit struct {
	FullID string  `json:"full_id"`
	Score  float64 `json:"score"`
}
