package vector

import "fmt"

// IndexType names a fast vector backend.
type IndexType string

const (
	// IndexTypeSQLiteVec uses the sqlite-vec tables inside the database.
	IndexTypeSQLiteVec IndexType = "sqlite-vec"
	// IndexTypeMemory uses an in-memory brute-force index persisted to a file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeNone disables the fast path; semantic search always streams.
	IndexTypeNone IndexType = "none"
)

// NewVectorIndex creates a standalone vector index of the given type.
// Only "memory" is standalone; "sqlite-vec" lives in storage and "none" has no index.
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeSQLiteVec, IndexTypeNone:
		return nil, fmt.Errorf("index type %s is not a standalone index", indexType)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: sqlite-vec, memory, none)", indexType)
	}
}
