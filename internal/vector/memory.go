package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/bunsho/internal/models"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// ErrBadIndexFile is wrapped when a saved index has an unknown header.
var ErrBadIndexFile = errors.New("unrecognised vector index file")

var memoryMagic = [4]byte{'B', 'N', 'V', 'X'}

const memoryFormatVersion uint16 = 1

// MemoryIndex is a brute-force in-memory index. Rows are stored unit-length
// in one contiguous slice so scoring is a dot product, which equals the
// cosine similarity of the original vectors. Zero vectors score 0.
type MemoryIndex struct {
	dims int

	mu   sync.RWMutex
	ids  []string
	rows []float32 // len(ids) * dims
	pos  map[string]int
}

// NewMemoryIndex creates an empty index for vectors of the given length.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	return &MemoryIndex{dims: dimensions, pos: make(map[string]int)}, nil
}

func (m *MemoryIndex) Type() string { return string(IndexTypeMemory) }

func (m *MemoryIndex) Dimensions() int { return m.dims }

func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

func (m *MemoryIndex) Close() error { return nil }

func (m *MemoryIndex) row(i int) []float32 {
	return m.rows[i*m.dims : (i+1)*m.dims]
}

// Add inserts vectors, replacing any existing vector under the same id. The
// batch is validated before anything is written.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("got %d ids for %d vectors", len(ids), len(vectors))
	}
	for _, v := range vectors {
		if len(v) != m.dims {
			return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), m.dims)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		p, ok := m.pos[id]
		if !ok {
			p = len(m.ids)
			m.pos[id] = p
			m.ids = append(m.ids, id)
			m.rows = append(m.rows, make([]float32, m.dims)...)
		}
		dst := m.row(p)
		copy(dst, vectors[i])
		utils.NormalizeL2(dst)
	}
	return nil
}

// Search returns up to k ids ranked by cosine similarity to query.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]models.VectorHit, error) {
	if len(query) != m.dims {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), m.dims)
	}
	if k <= 0 {
		return nil, nil
	}
	q := append([]float32(nil), query...)
	utils.NormalizeL2(q)

	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ids) == 0 {
		return nil, nil
	}
	top := NewTopK(k)
	for i, id := range m.ids {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := math.Max(-1, math.Min(1, InnerProduct(q, m.row(i))))
		top.Push(id, score)
	}
	return top.Sorted(), nil
}

// Remove drops ids from the index. Unknown ids are ignored. The last row is
// moved into each freed slot, so insertion order is not preserved.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		p, ok := m.pos[id]
		if !ok {
			continue
		}
		last := len(m.ids) - 1
		if p != last {
			moved := m.ids[last]
			m.ids[p] = moved
			copy(m.row(p), m.row(last))
			m.pos[moved] = p
		}
		delete(m.pos, id)
		m.ids = m.ids[:last]
		m.rows = m.rows[:last*m.dims]
	}
	return nil
}

// Save writes the index to path through a temporary file that is renamed
// into place, so a crash never leaves a truncated index behind.
//
// Layout (little endian): magic "BNVX", version u16, dims u32, count u32,
// then per entry: id length u32, id bytes, dims float32 values.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	m.mu.RLock()
	err = m.writeTo(tmp)
	m.mu.RUnlock()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (m *MemoryIndex) writeTo(f io.Writer) error {
	w := bufio.NewWriter(f)
	header := []interface{}{memoryMagic, memoryFormatVersion, uint32(m.dims), uint32(len(m.ids))}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	buf := make([]byte, m.dims*4)
	for i, id := range m.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return err
		}
		if _, err := w.WriteString(id); err != nil {
			return err
		}
		encodeFloats(buf, m.row(i))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Load replaces the contents of the index with the file at path. A missing
// file leaves the index untouched and is not an error.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic [4]byte
	var version uint16
	var dims, count uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("%w: %v", ErrBadIndexFile, err)
	}
	if magic != memoryMagic {
		return fmt.Errorf("%w: bad magic %q", ErrBadIndexFile, magic[:])
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("%w: %v", ErrBadIndexFile, err)
	}
	if version != memoryFormatVersion {
		return fmt.Errorf("%w: version %d", ErrBadIndexFile, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dims); err != nil {
		return fmt.Errorf("%w: %v", ErrBadIndexFile, err)
	}
	if int(dims) != m.dims {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, dims, m.dims)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("%w: %v", ErrBadIndexFile, err)
	}

	ids := make([]string, 0, count)
	rows := make([]float32, 0, int(count)*m.dims)
	pos := make(map[string]int, count)
	buf := make([]byte, m.dims*4)
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		id := make([]byte, n)
		if _, err := io.ReadFull(r, id); err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read entry %d: %w", i, err)
		}
		pos[string(id)] = len(ids)
		ids = append(ids, string(id))
		rows = appendFloats(rows, buf)
	}

	m.mu.Lock()
	m.ids, m.rows, m.pos = ids, rows, pos
	m.mu.Unlock()
	return nil
}

func encodeFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func appendFloats(dst []float32, src []byte) []float32 {
	for i := 0; i+4 <= len(src); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(src[i:])))
	}
	return dst
}
