// Package blockid derives the identifiers carried by every parsed block: a
// 128-bit content hash (full id) and a short, collision-resolved alias.
package blockid

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

const (
	// FullIDLen is the length of a full id in hex characters.
	FullIDLen = 32
	// ShortIDLen is the length of a short id in symbols.
	ShortIDLen = 4
	// MaxShortIDAttempts bounds the nonce search in ShortID.
	MaxShortIDAttempts = 100

	docPrefix = "file:"
)

var fullIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// IDGenerationError reports that no free short id was found for FullID.
type IDGenerationError struct {
	FullID   string
	Attempts int
}

func (e *IDGenerationError) Error() string {
	return fmt.Sprintf("short id generation exhausted after %d attempts for %s", e.Attempts, e.FullID)
}

// FullID hashes a block's owning document, byte range, kind and content into
// 32 lowercase hex characters. Every field is length-prefixed so distinct
// tuples never share an encoding.
func FullID(docID string, start, end int, kind string, content []byte) string {
	h, _ := blake2b.New(16, nil)
	var buf [binary.MaxVarintLen64]byte
	field := func(b []byte) {
		n := binary.PutUvarint(buf[:], uint64(len(b)))
		h.Write(buf[:n])
		h.Write(b)
	}
	var pos [8]byte
	field([]byte(docID))
	binary.BigEndian.PutUint64(pos[:], uint64(start))
	field(pos[:])
	binary.BigEndian.PutUint64(pos[:], uint64(end))
	field(pos[:])
	field([]byte(kind))
	field(content)
	return hex.EncodeToString(h.Sum(nil))
}

// IsFullID reports whether s has the full id shape.
func IsFullID(s string) bool {
	return fullIDPattern.MatchString(s)
}

// IsShortID reports whether s is exactly ShortIDLen canonical symbols.
func IsShortID(s string) bool {
	if len(s) != ShortIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if decodeMap[s[i]] < 0 || Alphabet[decodeMap[s[i]]] != s[i] {
			return false
		}
	}
	return true
}

// ShortIDCandidate is the short id for fullID at the given nonce.
func ShortIDCandidate(fullID string, nonce int) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(fullID))
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(nonce))
	h.Write(buf[:n])
	sum := h.Sum(nil)
	v := uint64(sum[0])<<12 | uint64(sum[1])<<4 | uint64(sum[2])>>4
	return EncodeUint64(v, ShortIDLen)
}

// ShortID returns the first candidate for fullID not present in existing,
// together with the nonce that produced it. The result depends only on
// fullID and the contents of existing, so re-ingesting against the same
// snapshot reproduces the same ids. A nil set accepts the first candidate.
func ShortID(fullID string, existing map[string]struct{}) (string, int, error) {
	for nonce := 0; nonce < MaxShortIDAttempts; nonce++ {
		id := ShortIDCandidate(fullID, nonce)
		if _, taken := existing[id]; !taken {
			return id, nonce, nil
		}
	}
	return "", 0, &IDGenerationError{FullID: fullID, Attempts: MaxShortIDAttempts}
}

// DocumentID returns a stable document id for a file path. The path is
// cleaned first so equivalent spellings share an id.
func DocumentID(path string) string {
	sum := blake2b.Sum256([]byte(filepath.Clean(path)))
	return docPrefix + hex.EncodeToString(sum[:16])
}
