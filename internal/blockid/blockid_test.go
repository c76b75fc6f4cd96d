package blockid

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullID_shape(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"ascii", []byte("hello")},
		{"utf8", []byte("日本語のテキスト")},
		{"large", []byte(strings.Repeat("x", 3<<20))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := FullID("doc", 0, len(tt.content), "paragraph", tt.content)
			assert.Len(t, id, FullIDLen)
			assert.True(t, IsFullID(id), "not lowercase hex: %q", id)
		})
	}
}

func TestFullID_deterministic(t *testing.T) {
	a := FullID("doc", 3, 9, "heading", []byte("# Hi\n"))
	b := FullID("doc", 3, 9, "heading", []byte("# Hi\n"))
	assert.Equal(t, a, b)
}

func TestFullID_singleFieldChange(t *testing.T) {
	base := FullID("doc", 0, 5, "paragraph", []byte("hello"))
	variants := map[string]string{
		"doc":     FullID("doc2", 0, 5, "paragraph", []byte("hello")),
		"start":   FullID("doc", 1, 5, "paragraph", []byte("hello")),
		"end":     FullID("doc", 0, 6, "paragraph", []byte("hello")),
		"kind":    FullID("doc", 0, 5, "heading", []byte("hello")),
		"content": FullID("doc", 0, 5, "paragraph", []byte("hellp")),
	}
	for field, id := range variants {
		assert.NotEqual(t, base, id, "changing %s must change the id", field)
	}
}

func TestFullID_delimited(t *testing.T) {
	// Shifting bytes between adjacent fields must not collide.
	a := FullID("ab", 0, 1, "c", []byte("d"))
	b := FullID("a", 0, 1, "bc", []byte("d"))
	c := FullID("ab", 0, 1, "", []byte("cd"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestShortID_firstAttemptIsPure(t *testing.T) {
	full := FullID("doc", 0, 5, "paragraph", []byte("hello"))
	a, nonceA, err := ShortID(full, nil)
	require.NoError(t, err)
	b, nonceB, err := ShortID(full, map[string]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 0, nonceA)
	assert.Equal(t, 0, nonceB)
	assert.Equal(t, ShortIDCandidate(full, 0), a)
}

func TestShortID_alphabet(t *testing.T) {
	for i := 0; i < 2000; i++ {
		full := FullID(fmt.Sprintf("doc-%d", i), i, i+1, "paragraph", []byte{byte(i)})
		id, _, err := ShortID(full, nil)
		require.NoError(t, err)
		require.Len(t, id, ShortIDLen)
		require.True(t, IsShortID(id), "bad short id %q", id)
		require.False(t, strings.ContainsAny(id, "ILOU"), "ambiguous symbol in %q", id)
		require.Equal(t, strings.ToUpper(id), id)
	}
}

func TestShortID_collisionBumpsNonce(t *testing.T) {
	full := FullID("doc", 0, 1, "paragraph", []byte("a"))
	first := ShortIDCandidate(full, 0)
	second := ShortIDCandidate(full, 1)
	existing := map[string]struct{}{first: {}}

	id, nonce, err := ShortID(full, existing)
	require.NoError(t, err)
	if second == first {
		t.Skip("degenerate candidates")
	}
	assert.Equal(t, second, id)
	assert.Equal(t, 1, nonce)

	again, againNonce, err := ShortID(full, existing)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, nonce, againNonce)
}

func TestShortID_exhaustion(t *testing.T) {
	full := FullID("doc", 0, 1, "paragraph", []byte("a"))
	existing := make(map[string]struct{})
	for n := 0; n < MaxShortIDAttempts; n++ {
		existing[ShortIDCandidate(full, n)] = struct{}{}
	}
	_, _, err := ShortID(full, existing)
	require.Error(t, err)
	var genErr *IDGenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, full, genErr.FullID)
	assert.Contains(t, err.Error(), full)
}

func TestIsShortID(t *testing.T) {
	assert.True(t, IsShortID("7K3M"))
	assert.False(t, IsShortID("7K3"))
	assert.False(t, IsShortID("7K3MM"))
	assert.False(t, IsShortID("7k3m"))
	assert.False(t, IsShortID("7KIM"))
}

func TestDocumentID(t *testing.T) {
	assert.Equal(t, DocumentID("/foo/bar.md"), DocumentID("/foo/./bar.md"))
	assert.Equal(t, DocumentID("/foo/bar"), DocumentID("/foo/bar/"))
	assert.NotEqual(t, DocumentID("/foo/bar.md"), DocumentID("/foo/baz.md"))
	assert.True(t, strings.HasPrefix(DocumentID("a.md"), docPrefix))
}
